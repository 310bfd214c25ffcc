package events

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeContactMerged EventType = "contact.merged"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
}

// ContactMergedEvent is emitted after a merge commits
type ContactMergedEvent struct {
	BaseEvent
	CanonicalContactID string                   `json:"canonical_contact_id"`
	Canonical          models.EntityRef         `json:"canonical"`
	MergedAway         models.EntityRef         `json:"merged_away"`
	CandidateID        string                   `json:"candidate_id,omitempty"`
	MergedEntityID     string                   `json:"merged_entity_id"`
	LinkedRecords      []models.EntityRef       `json:"linked_records"`
	Changes            map[string]any           `json:"changes,omitempty"`
	Conflicts          []models.FieldConflict   `json:"conflicts,omitempty"`
	Automated          bool                     `json:"automated"`
	Contact            *models.CanonicalContact `json:"canonical_contact,omitempty"`
}
