// Package events emits lifecycle events for merged contacts
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Publisher writes one keyed event
type Publisher interface {
	Publish(ctx context.Context, key string, value any, headers map[string]string) error
}

// Emitter publishes contact.merged events once a merge has committed
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Emitter) Name() string {
	return "events"
}

// MergeCompleted implements merging.Observer
func (e *Emitter) MergeCompleted(ctx context.Context, result *models.MergeResult) error {
	return e.EmitContactMerged(ctx, result)
}

// EmitContactMerged emits a contact.merged event keyed by the canonical contact
// so events for one contact stay ordered on a partition
func (e *Emitter) EmitContactMerged(ctx context.Context, result *models.MergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitContactMerged")
	defer span.End()

	event := e.contactMerged(result)
	key := event.CanonicalContactID
	if key == "" {
		key = event.Canonical.String()
	}

	headers := map[string]string{
		"event_type":     string(event.EventType),
		"schema_version": SchemaVersion,
	}
	if err := e.publisher.Publish(ctx, key, event, headers); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit contact.merged event")
		return err
	}
	return nil
}

func (e *Emitter) contactMerged(result *models.MergeResult) *ContactMergedEvent {
	event := &ContactMergedEvent{
		BaseEvent: BaseEvent{
			EventID:       uuid.New().String(),
			EventType:     EventTypeContactMerged,
			SchemaVersion: SchemaVersion,
			Timestamp:     e.now(),
		},
		Canonical:  result.Canonical,
		MergedAway: result.MergedAway,
		Contact:    result.Contact,
	}
	if result.Candidate != nil {
		event.CandidateID = result.Candidate.ID
	}
	if result.Audit != nil {
		event.MergedEntityID = result.Audit.ID
		event.Changes = result.Audit.Changes
		event.Conflicts = result.Audit.Conflicts
		event.Automated = result.Audit.Automated
	}
	if result.Contact != nil {
		event.CanonicalContactID = result.Contact.ID
		event.LinkedRecords = result.Contact.LinkedRecords
	}
	return event
}
