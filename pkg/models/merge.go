package models

import "time"

// ReconcilePolicy decides which value a field keeps when two records merge
type ReconcilePolicy string

const (
	ReconcilePreferNonNull   ReconcilePolicy = "prefer_non_null"
	ReconcileMostRecent      ReconcilePolicy = "most_recent"
	ReconcileLongest         ReconcilePolicy = "longest"
	ReconcilePreferCanonical ReconcilePolicy = "prefer_canonical"
	ReconcilePreferMerged    ReconcilePolicy = "prefer_merged"
	ReconcileManual          ReconcilePolicy = "manual"
)

// Valid reports whether p is a known policy
func (p ReconcilePolicy) Valid() bool {
	switch p {
	case ReconcilePreferNonNull, ReconcileMostRecent, ReconcileLongest,
		ReconcilePreferCanonical, ReconcilePreferMerged, ReconcileManual:
		return true
	}
	return false
}

// Conflict resolutions recorded in the audit
const (
	ResolutionKeptCanonical = "kept_canonical"
	ResolutionTookMerged    = "took_merged"
	ResolutionOverride      = "override"
)

// FieldConflict records two differing non-null values and the outcome
type FieldConflict struct {
	Field          string          `json:"field"`
	CanonicalValue any             `json:"canonical_value"`
	MergedValue    any             `json:"merged_value"`
	Policy         ReconcilePolicy `json:"policy"`
	Resolution     string          `json:"resolution"`
	ResolvedValue  any             `json:"resolved_value"`
}

// MergedEntity is the append-only audit record of one merge
type MergedEntity struct {
	ID                string          `json:"id"`
	CandidateID       *string         `json:"candidate_id,omitempty"`
	Canonical         EntityRef       `json:"canonical"`
	MergedAway        EntityRef       `json:"merged_away"`
	MergedSnapshot    map[string]any  `json:"merged_snapshot"`
	CanonicalSnapshot map[string]any  `json:"canonical_snapshot"`
	Changes           map[string]any  `json:"changes"`
	Conflicts         []FieldConflict `json:"conflicts"`
	Automated         bool            `json:"automated"`
	PerformedBy       *string         `json:"performed_by,omitempty"`
	Notes             *string         `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// MergeOptions are the operator inputs of a merge
type MergeOptions struct {
	Notes          *string        `json:"notes,omitempty"`
	FieldOverrides map[string]any `json:"fieldOverrides,omitempty"`
	PerformedBy    *string        `json:"performedBy,omitempty"`
	Automated      bool           `json:"automated"`
}

// MergeResult is returned after a merge commits
type MergeResult struct {
	Candidate  *Candidate        `json:"candidate"`
	Canonical  EntityRef         `json:"canonical"`
	MergedAway EntityRef         `json:"mergedAway"`
	Audit      *MergedEntity     `json:"audit"`
	Alias      *EntityAlias      `json:"alias"`
	Contact    *CanonicalContact `json:"canonicalContact"`
}
