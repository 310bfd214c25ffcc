package models

import "time"

// CandidateStatus is the review state of a duplicate candidate
type CandidateStatus string

const (
	CandidateStatusPending   CandidateStatus = "pending"
	CandidateStatusConfirmed CandidateStatus = "confirmed"
	CandidateStatusRejected  CandidateStatus = "rejected"
	CandidateStatusDeferred  CandidateStatus = "deferred"
	CandidateStatusMerged    CandidateStatus = "merged"
)

var candidateTransitions = map[CandidateStatus][]CandidateStatus{
	CandidateStatusPending:   {CandidateStatusConfirmed, CandidateStatusRejected, CandidateStatusDeferred, CandidateStatusMerged},
	CandidateStatusConfirmed: {CandidateStatusMerged, CandidateStatusRejected, CandidateStatusDeferred},
	CandidateStatusDeferred:  {CandidateStatusPending, CandidateStatusConfirmed, CandidateStatusRejected},
	CandidateStatusRejected:  {CandidateStatusPending, CandidateStatusConfirmed},
	CandidateStatusMerged:    {},
}

// Valid reports whether s is a known status
func (s CandidateStatus) Valid() bool {
	_, ok := candidateTransitions[s]
	return ok
}

// CanTransition reports whether a candidate may move from s to to
func (s CandidateStatus) CanTransition(to CandidateStatus) bool {
	for _, allowed := range candidateTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Mergeable reports whether a candidate in s may be merged
func (s CandidateStatus) Mergeable() bool {
	return s.CanTransition(CandidateStatusMerged)
}

// Recommendation is the scanner's suggested resolution
type Recommendation string

const (
	RecommendationAutoMerge Recommendation = "auto_merge"
	RecommendationReview    Recommendation = "review"
)

// FieldScore is the similarity of one match field
type FieldScore struct {
	Similarity float64   `json:"similarity"`
	Algorithm  Algorithm `json:"algorithm"`
	Weight     float64   `json:"weight"`
}

// Candidate is a suspected duplicate pair. Entity1 sorts before Entity2.
type Candidate struct {
	ID             string                `json:"id"`
	Entity1        EntityRef             `json:"entity1"`
	Entity2        EntityRef             `json:"entity2"`
	RuleID         string                `json:"ruleId"`
	Confidence     float64               `json:"confidence"`
	Breakdown      map[string]FieldScore `json:"breakdown"`
	Recommendation Recommendation        `json:"recommendation"`
	Status         CandidateStatus       `json:"status"`
	Notes          *string               `json:"notes,omitempty"`
	ResolvedBy     *string               `json:"resolvedBy,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
	ResolvedAt     *time.Time            `json:"resolvedAt,omitempty"`
}

// Involves reports whether ref is one side of the pair
func (c *Candidate) Involves(ref EntityRef) bool {
	return c.Entity1 == ref || c.Entity2 == ref
}

// Other returns the side of the pair that is not ref
func (c *Candidate) Other(ref EntityRef) EntityRef {
	if c.Entity1 == ref {
		return c.Entity2
	}
	return c.Entity1
}

// CandidateFilter narrows a candidate listing
type CandidateFilter struct {
	Statuses      []CandidateStatus
	MinConfidence *float64
	MaxConfidence *float64
	SourceTable   string
	TargetTable   string
	RuleID        string
	Entity        *EntityRef
	Limit         int
	Offset        int
}

// CandidateStatusUpdate is a compare-and-set status change
type CandidateStatusUpdate struct {
	From       CandidateStatus
	To         CandidateStatus
	Notes      *string
	ResolvedBy *string
}

// CandidateScoreUpdate refreshes a candidate after a rescan
type CandidateScoreUpdate struct {
	Confidence     float64
	Breakdown      map[string]FieldScore
	Recommendation Recommendation
	Status         CandidateStatus
}

// CandidateView is a candidate with the identity previews of both sides
type CandidateView struct {
	Candidate
	Entity1Preview *EntityPreview `json:"entity1Preview"`
	Entity2Preview *EntityPreview `json:"entity2Preview"`
}

// CandidatePage is one page of a candidate listing
type CandidatePage struct {
	Candidates []CandidateView         `json:"candidates"`
	Total      int                     `json:"total"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
	Stats      map[CandidateStatus]int `json:"stats,omitempty"`
}

// BulkFailure describes one failed candidate of a bulk update
type BulkFailure struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BulkResult reports a bulk status update per candidate
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}
