package models

import "time"

// MatchResult is the score of one pair under one rule
type MatchResult struct {
	Confidence float64               `json:"confidence"`
	Breakdown  map[string]FieldScore `json:"breakdown"`
	Compared   int                   `json:"compared"`
}

// ScanOptions narrows a scan
type ScanOptions struct {
	Tables     []string `json:"tables,omitempty"`
	RuleIDs    []string `json:"ruleIds,omitempty"`
	MaxResults int      `json:"maxResults,omitempty" validate:"gte=0"`
}

// StopReason explains why a scan ended early
type StopReason string

const (
	StopReasonMaxResults StopReason = "max_results"
	StopReasonTimeout    StopReason = "timeout"
	StopReasonCanceled   StopReason = "canceled"
)

// RuleFailure is a rule that could not be scanned
type RuleFailure struct {
	RuleID string `json:"ruleId"`
	Reason string `json:"reason"`
}

// AutoMergeOutcome is the result of merging one auto_merge candidate
type AutoMergeOutcome struct {
	CandidateID string     `json:"candidateId"`
	Canonical   *EntityRef `json:"canonical,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ScanReport summarizes a scan
type ScanReport struct {
	RulesScanned      int                `json:"rulesScanned"`
	CandidatesCreated int                `json:"candidatesCreated"`
	CandidatesUpdated int                `json:"candidatesUpdated"`
	CandidatesSkipped int                `json:"candidatesSkipped"`
	PairsCompared     int64              `json:"pairsCompared"`
	BlocksSkipped     int                `json:"blocksSkipped"`
	RuleFailures      []RuleFailure      `json:"ruleFailures"`
	AutoMerges        []AutoMergeOutcome `json:"autoMerges"`
	Partial           bool               `json:"partial"`
	StopReason        StopReason         `json:"stopReason,omitempty"`
	StartedAt         time.Time          `json:"startedAt"`
	Duration          time.Duration      `json:"durationNs"`
}
