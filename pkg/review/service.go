// Package review applies reviewer decisions to duplicate candidates
package review

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Merger performs the merge of a candidate
type Merger interface {
	Merge(ctx context.Context, candidateID string, canonical models.EntityRef, opts models.MergeOptions) (*models.MergeResult, error)
}

// Service runs the reviewer workflow over duplicate candidates: listing,
// detail views with both records, status decisions and manual merges.
type Service struct {
	candidates store.CandidateStore
	sources    store.SourceStore
	catalog    *models.Catalog
	merger     Merger
	logger     ectologger.Logger
}

// NewService builds a review Service
func NewService(candidates store.CandidateStore, sources store.SourceStore, catalog *models.Catalog, merger Merger, logger ectologger.Logger) *Service {
	return &Service{
		candidates: candidates,
		sources:    sources,
		catalog:    catalog,
		merger:     merger,
		logger:     logger,
	}
}

// Decision is a reviewer's status change
type Decision struct {
	Notes      *string
	ResolvedBy *string
}

func (s *Service) Confirm(ctx context.Context, id string, d Decision) (*models.Candidate, error) {
	return s.transition(ctx, id, models.CandidateStatusConfirmed, d)
}

func (s *Service) Reject(ctx context.Context, id string, d Decision) (*models.Candidate, error) {
	return s.transition(ctx, id, models.CandidateStatusRejected, d)
}

func (s *Service) Defer(ctx context.Context, id string, d Decision) (*models.Candidate, error) {
	return s.transition(ctx, id, models.CandidateStatusDeferred, d)
}

func (s *Service) transition(ctx context.Context, id string, to models.CandidateStatus, d Decision) (*models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.transition")
	defer span.End()

	updated, err := s.apply(ctx, id, to, d)
	outcome := "success"
	if err != nil {
		outcome = "failed"
		if kind, ok := errs.KindOf(err); ok {
			outcome = string(kind)
		}
	}
	metrics.ReviewActionsTotal.WithLabelValues(string(to), outcome).Inc()
	return updated, err
}

func (s *Service) apply(ctx context.Context, id string, to models.CandidateStatus, d Decision) (*models.Candidate, error) {
	candidate, err := s.candidates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !candidate.Status.CanTransition(to) {
		return nil, errs.Validation("candidate %s cannot move from %s to %s", id, candidate.Status, to).
			WithMeta("from", string(candidate.Status)).
			WithMeta("to", string(to))
	}

	updated, err := s.candidates.UpdateStatus(ctx, id, models.CandidateStatusUpdate{
		From:       candidate.Status,
		To:         to,
		Notes:      d.Notes,
		ResolvedBy: d.ResolvedBy,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate_id": id,
		"from":         candidate.Status,
		"to":           to,
	}).Info("Candidate status changed")
	return updated, nil
}

// BulkUpdate applies one status to many candidates independently
func (s *Service) BulkUpdate(ctx context.Context, ids []string, status models.CandidateStatus, d Decision) (*models.BulkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.BulkUpdate")
	defer span.End()

	switch status {
	case models.CandidateStatusConfirmed, models.CandidateStatusRejected, models.CandidateStatusDeferred:
	default:
		return nil, errs.Validation("bulk status must be confirmed, rejected or deferred, got %q", status)
	}
	if len(ids) == 0 {
		return nil, errs.Validation("candidateIds is required")
	}

	result := &models.BulkResult{Succeeded: []string{}, Failed: []models.BulkFailure{}}
	for _, id := range ids {
		if _, err := s.transition(ctx, id, status, d); err != nil {
			kind := "internal"
			if k, ok := errs.KindOf(err); ok {
				kind = string(k)
			}
			result.Failed = append(result.Failed, models.BulkFailure{ID: id, Kind: kind, Message: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

// Merge resolves canonicalID against the pair and merges. canonicalID is
// either "table:id" or a bare id matching exactly one side.
func (s *Service) Merge(ctx context.Context, candidateID, canonicalID string, opts models.MergeOptions) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.Merge")
	defer span.End()

	candidate, err := s.candidates.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	canonical, err := resolveCanonical(candidate, canonicalID)
	if err != nil {
		return nil, err
	}
	return s.merger.Merge(ctx, candidateID, canonical, opts)
}

func resolveCanonical(c *models.Candidate, canonicalID string) (models.EntityRef, error) {
	canonicalID = strings.TrimSpace(canonicalID)
	if canonicalID == "" {
		return models.EntityRef{}, errs.Validation("canonicalId is required")
	}
	if strings.Contains(canonicalID, ":") {
		ref, err := models.ParseEntityRef(canonicalID)
		if err != nil {
			return models.EntityRef{}, errs.Wrap(errs.KindValidation, err, "invalid canonicalId")
		}
		return ref, nil
	}

	var matches []models.EntityRef
	for _, ref := range []models.EntityRef{c.Entity1, c.Entity2} {
		if ref.ID == canonicalID {
			matches = append(matches, ref)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return models.EntityRef{}, errs.Validation("canonical record %s is not part of candidate %s", canonicalID, c.ID)
	default:
		return models.EntityRef{}, errs.Validation("canonicalId %s is ambiguous, use table:id", canonicalID)
	}
}

// Get returns one candidate with previews
func (s *Service) Get(ctx context.Context, id string) (*models.CandidateView, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.Get")
	defer span.End()

	candidate, err := s.candidates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := s.withPreviews(ctx, []models.Candidate{*candidate})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// List returns a page of candidates with the identity previews of both sides
func (s *Service) List(ctx context.Context, filter models.CandidateFilter, includeStats bool) (*models.CandidatePage, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.List")
	defer span.End()

	if err := normalizeFilter(&filter); err != nil {
		return nil, err
	}

	candidates, total, err := s.candidates.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	views, err := s.withPreviews(ctx, candidates)
	if err != nil {
		return nil, err
	}

	page := &models.CandidatePage{Candidates: views, Total: total, Limit: filter.Limit, Offset: filter.Offset}
	if includeStats {
		stats, err := s.candidates.Stats(ctx, filter)
		if err != nil {
			return nil, err
		}
		page.Stats = stats
	}
	return page, nil
}

func normalizeFilter(filter *models.CandidateFilter) error {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		return errs.Validation("offset must not be negative")
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return errs.Validation("unknown status %q", status)
		}
	}
	for _, bound := range []*float64{filter.MinConfidence, filter.MaxConfidence} {
		if bound != nil && (*bound < 0 || *bound > 1) {
			return errs.Validation("confidence bounds must be between 0 and 1")
		}
	}
	if filter.MinConfidence != nil && filter.MaxConfidence != nil && *filter.MinConfidence > *filter.MaxConfidence {
		return errs.Validation("minConfidence must not exceed maxConfidence")
	}
	return nil
}

func (s *Service) withPreviews(ctx context.Context, candidates []models.Candidate) ([]models.CandidateView, error) {
	refs := make([]models.EntityRef, 0, len(candidates)*2)
	for _, c := range candidates {
		refs = append(refs, c.Entity1, c.Entity2)
	}

	rows := map[models.EntityRef]*models.Entity{}
	if len(refs) > 0 {
		var err error
		rows, err = s.sources.GetMany(ctx, refs)
		if err != nil {
			return nil, err
		}
	}

	views := make([]models.CandidateView, len(candidates))
	for i, c := range candidates {
		views[i] = models.CandidateView{
			Candidate:      c,
			Entity1Preview: s.preview(rows[c.Entity1]),
			Entity2Preview: s.preview(rows[c.Entity2]),
		}
	}
	return views, nil
}

func (s *Service) preview(e *models.Entity) *models.EntityPreview {
	if e == nil {
		return nil
	}
	table, ok := s.catalog.Table(e.Ref.Table)
	if !ok {
		return nil
	}
	return table.Preview(e)
}
