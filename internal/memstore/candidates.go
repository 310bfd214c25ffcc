package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
)

type CandidateStore struct {
	s *Store
}

func (c *CandidateStore) Insert(ctx context.Context, candidate *models.Candidate) (bool, *models.Candidate, error) {
	defer c.s.lockWrite(ctx)()
	if err := c.s.fail("candidate.Insert"); err != nil {
		return false, nil, err
	}

	candidate.Entity1, candidate.Entity2 = models.OrderPair(candidate.Entity1, candidate.Entity2)
	key := pairKey{e1: candidate.Entity1, e2: candidate.Entity2, rule: candidate.RuleID}
	if id, ok := c.s.d.pairs[key]; ok {
		return false, copyCandidate(c.s.d.candidates[id]), nil
	}

	if candidate.ID == "" {
		candidate.ID = uuid.New().String()
	}
	if candidate.Status == "" {
		candidate.Status = models.CandidateStatusPending
	}
	candidate.CreatedAt = c.s.now()
	candidate.UpdatedAt = candidate.CreatedAt

	c.s.d.candidates[candidate.ID] = copyCandidate(candidate)
	c.s.d.pairs[key] = candidate.ID
	c.s.d.order = append(c.s.d.order, candidate.ID)
	return true, candidate, nil
}

func (c *CandidateStore) Get(_ context.Context, id string) (*models.Candidate, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("candidate.Get"); err != nil {
		return nil, err
	}

	candidate, ok := c.s.d.candidates[id]
	if !ok {
		return nil, errs.NotFound("duplicate candidate %s not found", id)
	}
	return copyCandidate(candidate), nil
}

func (c *CandidateStore) UpdateScore(ctx context.Context, id string, update models.CandidateScoreUpdate) error {
	defer c.s.lockWrite(ctx)()
	if err := c.s.fail("candidate.UpdateScore"); err != nil {
		return err
	}

	candidate, ok := c.s.d.candidates[id]
	if !ok || candidate.Status == models.CandidateStatusMerged {
		return errs.Conflict("duplicate candidate %s is merged or missing", id)
	}
	candidate.Confidence = update.Confidence
	candidate.Breakdown = update.Breakdown
	candidate.Recommendation = update.Recommendation
	candidate.UpdatedAt = c.s.now()
	if update.Status != "" {
		candidate.Status = update.Status
		if update.Status == models.CandidateStatusPending {
			candidate.ResolvedAt = nil
			candidate.ResolvedBy = nil
		}
	}
	return nil
}

func (c *CandidateStore) UpdateStatus(ctx context.Context, id string, update models.CandidateStatusUpdate) (*models.Candidate, error) {
	defer c.s.lockWrite(ctx)()
	if err := c.s.fail("candidate.UpdateStatus"); err != nil {
		return nil, err
	}

	candidate, ok := c.s.d.candidates[id]
	if !ok {
		return nil, errs.NotFound("duplicate candidate %s not found", id)
	}
	if candidate.Status != update.From {
		return nil, errs.Conflict("duplicate candidate %s is %s, expected %s", id, candidate.Status, update.From)
	}

	now := c.s.now()
	candidate.Status = update.To
	candidate.UpdatedAt = now
	if update.To == models.CandidateStatusPending {
		candidate.ResolvedAt = nil
	} else {
		candidate.ResolvedAt = &now
	}
	if update.Notes != nil {
		notes := *update.Notes
		candidate.Notes = &notes
	}
	if update.ResolvedBy != nil {
		by := *update.ResolvedBy
		candidate.ResolvedBy = &by
	}
	return copyCandidate(candidate), nil
}

func (c *CandidateStore) List(_ context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("candidate.List"); err != nil {
		return nil, 0, err
	}

	matched := c.filter(filter, true)
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

func (c *CandidateStore) Stats(_ context.Context, filter models.CandidateFilter) (map[models.CandidateStatus]int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("candidate.Stats"); err != nil {
		return nil, err
	}

	stats := map[models.CandidateStatus]int{}
	for _, candidate := range c.filter(filter, false) {
		stats[candidate.Status]++
	}
	return stats, nil
}

func (c *CandidateStore) filter(filter models.CandidateFilter, withStatus bool) []models.Candidate {
	statuses := map[models.CandidateStatus]bool{}
	for _, s := range filter.Statuses {
		statuses[s] = true
	}

	var out []models.Candidate
	for _, id := range c.s.d.order {
		candidate := c.s.d.candidates[id]
		if withStatus && len(statuses) > 0 && !statuses[candidate.Status] {
			continue
		}
		if filter.MinConfidence != nil && candidate.Confidence < *filter.MinConfidence {
			continue
		}
		if filter.MaxConfidence != nil && candidate.Confidence > *filter.MaxConfidence {
			continue
		}
		if filter.SourceTable != "" && !touchesTable(candidate, filter.SourceTable) {
			continue
		}
		if filter.TargetTable != "" && !touchesTable(candidate, filter.TargetTable) {
			continue
		}
		if filter.RuleID != "" && candidate.RuleID != filter.RuleID {
			continue
		}
		if filter.Entity != nil && !candidate.Involves(*filter.Entity) {
			continue
		}
		out = append(out, *copyCandidate(candidate))
	}
	return out
}

func touchesTable(c *models.Candidate, table string) bool {
	return c.Entity1.Table == table || c.Entity2.Table == table
}
