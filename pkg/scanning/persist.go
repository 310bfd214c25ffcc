package scanning

import (
	"context"
	"math"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
)

type persistOutcome int

const (
	outcomeSkipped persistOutcome = iota
	outcomeCreated
	outcomeUpdated
)

// scoreEpsilon is the smallest confidence change worth writing
const scoreEpsilon = 1e-9

// persist upserts a scored pair. Existing candidates keep their review
// decision unless the score moved materially; merged candidates are final.
func (s *Scanner) persist(ctx context.Context, rule *models.Rule, a, b models.EntityRef, result models.MatchResult, rec models.Recommendation) (persistOutcome, string, error) {
	created, existing, err := s.candidates.Insert(ctx, &models.Candidate{
		Entity1:        a,
		Entity2:        b,
		RuleID:         rule.ID,
		Confidence:     result.Confidence,
		Breakdown:      result.Breakdown,
		Recommendation: rec,
		Status:         models.CandidateStatusPending,
	})
	if err != nil {
		return outcomeSkipped, "", err
	}
	if created {
		return outcomeCreated, existing.ID, nil
	}

	update, ok := s.rescore(existing, result, rec)
	if !ok {
		return outcomeSkipped, existing.ID, nil
	}
	if err := s.candidates.UpdateScore(ctx, existing.ID, update); err != nil {
		if errs.IsConflict(err) {
			// merged while the scan ran
			return outcomeSkipped, existing.ID, nil
		}
		return outcomeSkipped, "", err
	}

	if update.Status == models.CandidateStatusPending || existing.Status == models.CandidateStatusPending {
		return outcomeUpdated, existing.ID, nil
	}
	// confirmed candidates are refreshed but never auto-merged
	return outcomeUpdated, "", nil
}

// rescore decides how an existing candidate changes after a new score
func (s *Scanner) rescore(existing *models.Candidate, result models.MatchResult, rec models.Recommendation) (models.CandidateScoreUpdate, bool) {
	update := models.CandidateScoreUpdate{
		Confidence:     result.Confidence,
		Breakdown:      result.Breakdown,
		Recommendation: rec,
	}
	delta := math.Abs(result.Confidence - existing.Confidence)

	switch existing.Status {
	case models.CandidateStatusPending, models.CandidateStatusConfirmed:
		if delta < scoreEpsilon && existing.Recommendation == rec {
			return update, false
		}
		return update, true
	case models.CandidateStatusRejected, models.CandidateStatusDeferred:
		if delta+scoreEpsilon < s.cfg.MaterialChange {
			return update, false
		}
		update.Status = models.CandidateStatusPending
		return update, true
	default:
		return update, false
	}
}

func orderedPair(a, b models.EntityRef) [2]models.EntityRef {
	a, b = models.OrderPair(a, b)
	return [2]models.EntityRef{a, b}
}

// refreshStale rescores the open candidates of a rule that this scan did not
// persist. Their pair either fell below the review threshold or no longer
// shares a block, and both cases must not keep the old score.
func (s *Scanner) refreshStale(ctx context.Context, rule *models.Rule, arena []entry, kept map[[2]models.EntityRef]struct{}, state *scanState) error {
	var open []models.Candidate
	for offset := 0; ; offset += s.cfg.PageSize {
		page, total, err := s.candidates.List(ctx, models.CandidateFilter{
			Statuses: []models.CandidateStatus{models.CandidateStatusPending, models.CandidateStatusConfirmed},
			RuleID:   rule.ID,
			Limit:    s.cfg.PageSize,
			Offset:   offset,
		})
		if err != nil {
			return err
		}
		open = append(open, page...)
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	index := make(map[models.EntityRef]int, len(arena))
	for i := range arena {
		index[arena[i].entity.Ref] = i
	}

	for i := range open {
		existing := &open[i]
		if _, ok := kept[orderedPair(existing.Entity1, existing.Entity2)]; ok {
			continue
		}
		source, target := existing.Entity1, existing.Entity2
		if !rule.SameTable() && source.Table != rule.SourceTable {
			source, target = target, source
		}
		// rows that went inactive or stopped passing the filter are left
		// for the merge liveness check
		si, okSource := index[source]
		ti, okTarget := index[target]
		if !okSource || !okTarget {
			continue
		}

		result := s.engine.Compare(rule, arena[si].proj, arena[ti].proj)
		rec, keep := s.engine.Classify(rule, result.Confidence)
		if !keep {
			rec = models.RecommendationReview
		}
		update, changed := s.rescore(existing, result, rec)
		if !changed {
			continue
		}
		if !state.reserve() {
			return nil
		}
		if err := s.candidates.UpdateScore(ctx, existing.ID, update); err != nil {
			state.unreserve()
			if errs.IsConflict(err) {
				continue
			}
			return err
		}
		state.updated.Add(1)
		metrics.CandidatesTotal.WithLabelValues("refreshed").Inc()
	}
	return nil
}
