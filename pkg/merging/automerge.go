package merging

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// AutoMerge merges pending auto_merge candidates choosing the canonical
// record automatically. Failures are reported per candidate.
func (e *Engine) AutoMerge(ctx context.Context, candidateIDs []string) []models.AutoMergeOutcome {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.AutoMerge")
	defer span.End()

	actor := AutoMergeActor
	outcomes := make([]models.AutoMergeOutcome, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if ctx.Err() != nil {
			outcomes = append(outcomes, models.AutoMergeOutcome{CandidateID: id, Error: ctx.Err().Error()})
			continue
		}

		canonical, err := e.autoMergeOne(ctx, id, &actor)
		outcome := models.AutoMergeOutcome{CandidateID: id}
		if err != nil {
			outcome.Error = err.Error()
			e.logger.WithContext(ctx).WithError(err).WithField("candidate_id", id).Warn("Auto-merge failed")
		} else {
			outcome.Canonical = &canonical
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Engine) autoMergeOne(ctx context.Context, id string, actor *string) (models.EntityRef, error) {
	candidate, err := e.stores.Candidates.Get(ctx, id)
	if err != nil {
		return models.EntityRef{}, err
	}
	if candidate.Recommendation != models.RecommendationAutoMerge {
		return models.EntityRef{}, errs.Validation("candidate %s is not recommended for auto-merge", id)
	}
	if candidate.Status != models.CandidateStatusPending {
		return models.EntityRef{}, errs.Validation("candidate %s is %s", id, candidate.Status)
	}

	rows, err := e.stores.Sources.GetMany(ctx, []models.EntityRef{candidate.Entity1, candidate.Entity2})
	if err != nil {
		return models.EntityRef{}, err
	}
	a, b := rows[candidate.Entity1], rows[candidate.Entity2]
	if a == nil || b == nil {
		return models.EntityRef{}, errs.Conflict("a record of candidate %s no longer exists", id)
	}

	canonical := SelectCanonical(e.catalog, a, b)
	if _, err := e.Merge(ctx, id, canonical, models.MergeOptions{Automated: true, PerformedBy: actor}); err != nil {
		return models.EntityRef{}, err
	}
	return canonical, nil
}
