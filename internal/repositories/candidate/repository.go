package candidate

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const pairConflict = " ON CONFLICT (entity1_table, entity1_id, entity2_table, entity2_id, rule_id) DO NOTHING RETURNING id"

// Repository handles duplicate candidate persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new candidate repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert creates a candidate. When the pair already has a candidate under
// the same rule nothing is written and the stored candidate is returned.
func (r *Repository) Insert(ctx context.Context, candidate *models.Candidate) (bool, *models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.Insert")
	defer span.End()

	candidate.Entity1, candidate.Entity2 = models.OrderPair(candidate.Entity1, candidate.Entity2)
	if candidate.ID == "" {
		candidate.ID = uuid.New().String()
	}
	if candidate.Status == "" {
		candidate.Status = models.CandidateStatusPending
	}
	candidate.CreatedAt = time.Now().UTC()
	candidate.UpdatedAt = candidate.CreatedAt

	row := FromCandidate(candidate)
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(candidatesTable)
	sb.Cols(candidateColumns...)
	sb.Values(row.values()...)

	query, args := sb.Build()
	query += pairConflict

	var id string
	err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &id, query, args...)
	if err == nil {
		return true, candidate, nil
	}
	if !database.IsNoRows(err) {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity1": candidate.Entity1.String(),
			"entity2": candidate.Entity2.String(),
			"rule_id": candidate.RuleID,
		}).Error("Failed to insert duplicate candidate")
		return false, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert duplicate candidate")
	}

	existing, err := r.getByPair(ctx, candidate.Entity1, candidate.Entity2, candidate.RuleID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *Repository) getByPair(ctx context.Context, a, b models.EntityRef, ruleID string) (*models.Candidate, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From(candidatesTable)
	sb.Where(
		sb.Equal("entity1_table", a.Table),
		sb.Equal("entity1_id", a.ID),
		sb.Equal("entity2_table", b.Table),
		sb.Equal("entity2_id", b.ID),
		sb.Equal("rule_id", ruleID),
	)

	query, args := sb.Build()
	var row CandidateRow
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, errs.NotFound("no candidate for %s and %s under rule %s", a, b, ruleID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get duplicate candidate by pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate candidate")
	}
	return ToCandidate(&row), nil
}

// Get retrieves a candidate by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.Get")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.NotFound("duplicate candidate %s not found", id)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From(candidatesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row CandidateRow
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, errs.NotFound("duplicate candidate %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("candidate_id", id).Error("Failed to get duplicate candidate")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate candidate")
	}

	return ToCandidate(&row), nil
}

// UpdateScore refreshes the score of a candidate after a rescan
func (r *Repository) UpdateScore(ctx context.Context, id string, update models.CandidateScoreUpdate) error {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.UpdateScore")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(candidatesTable)
	assignments := []string{
		sb.Assign("confidence", update.Confidence),
		sb.Assign("breakdown", database.NewJSONB(update.Breakdown)),
		sb.Assign("recommendation", string(update.Recommendation)),
		sb.Assign("updated_at", time.Now().UTC()),
	}
	if update.Status != "" {
		assignments = append(assignments, sb.Assign("status", string(update.Status)))
		if update.Status == models.CandidateStatusPending {
			assignments = append(assignments, "resolved_at = NULL", "resolved_by = NULL")
		}
	}
	sb.Set(assignments...)
	sb.Where(sb.Equal("id", id), sb.NotEqual("status", string(models.CandidateStatusMerged)))

	query, args := sb.Build()
	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("candidate_id", id).Error("Failed to update candidate score")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update duplicate candidate")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errs.Conflict("duplicate candidate %s is merged or missing", id)
	}
	return nil
}

// UpdateStatus moves a candidate from update.From to update.To. The status
// check is part of the UPDATE so concurrent reviewers cannot both win.
func (r *Repository) UpdateStatus(ctx context.Context, id string, update models.CandidateStatusUpdate) (*models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.UpdateStatus")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(candidatesTable)
	assignments := []string{
		sb.Assign("status", string(update.To)),
		sb.Assign("updated_at", now),
	}
	if update.To == models.CandidateStatusPending {
		assignments = append(assignments, "resolved_at = NULL")
	} else {
		assignments = append(assignments, sb.Assign("resolved_at", now))
	}
	if update.Notes != nil {
		assignments = append(assignments, sb.Assign("notes", *update.Notes))
	}
	if update.ResolvedBy != nil {
		assignments = append(assignments, sb.Assign("resolved_by", *update.ResolvedBy))
	}
	sb.Set(assignments...)
	sb.Where(sb.Equal("id", id), sb.Equal("status", string(update.From)))

	query, args := sb.Build()
	query += " RETURNING " + strings.Join(candidateColumns, ", ")

	var row CandidateRow
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			current, getErr := r.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, errs.Conflict("duplicate candidate %s is %s, expected %s", id, current.Status, update.From)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("candidate_id", id).Error("Failed to update candidate status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update duplicate candidate")
	}

	return ToCandidate(&row), nil
}

// List returns one page of candidates ordered by confidence and the total
// number of matching candidates
func (r *Repository) List(ctx context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.List")
	defer span.End()

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(candidatesTable)
	applyFilter(countSb, filter, true)

	query, args := countSb.Build()
	var total int
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count duplicate candidates")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate candidates")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From(candidatesTable)
	applyFilter(sb, filter, true)
	sb.OrderBy("confidence DESC", "created_at DESC", "id")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	query, args = sb.Build()
	var rows []CandidateRow
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list duplicate candidates")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate candidates")
	}

	candidates := make([]models.Candidate, 0, len(rows))
	for i := range rows {
		candidates = append(candidates, *ToCandidate(&rows[i]))
	}
	return candidates, total, nil
}

// Stats counts candidates per status. The status filter is ignored so the
// counts cover every status.
func (r *Repository) Stats(ctx context.Context, filter models.CandidateFilter) (map[models.CandidateStatus]int, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.Stats")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("status", "COUNT(*) AS count")
	sb.From(candidatesTable)
	applyFilter(sb, filter, false)
	sb.GroupBy("status")

	query, args := sb.Build()
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count duplicate candidates by status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate candidate stats")
	}

	stats := make(map[models.CandidateStatus]int, len(rows))
	for _, row := range rows {
		stats[models.CandidateStatus(row.Status)] = row.Count
	}
	return stats, nil
}

func applyFilter(sb *sqlbuilder.SelectBuilder, filter models.CandidateFilter, withStatus bool) {
	var where []string
	if withStatus && len(filter.Statuses) > 0 {
		statuses := make([]any, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, sb.In("status", statuses...))
	}
	if filter.MinConfidence != nil {
		where = append(where, sb.GreaterEqualThan("confidence", *filter.MinConfidence))
	}
	if filter.MaxConfidence != nil {
		where = append(where, sb.LessEqualThan("confidence", *filter.MaxConfidence))
	}
	if filter.SourceTable != "" {
		where = append(where, sb.Or(sb.Equal("entity1_table", filter.SourceTable), sb.Equal("entity2_table", filter.SourceTable)))
	}
	if filter.TargetTable != "" {
		where = append(where, sb.Or(sb.Equal("entity1_table", filter.TargetTable), sb.Equal("entity2_table", filter.TargetTable)))
	}
	if filter.RuleID != "" {
		where = append(where, sb.Equal("rule_id", filter.RuleID))
	}
	if filter.Entity != nil {
		where = append(where, sb.Or(
			sb.And(sb.Equal("entity1_table", filter.Entity.Table), sb.Equal("entity1_id", filter.Entity.ID)),
			sb.And(sb.Equal("entity2_table", filter.Entity.Table), sb.Equal("entity2_id", filter.Entity.ID)),
		))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
}
