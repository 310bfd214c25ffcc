package rule

import (
	"context"
	"net/http"
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

// Repository handles entity resolution rule persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new rule repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new rule
func (r *Repository) Create(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Create")
	defer span.End()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt

	row := FromRule(rule)
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(rulesTable)
	sb.Cols(ruleColumns...)
	sb.Values(row.values()...)

	query, args := sb.Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errs.Conflict("rule %s already exists", rule.ID)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("rule_id", rule.ID).Error("Failed to create rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create rule")
	}

	return rule, nil
}

// Upsert creates the rule or replaces the stored rule with the same id
func (r *Repository) Upsert(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Upsert")
	defer span.End()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	row := FromRule(rule)
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(rulesTable)
	sb.Cols(ruleColumns...)
	sb.Values(row.values()...)

	query, args := sb.Build()
	query += ` ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
		source_table = EXCLUDED.source_table, target_table = EXCLUDED.target_table,
		match_fields = EXCLUDED.match_fields, blocking_keys = EXCLUDED.blocking_keys, filter = EXCLUDED.filter,
		auto_merge_threshold = EXCLUDED.auto_merge_threshold, review_threshold = EXCLUDED.review_threshold,
		is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
		RETURNING created_at`

	var createdAt time.Time
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &createdAt, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("rule_id", rule.ID).Error("Failed to upsert rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert rule")
	}
	rule.CreatedAt = createdAt.UTC()

	return rule, nil
}

// Get retrieves a rule by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(ruleColumns...)
	sb.From(rulesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row RuleRow
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, errs.NotFound("rule %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("rule_id", id).Error("Failed to get rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get rule")
	}

	return ToRule(&row), nil
}

// List returns rules matching the filter ordered by creation
func (r *Repository) List(ctx context.Context, filter models.RuleFilter) ([]models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(ruleColumns...)
	sb.From(rulesTable)

	var where []string
	if len(filter.IDs) > 0 {
		where = append(where, sb.In("id", toAny(filter.IDs)...))
	}
	if len(filter.Tables) > 0 {
		tables := toAny(filter.Tables)
		where = append(where, sb.Or(sb.In("source_table", tables...), sb.In("target_table", tables...)))
	}
	if filter.ActiveOnly {
		where = append(where, sb.Equal("is_active", true))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	var rows []RuleRow
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list rules")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list rules")
	}

	rules := make([]models.Rule, 0, len(rows))
	for i := range rows {
		rules = append(rules, *ToRule(&rows[i]))
	}
	return rules, nil
}

// Update replaces the mutable columns of a rule
func (r *Repository) Update(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Update")
	defer span.End()

	rule.UpdatedAt = time.Now().UTC()
	row := FromRule(rule)

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(rulesTable)
	sb.Set(
		sb.Assign("name", row.Name),
		sb.Assign("description", row.Description),
		sb.Assign("source_table", row.SourceTable),
		sb.Assign("target_table", row.TargetTable),
		sb.Assign("match_fields", row.MatchFields),
		sb.Assign("blocking_keys", row.BlockingKeys),
		sb.Assign("filter", row.Filter),
		sb.Assign("auto_merge_threshold", row.AutoMergeThreshold),
		sb.Assign("review_threshold", row.ReviewThreshold),
		sb.Assign("is_active", row.IsActive),
		sb.Assign("updated_at", row.UpdatedAt),
	)
	sb.Where(sb.Equal("id", rule.ID))

	query, args := sb.Build()
	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("rule_id", rule.ID).Error("Failed to update rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update rule")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, errs.NotFound("rule %s not found", rule.ID)
	}
	return rule, nil
}

// Deactivate marks a rule inactive. Rules are never deleted because
// candidates reference them.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Deactivate")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(rulesTable)
	sb.Set(
		sb.Assign("is_active", false),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("rule_id", id).Error("Failed to deactivate rule")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate rule")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return errs.NotFound("rule %s not found", id)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
