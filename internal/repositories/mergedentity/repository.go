package mergedentity

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

// Repository stores the merge audit trail. Records are append-only: there
// is no update or delete, and the table rejects both with a trigger.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merged entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Append writes a new audit record
func (r *Repository) Append(ctx context.Context, record *models.MergedEntity) (*models.MergedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "mergedentity.Repository.Append")
	defer span.End()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now().UTC()

	row := FromMergedEntity(record)
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(mergedEntitiesTable)
	sb.Cols(mergedEntityColumns...)
	sb.Values(row.values()...)

	query, args := sb.Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"canonical":   record.Canonical.String(),
			"merged_away": record.MergedAway.String(),
		}).Error("Failed to append merged entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record merge")
	}

	r.logger.WithContext(ctx).WithField("merged_entity_id", record.ID).Debug("Appended merged entity")
	return record, nil
}

// Get retrieves an audit record by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.MergedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "mergedentity.Repository.Get")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.NotFound("merge %s not found", id)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(mergedEntityColumns...)
	sb.From(mergedEntitiesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row MergedEntityRow
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, errs.NotFound("merge %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("merged_entity_id", id).Error("Failed to get merged entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge")
	}

	return ToMergedEntity(&row), nil
}

// ListByEntity returns the merges a record took part in, newest first
func (r *Repository) ListByEntity(ctx context.Context, ref models.EntityRef) ([]models.MergedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "mergedentity.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(mergedEntityColumns...)
	sb.From(mergedEntitiesTable)
	sb.Where(sb.Or(
		sb.And(sb.Equal("canonical_table", ref.Table), sb.Equal("canonical_id", ref.ID)),
		sb.And(sb.Equal("merged_table", ref.Table), sb.Equal("merged_id", ref.ID)),
	))
	sb.OrderBy("created_at DESC", "id")

	query, args := sb.Build()
	var rows []MergedEntityRow
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity", ref.String()).Error("Failed to list merged entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merges")
	}

	records := make([]models.MergedEntity, 0, len(rows))
	for i := range rows {
		records = append(records, *ToMergedEntity(&rows[i]))
	}
	return records, nil
}
