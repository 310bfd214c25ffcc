package alias

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

const aliasesTable = "entity_aliases"

var aliasColumns = []string{
	"id", "old_table", "old_id", "canonical_contact_id", "canonical_table", "canonical_id", "merged_entity_id", "created_at",
}

// AliasRow represents the database row for an entity alias
type AliasRow struct {
	ID                 string    `db:"id"`
	OldTable           string    `db:"old_table"`
	OldID              string    `db:"old_id"`
	CanonicalContactID string    `db:"canonical_contact_id"`
	CanonicalTable     string    `db:"canonical_table"`
	CanonicalID        string    `db:"canonical_id"`
	MergedEntityID     string    `db:"merged_entity_id"`
	CreatedAt          time.Time `db:"created_at"`
}

func (row *AliasRow) toAlias() *models.EntityAlias {
	return &models.EntityAlias{
		ID:                 row.ID,
		Old:                models.EntityRef{Table: row.OldTable, ID: row.OldID},
		CanonicalContactID: row.CanonicalContactID,
		Canonical:          models.EntityRef{Table: row.CanonicalTable, ID: row.CanonicalID},
		MergedEntityID:     row.MergedEntityID,
		CreatedAt:          row.CreatedAt.UTC(),
	}
}

// Repository stores aliases of merged-away records. Aliases are never updated.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new alias repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create writes an alias. A record can be merged away only once, so a
// second alias for the same old ref is a conflict.
func (r *Repository) Create(ctx context.Context, alias *models.EntityAlias) (*models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.Create")
	defer span.End()

	if alias.ID == "" {
		alias.ID = uuid.New().String()
	}
	alias.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(aliasesTable)
	sb.Cols(aliasColumns...)
	sb.Values(alias.ID, alias.Old.Table, alias.Old.ID, alias.CanonicalContactID, alias.Canonical.Table, alias.Canonical.ID, alias.MergedEntityID, alias.CreatedAt)

	query, args := sb.Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errs.Conflict("%s has already been merged away", alias.Old)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity", alias.Old.String()).Error("Failed to create entity alias")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity alias")
	}

	return alias, nil
}

// Get returns the alias of a merged-away record, or nil
func (r *Repository) Get(ctx context.Context, ref models.EntityRef) (*models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(aliasColumns...)
	sb.From(aliasesTable)
	sb.Where(sb.Equal("old_table", ref.Table), sb.Equal("old_id", ref.ID))

	query, args := sb.Build()
	var row AliasRow
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity", ref.String()).Error("Failed to get entity alias")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity alias")
	}

	return row.toAlias(), nil
}
