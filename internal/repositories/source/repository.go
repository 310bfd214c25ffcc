// Package source reads and writes the platform-owned source tables. Table
// and column names come from the source-table catalog, never from requests.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Repository implements the source store over Postgres tables
type Repository struct {
	db      database.DB
	catalog *models.Catalog
	logger  ectologger.Logger
}

// NewRepository creates a new source table repository
func NewRepository(db database.DB, catalog *models.Catalog, logger ectologger.Logger) *Repository {
	return &Repository{
		db:      db,
		catalog: catalog,
		logger:  logger,
	}
}

func (r *Repository) table(name string) (*models.SourceTable, error) {
	t, ok := r.catalog.Table(name)
	if !ok {
		return nil, errs.Validation("table %s is not a configured source table", name)
	}
	return t, nil
}

func idText(t *models.SourceTable) string {
	return fmt.Sprintf("CAST(%s AS TEXT)", database.QuoteIdentifier(t.IDColumn))
}

// Scan returns up to limit active rows whose id sorts after afterID
func (r *Repository) Scan(ctx context.Context, table string, afterID string, limit int) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Scan")
	defer span.End()

	t, err := r.table(table)
	if err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From(database.QuoteIdentifier(t.Name))
	sb.Where(
		sb.IsNull(database.QuoteIdentifier(t.DeletedAtColumn)),
		sb.GreaterThan(idText(t), afterID),
	)
	sb.OrderBy(idText(t))
	sb.Limit(limit)

	query, args := sb.Build()
	return r.query(ctx, t, query, args...)
}

// Get returns one row including soft-deleted rows
func (r *Repository) Get(ctx context.Context, ref models.EntityRef, forUpdate bool) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Get")
	defer span.End()

	t, err := r.table(ref.Table)
	if err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From(database.QuoteIdentifier(t.Name))
	sb.Where(sb.Equal(idText(t), ref.ID))
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	entities, err := r.query(ctx, t, query, args...)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, errs.NotFound("%s not found", ref)
	}
	return &entities[0], nil
}

// GetMany loads several rows, grouped into one query per table. Missing
// refs are absent from the result.
func (r *Repository) GetMany(ctx context.Context, refs []models.EntityRef) (map[models.EntityRef]*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.GetMany")
	defer span.End()

	byTable := map[string][]any{}
	for _, ref := range refs {
		byTable[ref.Table] = append(byTable[ref.Table], ref.ID)
	}

	tables := make([]string, 0, len(byTable))
	for name := range byTable {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	out := make(map[models.EntityRef]*models.Entity, len(refs))
	for _, name := range tables {
		t, ok := r.catalog.Table(name)
		if !ok {
			continue
		}

		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("*")
		sb.From(database.QuoteIdentifier(t.Name))
		sb.Where(sb.In(idText(t), byTable[name]...))

		query, args := sb.Build()
		entities, err := r.query(ctx, t, query, args...)
		if err != nil {
			return nil, err
		}
		for i := range entities {
			out[entities[i].Ref] = &entities[i]
		}
	}
	return out, nil
}

// Update writes reconciled columns and bumps the updated_at column
func (r *Repository) Update(ctx context.Context, ref models.EntityRef, fields map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Update")
	defer span.End()

	t, err := r.table(ref.Table)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	columns := make([]string, 0, len(fields))
	for column := range fields {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(database.QuoteIdentifier(t.Name))
	assignments := make([]string, 0, len(columns)+1)
	for _, column := range columns {
		value, err := columnValue(fields[column])
		if err != nil {
			return errs.Wrap(errs.KindValidation, err, "column %s", column)
		}
		assignments = append(assignments, sb.Assign(database.QuoteIdentifier(column), value))
	}
	if _, set := fields[t.UpdatedAtColumn]; !set {
		assignments = append(assignments, sb.Assign(database.QuoteIdentifier(t.UpdatedAtColumn), time.Now().UTC()))
	}
	sb.Set(assignments...)
	sb.Where(sb.Equal(idText(t), ref.ID))

	return r.exec(ctx, ref, "update", sb)
}

// Deactivate soft-deletes a row
func (r *Repository) Deactivate(ctx context.Context, ref models.EntityRef, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Deactivate")
	defer span.End()

	t, err := r.table(ref.Table)
	if err != nil {
		return err
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(database.QuoteIdentifier(t.Name))
	sb.Set(
		sb.Assign(database.QuoteIdentifier(t.DeletedAtColumn), at),
		sb.Assign(database.QuoteIdentifier(t.UpdatedAtColumn), at),
	)
	sb.Where(sb.Equal(idText(t), ref.ID))

	return r.exec(ctx, ref, "deactivate", sb)
}

func (r *Repository) exec(ctx context.Context, ref models.EntityRef, op string, sb *sqlbuilder.UpdateBuilder) error {
	query, args := sb.Build()
	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity": ref.String(), "op": op}).Error("Failed to write source record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to write source record")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errs.NotFound("%s not found", ref)
	}
	return nil
}

func (r *Repository) query(ctx context.Context, t *models.SourceTable, query string, args ...any) ([]models.Entity, error) {
	rows, err := database.Executor(ctx, r.db).QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("table", t.Name).Error("Failed to read source table")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read source table")
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		raw := map[string]any{}
		if err := rows.MapScan(raw); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("table", t.Name).Error("Failed to scan source row")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read source table")
		}
		entities = append(entities, toEntity(t, raw))
	}
	if err := rows.Err(); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("table", t.Name).Error("Failed to iterate source rows")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read source table")
	}
	return entities, nil
}

func toEntity(t *models.SourceTable, raw map[string]any) models.Entity {
	e := models.Entity{
		Ref:    models.EntityRef{Table: t.Name},
		Fields: make(map[string]any, len(raw)),
		Active: true,
	}
	for column, value := range raw {
		value = decodeValue(value)
		switch column {
		case t.IDColumn:
			e.Ref.ID = fmt.Sprint(value)
			continue
		case t.UpdatedAtColumn:
			if ts, ok := value.(time.Time); ok {
				e.UpdatedAt = ts.UTC()
			}
		case t.DeletedAtColumn:
			e.Active = value == nil
		}
		e.Fields[column] = value
	}
	return e
}

// decodeValue turns driver bytes into JSON values for json columns and
// strings for everything else
func decodeValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
		var decoded any
		if err := json.Unmarshal(b, &decoded); err == nil {
			return decoded
		}
	}
	return string(b)
}

func columnValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}
