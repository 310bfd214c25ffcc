package canonical

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

// Repository handles canonical contacts and their linked source records
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new canonical contact repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a contact and its links by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.CanonicalContact, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Get")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.NotFound("canonical contact %s not found", id)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From(contactsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row ContactRow
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, errs.NotFound("canonical contact %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("canonical_contact_id", id).Error("Failed to get canonical contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical contact")
	}

	links, err := r.links(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToContact(&row, links), nil
}

// GetByRecord returns the contact a source record is linked to, or nil
func (r *Repository) GetByRecord(ctx context.Context, ref models.EntityRef) (*models.CanonicalContact, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.GetByRecord")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("canonical_contact_id")
	sb.From(linksTable)
	sb.Where(sb.Equal("record_table", ref.Table), sb.Equal("record_id", ref.ID))

	query, args := sb.Build()
	var contactID string
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &contactID, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity", ref.String()).Error("Failed to get canonical contact link")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical contact")
	}

	return r.Get(ctx, contactID)
}

// Save upserts the contact and links every record in LinkedRecords to it.
// A record linked to another contact moves to this one.
func (r *Repository) Save(ctx context.Context, contact *models.CanonicalContact) (*models.CanonicalContact, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Save")
	defer span.End()

	now := time.Now().UTC()
	if contact.ID == "" {
		contact.ID = uuid.New().String()
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now
	contact.Recompute()

	row := FromContact(contact)
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(contactsTable)
	sb.Cols(contactColumns...)
	sb.Values(row.values()...)

	query, args := sb.Build()
	query += ` ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, phone = EXCLUDED.phone, name = EXCLUDED.name,
		company_name = EXCLUDED.company_name, completeness = EXCLUDED.completeness, is_active = EXCLUDED.is_active,
		updated_at = EXCLUDED.updated_at`

	exec := database.Executor(ctx, r.db)
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("canonical_contact_id", contact.ID).Error("Failed to save canonical contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to save canonical contact")
	}

	if len(contact.LinkedRecords) == 0 {
		return contact, nil
	}

	lb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	lb.InsertInto(linksTable)
	lb.Cols("canonical_contact_id", "record_table", "record_id", "created_at")
	for _, ref := range contact.LinkedRecords {
		lb.Values(contact.ID, ref.Table, ref.ID, now)
	}

	query, args = lb.Build()
	query += " ON CONFLICT (record_table, record_id) DO UPDATE SET canonical_contact_id = EXCLUDED.canonical_contact_id"
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("canonical_contact_id", contact.ID).Error("Failed to link canonical contact records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to save canonical contact")
	}

	return contact, nil
}

func (r *Repository) links(ctx context.Context, contactID string) ([]LinkRow, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("canonical_contact_id", "record_table", "record_id")
	sb.From(linksTable)
	sb.Where(sb.Equal("canonical_contact_id", contactID))
	sb.OrderBy("created_at", "record_table", "record_id")

	query, args := sb.Build()
	var links []LinkRow
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &links, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("canonical_contact_id", contactID).Error("Failed to list canonical contact links")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical contact")
	}
	return links, nil
}
