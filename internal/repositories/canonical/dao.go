package canonical

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	contactsTable = "canonical_contacts"
	linksTable    = "canonical_contact_links"
)

var contactColumns = []string{
	"id", "email", "phone", "name", "company_name", "completeness", "is_active", "created_at", "updated_at",
}

// ContactRow represents the database row for a canonical contact
type ContactRow struct {
	ID           string         `db:"id"`
	Email        sql.NullString `db:"email"`
	Phone        sql.NullString `db:"phone"`
	Name         sql.NullString `db:"name"`
	CompanyName  sql.NullString `db:"company_name"`
	Completeness float64        `db:"completeness"`
	IsActive     bool           `db:"is_active"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// LinkRow is one source record linked to a contact
type LinkRow struct {
	ContactID   string `db:"canonical_contact_id"`
	RecordTable string `db:"record_table"`
	RecordID    string `db:"record_id"`
}

func FromContact(c *models.CanonicalContact) *ContactRow {
	return &ContactRow{
		ID:           c.ID,
		Email:        nullString(c.Email),
		Phone:        nullString(c.Phone),
		Name:         nullString(c.Name),
		CompanyName:  nullString(c.CompanyName),
		Completeness: c.Completeness,
		IsActive:     c.IsActive,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func ToContact(row *ContactRow, links []LinkRow) *models.CanonicalContact {
	refs := make([]models.EntityRef, 0, len(links))
	for _, l := range links {
		refs = append(refs, models.EntityRef{Table: l.RecordTable, ID: l.RecordID})
	}
	return &models.CanonicalContact{
		ID:            row.ID,
		Email:         stringPtr(row.Email),
		Phone:         stringPtr(row.Phone),
		Name:          stringPtr(row.Name),
		CompanyName:   stringPtr(row.CompanyName),
		LinkedRecords: refs,
		Completeness:  row.Completeness,
		IsActive:      row.IsActive,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

func (row *ContactRow) values() []any {
	return []any{
		row.ID, row.Email, row.Phone, row.Name, row.CompanyName, row.Completeness, row.IsActive, row.CreatedAt, row.UpdatedAt,
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
