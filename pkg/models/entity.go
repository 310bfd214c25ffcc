package models

import (
	"fmt"
	"strings"
	"time"
)

// EntityRef identifies a row in a source table
type EntityRef struct {
	Table string `json:"table" db:"table" validate:"required"`
	ID    string `json:"id" db:"id" validate:"required"`
}

func (r EntityRef) String() string {
	return r.Table + ":" + r.ID
}

// IsZero reports whether the ref is unset
func (r EntityRef) IsZero() bool {
	return r.Table == "" && r.ID == ""
}

// Less orders refs by table, then id
func (r EntityRef) Less(o EntityRef) bool {
	if r.Table != o.Table {
		return r.Table < o.Table
	}
	return r.ID < o.ID
}

// ParseEntityRef parses "table:id"
func ParseEntityRef(s string) (EntityRef, error) {
	table, id, ok := strings.Cut(s, ":")
	if !ok || table == "" || id == "" {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q, expected table:id", s)
	}
	return EntityRef{Table: table, ID: id}, nil
}

// OrderPair returns the two refs in canonical order
func OrderPair(a, b EntityRef) (EntityRef, EntityRef) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}

// Entity is a source table row. Fields holds every column except the id.
type Entity struct {
	Ref       EntityRef      `json:"ref"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updated_at"`
	Active    bool           `json:"active"`
}

// Snapshot returns a copy of the row including the id column
func (e *Entity) Snapshot(idColumn string) map[string]any {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out[idColumn] = e.Ref.ID
	return out
}

// EntityPreview is the identity view of a record shown to reviewers
type EntityPreview struct {
	Ref         EntityRef `json:"ref"`
	Email       *string   `json:"email,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Name        *string   `json:"name,omitempty"`
	CompanyName *string   `json:"companyName,omitempty"`
	Active      bool      `json:"active"`
}
