package models

import (
	"fmt"
	"sort"
	"strings"
)

// IdentityColumns maps the four identity fields to a table's columns
type IdentityColumns struct {
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone       string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	CompanyName string `json:"company_name,omitempty" yaml:"company_name,omitempty"`
}

// MergePolicy is the reconciliation policy of a table
type MergePolicy struct {
	Default ReconcilePolicy            `json:"default,omitempty" yaml:"default,omitempty"`
	Fields  map[string]ReconcilePolicy `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// SourceTable describes a table owned by the surrounding platform
type SourceTable struct {
	Name            string          `json:"name" yaml:"name" validate:"required"`
	IDColumn        string          `json:"id_column" yaml:"id_column"`
	UpdatedAtColumn string          `json:"updated_at_column" yaml:"updated_at_column"`
	DeletedAtColumn string          `json:"deleted_at_column" yaml:"deleted_at_column"`
	Priority        int             `json:"priority" yaml:"priority"`
	Identity        IdentityColumns `json:"identity" yaml:"identity"`
	MergePolicy     MergePolicy     `json:"merge_policy" yaml:"merge_policy"`
	// ReconcileFields limits reconciliation to these columns when set.
	ReconcileFields []string `json:"reconcile_fields,omitempty" yaml:"reconcile_fields,omitempty"`
}

func (t *SourceTable) applyDefaults() {
	if t.IDColumn == "" {
		t.IDColumn = "id"
	}
	if t.UpdatedAtColumn == "" {
		t.UpdatedAtColumn = "updated_at"
	}
	if t.DeletedAtColumn == "" {
		t.DeletedAtColumn = "deleted_at"
	}
	if t.MergePolicy.Default == "" {
		t.MergePolicy.Default = ReconcilePreferNonNull
	}
}

func (t *SourceTable) validate() error {
	if !t.MergePolicy.Default.Valid() {
		return fmt.Errorf("table %s: unknown merge policy %q", t.Name, t.MergePolicy.Default)
	}
	for field, p := range t.MergePolicy.Fields {
		if !p.Valid() {
			return fmt.Errorf("table %s: unknown merge policy %q for field %s", t.Name, p, field)
		}
	}
	return nil
}

// PolicyFor returns the reconciliation policy of a column
func (t *SourceTable) PolicyFor(field string) ReconcilePolicy {
	if p, ok := t.MergePolicy.Fields[field]; ok {
		return p
	}
	return t.MergePolicy.Default
}

// SystemColumn reports whether a column is managed by the service rather than reconciled
func (t *SourceTable) SystemColumn(column string) bool {
	switch column {
	case t.IDColumn, t.UpdatedAtColumn, t.DeletedAtColumn, "created_at":
		return true
	}
	return false
}

// IdentityColumn returns the identity field a column maps to, if any
func (t *SourceTable) IdentityColumn(column string) (string, bool) {
	switch column {
	case "":
		return "", false
	case t.Identity.Email:
		return "email", true
	case t.Identity.Phone:
		return "phone", true
	case t.Identity.Name:
		return "name", true
	case t.Identity.CompanyName:
		return "company_name", true
	}
	return "", false
}

// ColumnFor returns the column of an identity field
func (t *SourceTable) ColumnFor(identity string) string {
	switch identity {
	case "email":
		return t.Identity.Email
	case "phone":
		return t.Identity.Phone
	case "name":
		return t.Identity.Name
	case "company_name":
		return t.Identity.CompanyName
	}
	return ""
}

// Preview extracts the identity fields of a row
func (t *SourceTable) Preview(e *Entity) *EntityPreview {
	if e == nil {
		return nil
	}
	return &EntityPreview{
		Ref:         e.Ref,
		Email:       stringField(e.Fields, t.Identity.Email),
		Phone:       stringField(e.Fields, t.Identity.Phone),
		Name:        stringField(e.Fields, t.Identity.Name),
		CompanyName: stringField(e.Fields, t.Identity.CompanyName),
		Active:      e.Active,
	}
}

// Completeness is the fraction of identity fields a row fills
func (t *SourceTable) Completeness(e *Entity) float64 {
	p := t.Preview(e)
	c := CanonicalContact{Email: p.Email, Phone: p.Phone, Name: p.Name, CompanyName: p.CompanyName}
	c.Recompute()
	return c.Completeness
}

func stringField(fields map[string]any, column string) *string {
	if column == "" {
		return nil
	}
	v, ok := fields[column]
	if !ok || v == nil {
		return nil
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" {
		return nil
	}
	return &s
}

// Catalog is the set of configured source tables
type Catalog struct {
	tables map[string]*SourceTable
}

// NewCatalog validates the tables and applies column defaults
func NewCatalog(tables []SourceTable) (*Catalog, error) {
	c := &Catalog{tables: make(map[string]*SourceTable, len(tables))}
	for i := range tables {
		t := tables[i]
		if t.Name == "" {
			return nil, fmt.Errorf("source table %d has no name", i)
		}
		if _, dup := c.tables[t.Name]; dup {
			return nil, fmt.Errorf("source table %s configured twice", t.Name)
		}
		t.applyDefaults()
		if err := t.validate(); err != nil {
			return nil, err
		}
		c.tables[t.Name] = &t
	}
	return c, nil
}

// Table looks up a configured table
func (c *Catalog) Table(name string) (*SourceTable, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Names returns the configured table names in order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
