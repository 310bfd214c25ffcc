package models

import (
	"strings"
	"time"
)

// CanonicalContact is the best-known identity of a real-world contact
type CanonicalContact struct {
	ID            string      `json:"id"`
	Email         *string     `json:"email,omitempty"`
	Phone         *string     `json:"phone,omitempty"`
	Name          *string     `json:"name,omitempty"`
	CompanyName   *string     `json:"companyName,omitempty"`
	LinkedRecords []EntityRef `json:"linkedRecords"`
	Completeness  float64     `json:"completeness"`
	IsActive      bool        `json:"isActive"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// HasRecord reports whether ref is linked to the contact
func (c *CanonicalContact) HasRecord(ref EntityRef) bool {
	for _, r := range c.LinkedRecords {
		if r == ref {
			return true
		}
	}
	return false
}

// Link adds refs that are not yet linked
func (c *CanonicalContact) Link(refs ...EntityRef) {
	for _, ref := range refs {
		if !c.HasRecord(ref) {
			c.LinkedRecords = append(c.LinkedRecords, ref)
		}
	}
}

// Absorb fills empty identity fields from preview values
func (c *CanonicalContact) Absorb(p *EntityPreview) {
	if p == nil {
		return
	}
	c.Email = firstNonBlank(c.Email, p.Email)
	c.Phone = firstNonBlank(c.Phone, p.Phone)
	c.Name = firstNonBlank(c.Name, p.Name)
	c.CompanyName = firstNonBlank(c.CompanyName, p.CompanyName)
}

// Recompute refreshes the completeness score
func (c *CanonicalContact) Recompute() {
	filled := 0
	for _, v := range []*string{c.Email, c.Phone, c.Name, c.CompanyName} {
		if !blank(v) {
			filled++
		}
	}
	c.Completeness = float64(filled) / 4
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func firstNonBlank(values ...*string) *string {
	for _, v := range values {
		if !blank(v) {
			return v
		}
	}
	return nil
}

// EntityAlias redirects a merged-away record to its canonical identity
type EntityAlias struct {
	ID                 string    `json:"id"`
	Old                EntityRef `json:"old"`
	CanonicalContactID string    `json:"canonicalContactId"`
	Canonical          EntityRef `json:"canonical"`
	MergedEntityID     string    `json:"mergedEntityId"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Resolution is the result of following a ref to its canonical identity
type Resolution struct {
	Ref       EntityRef         `json:"ref"`
	Canonical EntityRef         `json:"canonical"`
	Path      []EntityRef       `json:"path"`
	Contact   *CanonicalContact `json:"canonicalContact,omitempty"`
}
