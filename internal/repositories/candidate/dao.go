package candidate

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

const candidatesTable = "duplicate_candidates"

var candidateColumns = []string{
	"id", "entity1_table", "entity1_id", "entity2_table", "entity2_id", "rule_id", "confidence", "breakdown",
	"recommendation", "status", "notes", "resolved_by", "created_at", "updated_at", "resolved_at",
}

// CandidateRow represents the database row for a duplicate candidate
type CandidateRow struct {
	ID             string                                       `db:"id"`
	Entity1Table   string                                       `db:"entity1_table"`
	Entity1ID      string                                       `db:"entity1_id"`
	Entity2Table   string                                       `db:"entity2_table"`
	Entity2ID      string                                       `db:"entity2_id"`
	RuleID         string                                       `db:"rule_id"`
	Confidence     float64                                      `db:"confidence"`
	Breakdown      database.JSONB[map[string]models.FieldScore] `db:"breakdown"`
	Recommendation string                                       `db:"recommendation"`
	Status         string                                       `db:"status"`
	Notes          sql.NullString                               `db:"notes"`
	ResolvedBy     sql.NullString                               `db:"resolved_by"`
	CreatedAt      time.Time                                    `db:"created_at"`
	UpdatedAt      time.Time                                    `db:"updated_at"`
	ResolvedAt     sql.NullTime                                 `db:"resolved_at"`
}

// FromCandidate converts a domain model to a database row
func FromCandidate(c *models.Candidate) *CandidateRow {
	breakdown := c.Breakdown
	if breakdown == nil {
		breakdown = map[string]models.FieldScore{}
	}
	row := &CandidateRow{
		ID:             c.ID,
		Entity1Table:   c.Entity1.Table,
		Entity1ID:      c.Entity1.ID,
		Entity2Table:   c.Entity2.Table,
		Entity2ID:      c.Entity2.ID,
		RuleID:         c.RuleID,
		Confidence:     c.Confidence,
		Breakdown:      database.NewJSONB(breakdown),
		Recommendation: string(c.Recommendation),
		Status:         string(c.Status),
		Notes:          nullString(c.Notes),
		ResolvedBy:     nullString(c.ResolvedBy),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.ResolvedAt != nil {
		row.ResolvedAt = sql.NullTime{Time: *c.ResolvedAt, Valid: true}
	}
	return row
}

// ToCandidate converts a database row to a domain model
func ToCandidate(row *CandidateRow) *models.Candidate {
	c := &models.Candidate{
		ID:             row.ID,
		Entity1:        models.EntityRef{Table: row.Entity1Table, ID: row.Entity1ID},
		Entity2:        models.EntityRef{Table: row.Entity2Table, ID: row.Entity2ID},
		RuleID:         row.RuleID,
		Confidence:     row.Confidence,
		Breakdown:      row.Breakdown.Data,
		Recommendation: models.Recommendation(row.Recommendation),
		Status:         models.CandidateStatus(row.Status),
		Notes:          stringPtr(row.Notes),
		ResolvedBy:     stringPtr(row.ResolvedBy),
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if row.ResolvedAt.Valid {
		t := row.ResolvedAt.Time.UTC()
		c.ResolvedAt = &t
	}
	return c
}

func (row *CandidateRow) values() []any {
	return []any{
		row.ID, row.Entity1Table, row.Entity1ID, row.Entity2Table, row.Entity2ID, row.RuleID, row.Confidence, row.Breakdown,
		row.Recommendation, row.Status, row.Notes, row.ResolvedBy, row.CreatedAt, row.UpdatedAt, row.ResolvedAt,
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
