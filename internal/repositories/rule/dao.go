package rule

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

const rulesTable = "entity_resolution_rules"

var ruleColumns = []string{
	"id", "name", "description", "source_table", "target_table", "match_fields", "blocking_keys",
	"filter", "auto_merge_threshold", "review_threshold", "is_active", "created_at", "updated_at",
}

// RuleRow represents the database row for a rule
type RuleRow struct {
	ID                 string                               `db:"id"`
	Name               string                               `db:"name"`
	Description        sql.NullString                       `db:"description"`
	SourceTable        string                               `db:"source_table"`
	TargetTable        string                               `db:"target_table"`
	MatchFields        database.JSONB[[]models.MatchField]  `db:"match_fields"`
	BlockingKeys       database.JSONB[[]models.BlockingKey] `db:"blocking_keys"`
	Filter             sql.NullString                       `db:"filter"`
	AutoMergeThreshold float64                              `db:"auto_merge_threshold"`
	ReviewThreshold    float64                              `db:"review_threshold"`
	IsActive           bool                                 `db:"is_active"`
	CreatedAt          time.Time                            `db:"created_at"`
	UpdatedAt          time.Time                            `db:"updated_at"`
}

// FromRule converts a domain model to a database row
func FromRule(r *models.Rule) *RuleRow {
	blocking := r.BlockingKeys
	if blocking == nil {
		blocking = []models.BlockingKey{}
	}
	return &RuleRow{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        nullString(r.Description),
		SourceTable:        r.SourceTable,
		TargetTable:        r.TargetTable,
		MatchFields:        database.NewJSONB(r.MatchFields),
		BlockingKeys:       database.NewJSONB(blocking),
		Filter:             nullString(r.Filter),
		AutoMergeThreshold: r.AutoMergeThreshold,
		ReviewThreshold:    r.ReviewThreshold,
		IsActive:           r.IsActive,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// ToRule converts a database row to a domain model
func ToRule(row *RuleRow) *models.Rule {
	return &models.Rule{
		ID:                 row.ID,
		Name:               row.Name,
		Description:        stringPtr(row.Description),
		SourceTable:        row.SourceTable,
		TargetTable:        row.TargetTable,
		MatchFields:        row.MatchFields.Data,
		BlockingKeys:       row.BlockingKeys.Data,
		Filter:             stringPtr(row.Filter),
		AutoMergeThreshold: row.AutoMergeThreshold,
		ReviewThreshold:    row.ReviewThreshold,
		IsActive:           row.IsActive,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
}

func (row *RuleRow) values() []any {
	return []any{
		row.ID, row.Name, row.Description, row.SourceTable, row.TargetTable, row.MatchFields, row.BlockingKeys,
		row.Filter, row.AutoMergeThreshold, row.ReviewThreshold, row.IsActive, row.CreatedAt, row.UpdatedAt,
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
