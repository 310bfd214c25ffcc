package mergedentity

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

const mergedEntitiesTable = "merged_entities"

var mergedEntityColumns = []string{
	"id", "candidate_id", "canonical_table", "canonical_id", "merged_table", "merged_id", "merged_snapshot",
	"canonical_snapshot", "changes", "conflicts", "automated", "performed_by", "notes", "created_at",
}

// MergedEntityRow represents the database row for a merge audit record
type MergedEntityRow struct {
	ID                string                                 `db:"id"`
	CandidateID       sql.NullString                         `db:"candidate_id"`
	CanonicalTable    string                                 `db:"canonical_table"`
	CanonicalID       string                                 `db:"canonical_id"`
	MergedTable       string                                 `db:"merged_table"`
	MergedID          string                                 `db:"merged_id"`
	MergedSnapshot    database.JSONB[map[string]any]         `db:"merged_snapshot"`
	CanonicalSnapshot database.JSONB[map[string]any]         `db:"canonical_snapshot"`
	Changes           database.JSONB[map[string]any]         `db:"changes"`
	Conflicts         database.JSONB[[]models.FieldConflict] `db:"conflicts"`
	Automated         bool                                   `db:"automated"`
	PerformedBy       sql.NullString                         `db:"performed_by"`
	Notes             sql.NullString                         `db:"notes"`
	CreatedAt         time.Time                              `db:"created_at"`
}

func FromMergedEntity(m *models.MergedEntity) *MergedEntityRow {
	changes := m.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	conflicts := m.Conflicts
	if conflicts == nil {
		conflicts = []models.FieldConflict{}
	}
	return &MergedEntityRow{
		ID:                m.ID,
		CandidateID:       nullString(m.CandidateID),
		CanonicalTable:    m.Canonical.Table,
		CanonicalID:       m.Canonical.ID,
		MergedTable:       m.MergedAway.Table,
		MergedID:          m.MergedAway.ID,
		MergedSnapshot:    database.NewJSONB(m.MergedSnapshot),
		CanonicalSnapshot: database.NewJSONB(m.CanonicalSnapshot),
		Changes:           database.NewJSONB(changes),
		Conflicts:         database.NewJSONB(conflicts),
		Automated:         m.Automated,
		PerformedBy:       nullString(m.PerformedBy),
		Notes:             nullString(m.Notes),
		CreatedAt:         m.CreatedAt,
	}
}

func ToMergedEntity(row *MergedEntityRow) *models.MergedEntity {
	return &models.MergedEntity{
		ID:                row.ID,
		CandidateID:       stringPtr(row.CandidateID),
		Canonical:         models.EntityRef{Table: row.CanonicalTable, ID: row.CanonicalID},
		MergedAway:        models.EntityRef{Table: row.MergedTable, ID: row.MergedID},
		MergedSnapshot:    row.MergedSnapshot.Data,
		CanonicalSnapshot: row.CanonicalSnapshot.Data,
		Changes:           row.Changes.Data,
		Conflicts:         row.Conflicts.Data,
		Automated:         row.Automated,
		PerformedBy:       stringPtr(row.PerformedBy),
		Notes:             stringPtr(row.Notes),
		CreatedAt:         row.CreatedAt.UTC(),
	}
}

func (row *MergedEntityRow) values() []any {
	return []any{
		row.ID, row.CandidateID, row.CanonicalTable, row.CanonicalID, row.MergedTable, row.MergedID, row.MergedSnapshot,
		row.CanonicalSnapshot, row.Changes, row.Conflicts, row.Automated, row.PerformedBy, row.Notes, row.CreatedAt,
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
