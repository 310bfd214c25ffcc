package mergedentity

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRepository(database.NewDatabaseInstance(sqlx.NewDb(conn, "sqlmock"), logger), logger), mock
}

func TestRepository_Append(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectExec("INSERT INTO merged_entities").WillReturnResult(sqlmock.NewResult(0, 1))

	record, err := repo.Append(context.Background(), &models.MergedEntity{
		Canonical:         models.EntityRef{Table: "leads", ID: "1"},
		MergedAway:        models.EntityRef{Table: "leads", ID: "2"},
		MergedSnapshot:    map[string]any{"id": "2", "email": "joe@joes.com"},
		CanonicalSnapshot: map[string]any{"id": "1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListByEntity(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(mergedEntityColumns).AddRow(
		"0b0c6c52-3f1e-4a55-8f0e-2b9f7e1d6a10", nil, "leads", "1", "leads", "2",
		[]byte(`{"id":"2","email":"joe@joes.com"}`), []byte(`{"id":"1"}`), []byte(`{"email":"joe@joes.com"}`),
		[]byte(`[{"field":"phone","canonical_value":"1","merged_value":"2","policy":"prefer_non_null","resolution":"kept_canonical","resolved_value":"1"}]`),
		false, "reviewer-1", nil, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM merged_entities WHERE (.+) ORDER BY created_at DESC, id").
		WithArgs("leads", "2", "leads", "2").
		WillReturnRows(rows)

	records, err := repo.ListByEntity(context.Background(), models.EntityRef{Table: "leads", ID: "2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "joe@joes.com", records[0].MergedSnapshot["email"])
	require.Len(t, records[0].Conflicts, 1)
	assert.Equal(t, models.ResolutionKeptCanonical, records[0].Conflicts[0].Resolution)
	assert.Equal(t, "reviewer-1", *records[0].PerformedBy)
	assert.Nil(t, records[0].CandidateID)
}
