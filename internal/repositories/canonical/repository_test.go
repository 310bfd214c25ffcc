package canonical

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

const contactID = "9d9f3a2c-2c55-4c1b-a3f4-5f9a8e7d6c5b"

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRepository(database.NewDatabaseInstance(sqlx.NewDb(conn, "sqlmock"), logger), logger), mock
}

func TestRepository_GetByRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("linked record", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		now := time.Now().UTC()
		mock.ExpectQuery("SELECT canonical_contact_id FROM canonical_contact_links WHERE record_table = \\$1 AND record_id = \\$2").
			WithArgs("leads", "1").
			WillReturnRows(sqlmock.NewRows([]string{"canonical_contact_id"}).AddRow(contactID))
		mock.ExpectQuery("SELECT (.+) FROM canonical_contacts WHERE id = \\$1").
			WithArgs(contactID).
			WillReturnRows(sqlmock.NewRows(contactColumns).AddRow(contactID, "joe@joes.com", nil, "Joe", nil, 0.5, true, now, now))
		mock.ExpectQuery("SELECT (.+) FROM canonical_contact_links WHERE canonical_contact_id = \\$1").
			WillReturnRows(sqlmock.NewRows([]string{"canonical_contact_id", "record_table", "record_id"}).
				AddRow(contactID, "leads", "1").
				AddRow(contactID, "leads", "2"))

		contact, err := repo.GetByRecord(ctx, models.EntityRef{Table: "leads", ID: "1"})
		require.NoError(t, err)
		require.NotNil(t, contact)
		assert.Equal(t, "joe@joes.com", *contact.Email)
		assert.Nil(t, contact.Phone)
		assert.Len(t, contact.LinkedRecords, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unlinked record", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectQuery("SELECT canonical_contact_id FROM canonical_contact_links").
			WillReturnRows(sqlmock.NewRows([]string{"canonical_contact_id"}))

		contact, err := repo.GetByRecord(ctx, models.EntityRef{Table: "leads", ID: "9"})
		require.NoError(t, err)
		assert.Nil(t, contact)
	})
}

func TestRepository_Save(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectExec("INSERT INTO canonical_contacts (.+) ON CONFLICT \\(id\\) DO UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO canonical_contact_links (.+) ON CONFLICT \\(record_table, record_id\\)").WillReturnResult(sqlmock.NewResult(0, 2))

	email := "joe@joes.com"
	contact, err := repo.Save(context.Background(), &models.CanonicalContact{
		Email:         &email,
		LinkedRecords: []models.EntityRef{{Table: "leads", ID: "1"}, {Table: "leads", ID: "2"}},
		IsActive:      true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, contact.ID)
	assert.Equal(t, 0.25, contact.Completeness)
	assert.NoError(t, mock.ExpectationsWereMet())
}
