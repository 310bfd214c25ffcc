package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeWriter struct {
	batches [][]Statement
	err     error
}

func (w *fakeWriter) Write(_ context.Context, statements []Statement) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, statements)
	return nil
}

func mergeResult() *models.MergeResult {
	lead1 := models.EntityRef{Table: "leads", ID: "1"}
	lead2 := models.EntityRef{Table: "leads", ID: "2"}
	email := "joe@joes.com"
	return &models.MergeResult{
		Canonical:  lead1,
		MergedAway: lead2,
		Audit:      &models.MergedEntity{ID: "audit-1", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		Contact: &models.CanonicalContact{
			ID: "contact-1", Email: &email, LinkedRecords: []models.EntityRef{lead1, lead2},
			Completeness: 0.25, IsActive: true,
		},
	}
}

func TestStatements(t *testing.T) {
	statements := Statements(mergeResult())
	require.Len(t, statements, 3)

	contact := statements[0].Params
	assert.Equal(t, "contact-1", contact["id"])
	assert.Equal(t, "joe@joes.com", contact["email"])
	assert.Nil(t, contact["phone"])

	records := statements[1].Params["records"].([]map[string]any)
	require.Len(t, records, 2)
	assert.Equal(t, "leads:1", records[0]["ref"])
	assert.Equal(t, "2", records[1]["id"])

	merged := statements[2].Params
	assert.Equal(t, "leads:2", merged["merged_ref"])
	assert.Equal(t, "leads:1", merged["canonical_ref"])
	assert.Equal(t, "2026-01-02T03:04:05Z", merged["at"])

	t.Run("nothing to project", func(t *testing.T) {
		assert.Empty(t, Statements(&models.MergeResult{}))
	})
}

func TestProjector_MergeCompleted(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	w := &fakeWriter{}
	p := NewProjector(w, logger)
	assert.Equal(t, "graph", p.Name())
	require.NoError(t, p.MergeCompleted(context.Background(), mergeResult()))
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 3)

	boom := errors.New("bolt connection refused")
	err := NewProjector(&fakeWriter{err: boom}, logger).MergeCompleted(context.Background(), mergeResult())
	assert.ErrorIs(t, err, boom)

	empty := &fakeWriter{}
	require.NoError(t, NewProjector(empty, logger).MergeCompleted(context.Background(), &models.MergeResult{}))
	assert.Empty(t, empty.batches)
}
