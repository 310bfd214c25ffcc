package merging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/memstore"
	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/identity"
	"github.com/Ramsey-B/clover/pkg/lock"
	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	lead1   = models.EntityRef{Table: "leads", ID: "1"}
	lead2   = models.EntityRef{Table: "leads", ID: "2"}
	client7 = models.EntityRef{Table: "clients", ID: "7"}
	outside = models.EntityRef{Table: "leads", ID: "99"}
)

type recordingObserver struct {
	results []*models.MergeResult
	err     error
}

func (o *recordingObserver) Name() string { return "recording" }

func (o *recordingObserver) MergeCompleted(_ context.Context, result *models.MergeResult) error {
	o.results = append(o.results, result)
	return o.err
}

type fixture struct {
	store    *memstore.Store
	engine   *Engine
	observer *recordingObserver
	catalog  *models.Catalog
}

func testCatalog(t *testing.T) *models.Catalog {
	t.Helper()
	catalog, err := models.NewCatalog([]models.SourceTable{
		{
			Name:     "leads",
			Identity: models.IdentityColumns{Email: "email", Phone: "phone", CompanyName: "company"},
			MergePolicy: models.MergePolicy{
				Fields: map[string]models.ReconcilePolicy{"owner": models.ReconcileManual},
			},
		},
		{
			Name:     "clients",
			Priority: 10,
			Identity: models.IdentityColumns{Email: "contact_email", Name: "full_name"},
		},
	})
	require.NoError(t, err)
	return catalog
}

func newFixture(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	s := memstore.New()
	catalog := testCatalog(t)
	if locker == nil {
		locker = lock.NewMemoryLocker(lock.Options{Mode: lock.ModeFailFast})
	}
	observer := &recordingObserver{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	engine := NewEngine(Stores{
		Tx:         s,
		Candidates: s.Candidates(),
		Sources:    s.Sources(),
		Audits:     s.Audits(),
		Canonical:  s.Canonical(),
		Aliases:    s.Aliases(),
	}, catalog, locker, logger, observer)

	s.Sources().Put(
		models.Entity{Ref: lead1, Active: true, UpdatedAt: time.Now().Add(-time.Hour), Fields: map[string]any{
			"email": "joe@joes.com", "phone": nil, "company": "Joe's Restaurant", "owner": "ana",
		}},
		models.Entity{Ref: lead2, Active: true, UpdatedAt: time.Now(), Fields: map[string]any{
			"email": "JOE@joes.com", "phone": "555-123-4567", "company": "Joe's Restaurant LLC", "owner": "ana",
		}},
	)
	return &fixture{store: s, engine: engine, observer: observer, catalog: catalog}
}

func (f *fixture) candidate(t *testing.T, a, b models.EntityRef, rec models.Recommendation) *models.Candidate {
	t.Helper()
	_, c, err := f.store.Candidates().Insert(context.Background(), &models.Candidate{
		Entity1: a, Entity2: b, RuleID: "rule-1", Confidence: 0.96, Recommendation: rec,
	})
	require.NoError(t, err)
	return c
}

// assertUntouched checks that nothing a merge writes has changed
func (f *fixture) assertUntouched(t *testing.T, candidateID string) {
	t.Helper()
	ctx := context.Background()
	assert.Empty(t, f.store.Audits().All())

	row, err := f.store.Sources().Get(ctx, lead1, false)
	require.NoError(t, err)
	assert.Nil(t, row.Fields["phone"])

	row, err = f.store.Sources().Get(ctx, lead2, false)
	require.NoError(t, err)
	assert.True(t, row.Active)

	alias, err := f.store.Aliases().Get(ctx, lead2)
	require.NoError(t, err)
	assert.Nil(t, alias)

	contact, err := f.store.Canonical().GetByRecord(ctx, lead1)
	require.NoError(t, err)
	assert.Nil(t, contact)

	c, err := f.store.Candidates().Get(ctx, candidateID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusPending, c.Status)
	assert.Empty(t, f.observer.results)
}

func TestEngine_Merge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	c := f.candidate(t, lead1, lead2, models.RecommendationReview)
	notes := "same restaurant"
	reviewer := "reviewer@clover.io"

	result, err := f.engine.Merge(ctx, c.ID, lead1, models.MergeOptions{Notes: &notes, PerformedBy: &reviewer})
	require.NoError(t, err)

	assert.Equal(t, lead1, result.Canonical)
	assert.Equal(t, lead2, result.MergedAway)
	assert.Equal(t, models.CandidateStatusMerged, result.Candidate.Status)
	assert.Equal(t, &reviewer, result.Candidate.ResolvedBy)

	t.Run("canonical row is reconciled", func(t *testing.T) {
		row, err := f.store.Sources().Get(ctx, lead1, false)
		require.NoError(t, err)
		assert.Equal(t, "555-123-4567", row.Fields["phone"])
		assert.Equal(t, "Joe's Restaurant", row.Fields["company"])
		assert.True(t, row.Active)
	})

	t.Run("merged-away row is soft deleted", func(t *testing.T) {
		row, err := f.store.Sources().Get(ctx, lead2, false)
		require.NoError(t, err)
		assert.False(t, row.Active)
	})

	t.Run("audit carries snapshots and conflicts", func(t *testing.T) {
		audits := f.store.Audits().All()
		require.Len(t, audits, 1)
		audit := audits[0]
		assert.Equal(t, "2", audit.MergedSnapshot["id"])
		assert.Equal(t, "JOE@joes.com", audit.MergedSnapshot["email"])
		assert.Nil(t, audit.CanonicalSnapshot["phone"])
		assert.Equal(t, map[string]any{"phone": "555-123-4567"}, audit.Changes)
		assert.Equal(t, &notes, audit.Notes)
		assert.False(t, audit.Automated)

		fields := map[string]models.FieldConflict{}
		for _, conflict := range audit.Conflicts {
			fields[conflict.Field] = conflict
		}
		assert.Contains(t, fields, "company")
		assert.Contains(t, fields, "email")
		assert.Equal(t, models.ResolutionKeptCanonical, fields["company"].Resolution)
	})

	t.Run("alias and contact resolve the merged-away record", func(t *testing.T) {
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
		resolver := identity.NewResolver(f.store.Aliases(), f.store.Canonical(), f.store.Sources(), 0, logger)

		res, err := resolver.Resolve(ctx, lead2)
		require.NoError(t, err)
		assert.Equal(t, lead1, res.Canonical)
		require.NotNil(t, res.Contact)
		assert.Equal(t, result.Contact.ID, res.Contact.ID)
		assert.ElementsMatch(t, []models.EntityRef{lead1, lead2}, res.Contact.LinkedRecords)
		assert.Equal(t, 0.75, res.Contact.Completeness)
		assert.Equal(t, "joe@joes.com", *res.Contact.Email)
	})

	t.Run("observers see the committed merge", func(t *testing.T) {
		require.Len(t, f.observer.results, 1)
		assert.Equal(t, result.Audit.ID, f.observer.results[0].Audit.ID)
	})

	t.Run("merged candidates cannot merge again", func(t *testing.T) {
		_, err := f.engine.Merge(ctx, c.ID, lead1, models.MergeOptions{})
		assert.True(t, errs.IsValidation(err))
	})
}

func TestEngine_Merge_NonMemberCanonical(t *testing.T) {
	f := newFixture(t, nil)
	c := f.candidate(t, lead1, lead2, models.RecommendationReview)

	_, err := f.engine.Merge(context.Background(), c.ID, outside, models.MergeOptions{})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	f.assertUntouched(t, c.ID)
}

func TestEngine_Merge_RollsBackOnFailure(t *testing.T) {
	steps := []string{"audit.Append", "source.Update", "canonical.Save", "alias.Create", "source.Deactivate", "candidate.UpdateStatus"}

	for _, step := range steps {
		t.Run(step, func(t *testing.T) {
			f := newFixture(t, nil)
			c := f.candidate(t, lead1, lead2, models.RecommendationReview)
			boom := errors.New("injected failure")
			f.store.FailOn(step, boom)

			_, err := f.engine.Merge(context.Background(), c.ID, lead1, models.MergeOptions{})
			assert.ErrorIs(t, err, boom)

			f.store.ClearFailures()
			f.assertUntouched(t, c.ID)
		})
	}
}

func TestEngine_Merge_ManualFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.store.Sources().Update(ctx, lead2, map[string]any{"owner": "ben"}))
	c := f.candidate(t, lead1, lead2, models.RecommendationReview)

	_, err := f.engine.Merge(ctx, c.ID, lead1, models.MergeOptions{})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	var classified *errs.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, []string{"owner"}, classified.Meta["fields"])

	result, err := f.engine.Merge(ctx, c.ID, lead1, models.MergeOptions{FieldOverrides: map[string]any{"owner": "ben"}})
	require.NoError(t, err)
	assert.Equal(t, "ben", result.Audit.Changes["owner"])

	row, err := f.store.Sources().Get(ctx, lead1, false)
	require.NoError(t, err)
	assert.Equal(t, "ben", row.Fields["owner"])
}

func TestEngine_Merge_UnknownOverride(t *testing.T) {
	f := newFixture(t, nil)
	c := f.candidate(t, lead1, lead2, models.RecommendationReview)

	_, err := f.engine.Merge(context.Background(), c.ID, lead1, models.MergeOptions{FieldOverrides: map[string]any{"shoe_size": 9}})
	assert.True(t, errs.IsValidation(err))
	f.assertUntouched(t, c.ID)
}

func TestEngine_Merge_InactiveRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	c := f.candidate(t, lead1, lead2, models.RecommendationReview)
	require.NoError(t, f.store.Sources().Deactivate(ctx, lead2, time.Now()))

	_, err := f.engine.Merge(ctx, c.ID, lead1, models.MergeOptions{})
	assert.True(t, errs.IsConflict(err))
	assert.Empty(t, f.store.Audits().All())
}

func TestEngine_Merge_LockHeld(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewMemoryLocker(lock.Options{Mode: lock.ModeFailFast})
	f := newFixture(t, locker)
	c := f.candidate(t, lead1, lead2, models.RecommendationReview)

	release, err := locker.Acquire(ctx, lead2.String())
	require.NoError(t, err)

	_, err = f.engine.Merge(ctx, c.ID, lead1, models.MergeOptions{})
	assert.True(t, errs.IsConflict(err))
	f.assertUntouched(t, c.ID)

	require.NoError(t, release(ctx))
	_, err = f.engine.Merge(ctx, c.ID, lead1, models.MergeOptions{})
	assert.NoError(t, err)
}

func TestEngine_Merge_ObserverFailureKeepsMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.observer.err = errors.New("kafka down")
	c := f.candidate(t, lead1, lead2, models.RecommendationReview)

	_, err := f.engine.Merge(ctx, c.ID, lead2, models.MergeOptions{})
	require.NoError(t, err)

	got, err := f.store.Candidates().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusMerged, got.Status)
}

func TestEngine_Merge_CrossTable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.Sources().Put(models.Entity{Ref: client7, Active: true, Fields: map[string]any{
		"contact_email": nil, "full_name": "Joe Romano",
	}})
	c := f.candidate(t, lead1, client7, models.RecommendationReview)

	result, err := f.engine.Merge(ctx, c.ID, client7, models.MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "joe@joes.com", result.Audit.Changes["contact_email"])
	assert.NotContains(t, result.Audit.Changes, "full_name")
	assert.Equal(t, "Joe Romano", *result.Contact.Name)
	assert.Equal(t, "Joe's Restaurant", *result.Contact.CompanyName)
}

func TestEngine_AutoMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	auto := f.candidate(t, lead1, lead2, models.RecommendationAutoMerge)

	f.store.Sources().Put(
		models.Entity{Ref: models.EntityRef{Table: "leads", ID: "3"}, Active: true, Fields: map[string]any{"email": "x@y.com"}},
		models.Entity{Ref: models.EntityRef{Table: "leads", ID: "4"}, Active: true, Fields: map[string]any{"email": "x@y.com"}},
	)
	review := f.candidate(t, models.EntityRef{Table: "leads", ID: "3"}, models.EntityRef{Table: "leads", ID: "4"}, models.RecommendationReview)

	outcomes := f.engine.AutoMerge(ctx, []string{auto.ID, review.ID})
	require.Len(t, outcomes, 2)

	require.NotNil(t, outcomes[0].Canonical)
	// lead 2 carries a phone, so it is more complete
	assert.Equal(t, lead2, *outcomes[0].Canonical)
	assert.Empty(t, outcomes[0].Error)

	assert.Nil(t, outcomes[1].Canonical)
	assert.NotEmpty(t, outcomes[1].Error)

	audits := f.store.Audits().All()
	require.Len(t, audits, 1)
	assert.True(t, audits[0].Automated)
	assert.Equal(t, AutoMergeActor, *audits[0].PerformedBy)
}
