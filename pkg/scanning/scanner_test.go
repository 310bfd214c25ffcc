package scanning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/memstore"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
)

type fakeMerger struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeMerger) AutoMerge(_ context.Context, ids []string) []models.AutoMergeOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ids...)
	out := make([]models.AutoMergeOutcome, len(ids))
	for i, id := range ids {
		out[i] = models.AutoMergeOutcome{CandidateID: id}
	}
	return out
}

type slowSources struct {
	store.SourceStore
	delay time.Duration
}

func (s slowSources) Scan(ctx context.Context, table, afterID string, limit int) ([]models.Entity, error) {
	time.Sleep(s.delay)
	return s.SourceStore.Scan(ctx, table, afterID, limit)
}

func leadRule() *models.Rule {
	return &models.Rule{
		ID:          "rule-1",
		Name:        "lead email and company",
		SourceTable: "leads",
		TargetTable: "leads",
		MatchFields: []models.MatchField{
			{Field: "email", Type: models.FieldTypeEmail, Weight: 1.0},
			{Field: "phone", Type: models.FieldTypePhone, Weight: 0.8},
			{Field: "name", Type: models.FieldTypeCompanyName, Weight: 0.7},
		},
		AutoMergeThreshold: 0.95,
		ReviewThreshold:    0.75,
		IsActive:           true,
	}
}

func lead(id string, fields map[string]any) models.Entity {
	return models.Entity{Ref: models.EntityRef{Table: "leads", ID: id}, Fields: fields, Active: true}
}

type fixture struct {
	store   *memstore.Store
	engine  *matching.Engine
	catalog *models.Catalog
	merger  *fakeMerger
	logger  ectologger.Logger
}

func newFixture(t *testing.T, rules ...*models.Rule) *fixture {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	engine, err := matching.NewEngine(logger)
	require.NoError(t, err)
	catalog, err := models.NewCatalog([]models.SourceTable{{Name: "leads"}, {Name: "clients"}})
	require.NoError(t, err)

	s := memstore.New()
	for _, r := range rules {
		_, err := s.Rules().Create(context.Background(), r)
		require.NoError(t, err)
	}
	return &fixture{store: s, engine: engine, catalog: catalog, merger: &fakeMerger{}, logger: logger}
}

func (f *fixture) scanner(cfg Config) *Scanner {
	return f.scannerWith(f.store.Sources(), cfg)
}

func (f *fixture) scannerWith(sources store.SourceStore, cfg Config) *Scanner {
	return NewScanner(f.store.Rules(), f.store.Candidates(), sources, f.catalog, f.engine, f.merger, cfg, f.logger)
}

func (f *fixture) candidates(t *testing.T) []models.Candidate {
	t.Helper()
	list, _, err := f.store.Candidates().List(context.Background(), models.CandidateFilter{})
	require.NoError(t, err)
	return list
}

func seedJoes(f *fixture) {
	f.store.Sources().Put(
		lead("1", map[string]any{"email": "joe@joes.com", "phone": "555-123-4567", "name": "Joe's Restaurant"}),
		lead("2", map[string]any{"email": "JOE@joes.com", "name": "Joe's Restaurant LLC"}),
		lead("3", map[string]any{"email": "maria@thaipalace.com", "phone": "(555) 123-4567", "name": "Thai Palace"}),
	)
}

func TestScan_FindsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadRule())
	seedJoes(f)

	report, err := f.scanner(Config{}).Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.RulesScanned)
	assert.Equal(t, 1, report.CandidatesCreated)
	assert.False(t, report.Partial)
	assert.Empty(t, report.RuleFailures)
	assert.GreaterOrEqual(t, report.PairsCompared, int64(2))

	list := f.candidates(t)
	require.Len(t, list, 1)
	c := list[0]
	assert.Equal(t, models.EntityRef{Table: "leads", ID: "1"}, c.Entity1)
	assert.Equal(t, models.EntityRef{Table: "leads", ID: "2"}, c.Entity2)
	assert.Equal(t, models.RecommendationAutoMerge, c.Recommendation)
	assert.Equal(t, models.CandidateStatusPending, c.Status)
	assert.Contains(t, c.Breakdown, "email")
	assert.NotContains(t, c.Breakdown, "phone")

	// auto-merge is off by default
	assert.Empty(t, f.merger.ids)
}

func TestScan_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadRule())
	seedJoes(f)
	scanner := f.scanner(Config{})

	_, err := scanner.Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	first := f.candidates(t)

	report, err := scanner.Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.CandidatesCreated)
	assert.Equal(t, 0, report.CandidatesUpdated)
	assert.Equal(t, 1, report.CandidatesSkipped)
	assert.Equal(t, first, f.candidates(t))
}

func TestScan_ConcurrentScansDoNotDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadRule())
	seedJoes(f)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.scanner(Config{}).Scan(ctx, models.ScanOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, f.candidates(t), 1)
}

func TestScan_ExistingDecisions(t *testing.T) {
	pair := func(status models.CandidateStatus, confidence float64) *models.Candidate {
		return &models.Candidate{
			Entity1:        models.EntityRef{Table: "leads", ID: "1"},
			Entity2:        models.EntityRef{Table: "leads", ID: "2"},
			RuleID:         "rule-1",
			Confidence:     confidence,
			Recommendation: models.RecommendationReview,
			Status:         status,
		}
	}

	tests := []struct {
		name       string
		seed       *models.Candidate
		wantStatus models.CandidateStatus
		updated    int
		skipped    int
	}{
		{name: "rejected stays rejected without material change", seed: pair(models.CandidateStatusRejected, 0.98), wantStatus: models.CandidateStatusRejected, skipped: 1},
		{name: "rejected reopens on material change", seed: pair(models.CandidateStatusRejected, 0.5), wantStatus: models.CandidateStatusPending, updated: 1},
		{name: "deferred reopens on material change", seed: pair(models.CandidateStatusDeferred, 0.8), wantStatus: models.CandidateStatusPending, updated: 1},
		{name: "confirmed is refreshed in place", seed: pair(models.CandidateStatusConfirmed, 0.8), wantStatus: models.CandidateStatusConfirmed, updated: 1},
		{name: "merged is never touched", seed: pair(models.CandidateStatusMerged, 0.5), wantStatus: models.CandidateStatusMerged, skipped: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, leadRule())
			seedJoes(f)
			_, seeded, err := f.store.Candidates().Insert(ctx, tt.seed)
			require.NoError(t, err)

			report, err := f.scanner(Config{AutoMerge: true}).Scan(ctx, models.ScanOptions{})
			require.NoError(t, err)
			assert.Equal(t, 0, report.CandidatesCreated)
			assert.Equal(t, tt.updated, report.CandidatesUpdated)
			assert.Equal(t, tt.skipped, report.CandidatesSkipped)

			got, err := f.store.Candidates().Get(ctx, seeded.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			if tt.wantStatus == models.CandidateStatusMerged {
				assert.Equal(t, 0.5, got.Confidence)
			}
			if tt.wantStatus == models.CandidateStatusConfirmed {
				assert.Empty(t, f.merger.ids)
			}
		})
	}
}

func TestScan_MaxResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadRule())
	for i := 0; i < 6; i++ {
		f.store.Sources().Put(lead(fmt.Sprint(i), map[string]any{"email": "dup@dup.com"}))
	}

	report, err := f.scanner(Config{Workers: 3}).Scan(ctx, models.ScanOptions{MaxResults: 3})
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Equal(t, models.StopReasonMaxResults, report.StopReason)
	assert.Equal(t, 3, report.CandidatesCreated)
	assert.Len(t, f.candidates(t), 3)
}

func TestScan_MalformedRuleIsSkipped(t *testing.T) {
	ctx := context.Background()
	bad := leadRule()
	bad.ID = "rule-bad"
	bad.AutoMergeThreshold, bad.ReviewThreshold = 0.5, 0.9
	f := newFixture(t, bad, leadRule())
	seedJoes(f)

	report, err := f.scanner(Config{}).Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.RulesScanned)
	require.Len(t, report.RuleFailures, 1)
	assert.Equal(t, "rule-bad", report.RuleFailures[0].RuleID)
	assert.Equal(t, 1, report.CandidatesCreated)
}

func TestScan_UnknownRuleIsReported(t *testing.T) {
	f := newFixture(t, leadRule())

	report, err := f.scanner(Config{}).Scan(context.Background(), models.ScanOptions{RuleIDs: []string{"rule-1", "missing"}})
	require.NoError(t, err)
	require.Len(t, report.RuleFailures, 1)
	assert.Equal(t, "missing", report.RuleFailures[0].RuleID)
}

func TestScan_Timeout(t *testing.T) {
	f := newFixture(t, leadRule())
	seedJoes(f)
	scanner := f.scannerWith(slowSources{SourceStore: f.store.Sources(), delay: 50 * time.Millisecond}, Config{Timeout: 10 * time.Millisecond})

	report, err := scanner.Scan(context.Background(), models.ScanOptions{})
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Equal(t, models.StopReasonTimeout, report.StopReason)
	assert.Equal(t, 0, report.CandidatesCreated)
}

func TestScan_Canceled(t *testing.T) {
	f := newFixture(t, leadRule())
	seedJoes(f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.scanner(Config{}).Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Equal(t, models.StopReasonCanceled, report.StopReason)
}

func TestScan_CrossTable(t *testing.T) {
	ctx := context.Background()
	rule := &models.Rule{
		ID:          "rule-x",
		Name:        "lead to client",
		SourceTable: "leads",
		TargetTable: "clients",
		MatchFields: []models.MatchField{
			{Field: "email", TargetField: "contact.email", Type: models.FieldTypeEmail, Weight: 1},
		},
		AutoMergeThreshold: 0.95,
		ReviewThreshold:    0.75,
		IsActive:           true,
	}
	f := newFixture(t, rule)
	f.store.Sources().Put(
		lead("1", map[string]any{"email": "joe@joes.com"}),
		lead("2", map[string]any{"email": "joe@joes.com"}),
		models.Entity{Ref: models.EntityRef{Table: "clients", ID: "7"}, Active: true, Fields: map[string]any{
			"contact": map[string]any{"email": "Joe@Joes.com"},
		}},
	)

	report, err := f.scanner(Config{}).Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.CandidatesCreated)
	for _, c := range f.candidates(t) {
		assert.Equal(t, "clients", c.Entity1.Table)
		assert.Equal(t, "leads", c.Entity2.Table)
	}
}

func TestScan_OversizedBlockIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadRule())
	for i := 0; i < 3; i++ {
		f.store.Sources().Put(lead(fmt.Sprint(i), map[string]any{"email": "dup@dup.com"}))
	}

	report, err := f.scanner(Config{MaxBlockSize: 2}).Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.BlocksSkipped)
	assert.Equal(t, 0, report.CandidatesCreated)
	assert.Equal(t, int64(0), report.PairsCompared)
}

func TestScan_FilterExcludesRows(t *testing.T) {
	ctx := context.Background()
	rule := leadRule()
	filter := `row.status != "archived"`
	rule.Filter = &filter
	f := newFixture(t, rule)
	f.store.Sources().Put(
		lead("1", map[string]any{"email": "joe@joes.com", "status": "open"}),
		lead("2", map[string]any{"email": "joe@joes.com", "status": "archived"}),
	)

	report, err := f.scanner(Config{}).Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.CandidatesCreated)
}

func TestScan_AutoMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadRule())
	seedJoes(f)

	report, err := f.scanner(Config{AutoMerge: true}).Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, report.AutoMerges, 1)

	list := f.candidates(t)
	require.Len(t, list, 1)
	assert.Equal(t, []string{list[0].ID}, f.merger.ids)
}

func TestScan_InvalidOptions(t *testing.T) {
	f := newFixture(t)
	_, err := f.scanner(Config{}).Scan(context.Background(), models.ScanOptions{MaxResults: -1})
	require.Error(t, err)
}

func TestScan_RefreshesPairsThatNoLongerMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadRule())
	seedJoes(f)
	scanner := f.scanner(Config{})

	_, err := scanner.Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	before := f.candidates(t)
	require.Len(t, before, 1)
	require.Equal(t, models.RecommendationAutoMerge, before[0].Recommendation)

	require.NoError(t, f.store.Sources().Update(ctx, models.EntityRef{Table: "leads", ID: "2"}, map[string]any{
		"email": "sam@secondstreet.com",
		"name":  "Second Street Diner",
	}))

	report, err := scanner.Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.CandidatesCreated)
	assert.Equal(t, 1, report.CandidatesUpdated)

	after := f.candidates(t)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Less(t, after[0].Confidence, 0.75)
	assert.Equal(t, models.RecommendationReview, after[0].Recommendation)
	assert.Equal(t, models.CandidateStatusPending, after[0].Status)

	// the refreshed score is stable
	report, err = scanner.Scan(ctx, models.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.CandidatesUpdated)
}

func TestScan_HigherReviewThresholdNeverAddsCandidates(t *testing.T) {
	ctx := context.Background()
	seed := func(f *fixture) {
		seedJoes(f)
		f.store.Sources().Put(
			lead("4", map[string]any{"email": "sam@diner.com", "phone": "555-987-0000", "name": "Sam's Diner"}),
			lead("5", map[string]any{"email": "sam.b@gmail.com", "phone": "555 987 0000", "name": "Sams Diner Inc"}),
			lead("6", map[string]any{"email": "info@samsdiner.com", "name": "Sam's Diner"}),
		)
	}
	withThreshold := func(review float64) *models.Rule {
		r := leadRule()
		r.ReviewThreshold = review
		return r
	}

	counts := map[float64]int{}
	for _, review := range []float64{0.3, 0.5, 0.75, 0.9} {
		f := newFixture(t, withThreshold(review))
		seed(f)
		_, err := f.scanner(Config{}).Scan(ctx, models.ScanOptions{})
		require.NoError(t, err)
		counts[review] = len(f.candidates(t))
	}
	assert.GreaterOrEqual(t, counts[0.3], counts[0.5])
	assert.GreaterOrEqual(t, counts[0.5], counts[0.75])
	assert.GreaterOrEqual(t, counts[0.75], counts[0.9])
	assert.GreaterOrEqual(t, counts[0.9], 1)

	t.Run("raised on the same store", func(t *testing.T) {
		f := newFixture(t, withThreshold(0.3))
		seed(f)
		scanner := f.scanner(Config{})
		_, err := scanner.Scan(ctx, models.ScanOptions{})
		require.NoError(t, err)
		low := len(f.candidates(t))

		_, err = f.store.Rules().Update(ctx, withThreshold(0.9))
		require.NoError(t, err)
		report, err := scanner.Scan(ctx, models.ScanOptions{})
		require.NoError(t, err)
		assert.Equal(t, 0, report.CandidatesCreated)
		assert.Len(t, f.candidates(t), low)
	})
}

type gatedSources struct {
	store.SourceStore
	table   string
	entered chan struct{}
	once    sync.Once
	gate    chan struct{}
}

func (g *gatedSources) Scan(ctx context.Context, table, afterID string, limit int) ([]models.Entity, error) {
	if table == g.table {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.SourceStore.Scan(ctx, table, afterID, limit)
}

func TestScan_RuleLocks(t *testing.T) {
	ctx := context.Background()
	clientRule := leadRule()
	clientRule.ID = "rule-2"
	clientRule.Name = "client email and company"
	clientRule.SourceTable = "clients"
	clientRule.TargetTable = "clients"
	f := newFixture(t, leadRule(), clientRule)
	seedJoes(f)

	sources := &gatedSources{SourceStore: f.store.Sources(), table: "leads", entered: make(chan struct{}), gate: make(chan struct{})}
	scanner := f.scannerWith(sources, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := scanner.Scan(ctx, models.ScanOptions{RuleIDs: []string{"rule-1"}})
		done <- err
	}()
	<-sources.entered

	t.Run("other rules proceed", func(t *testing.T) {
		report, err := scanner.Scan(ctx, models.ScanOptions{RuleIDs: []string{"rule-2"}})
		require.NoError(t, err)
		assert.Equal(t, 1, report.RulesScanned)
	})

	t.Run("same rule waits for the context", func(t *testing.T) {
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := scanner.Scan(waitCtx, models.ScanOptions{RuleIDs: []string{"rule-1"}})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	close(sources.gate)
	require.NoError(t, <-done)
	assert.Len(t, f.candidates(t), 1)
}
