// Package scanning finds duplicate candidates by scoring blocked record pairs
// under every active rule
package scanning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/lock"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Config bounds a scan
type Config struct {
	PageSize     int
	Workers      int
	MaxBlockSize int
	// MaxResults caps created plus updated candidates when a scan names no cap
	MaxResults int
	Timeout    time.Duration
	// MaterialChange is the confidence move that reopens rejected or deferred candidates
	MaterialChange float64
	AutoMerge      bool
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxBlockSize <= 0 {
		c.MaxBlockSize = 500
	}
	if c.MaterialChange <= 0 {
		c.MaterialChange = 0.05
	}
	return c
}

// AutoMerger merges auto_merge candidates after a scan
type AutoMerger interface {
	AutoMerge(ctx context.Context, candidateIDs []string) []models.AutoMergeOutcome
}

// Scanner scores record pairs under the active rules and upserts the
// resulting duplicate candidates.
type Scanner struct {
	rules      store.RuleStore
	candidates store.CandidateStore
	sources    store.SourceStore
	catalog    *models.Catalog
	engine     *matching.Engine
	merger     AutoMerger
	validate   *validator.Validate
	cfg        Config
	logger     ectologger.Logger

	// scans of the same rule run one at a time per process; overlapping
	// scans in other processes are safe through the candidate upsert
	ruleLocks *lock.MemoryLocker
}

// NewScanner builds a Scanner. cfg zero values fall back to the defaults.
func NewScanner(
	rules store.RuleStore,
	candidates store.CandidateStore,
	sources store.SourceStore,
	catalog *models.Catalog,
	engine *matching.Engine,
	merger AutoMerger,
	cfg Config,
	logger ectologger.Logger,
) *Scanner {
	return &Scanner{
		rules:      rules,
		candidates: candidates,
		sources:    sources,
		catalog:    catalog,
		engine:     engine,
		merger:     merger,
		validate:   validator.New(),
		cfg:        cfg.withDefaults(),
		logger:     logger,
		ruleLocks:  lock.NewMemoryLocker(lock.Options{Mode: lock.ModeWait, Timeout: lock.NoTimeout}),
	}
}

// scanState is shared by the workers of one scan
type scanState struct {
	report     *models.ScanReport
	maxResults int64
	results    atomic.Int64
	created    atomic.Int64
	updated    atomic.Int64
	skipped    atomic.Int64
	pairs      atomic.Int64
	budgetHit  atomic.Bool

	mu      sync.Mutex
	autoIDs []string
}

// reserve claims one result slot. It returns false once the budget is spent.
func (s *scanState) reserve() bool {
	if s.maxResults <= 0 {
		return true
	}
	if s.results.Add(1) > s.maxResults {
		s.results.Add(-1)
		s.budgetHit.Store(true)
		return false
	}
	return true
}

func (s *scanState) unreserve() {
	if s.maxResults > 0 {
		s.results.Add(-1)
	}
}

// Scan runs every active rule matching opts. Budgets and cancellation end
// the scan early with a partial report rather than an error.
func (s *Scanner) Scan(ctx context.Context, opts models.ScanOptions) (*models.ScanReport, error) {
	ctx, span := tracing.StartSpan(ctx, "scanning.Scanner.Scan")
	defer span.End()

	if err := s.validate.Struct(opts); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid scan options")
	}

	start := time.Now()
	state := &scanState{
		report: &models.ScanReport{
			StartedAt:    start.UTC(),
			RuleFailures: []models.RuleFailure{},
			AutoMerges:   []models.AutoMergeOutcome{},
		},
		maxResults: int64(s.cfg.MaxResults),
	}
	if opts.MaxResults > 0 {
		state.maxResults = int64(opts.MaxResults)
	}
	report := state.report

	rules, err := s.rules.List(ctx, models.RuleFilter{IDs: opts.RuleIDs, Tables: opts.Tables, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	report.RuleFailures = append(report.RuleFailures, missingRules(opts.RuleIDs, rules)...)

	keys := make([]string, 0, len(rules))
	for _, rule := range rules {
		keys = append(keys, "rule:"+rule.ID)
	}
	release, err := s.ruleLocks.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release(context.Background())

	scanCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"rules":       len(rules),
		"max_results": state.maxResults,
	})
	log.Info("Starting duplicate scan")

	for i := range rules {
		rule := &rules[i]
		if err := s.engine.Validate(rule, s.catalog); err != nil {
			log.WithError(err).WithField("rule_id", rule.ID).Warn("Skipping malformed rule")
			report.RuleFailures = append(report.RuleFailures, models.RuleFailure{RuleID: rule.ID, Reason: err.Error()})
			continue
		}

		err := s.scanRule(scanCtx, rule, state)
		report.RulesScanned++

		if state.budgetHit.Load() {
			report.Partial = true
			report.StopReason = models.StopReasonMaxResults
			break
		}
		if scanCtx.Err() != nil {
			report.Partial = true
			report.StopReason = stopReason(ctx, scanCtx)
			break
		}
		if err != nil {
			log.WithError(err).WithField("rule_id", rule.ID).Error("Rule scan failed")
			report.RuleFailures = append(report.RuleFailures, models.RuleFailure{RuleID: rule.ID, Reason: err.Error()})
		}
	}

	report.CandidatesCreated = int(state.created.Load())
	report.CandidatesUpdated = int(state.updated.Load())
	report.CandidatesSkipped = int(state.skipped.Load())
	report.PairsCompared = state.pairs.Load()

	if s.cfg.AutoMerge && s.merger != nil && len(state.autoIDs) > 0 && ctx.Err() == nil {
		report.AutoMerges = s.merger.AutoMerge(ctx, state.autoIDs)
	}

	report.Duration = time.Since(start)
	outcome := "complete"
	if report.Partial {
		outcome = string(report.StopReason)
	}
	metrics.RecordScan(outcome, report.Duration.Seconds())

	log.WithFields(map[string]any{
		"rules_scanned":  report.RulesScanned,
		"created":        report.CandidatesCreated,
		"updated":        report.CandidatesUpdated,
		"pairs":          report.PairsCompared,
		"blocks_skipped": report.BlocksSkipped,
		"partial":        report.Partial,
		"duration_ms":    report.Duration.Milliseconds(),
	}).Info("Duplicate scan finished")
	return report, nil
}

func stopReason(parent, scanCtx context.Context) models.StopReason {
	if parent.Err() == nil && errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
		return models.StopReasonTimeout
	}
	if errors.Is(parent.Err(), context.DeadlineExceeded) {
		return models.StopReasonTimeout
	}
	return models.StopReasonCanceled
}

func missingRules(requested []string, found []models.Rule) []models.RuleFailure {
	have := make(map[string]bool, len(found))
	for _, r := range found {
		have[r.ID] = true
	}
	var failures []models.RuleFailure
	for _, id := range requested {
		if !have[id] {
			failures = append(failures, models.RuleFailure{RuleID: id, Reason: "rule not found or inactive"})
		}
	}
	return failures
}

type entry struct {
	entity models.Entity
	proj   matching.Projection
}

// scanRule pairs and scores the rows of one rule
func (s *Scanner) scanRule(ctx context.Context, rule *models.Rule, state *scanState) error {
	ctx, span := tracing.StartSpan(ctx, "scanning.Scanner.scanRule")
	defer span.End()

	arena, sourceCount, err := s.loadArena(ctx, rule)
	if err != nil {
		return err
	}

	blocks := map[string]*block{}
	ex := s.engine.Extractor()
	for i := range arena {
		for _, key := range BlockingKeys(ex, rule, &arena[i].entity, arena[i].proj) {
			b, ok := blocks[key]
			if !ok {
				b = &block{}
				blocks[key] = b
			}
			if rule.SameTable() || i < sourceCount {
				b.source = append(b.source, i)
			} else {
				b.target = append(b.target, i)
			}
		}
	}

	skipped := 0
	for _, b := range blocks {
		if b.size() > s.cfg.MaxBlockSize {
			skipped++
		}
	}
	if skipped > 0 {
		state.mu.Lock()
		state.report.BlocksSkipped += skipped
		state.mu.Unlock()
		metrics.BlocksSkipped.WithLabelValues(rule.ID).Add(float64(skipped))
	}

	var compared atomic.Int64
	var keptMu sync.Mutex
	kept := map[[2]models.EntityRef]struct{}{}
	g, gctx := errgroup.WithContext(ctx)
	pairs := make(chan [2]int, s.cfg.Workers*4)

	g.Go(func() error {
		defer close(pairs)
		seen := map[uint64]struct{}{}
		emit := func(i, j int) bool {
			key := pairKey(i, j)
			if _, dup := seen[key]; dup {
				return true
			}
			seen[key] = struct{}{}
			select {
			case pairs <- [2]int{i, j}:
				return true
			case <-gctx.Done():
				return false
			}
		}

		for _, b := range blocks {
			if b.size() > s.cfg.MaxBlockSize {
				continue
			}
			if rule.SameTable() {
				for x := 0; x < len(b.source); x++ {
					for y := x + 1; y < len(b.source); y++ {
						if !emit(b.source[x], b.source[y]) {
							return nil
						}
					}
				}
				continue
			}
			for _, i := range b.source {
				for _, j := range b.target {
					if !emit(i, j) {
						return nil
					}
				}
			}
		}
		return nil
	})

	for w := 0; w < s.cfg.Workers; w++ {
		g.Go(func() error {
			for pair := range pairs {
				if gctx.Err() != nil {
					continue
				}
				a, b := &arena[pair[0]], &arena[pair[1]]
				result := s.engine.Compare(rule, a.proj, b.proj)
				state.pairs.Add(1)
				compared.Add(1)

				rec, keep := s.engine.Classify(rule, result.Confidence)
				if !keep {
					continue
				}
				if !state.reserve() {
					return errBudget
				}
				outcome, id, err := s.persist(gctx, rule, a.entity.Ref, b.entity.Ref, result, rec)
				if err != nil {
					state.unreserve()
					if gctx.Err() != nil {
						continue
					}
					return err
				}
				s.count(state, outcome, id, rec)

				keptMu.Lock()
				kept[orderedPair(a.entity.Ref, b.entity.Ref)] = struct{}{}
				keptMu.Unlock()
			}
			return nil
		})
	}

	err = g.Wait()
	metrics.PairsCompared.WithLabelValues(rule.ID).Add(float64(compared.Load()))
	if errors.Is(err, errBudget) {
		return nil
	}
	if err != nil || ctx.Err() != nil {
		return err
	}
	return s.refreshStale(ctx, rule, arena, kept, state)
}

var errBudget = errors.New("result budget reached")

func (s *Scanner) count(state *scanState, outcome persistOutcome, id string, rec models.Recommendation) {
	switch outcome {
	case outcomeCreated:
		state.created.Add(1)
		metrics.CandidatesTotal.WithLabelValues("created").Inc()
	case outcomeUpdated:
		state.updated.Add(1)
		metrics.CandidatesTotal.WithLabelValues("updated").Inc()
	default:
		state.unreserve()
		state.skipped.Add(1)
		metrics.CandidatesTotal.WithLabelValues("skipped").Inc()
		return
	}

	if rec == models.RecommendationAutoMerge && id != "" {
		state.mu.Lock()
		state.autoIDs = append(state.autoIDs, id)
		state.mu.Unlock()
	}
}

// loadArena reads the eligible rows of the rule's tables. Source rows come
// first; sourceCount marks where target rows begin.
func (s *Scanner) loadArena(ctx context.Context, rule *models.Rule) ([]entry, int, error) {
	var arena []entry
	sourceCount := 0

	for _, table := range rule.Tables() {
		afterID := ""
		for {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
			rows, err := s.sources.Scan(ctx, table, afterID, s.cfg.PageSize)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to read %s: %w", table, err)
			}

			for i := range rows {
				row := &rows[i]
				ok, err := s.engine.Eligible(rule, row)
				if err != nil {
					s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
						"rule_id": rule.ID,
						"entity":  row.Ref.String(),
					}).Warn("Excluding row whose filter could not be evaluated")
					continue
				}
				if !ok {
					continue
				}
				arena = append(arena, entry{entity: *row, proj: s.engine.Project(ctx, rule, row)})
			}

			if len(rows) < s.cfg.PageSize {
				break
			}
			afterID = rows[len(rows)-1].Ref.ID
		}
		if table == rule.SourceTable {
			sourceCount = len(arena)
		}
	}
	return arena, sourceCount, nil
}
