// Package merging merges duplicate records into a canonical record inside one
// transaction and records the audit trail of every merge
package merging

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/lock"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// AutoMergeActor is recorded as performed_by on automated merges
const AutoMergeActor = "system:auto-merge"

// Observer is notified after a merge commits. Its errors never undo the merge.
type Observer interface {
	Name() string
	MergeCompleted(ctx context.Context, result *models.MergeResult) error
}

// Stores groups the persistence the engine writes in its transaction
type Stores struct {
	Tx         store.Transactor
	Candidates store.CandidateStore
	Sources    store.SourceStore
	Audits     store.AuditStore
	Canonical  store.CanonicalStore
	Aliases    store.AliasStore
}

// Engine merges duplicate candidates
type Engine struct {
	stores    Stores
	catalog   *models.Catalog
	locker    lock.Locker
	merger    *FieldMerger
	observers []Observer
	logger    ectologger.Logger
	now       func() time.Time
}

func NewEngine(stores Stores, catalog *models.Catalog, locker lock.Locker, logger ectologger.Logger, observers ...Observer) *Engine {
	return &Engine{
		stores:    stores,
		catalog:   catalog,
		locker:    locker,
		merger:    NewFieldMerger(),
		observers: observers,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddObserver registers an observer notified after every committed merge
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Merge merges the other side of a candidate into canonical. canonical must be
// one side of the pair and the candidate must be pending or confirmed.
func (e *Engine) Merge(ctx context.Context, candidateID string, canonical models.EntityRef, opts models.MergeOptions) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	start := time.Now()
	result, err := e.merge(ctx, candidateID, canonical, opts)
	outcome := "success"
	if err != nil {
		outcome = "failed"
		if kind, ok := errs.KindOf(err); ok {
			outcome = string(kind)
		}
	}
	metrics.RecordMerge(opts.Automated, outcome, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	e.notify(ctx, result)
	return result, nil
}

func (e *Engine) merge(ctx context.Context, candidateID string, canonical models.EntityRef, opts models.MergeOptions) (*models.MergeResult, error) {
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate_id": candidateID,
		"canonical":    canonical.String(),
		"automated":    opts.Automated,
	})

	candidate, err := e.stores.Candidates.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if !candidate.Involves(canonical) {
		return nil, errs.Validation("canonical record %s is not part of candidate %s", canonical, candidateID).
			WithMeta("entity1", candidate.Entity1.String()).
			WithMeta("entity2", candidate.Entity2.String())
	}
	if !candidate.Status.Mergeable() {
		return nil, errs.Validation("candidate %s is %s and cannot be merged", candidateID, candidate.Status)
	}
	mergedAway := candidate.Other(canonical)

	canonicalTable, ok := e.catalog.Table(canonical.Table)
	if !ok {
		return nil, errs.Validation("table %s is not a configured source table", canonical.Table)
	}
	mergedTable, ok := e.catalog.Table(mergedAway.Table)
	if !ok {
		return nil, errs.Validation("table %s is not a configured source table", mergedAway.Table)
	}

	release, err := e.acquire(ctx, canonical, mergedAway)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release merge locks")
		}
	}()

	var result *models.MergeResult
	err = e.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := e.stores.Candidates.Get(ctx, candidateID)
		if err != nil {
			return err
		}
		if !current.Status.Mergeable() {
			return errs.Conflict("candidate %s moved to %s", candidateID, current.Status)
		}

		canonicalRow, err := e.loadLive(ctx, canonical)
		if err != nil {
			return err
		}
		mergedRow, err := e.loadLive(ctx, mergedAway)
		if err != nil {
			return err
		}

		if err := e.checkOverrides(canonicalTable, canonicalRow, opts.FieldOverrides); err != nil {
			return err
		}

		reconciled := e.merger.Reconcile(canonicalTable, mergedTable, canonicalRow, mergedRow, opts.FieldOverrides)
		if len(reconciled.Unresolved) > 0 {
			return errs.Validation("fields %v need an operator override", reconciled.Unresolved).
				WithMeta("fields", reconciled.Unresolved)
		}

		audit, err := e.stores.Audits.Append(ctx, &models.MergedEntity{
			CandidateID:       &candidateID,
			Canonical:         canonical,
			MergedAway:        mergedAway,
			MergedSnapshot:    mergedRow.Snapshot(mergedTable.IDColumn),
			CanonicalSnapshot: canonicalRow.Snapshot(canonicalTable.IDColumn),
			Changes:           reconciled.Changes,
			Conflicts:         reconciled.Conflicts,
			Automated:         opts.Automated,
			PerformedBy:       opts.PerformedBy,
			Notes:             opts.Notes,
		})
		if err != nil {
			return err
		}

		if len(reconciled.Changes) > 0 {
			if err := e.stores.Sources.Update(ctx, canonical, reconciled.Changes); err != nil {
				return err
			}
			for column, value := range reconciled.Changes {
				canonicalRow.Fields[column] = value
			}
		}

		contact, err := e.linkContact(ctx, canonicalTable.Preview(canonicalRow), mergedTable.Preview(mergedRow))
		if err != nil {
			return err
		}

		alias, err := e.stores.Aliases.Create(ctx, &models.EntityAlias{
			Old:                mergedAway,
			CanonicalContactID: contact.ID,
			Canonical:          canonical,
			MergedEntityID:     audit.ID,
		})
		if err != nil {
			return err
		}

		if err := e.stores.Sources.Deactivate(ctx, mergedAway, e.now()); err != nil {
			return err
		}

		merged, err := e.stores.Candidates.UpdateStatus(ctx, candidateID, models.CandidateStatusUpdate{
			From:       current.Status,
			To:         models.CandidateStatusMerged,
			Notes:      opts.Notes,
			ResolvedBy: opts.PerformedBy,
		})
		if err != nil {
			return err
		}

		result = &models.MergeResult{
			Candidate:  merged,
			Canonical:  canonical,
			MergedAway: mergedAway,
			Audit:      audit,
			Alias:      alias,
			Contact:    contact,
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Merge rolled back")
		return nil, err
	}

	log.WithFields(map[string]any{
		"merged_away":  mergedAway.String(),
		"merge_id":     result.Audit.ID,
		"changes":      len(result.Audit.Changes),
		"conflicts":    len(result.Audit.Conflicts),
		"canonical_id": result.Contact.ID,
	}).Info("Merged records")
	return result, nil
}

func (e *Engine) acquire(ctx context.Context, refs ...models.EntityRef) (lock.Release, error) {
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.String()
	}

	start := time.Now()
	release, err := e.locker.Acquire(ctx, keys...)
	if err != nil {
		metrics.LockWaitDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		if errors.Is(err, lock.ErrLockNotAcquired) {
			return nil, errs.Wrap(errs.KindConflict, err, "records %v are being merged by another request", keys)
		}
		return nil, err
	}
	metrics.LockWaitDuration.WithLabelValues("acquired").Observe(time.Since(start).Seconds())
	return release, nil
}

// loadLive reads a row with a row lock and rejects rows that are gone
func (e *Engine) loadLive(ctx context.Context, ref models.EntityRef) (*models.Entity, error) {
	row, err := e.stores.Sources.Get(ctx, ref, true)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.Wrap(errs.KindConflict, err, "record %s no longer exists", ref)
		}
		return nil, err
	}
	if !row.Active {
		return nil, errs.Conflict("record %s is no longer active", ref)
	}
	return row, nil
}

func (e *Engine) checkOverrides(table *models.SourceTable, row *models.Entity, overrides map[string]any) error {
	var unknown []string
	for column := range overrides {
		if _, ok := row.Fields[column]; !ok || table.SystemColumn(column) {
			unknown = append(unknown, column)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errs.Validation("field overrides name unknown columns %v", unknown).WithMeta("fields", unknown)
	}
	return nil
}

// linkContact links both records to one canonical contact, folding the
// merged-away record's contact into the canonical one when they differ
func (e *Engine) linkContact(ctx context.Context, canonical, merged *models.EntityPreview) (*models.CanonicalContact, error) {
	primary, err := e.stores.Canonical.GetByRecord(ctx, canonical.Ref)
	if err != nil {
		return nil, err
	}
	secondary, err := e.stores.Canonical.GetByRecord(ctx, merged.Ref)
	if err != nil {
		return nil, err
	}

	if primary == nil {
		primary, secondary = secondary, nil
	}
	if primary == nil {
		primary = &models.CanonicalContact{IsActive: true}
	}

	best := &models.CanonicalContact{}
	best.Absorb(canonical)
	best.Absorb(contactPreview(primary))
	if secondary != nil && secondary.ID != primary.ID {
		best.Absorb(contactPreview(secondary))
	}
	best.Absorb(merged)

	primary.Email, primary.Phone, primary.Name, primary.CompanyName = best.Email, best.Phone, best.Name, best.CompanyName
	primary.IsActive = true
	primary.Link(canonical.Ref, merged.Ref)

	if secondary != nil && secondary.ID != primary.ID {
		primary.Link(secondary.LinkedRecords...)
		secondary.IsActive = false
		secondary.LinkedRecords = nil
		if _, err := e.stores.Canonical.Save(ctx, secondary); err != nil {
			return nil, err
		}
	}

	return e.stores.Canonical.Save(ctx, primary)
}

func contactPreview(c *models.CanonicalContact) *models.EntityPreview {
	return &models.EntityPreview{Email: c.Email, Phone: c.Phone, Name: c.Name, CompanyName: c.CompanyName}
}

func (e *Engine) notify(ctx context.Context, result *models.MergeResult) {
	for _, o := range e.observers {
		if err := o.MergeCompleted(ctx, result); err != nil {
			metrics.ObserverFailures.WithLabelValues(o.Name()).Inc()
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"observer": o.Name(),
				"merge_id": result.Audit.ID,
			}).Error("Post-merge observer failed")
		}
	}
}
