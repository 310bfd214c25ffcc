// Package store declares the persistence contracts of the deduplication core.
// Postgres implementations live in internal/repositories and an in-memory
// implementation in internal/memstore.
package store

import (
	"context"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Transactor runs fn in one transaction. Calls nested inside fn join it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type RuleStore interface {
	Create(ctx context.Context, rule *models.Rule) (*models.Rule, error)
	// Upsert creates or replaces a rule keyed by id
	Upsert(ctx context.Context, rule *models.Rule) (*models.Rule, error)
	Get(ctx context.Context, id string) (*models.Rule, error)
	List(ctx context.Context, filter models.RuleFilter) ([]models.Rule, error)
	Update(ctx context.Context, rule *models.Rule) (*models.Rule, error)
	Deactivate(ctx context.Context, id string) error
}

type CandidateStore interface {
	// Insert creates the candidate unless one exists for the same pair and
	// rule, in which case the existing row is returned and created is false.
	Insert(ctx context.Context, candidate *models.Candidate) (created bool, existing *models.Candidate, err error)
	Get(ctx context.Context, id string) (*models.Candidate, error)
	UpdateScore(ctx context.Context, id string, update models.CandidateScoreUpdate) error
	// UpdateStatus moves a candidate only when it is still in update.From.
	// A candidate that moved concurrently yields a conflict error.
	UpdateStatus(ctx context.Context, id string, update models.CandidateStatusUpdate) (*models.Candidate, error)
	List(ctx context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error)
	Stats(ctx context.Context, filter models.CandidateFilter) (map[models.CandidateStatus]int, error)
}

// SourceStore reads and writes the platform-owned source tables
type SourceStore interface {
	// Scan returns active rows with ids after afterID in id order
	Scan(ctx context.Context, table string, afterID string, limit int) ([]models.Entity, error)
	// Get returns a row, inactive rows included. forUpdate takes a row lock
	// inside the current transaction.
	Get(ctx context.Context, ref models.EntityRef, forUpdate bool) (*models.Entity, error)
	GetMany(ctx context.Context, refs []models.EntityRef) (map[models.EntityRef]*models.Entity, error)
	Update(ctx context.Context, ref models.EntityRef, fields map[string]any) error
	Deactivate(ctx context.Context, ref models.EntityRef, at time.Time) error
}

// AuditStore is append-only
type AuditStore interface {
	Append(ctx context.Context, record *models.MergedEntity) (*models.MergedEntity, error)
	Get(ctx context.Context, id string) (*models.MergedEntity, error)
	ListByEntity(ctx context.Context, ref models.EntityRef) ([]models.MergedEntity, error)
}

type CanonicalStore interface {
	Get(ctx context.Context, id string) (*models.CanonicalContact, error)
	// GetByRecord returns nil when the record is not linked to any contact
	GetByRecord(ctx context.Context, ref models.EntityRef) (*models.CanonicalContact, error)
	Save(ctx context.Context, contact *models.CanonicalContact) (*models.CanonicalContact, error)
}

type AliasStore interface {
	Create(ctx context.Context, alias *models.EntityAlias) (*models.EntityAlias, error)
	// Get returns nil when ref was never merged away
	Get(ctx context.Context, ref models.EntityRef) (*models.EntityAlias, error)
}
