// Package memstore is an in-memory implementation of the store contracts.
// It backs the engine tests and the memory storage backend used for local
// runs. Transactions are serialized and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

type txKey struct{}

type pairKey struct {
	e1, e2 models.EntityRef
	rule string
}

type data struct {
	rules      map[string]*models.Rule
	candidates map[string]*models.Candidate
	pairs      map[pairKey]string
	order      []string
	sources    map[string]map[string]*models.Entity
	audits     []*models.MergedEntity
	contacts   map[string]*models.CanonicalContact
	links      map[models.EntityRef]string
	aliases    map[models.EntityRef]*models.EntityAlias
}

func newData() *data {
	return &data{
		rules:      map[string]*models.Rule{},
		candidates: map[string]*models.Candidate{},
		pairs:      map[pairKey]string{},
		sources:    map[string]map[string]*models.Entity{},
		contacts:   map[string]*models.CanonicalContact{},
		links:      map[models.EntityRef]string{},
		aliases:    map[models.EntityRef]*models.EntityAlias{},
	}
}

// Store holds every collection. Use the accessor methods to get values
// satisfying the individual store interfaces.
type Store struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	d        *data
	failures map[string]error
	now      func() time.Time
}

func New() *Store {
	return &Store{
		d:        newData(),
		failures: map[string]error{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes every call of op return err until ClearFailures. Operations
// are named like "audit.Append" or "source.Deactivate".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]error{}
}

// fail must be called with mu held
func (s *Store) fail(op string) error {
	return s.failures[op]
}

// WithinTx runs fn with exclusive write access to the store and restores the
// previous state when fn fails. Writes outside the transaction wait for it
// to finish, so the restore only undoes writes made by fn.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snapshot)
	}
	return err
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lockWrite takes the locks a write needs and returns the unlock func.
// Writes inside a transaction already run under txMu.
func (s *Store) lockWrite(ctx context.Context) func() {
	if s.inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func (s *Store) restore(snapshot *data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = snapshot
}

func (s *Store) Rules() *RuleStore           { return &RuleStore{s: s} }
func (s *Store) Candidates() *CandidateStore { return &CandidateStore{s: s} }
func (s *Store) Sources() *SourceStore       { return &SourceStore{s: s} }
func (s *Store) Audits() *AuditStore         { return &AuditStore{s: s} }
func (s *Store) Canonical() *CanonicalStore  { return &CanonicalStore{s: s} }
func (s *Store) Aliases() *AliasStore        { return &AliasStore{s: s} }

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.rules {
		c.rules[k] = copyRule(v)
	}
	for k, v := range d.candidates {
		c.candidates[k] = copyCandidate(v)
	}
	for k, v := range d.pairs {
		c.pairs[k] = v
	}
	c.order = append([]string(nil), d.order...)
	for table, rows := range d.sources {
		c.sources[table] = make(map[string]*models.Entity, len(rows))
		for id, e := range rows {
			c.sources[table][id] = copyEntity(e)
		}
	}
	for _, a := range d.audits {
		c.audits = append(c.audits, copyAudit(a))
	}
	for k, v := range d.contacts {
		c.contacts[k] = copyContact(v)
	}
	for k, v := range d.links {
		c.links[k] = v
	}
	for k, v := range d.aliases {
		a := *v
		c.aliases[k] = &a
	}
	return c
}

func copyRule(r *models.Rule) *models.Rule {
	c := *r
	c.MatchFields = append([]models.MatchField(nil), r.MatchFields...)
	c.BlockingKeys = append([]models.BlockingKey(nil), r.BlockingKeys...)
	return &c
}

func copyCandidate(cand *models.Candidate) *models.Candidate {
	c := *cand
	if cand.Breakdown != nil {
		c.Breakdown = make(map[string]models.FieldScore, len(cand.Breakdown))
		for k, v := range cand.Breakdown {
			c.Breakdown[k] = v
		}
	}
	return &c
}

func copyEntity(e *models.Entity) *models.Entity {
	c := *e
	c.Fields = copyMap(e.Fields)
	return &c
}

func copyAudit(a *models.MergedEntity) *models.MergedEntity {
	c := *a
	c.MergedSnapshot = copyMap(a.MergedSnapshot)
	c.CanonicalSnapshot = copyMap(a.CanonicalSnapshot)
	c.Changes = copyMap(a.Changes)
	c.Conflicts = append([]models.FieldConflict(nil), a.Conflicts...)
	return &c
}

func copyContact(contact *models.CanonicalContact) *models.CanonicalContact {
	c := *contact
	c.LinkedRecords = append([]models.EntityRef(nil), contact.LinkedRecords...)
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
