package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
)

type AuditStore struct {
	s *Store
}

func (a *AuditStore) Append(ctx context.Context, record *models.MergedEntity) (*models.MergedEntity, error) {
	defer a.s.lockWrite(ctx)()
	if err := a.s.fail("audit.Append"); err != nil {
		return nil, err
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = a.s.now()
	a.s.d.audits = append(a.s.d.audits, copyAudit(record))
	return record, nil
}

func (a *AuditStore) Get(_ context.Context, id string) (*models.MergedEntity, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("audit.Get"); err != nil {
		return nil, err
	}

	for _, record := range a.s.d.audits {
		if record.ID == id {
			return copyAudit(record), nil
		}
	}
	return nil, errs.NotFound("merge %s not found", id)
}

// ListByEntity returns the merges naming ref on either side, newest first
func (a *AuditStore) ListByEntity(_ context.Context, ref models.EntityRef) ([]models.MergedEntity, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("audit.ListByEntity"); err != nil {
		return nil, err
	}

	var out []models.MergedEntity
	for i := len(a.s.d.audits) - 1; i >= 0; i-- {
		record := a.s.d.audits[i]
		if record.Canonical == ref || record.MergedAway == ref {
			out = append(out, *copyAudit(record))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// All returns every audit record in append order
func (a *AuditStore) All() []models.MergedEntity {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	out := make([]models.MergedEntity, 0, len(a.s.d.audits))
	for _, record := range a.s.d.audits {
		out = append(out, *copyAudit(record))
	}
	return out
}
