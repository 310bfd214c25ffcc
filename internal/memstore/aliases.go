package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
)

type AliasStore struct {
	s *Store
}

func (a *AliasStore) Create(ctx context.Context, alias *models.EntityAlias) (*models.EntityAlias, error) {
	defer a.s.lockWrite(ctx)()
	if err := a.s.fail("alias.Create"); err != nil {
		return nil, err
	}

	if _, exists := a.s.d.aliases[alias.Old]; exists {
		return nil, errs.Conflict("record %s already has an alias", alias.Old)
	}
	if alias.ID == "" {
		alias.ID = uuid.New().String()
	}
	alias.CreatedAt = a.s.now()
	stored := *alias
	a.s.d.aliases[alias.Old] = &stored
	return alias, nil
}

func (a *AliasStore) Get(_ context.Context, ref models.EntityRef) (*models.EntityAlias, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("alias.Get"); err != nil {
		return nil, err
	}

	alias, ok := a.s.d.aliases[ref]
	if !ok {
		return nil, nil
	}
	out := *alias
	return &out, nil
}
