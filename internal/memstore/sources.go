package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
)

type SourceStore struct {
	s *Store
}

// Put seeds or replaces a row
func (src *SourceStore) Put(entities ...models.Entity) {
	defer src.s.lockWrite(context.Background())()

	for i := range entities {
		e := copyEntity(&entities[i])
		if e.Fields == nil {
			e.Fields = map[string]any{}
		}
		rows, ok := src.s.d.sources[e.Ref.Table]
		if !ok {
			rows = map[string]*models.Entity{}
			src.s.d.sources[e.Ref.Table] = rows
		}
		rows[e.Ref.ID] = e
	}
}

func (src *SourceStore) Scan(_ context.Context, table string, afterID string, limit int) ([]models.Entity, error) {
	src.s.mu.Lock()
	defer src.s.mu.Unlock()
	if err := src.s.fail("source.Scan"); err != nil {
		return nil, err
	}

	var out []models.Entity
	for id, e := range src.s.d.sources[table] {
		if e.Active && id > afterID {
			out = append(out, *copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ID < out[j].Ref.ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (src *SourceStore) Get(_ context.Context, ref models.EntityRef, _ bool) (*models.Entity, error) {
	src.s.mu.Lock()
	defer src.s.mu.Unlock()
	if err := src.s.fail("source.Get"); err != nil {
		return nil, err
	}

	e, ok := src.s.d.sources[ref.Table][ref.ID]
	if !ok {
		return nil, errs.NotFound("record %s not found", ref)
	}
	return copyEntity(e), nil
}

func (src *SourceStore) GetMany(_ context.Context, refs []models.EntityRef) (map[models.EntityRef]*models.Entity, error) {
	src.s.mu.Lock()
	defer src.s.mu.Unlock()
	if err := src.s.fail("source.GetMany"); err != nil {
		return nil, err
	}

	out := make(map[models.EntityRef]*models.Entity, len(refs))
	for _, ref := range refs {
		if e, ok := src.s.d.sources[ref.Table][ref.ID]; ok {
			out[ref] = copyEntity(e)
		}
	}
	return out, nil
}

func (src *SourceStore) Update(ctx context.Context, ref models.EntityRef, fields map[string]any) error {
	defer src.s.lockWrite(ctx)()
	if err := src.s.fail("source.Update"); err != nil {
		return err
	}

	e, ok := src.s.d.sources[ref.Table][ref.ID]
	if !ok {
		return errs.NotFound("record %s not found", ref)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	e.UpdatedAt = src.s.now()
	return nil
}

func (src *SourceStore) Deactivate(ctx context.Context, ref models.EntityRef, at time.Time) error {
	defer src.s.lockWrite(ctx)()
	if err := src.s.fail("source.Deactivate"); err != nil {
		return err
	}

	e, ok := src.s.d.sources[ref.Table][ref.ID]
	if !ok {
		return errs.NotFound("record %s not found", ref)
	}
	e.Active = false
	e.UpdatedAt = at
	return nil
}
