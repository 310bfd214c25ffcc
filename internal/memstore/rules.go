package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
)

type RuleStore struct {
	s *Store
}

func (r *RuleStore) Create(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	defer r.s.lockWrite(ctx)()
	if err := r.s.fail("rule.Create"); err != nil {
		return nil, err
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if _, exists := r.s.d.rules[rule.ID]; exists {
		return nil, errs.Conflict("rule %s already exists", rule.ID)
	}
	rule.CreatedAt = r.s.now()
	rule.UpdatedAt = rule.CreatedAt
	r.s.d.rules[rule.ID] = copyRule(rule)
	return rule, nil
}

func (r *RuleStore) Upsert(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	defer r.s.lockWrite(ctx)()
	if err := r.s.fail("rule.Upsert"); err != nil {
		return nil, err
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := r.s.now()
	rule.CreatedAt = now
	if existing, ok := r.s.d.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	}
	rule.UpdatedAt = now
	r.s.d.rules[rule.ID] = copyRule(rule)
	return rule, nil
}

func (r *RuleStore) Get(_ context.Context, id string) (*models.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("rule.Get"); err != nil {
		return nil, err
	}

	rule, ok := r.s.d.rules[id]
	if !ok {
		return nil, errs.NotFound("rule %s not found", id)
	}
	return copyRule(rule), nil
}

func (r *RuleStore) List(_ context.Context, filter models.RuleFilter) ([]models.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("rule.List"); err != nil {
		return nil, err
	}

	ids := toSet(filter.IDs)
	tables := toSet(filter.Tables)
	var rules []models.Rule
	for _, rule := range r.s.d.rules {
		if len(ids) > 0 && !ids[rule.ID] {
			continue
		}
		if len(tables) > 0 && !tables[rule.SourceTable] && !tables[rule.TargetTable] {
			continue
		}
		if filter.ActiveOnly && !rule.IsActive {
			continue
		}
		rules = append(rules, *copyRule(rule))
	}
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

func (r *RuleStore) Update(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	defer r.s.lockWrite(ctx)()
	if err := r.s.fail("rule.Update"); err != nil {
		return nil, err
	}

	existing, ok := r.s.d.rules[rule.ID]
	if !ok {
		return nil, errs.NotFound("rule %s not found", rule.ID)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = r.s.now()
	r.s.d.rules[rule.ID] = copyRule(rule)
	return rule, nil
}

func (r *RuleStore) Deactivate(ctx context.Context, id string) error {
	defer r.s.lockWrite(ctx)()
	if err := r.s.fail("rule.Deactivate"); err != nil {
		return err
	}

	rule, ok := r.s.d.rules[id]
	if !ok {
		return errs.NotFound("rule %s not found", id)
	}
	rule.IsActive = false
	rule.UpdatedAt = r.s.now()
	return nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
