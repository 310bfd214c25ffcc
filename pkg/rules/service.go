// Package rules manages entity resolution rules
package rules

import (
	"context"
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Validator checks a rule against the configured source tables
type Validator interface {
	Validate(rule *models.Rule, catalog *models.Catalog) error
}

type Service struct {
	store     store.RuleStore
	validator Validator
	catalog   *models.Catalog
	logger    ectologger.Logger
}

func NewService(rules store.RuleStore, validator Validator, catalog *models.Catalog, logger ectologger.Logger) *Service {
	return &Service{store: rules, validator: validator, catalog: catalog, logger: logger}
}

func (s *Service) Create(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rules.Service.Create")
	defer span.End()

	if err := s.validator.Validate(rule, s.catalog); err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, rule)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).WithField("rule_id", created.ID).Info("Created rule")
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Rule, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter models.RuleFilter) ([]models.Rule, error) {
	return s.store.List(ctx, filter)
}

// Update applies a partial update and revalidates the whole rule
func (s *Service) Update(ctx context.Context, id string, req models.UpdateRuleRequest) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rules.Service.Update")
	defer span.End()

	rule, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Apply(rule)
	if err := s.validator.Validate(rule, s.catalog); err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, rule)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).WithField("rule_id", id).Info("Updated rule")
	return updated, nil
}

// Deactivate soft-deletes a rule. Its candidates are kept.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}
	s.logger.WithContext(ctx).WithField("rule_id", id).Info("Deactivated rule")
	return nil
}

// Import validates every rule first and then upserts them by id, so a bad
// file writes nothing
func (s *Service) Import(ctx context.Context, rules []models.Rule) ([]models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rules.Service.Import")
	defer span.End()

	if err := ValidateAll(s.validator, s.catalog, rules); err != nil {
		return nil, err
	}

	imported := make([]models.Rule, 0, len(rules))
	for i := range rules {
		rule, err := s.store.Upsert(ctx, &rules[i])
		if err != nil {
			return nil, err
		}
		imported = append(imported, *rule)
	}
	s.logger.WithContext(ctx).WithField("count", len(imported)).Info("Imported rules")
	return imported, nil
}

// ValidateAll checks a batch of rules meant for import. Every rule needs an id.
func ValidateAll(validator Validator, catalog *models.Catalog, rules []models.Rule) error {
	for i := range rules {
		if rules[i].ID == "" {
			return fmt.Errorf("rule %d (%s): id is required for import", i, rules[i].Name)
		}
		if err := validator.Validate(&rules[i], catalog); err != nil {
			return fmt.Errorf("rule %s: %w", rules[i].ID, err)
		}
	}
	return nil
}

// File is the YAML layout of a rules seed file
type File struct {
	Rules []models.Rule `yaml:"rules"`
}

// LoadFile reads rules from a YAML file
func LoadFile(path string) ([]models.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a rules YAML document. Rules default to active.
func Parse(data []byte) ([]models.Rule, error) {
	var raw struct {
		Rules []yaml.Node `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	rules := make([]models.Rule, 0, len(raw.Rules))
	for i := range raw.Rules {
		rule := models.Rule{IsActive: true}
		if err := raw.Rules[i].Decode(&rule); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
