package rules

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/memstore"
	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
)

const seed = `
rules:
  - id: leads-email-company
    name: Leads by email and company
    source_table: leads
    target_table: leads
    auto_merge_threshold: 0.95
    review_threshold: 0.75
    match_fields:
      - {field: email, type: email, weight: 1.0}
      - {field: company, type: company_name, weight: 0.7}
  - id: leads-phone
    name: Leads by phone
    source_table: leads
    target_table: leads
    is_active: false
    auto_merge_threshold: 0.99
    review_threshold: 0.9
    match_fields:
      - {field: phone, type: phone, weight: 1.0}
`

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	engine, err := matching.NewEngine(logger)
	require.NoError(t, err)
	catalog, err := models.NewCatalog([]models.SourceTable{{Name: "leads"}})
	require.NoError(t, err)
	s := memstore.New()
	return NewService(s.Rules(), engine, catalog, logger), s
}

func validRule() *models.Rule {
	return &models.Rule{
		Name:               "leads by email",
		SourceTable:        "leads",
		TargetTable:        "leads",
		MatchFields:        []models.MatchField{{Field: "email", Type: models.FieldTypeEmail, Weight: 1}},
		AutoMergeThreshold: 0.95,
		ReviewThreshold:    0.75,
		IsActive:           true,
	}
}

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(seed))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.True(t, rules[0].IsActive)
	assert.False(t, rules[1].IsActive)
	assert.Equal(t, models.FieldTypeCompanyName, rules[0].MatchFields[1].Type)

	_, err = Parse([]byte("rules: [oops"))
	assert.Error(t, err)
}

func TestService_Import(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)

	rules, err := Parse([]byte(seed))
	require.NoError(t, err)
	imported, err := svc.Import(ctx, rules)
	require.NoError(t, err)
	assert.Len(t, imported, 2)

	// re-import replaces by id
	again, err := Parse([]byte(seed))
	require.NoError(t, err)
	again[0].Name = "renamed"
	_, err = svc.Import(ctx, again)
	require.NoError(t, err)

	stored, err := s.Rules().Get(ctx, "leads-email-company")
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)

	t.Run("one invalid rule writes nothing", func(t *testing.T) {
		svc, s := newService(t)
		bad := *validRule()
		bad.ID = "bad"
		bad.TargetTable = "invoices"
		good := *validRule()
		good.ID = "good"

		_, err := svc.Import(ctx, []models.Rule{good, bad})
		require.Error(t, err)
		list, err := s.Rules().List(ctx, models.RuleFilter{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("id required", func(t *testing.T) {
		svc, _ := newService(t)
		_, err := svc.Import(ctx, []models.Rule{*validRule()})
		assert.Error(t, err)
	})
}

func TestService_CRUD(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	created, err := svc.Create(ctx, validRule())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	review := 0.8
	updated, err := svc.Update(ctx, created.ID, models.UpdateRuleRequest{ReviewThreshold: &review})
	require.NoError(t, err)
	assert.Equal(t, 0.8, updated.ReviewThreshold)

	t.Run("update that breaks thresholds is rejected", func(t *testing.T) {
		high := 0.99
		_, err := svc.Update(ctx, created.ID, models.UpdateRuleRequest{ReviewThreshold: &high})
		assert.True(t, errs.IsValidation(err))

		stored, err := svc.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.8, stored.ReviewThreshold)
	})

	t.Run("invalid create", func(t *testing.T) {
		rule := validRule()
		rule.MatchFields = nil
		_, err := svc.Create(ctx, rule)
		assert.True(t, errs.IsValidation(err))
	})

	require.NoError(t, svc.Deactivate(ctx, created.ID))
	active, err := svc.List(ctx, models.RuleFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestShippedRulesFile(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	engine, err := matching.NewEngine(logger)
	require.NoError(t, err)
	catalog, err := config.LoadCatalog("../../config/sources.yaml")
	require.NoError(t, err)

	parsed, err := LoadFile("../../config/rules.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, parsed)
	assert.NoError(t, ValidateAll(engine, catalog, parsed))
}
