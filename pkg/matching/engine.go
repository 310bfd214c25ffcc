// Package matching scores record pairs against entity resolution rules
package matching

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/extractor"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Engine applies rules to record pairs
type Engine struct {
	logger    ectologger.Logger
	scorer    *Scorer
	extractor *extractor.Extractor
	filters   *FilterEvaluator
	validate  *validator.Validate
}

// NewEngine creates a new rule engine
func NewEngine(logger ectologger.Logger) (*Engine, error) {
	filters, err := NewFilterEvaluator()
	if err != nil {
		return nil, err
	}

	return &Engine{
		logger:    logger,
		scorer:    NewScorer(),
		extractor: extractor.New(),
		filters:   filters,
		validate:  validator.New(),
	}, nil
}

// Projection holds the normalized match values of one row under one rule,
// indexed like the rule's match fields.
type Projection struct {
	Ref     models.EntityRef
	Values  []normalizers.Value
	Present []bool
}

// Project normalizes the match fields of a row. Fields that cannot be read or
// normalized are logged and left absent.
func (e *Engine) Project(ctx context.Context, rule *models.Rule, entity *models.Entity) Projection {
	p := Projection{
		Ref:     entity.Ref,
		Values:  make([]normalizers.Value, len(rule.MatchFields)),
		Present: make([]bool, len(rule.MatchFields)),
	}

	for i, field := range rule.MatchFields {
		path := field.FieldFor(rule, entity.Ref.Table)
		v, ok, err := e.normalizeField(entity.Fields, path, field)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"rule_id": rule.ID,
				"entity":  entity.Ref.String(),
				"field":   path,
			}).Warn("Excluding field that could not be normalized")
			continue
		}
		p.Values[i] = v
		p.Present[i] = ok
	}

	return p
}

func (e *Engine) normalizeField(row map[string]any, path string, field models.MatchField) (normalizers.Value, bool, error) {
	raw, err := e.extractor.Extract(row, path)
	if err != nil {
		return normalizers.Value{}, false, err
	}

	s, ok, err := normalizers.ToString(raw)
	if err != nil || !ok {
		return normalizers.Value{}, false, err
	}
	if len(field.Normalizers) > 0 {
		s = normalizers.ApplyChain(s, field.Normalizers...)
	}
	return normalizers.NormalizeString(field.Type, s)
}

// Compare scores two projections. Confidence is the weighted mean similarity
// over the fields present on both sides, and 0 when no field is comparable.
func (e *Engine) Compare(rule *models.Rule, a, b Projection) models.MatchResult {
	result := models.MatchResult{Breakdown: make(map[string]models.FieldScore, len(rule.MatchFields))}

	var weighted, total float64
	for i, field := range rule.MatchFields {
		if !a.Present[i] || !b.Present[i] {
			continue
		}

		algorithm := field.EffectiveAlgorithm()
		if a.Values[i].ExactOnly || b.Values[i].ExactOnly {
			algorithm = models.AlgorithmExact
		}

		sim, ok := e.scorer.Similarity(field.Type, algorithm, a.Values[i], b.Values[i])
		if !ok {
			continue
		}

		key := field.Field
		if _, dup := result.Breakdown[key]; dup {
			key = fmt.Sprintf("%s#%d", field.Field, i)
		}
		result.Breakdown[key] = models.FieldScore{Similarity: sim, Algorithm: algorithm, Weight: field.Weight}

		weighted += sim * field.Weight
		total += field.Weight
		result.Compared++
	}

	if total > 0 {
		result.Confidence = clamp(weighted / total)
	}
	return result
}

// Score compares two rows under a rule
func (e *Engine) Score(ctx context.Context, rule *models.Rule, a, b *models.Entity) models.MatchResult {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Score")
	defer span.End()

	return e.Compare(rule, e.Project(ctx, rule, a), e.Project(ctx, rule, b))
}

// Classify maps a confidence to a recommendation. It returns false when the
// pair is below the review threshold and should be discarded.
func (e *Engine) Classify(rule *models.Rule, confidence float64) (models.Recommendation, bool) {
	return Classify(rule.AutoMergeThreshold, rule.ReviewThreshold, confidence)
}

// Classify maps a confidence to a recommendation using explicit thresholds
func Classify(autoMergeThreshold, reviewThreshold, confidence float64) (models.Recommendation, bool) {
	switch {
	case confidence >= autoMergeThreshold:
		return models.RecommendationAutoMerge, true
	case confidence >= reviewThreshold:
		return models.RecommendationReview, true
	default:
		return "", false
	}
}

// Eligible reports whether a row passes the rule's filter
func (e *Engine) Eligible(rule *models.Rule, entity *models.Entity) (bool, error) {
	if rule.Filter == nil || *rule.Filter == "" {
		return true, nil
	}
	return e.filters.Allows(*rule.Filter, entity.Fields)
}

// Extractor exposes the field path resolver used by the engine
func (e *Engine) Extractor() *extractor.Extractor {
	return e.extractor
}
