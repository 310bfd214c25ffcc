package matching

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Validate checks a rule before it is stored or scanned. A nil catalog skips
// the source table check.
func (e *Engine) Validate(rule *models.Rule, catalog *models.Catalog) error {
	if err := e.validate.Struct(rule); err != nil {
		return validationError(err)
	}

	var problems []string

	positive := false
	for _, f := range rule.MatchFields {
		if f.Weight > 0 {
			positive = true
		}
		for _, path := range []string{f.Field, f.TargetField} {
			if path == "" {
				continue
			}
			if err := e.extractor.Compile(path); err != nil {
				problems = append(problems, fmt.Sprintf("match field %q: %v", path, err))
			}
		}
		for _, n := range f.Normalizers {
			if _, ok := normalizers.Get(n); !ok {
				problems = append(problems, fmt.Sprintf("match field %q: unknown normalizer %q", f.Field, n))
			}
		}
	}
	if !positive {
		problems = append(problems, "at least one match field must have a positive weight")
	}

	if rule.AutoMergeThreshold < rule.ReviewThreshold {
		problems = append(problems, "auto_merge_threshold must be greater than or equal to review_threshold")
	}

	for _, k := range rule.BlockingKeys {
		if err := e.extractor.Compile(k.Field); err != nil {
			problems = append(problems, fmt.Sprintf("blocking key %q: %v", k.Field, err))
		}
	}

	if catalog != nil {
		for _, table := range rule.Tables() {
			if _, ok := catalog.Table(table); !ok {
				problems = append(problems, fmt.Sprintf("table %s is not a configured source table", table))
			}
		}
	}

	if rule.Filter != nil && *rule.Filter != "" {
		if err := e.filters.Compile(*rule.Filter); err != nil {
			problems = append(problems, fmt.Sprintf("filter: %v", err))
		}
	}

	if len(problems) > 0 {
		return errs.Validation("invalid rule: %s", strings.Join(problems, "; ")).WithMeta("problems", problems)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Wrap(errs.KindValidation, err, "invalid rule")
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errs.Validation("invalid rule: %s", strings.Join(problems, "; ")).WithMeta("problems", problems)
}
