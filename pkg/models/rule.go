package models

import "time"

// FieldType selects how a field is normalized and scored
type FieldType string

const (
	FieldTypeEmail       FieldType = "email"
	FieldTypePhone       FieldType = "phone"
	FieldTypeName        FieldType = "name"
	FieldTypeCompanyName FieldType = "company_name"
	FieldTypeAddress     FieldType = "address"
	FieldTypeText        FieldType = "text"
)

// Algorithm is a similarity algorithm
type Algorithm string

const (
	AlgorithmExact       Algorithm = "exact"
	AlgorithmLevenshtein Algorithm = "levenshtein"
	AlgorithmJaroWinkler Algorithm = "jaro_winkler"
	AlgorithmPhonetic    Algorithm = "phonetic"
	AlgorithmFuzzy       Algorithm = "fuzzy"
)

// DefaultAlgorithm returns the algorithm used when a match field names none
func DefaultAlgorithm(t FieldType) Algorithm {
	switch t {
	case FieldTypeEmail, FieldTypePhone:
		return AlgorithmExact
	case FieldTypeName, FieldTypeCompanyName, FieldTypeAddress:
		return AlgorithmFuzzy
	default:
		return AlgorithmLevenshtein
	}
}

// MatchField is one weighted comparison of a rule.
// Field and TargetField are column names or JMESPath expressions into a row.
type MatchField struct {
	Field       string    `json:"field" yaml:"field" validate:"required"`
	TargetField string    `json:"target_field,omitempty" yaml:"target_field,omitempty"`
	Type        FieldType `json:"type" yaml:"type" validate:"required,oneof=email phone name company_name address text"`
	Algorithm   Algorithm `json:"algorithm,omitempty" yaml:"algorithm,omitempty" validate:"omitempty,oneof=exact levenshtein jaro_winkler phonetic fuzzy"`
	Normalizers []string  `json:"normalizers,omitempty" yaml:"normalizers,omitempty"`
	Weight      float64   `json:"weight" yaml:"weight" validate:"gte=0"`
}

// FieldFor returns the path to read for the given table
func (f MatchField) FieldFor(rule *Rule, table string) string {
	if table == rule.TargetTable && table != rule.SourceTable && f.TargetField != "" {
		return f.TargetField
	}
	return f.Field
}

// EffectiveAlgorithm resolves the configured or default algorithm
func (f MatchField) EffectiveAlgorithm() Algorithm {
	if f.Algorithm != "" {
		return f.Algorithm
	}
	return DefaultAlgorithm(f.Type)
}

// BlockingKind selects how a blocking key is derived from a normalized value
type BlockingKind string

const (
	BlockingExact  BlockingKind = "exact"
	BlockingPrefix BlockingKind = "prefix"
)

// BlockingKey groups rows that may match. Rows sharing no key are never compared.
type BlockingKey struct {
	Field       string       `json:"field" yaml:"field" validate:"required"`
	TargetField string       `json:"target_field,omitempty" yaml:"target_field,omitempty"`
	Type        FieldType    `json:"type" yaml:"type" validate:"required,oneof=email phone name company_name address text"`
	Kind        BlockingKind `json:"kind" yaml:"kind" validate:"omitempty,oneof=exact prefix"`
	Length      int          `json:"length,omitempty" yaml:"length,omitempty" validate:"gte=0"`
}

// Rule is an entity resolution rule
type Rule struct {
	ID                 string        `json:"id" yaml:"id"`
	Name               string        `json:"name" yaml:"name" validate:"required"`
	Description        *string       `json:"description,omitempty" yaml:"description,omitempty"`
	SourceTable        string        `json:"source_table" yaml:"source_table" validate:"required"`
	TargetTable        string        `json:"target_table" yaml:"target_table" validate:"required"`
	MatchFields        []MatchField  `json:"match_fields" yaml:"match_fields" validate:"required,min=1,dive"`
	BlockingKeys       []BlockingKey `json:"blocking_keys,omitempty" yaml:"blocking_keys,omitempty" validate:"dive"`
	Filter             *string       `json:"filter,omitempty" yaml:"filter,omitempty"`
	AutoMergeThreshold float64       `json:"auto_merge_threshold" yaml:"auto_merge_threshold" validate:"gte=0,lte=1"`
	ReviewThreshold    float64       `json:"review_threshold" yaml:"review_threshold" validate:"gte=0,lte=1"`
	IsActive           bool          `json:"is_active" yaml:"is_active"`
	CreatedAt          time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time     `json:"updated_at" yaml:"-"`
}

// SameTable reports whether the rule deduplicates within one table
func (r *Rule) SameTable() bool {
	return r.SourceTable == r.TargetTable
}

// Tables returns the distinct tables the rule reads
func (r *Rule) Tables() []string {
	if r.SameTable() {
		return []string{r.SourceTable}
	}
	return []string{r.SourceTable, r.TargetTable}
}

// RuleFilter narrows a rule listing
type RuleFilter struct {
	IDs        []string
	Tables     []string
	ActiveOnly bool
}

// UpdateRuleRequest is a partial rule update
type UpdateRuleRequest struct {
	Name               *string        `json:"name,omitempty"`
	Description        *string        `json:"description,omitempty"`
	MatchFields        []MatchField   `json:"match_fields,omitempty" validate:"omitempty,dive"`
	BlockingKeys       *[]BlockingKey `json:"blocking_keys,omitempty"`
	Filter             *string        `json:"filter,omitempty"`
	AutoMergeThreshold *float64       `json:"auto_merge_threshold,omitempty"`
	ReviewThreshold    *float64       `json:"review_threshold,omitempty"`
	IsActive           *bool          `json:"is_active,omitempty"`
}

// Apply copies the set fields onto the rule
func (u *UpdateRuleRequest) Apply(r *Rule) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Description != nil {
		r.Description = u.Description
	}
	if len(u.MatchFields) > 0 {
		r.MatchFields = u.MatchFields
	}
	if u.BlockingKeys != nil {
		r.BlockingKeys = *u.BlockingKeys
	}
	if u.Filter != nil {
		if *u.Filter == "" {
			r.Filter = nil
		} else {
			r.Filter = u.Filter
		}
	}
	if u.AutoMergeThreshold != nil {
		r.AutoMergeThreshold = *u.AutoMergeThreshold
	}
	if u.ReviewThreshold != nil {
		r.ReviewThreshold = *u.ReviewThreshold
	}
	if u.IsActive != nil {
		r.IsActive = *u.IsActive
	}
}
