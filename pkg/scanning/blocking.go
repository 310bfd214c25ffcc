package scanning

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/clover/pkg/extractor"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

const (
	defaultPrefixLength = 3
	// allRows is the single block used by rules with nothing to block on
	allRows = "*"
)

// BlockingKeys returns the keys a row is grouped under. Rows sharing no key
// are never compared. Explicit blocking keys on the rule take precedence over
// keys derived from the match fields.
func BlockingKeys(ex *extractor.Extractor, rule *models.Rule, entity *models.Entity, p matching.Projection) []string {
	if len(rule.BlockingKeys) > 0 {
		return explicitKeys(ex, rule, entity)
	}
	if !derivable(rule) {
		return []string{allRows}
	}

	var keys []string
	for i, field := range rule.MatchFields {
		if !p.Present[i] || field.Weight <= 0 {
			continue
		}
		if key, ok := derivedKey(field.Type, p.Values[i].Text); ok {
			keys = append(keys, fmt.Sprintf("%s:%s", field.Type, key))
		}
	}
	return dedupe(keys)
}

func explicitKeys(ex *extractor.Extractor, rule *models.Rule, entity *models.Entity) []string {
	var keys []string
	for i, bk := range rule.BlockingKeys {
		path := bk.Field
		if entity.Ref.Table == rule.TargetTable && !rule.SameTable() && bk.TargetField != "" {
			path = bk.TargetField
		}

		raw, err := ex.Extract(entity.Fields, path)
		if err != nil {
			continue
		}
		v, ok, err := normalizers.Normalize(bk.Type, raw)
		if err != nil || !ok {
			continue
		}

		text := v.Text
		if bk.Kind == models.BlockingPrefix {
			length := bk.Length
			if length <= 0 {
				length = defaultPrefixLength
			}
			text = prefix(text, length)
		}
		keys = append(keys, fmt.Sprintf("%d:%s", i, text))
	}
	return dedupe(keys)
}

func derivable(rule *models.Rule) bool {
	for _, f := range rule.MatchFields {
		if f.Weight > 0 && f.Type != models.FieldTypeText {
			return true
		}
	}
	return false
}

func derivedKey(t models.FieldType, normalized string) (string, bool) {
	switch t {
	case models.FieldTypeEmail, models.FieldTypePhone:
		return normalized, true
	case models.FieldTypeName, models.FieldTypeCompanyName:
		return prefix(normalized, defaultPrefixLength), true
	case models.FieldTypeAddress:
		tokens := strings.Fields(normalized)
		if len(tokens) > 2 {
			tokens = tokens[:2]
		}
		return strings.Join(tokens, " "), len(tokens) > 0
	default:
		return "", false
	}
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// block holds arena indexes. Same-table rules only use source.
type block struct {
	source []int
	target []int
}

func (b *block) size() int {
	return len(b.source) + len(b.target)
}

// pairKey identifies an unordered pair of arena indexes
func pairKey(i, j int) uint64 {
	if i > j {
		i, j = j, i
	}
	return uint64(i)<<32 | uint64(uint32(j))
}
