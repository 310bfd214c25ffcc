package merging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// FieldMerger decides the value each canonical column keeps when a record is
// merged into it
type FieldMerger struct{}

func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

// Reconciliation is the outcome of reconciling two rows
type Reconciliation struct {
	// Changes holds the canonical columns whose value changes
	Changes   map[string]any
	Conflicts []models.FieldConflict
	// Unresolved lists manual fields that differ and have no override
	Unresolved []string
}

type fieldValue struct {
	Value     any
	UpdatedAt time.Time
}

// Reconcile merges the merged-away row into the canonical row. Only columns of
// the canonical table are reconciled. For cross-table merges identity columns
// are matched through the identity mapping and other columns by name.
func (m *FieldMerger) Reconcile(
	canonicalTable, mergedTable *models.SourceTable,
	canonical, merged *models.Entity,
	overrides map[string]any,
) Reconciliation {
	result := Reconciliation{Changes: map[string]any{}}

	for _, column := range reconcileColumns(canonicalTable, canonical, merged, overrides) {
		canonicalValue := fieldValue{Value: canonical.Fields[column], UpdatedAt: canonical.UpdatedAt}
		mergedValue := fieldValue{UpdatedAt: merged.UpdatedAt}
		if source := mergedColumn(canonicalTable, mergedTable, column); source != "" {
			mergedValue.Value = merged.Fields[source]
		}

		if override, ok := overrides[column]; ok {
			if !sameValue(canonicalValue.Value, override) {
				result.Changes[column] = override
			}
			if !isEmpty(canonicalValue.Value) && !isEmpty(mergedValue.Value) && !sameValue(canonicalValue.Value, mergedValue.Value) {
				result.Conflicts = append(result.Conflicts, models.FieldConflict{
					Field:          column,
					CanonicalValue: canonicalValue.Value,
					MergedValue:    mergedValue.Value,
					Policy:         canonicalTable.PolicyFor(column),
					Resolution:     models.ResolutionOverride,
					ResolvedValue:  override,
				})
			}
			continue
		}

		policy := canonicalTable.PolicyFor(column)
		value, conflict, resolved := m.MergeField(column, canonicalValue, mergedValue, policy)
		if !resolved {
			result.Unresolved = append(result.Unresolved, column)
			continue
		}
		if !sameValue(canonicalValue.Value, value) {
			result.Changes[column] = value
		}
		if conflict != nil {
			result.Conflicts = append(result.Conflicts, *conflict)
		}
	}

	return result
}

// MergeField applies a policy to one column. It returns false for a manual
// field whose values differ.
func (m *FieldMerger) MergeField(field string, canonical, merged fieldValue, policy models.ReconcilePolicy) (any, *models.FieldConflict, bool) {
	if isEmpty(merged.Value) || sameValue(canonical.Value, merged.Value) {
		return canonical.Value, nil, true
	}
	if isEmpty(canonical.Value) {
		if policy == models.ReconcilePreferCanonical {
			return canonical.Value, nil, true
		}
		return merged.Value, nil, true
	}

	takeMerged := false
	switch policy {
	case models.ReconcileManual:
		return nil, nil, false
	case models.ReconcilePreferMerged:
		takeMerged = true
	case models.ReconcileMostRecent:
		takeMerged = merged.UpdatedAt.After(canonical.UpdatedAt)
	case models.ReconcileLongest:
		takeMerged = len(stringify(merged.Value)) > len(stringify(canonical.Value))
	}

	conflict := &models.FieldConflict{
		Field:          field,
		CanonicalValue: canonical.Value,
		MergedValue:    merged.Value,
		Policy:         policy,
		Resolution:     models.ResolutionKeptCanonical,
		ResolvedValue:  canonical.Value,
	}
	if takeMerged {
		conflict.Resolution = models.ResolutionTookMerged
		conflict.ResolvedValue = merged.Value
		return merged.Value, conflict, true
	}
	return canonical.Value, conflict, true
}

func reconcileColumns(table *models.SourceTable, canonical, merged *models.Entity, overrides map[string]any) []string {
	allowed := map[string]bool{}
	for _, c := range table.ReconcileFields {
		allowed[c] = true
	}

	columns := make([]string, 0, len(canonical.Fields))
	for column := range canonical.Fields {
		if table.SystemColumn(column) {
			continue
		}
		if len(allowed) > 0 && !allowed[column] {
			if _, ok := overrides[column]; !ok {
				continue
			}
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// mergedColumn finds the column of the merged table that feeds a canonical column
func mergedColumn(canonicalTable, mergedTable *models.SourceTable, column string) string {
	if canonicalTable.Name == mergedTable.Name {
		return column
	}
	if identity, ok := canonicalTable.IdentityColumn(column); ok {
		if source := mergedTable.ColumnFor(identity); source != "" {
			return source
		}
	}
	if mergedTable.SystemColumn(column) {
		return ""
	}
	return column
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return stringify(a) == stringify(b)
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
