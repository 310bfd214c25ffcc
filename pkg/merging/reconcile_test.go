package merging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestFieldMerger_MergeField(t *testing.T) {
	m := NewFieldMerger()
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	tests := []struct {
		name       string
		policy     models.ReconcilePolicy
		canonical  fieldValue
		merged     fieldValue
		want       any
		resolved   bool
		conflict   bool
		resolution string
	}{
		{name: "null is filled", policy: models.ReconcilePreferNonNull, canonical: fieldValue{}, merged: fieldValue{Value: "a"}, want: "a", resolved: true},
		{name: "blank string is filled", policy: models.ReconcilePreferNonNull, canonical: fieldValue{Value: "  "}, merged: fieldValue{Value: "a"}, want: "a", resolved: true},
		{name: "canonical kept on conflict", policy: models.ReconcilePreferNonNull, canonical: fieldValue{Value: "a"}, merged: fieldValue{Value: "b"}, want: "a", resolved: true, conflict: true, resolution: models.ResolutionKeptCanonical},
		{name: "equal values no conflict", policy: models.ReconcilePreferNonNull, canonical: fieldValue{Value: 5}, merged: fieldValue{Value: "5"}, want: 5, resolved: true},
		{name: "merged null keeps canonical", policy: models.ReconcilePreferMerged, canonical: fieldValue{Value: "a"}, merged: fieldValue{}, want: "a", resolved: true},
		{name: "prefer merged", policy: models.ReconcilePreferMerged, canonical: fieldValue{Value: "a"}, merged: fieldValue{Value: "b"}, want: "b", resolved: true, conflict: true, resolution: models.ResolutionTookMerged},
		{name: "prefer canonical keeps null", policy: models.ReconcilePreferCanonical, canonical: fieldValue{}, merged: fieldValue{Value: "b"}, want: nil, resolved: true},
		{name: "most recent merged", policy: models.ReconcileMostRecent, canonical: fieldValue{Value: "a", UpdatedAt: older}, merged: fieldValue{Value: "b", UpdatedAt: newer}, want: "b", resolved: true, conflict: true, resolution: models.ResolutionTookMerged},
		{name: "most recent canonical", policy: models.ReconcileMostRecent, canonical: fieldValue{Value: "a", UpdatedAt: newer}, merged: fieldValue{Value: "b", UpdatedAt: older}, want: "a", resolved: true, conflict: true, resolution: models.ResolutionKeptCanonical},
		{name: "longest", policy: models.ReconcileLongest, canonical: fieldValue{Value: "Joe's"}, merged: fieldValue{Value: "Joe's Restaurant"}, want: "Joe's Restaurant", resolved: true, conflict: true, resolution: models.ResolutionTookMerged},
		{name: "manual differs", policy: models.ReconcileManual, canonical: fieldValue{Value: "a"}, merged: fieldValue{Value: "b"}, resolved: false},
		{name: "manual fills null", policy: models.ReconcileManual, canonical: fieldValue{}, merged: fieldValue{Value: "b"}, want: "b", resolved: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conflict, resolved := m.MergeField("field", tt.canonical, tt.merged, tt.policy)
			assert.Equal(t, tt.resolved, resolved)
			if !tt.resolved {
				return
			}
			assert.Equal(t, tt.want, got)
			if !tt.conflict {
				assert.Nil(t, conflict)
				return
			}
			require.NotNil(t, conflict)
			assert.Equal(t, tt.resolution, conflict.Resolution)
			assert.Equal(t, tt.want, conflict.ResolvedValue)
		})
	}
}

func TestFieldMerger_Reconcile(t *testing.T) {
	catalog, err := models.NewCatalog([]models.SourceTable{
		{Name: "leads", ReconcileFields: []string{"email", "company"}},
	})
	require.NoError(t, err)
	table, _ := catalog.Table("leads")

	canonical := &models.Entity{Ref: models.EntityRef{Table: "leads", ID: "1"}, Fields: map[string]any{
		"email": nil, "company": "Joe's", "notes": "x", "updated_at": time.Now(),
	}}
	merged := &models.Entity{Ref: models.EntityRef{Table: "leads", ID: "2"}, Fields: map[string]any{
		"email": "joe@joes.com", "company": "Joe's Diner", "notes": "y",
	}}

	result := NewFieldMerger().Reconcile(table, table, canonical, merged, map[string]any{"notes": "z"})
	assert.Equal(t, map[string]any{"email": "joe@joes.com", "notes": "z"}, result.Changes)
	require.Len(t, result.Conflicts, 2)
	assert.Equal(t, "company", result.Conflicts[0].Field)
	assert.Equal(t, "notes", result.Conflicts[1].Field)
	assert.Equal(t, models.ResolutionOverride, result.Conflicts[1].Resolution)
	assert.Empty(t, result.Unresolved)
}

func TestSelectCanonical(t *testing.T) {
	catalog, err := models.NewCatalog([]models.SourceTable{
		{Name: "leads", Identity: models.IdentityColumns{Email: "email", Phone: "phone"}},
		{Name: "clients", Priority: 5, Identity: models.IdentityColumns{Email: "email", Phone: "phone"}},
	})
	require.NoError(t, err)

	entity := func(table, id string, fields map[string]any) *models.Entity {
		return &models.Entity{Ref: models.EntityRef{Table: table, ID: id}, Fields: fields}
	}

	tests := []struct {
		name string
		a, b *models.Entity
		want models.EntityRef
	}{
		{
			name: "more complete wins",
			a:    entity("leads", "1", map[string]any{"email": "a@b.com"}),
			b:    entity("leads", "2", map[string]any{"email": "a@b.com", "phone": "5551234567"}),
			want: models.EntityRef{Table: "leads", ID: "2"},
		},
		{
			name: "table priority breaks ties",
			a:    entity("leads", "1", map[string]any{"email": "a@b.com"}),
			b:    entity("clients", "9", map[string]any{"email": "a@b.com"}),
			want: models.EntityRef{Table: "clients", ID: "9"},
		},
		{
			name: "smaller id last",
			a:    entity("leads", "b", map[string]any{"email": "a@b.com"}),
			b:    entity("leads", "a", map[string]any{"email": "a@b.com"}),
			want: models.EntityRef{Table: "leads", ID: "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectCanonical(catalog, tt.a, tt.b))
			assert.Equal(t, tt.want, SelectCanonical(catalog, tt.b, tt.a))
		})
	}
}
