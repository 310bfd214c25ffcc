package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateStatusTransitions(t *testing.T) {
	tests := []struct {
		from    CandidateStatus
		to      CandidateStatus
		allowed bool
	}{
		{CandidateStatusPending, CandidateStatusConfirmed, true},
		{CandidateStatusPending, CandidateStatusMerged, true},
		{CandidateStatusConfirmed, CandidateStatusMerged, true},
		{CandidateStatusConfirmed, CandidateStatusPending, false},
		{CandidateStatusDeferred, CandidateStatusPending, true},
		{CandidateStatusDeferred, CandidateStatusMerged, false},
		{CandidateStatusRejected, CandidateStatusConfirmed, true},
		{CandidateStatusRejected, CandidateStatusDeferred, false},
		{CandidateStatusMerged, CandidateStatusPending, false},
		{CandidateStatusMerged, CandidateStatusRejected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}

	assert.True(t, CandidateStatusPending.Mergeable())
	assert.True(t, CandidateStatusConfirmed.Mergeable())
	assert.False(t, CandidateStatusRejected.Mergeable())
	assert.False(t, CandidateStatus("approved").Valid())
}

func TestEntityRefs(t *testing.T) {
	t.Run("parse", func(t *testing.T) {
		ref, err := ParseEntityRef("leads:42")
		require.NoError(t, err)
		assert.Equal(t, EntityRef{Table: "leads", ID: "42"}, ref)
		assert.Equal(t, "leads:42", ref.String())

		_, err = ParseEntityRef("42")
		assert.Error(t, err)
		_, err = ParseEntityRef("leads:")
		assert.Error(t, err)
	})

	t.Run("order pair", func(t *testing.T) {
		a := EntityRef{Table: "leads", ID: "9"}
		b := EntityRef{Table: "clients", ID: "1"}
		first, second := OrderPair(a, b)
		assert.Equal(t, b, first)
		assert.Equal(t, a, second)

		first, second = OrderPair(b, a)
		assert.Equal(t, b, first)
		assert.Equal(t, a, second)
	})
}

func TestCanonicalContact(t *testing.T) {
	email := "joe@joes.com"
	blankName := "  "
	c := &CanonicalContact{Email: &email, Name: &blankName}
	c.Recompute()
	assert.Equal(t, 0.25, c.Completeness)

	phone := "5551234567"
	company := "Joe's Restaurant"
	c.Absorb(&EntityPreview{Phone: &phone, CompanyName: &company})
	c.Recompute()
	assert.Equal(t, 0.75, c.Completeness)

	ref := EntityRef{Table: "leads", ID: "1"}
	c.Link(ref, ref)
	assert.Len(t, c.LinkedRecords, 1)
	assert.True(t, c.HasRecord(ref))
}

func TestCatalog(t *testing.T) {
	catalog, err := NewCatalog([]SourceTable{
		{Name: "leads", Identity: IdentityColumns{Email: "email", CompanyName: "company"}},
		{Name: "clients", MergePolicy: MergePolicy{Default: ReconcileMostRecent, Fields: map[string]ReconcilePolicy{"notes": ReconcileLongest}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"clients", "leads"}, catalog.Names())

	leads, ok := catalog.Table("leads")
	require.True(t, ok)
	assert.Equal(t, "id", leads.IDColumn)
	assert.Equal(t, ReconcilePreferNonNull, leads.PolicyFor("email"))
	assert.True(t, leads.SystemColumn("deleted_at"))

	identity, ok := leads.IdentityColumn("company")
	assert.True(t, ok)
	assert.Equal(t, "company_name", identity)

	clients, _ := catalog.Table("clients")
	assert.Equal(t, ReconcileLongest, clients.PolicyFor("notes"))
	assert.Equal(t, ReconcileMostRecent, clients.PolicyFor("email"))

	_, err = NewCatalog([]SourceTable{{Name: "leads", MergePolicy: MergePolicy{Default: "newest"}}})
	assert.Error(t, err)
	_, err = NewCatalog([]SourceTable{{Name: "leads"}, {Name: "leads"}})
	assert.Error(t, err)
}

func TestSourceTablePreview(t *testing.T) {
	table := SourceTable{Name: "leads", Identity: IdentityColumns{Email: "email", Phone: "phone", Name: "contact_name", CompanyName: "company"}}
	entity := &Entity{
		Ref:    EntityRef{Table: "leads", ID: "1"},
		Fields: map[string]any{"email": "joe@joes.com", "phone": nil, "contact_name": "", "company": "Joe's"},
		Active: true,
	}

	p := table.Preview(entity)
	require.NotNil(t, p)
	assert.Equal(t, "joe@joes.com", *p.Email)
	assert.Nil(t, p.Phone)
	assert.Nil(t, p.Name)
	assert.Equal(t, 0.5, table.Completeness(entity))
}
