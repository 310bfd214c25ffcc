package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/memstore"
	"github.com/Ramsey-B/clover/pkg/identity"
	"github.com/Ramsey-B/clover/pkg/inject"
	"github.com/Ramsey-B/clover/pkg/lock"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/review"
	"github.com/Ramsey-B/clover/pkg/routes/deduplication"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	identityroutes "github.com/Ramsey-B/clover/pkg/routes/identity"
	ruleroutes "github.com/Ramsey-B/clover/pkg/routes/rules"
	"github.com/Ramsey-B/clover/pkg/rules"
	"github.com/Ramsey-B/clover/pkg/scanning"
	"github.com/Ramsey-B/clover/pkg/store"
)

var routes = []Registrar{deduplication.Register, ruleroutes.Register, identityroutes.Register}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	catalog, err := models.NewCatalog([]models.SourceTable{{
		Name:     "leads",
		Identity: models.IdentityColumns{Email: "email", Phone: "phone", CompanyName: "company"},
	}})
	require.NoError(t, err)

	s := memstore.New()
	s.Sources().Put(
		models.Entity{Ref: models.EntityRef{Table: "leads", ID: "1"}, Active: true, Fields: map[string]any{
			"email": "joe@joes.com", "company": "Joe's Restaurant",
		}},
		models.Entity{Ref: models.EntityRef{Table: "leads", ID: "2"}, Active: true, Fields: map[string]any{
			"email": "JOE@joes.com", "company": "Joe's Restaurant LLC", "phone": "555-123-4567",
		}},
	)

	engine, err := matching.NewEngine(logger)
	require.NoError(t, err)
	merger := merging.NewEngine(merging.Stores{
		Tx:         s,
		Candidates: s.Candidates(),
		Sources:    s.Sources(),
		Audits:     s.Audits(),
		Canonical:  s.Canonical(),
		Aliases:    s.Aliases(),
	}, catalog, lock.NewMemoryLocker(lock.Options{Mode: lock.ModeFailFast}), logger)
	scanner := scanning.NewScanner(s.Rules(), s.Candidates(), s.Sources(), catalog, engine, merger, scanning.Config{}, logger)
	reviews := review.NewService(s.Candidates(), s.Sources(), catalog, merger, logger)
	resolver := identity.NewResolver(s.Aliases(), s.Canonical(), s.Sources(), identity.DefaultMaxDepth, logger)

	container, err := inject.NewContainer("clover-test", logger)
	require.NoError(t, err)
	require.NoError(t, ectoinject.RegisterInstance[ectologger.Logger](container, logger))
	require.NoError(t, ectoinject.RegisterInstance[*review.Service](container, reviews))
	require.NoError(t, ectoinject.RegisterInstance[deduplication.Scanner](container, scanner))
	require.NoError(t, ectoinject.RegisterInstance[*rules.Service](container, rules.NewService(s.Rules(), engine, catalog, logger)))
	require.NoError(t, ectoinject.RegisterInstance[*identity.Resolver](container, resolver))
	require.NoError(t, ectoinject.RegisterInstance[store.AuditStore](container, s.Audits()))

	checker := health.NewChecker("test")
	checker.SetReady(true)

	srv := New(Config{ServiceName: "clover-test", ContainerID: container.GetContainerID()}, logger,
		append([]Registrar{checker.Register}, routes...)...,
	)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-User-ID", "reviewer@clover.io")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestServer_ReviewFlow(t *testing.T) {
	h := newTestServer(t)

	rec, rule := do(t, h, http.MethodPost, "/api/v1/rules", map[string]any{
		"name":                 "leads by email and company",
		"source_table":         "leads",
		"target_table":         "leads",
		"auto_merge_threshold": 0.95,
		"review_threshold":     0.75,
		"is_active":            true,
		"match_fields": []map[string]any{
			{"field": "email", "type": "email", "weight": 1.0},
			{"field": "company", "type": "company_name", "weight": 0.7},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotEmpty(t, rule["id"])

	rec, report := do(t, h, http.MethodPost, "/api/v1/deduplication", map[string]any{"action": "scan"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, report["candidatesCreated"])

	rec, page := do(t, h, http.MethodGet, "/api/v1/deduplication?status=pending&includeStats=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, page["total"])
	candidates := page["candidates"].([]any)
	require.Len(t, candidates, 1)
	candidate := candidates[0].(map[string]any)
	candidateID := candidate["id"].(string)
	preview := candidate["entity1Preview"].(map[string]any)
	assert.Equal(t, "joe@joes.com", preview["email"])

	rec, confirmed := do(t, h, http.MethodPost, "/api/v1/deduplication", map[string]any{
		"action": "confirm", "candidateId": candidateID, "notes": "same place",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", confirmed["status"])
	assert.Equal(t, "reviewer@clover.io", confirmed["resolvedBy"])

	rec, body := do(t, h, http.MethodPost, "/api/v1/deduplication", map[string]any{
		"action": "merge", "candidateId": candidateID, "canonicalId": "leads:99",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["kind"])

	rec, merged := do(t, h, http.MethodPost, "/api/v1/deduplication", map[string]any{
		"action": "merge", "candidateId": candidateID, "canonicalId": "1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	contact := merged["canonicalContact"].(map[string]any)
	contactID := contact["id"].(string)

	rec, resolution := do(t, h, http.MethodGet, "/api/v1/aliases/leads/2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	canonical := resolution["canonical"].(map[string]any)
	assert.Equal(t, "1", canonical["id"])

	rec, _ = do(t, h, http.MethodGet, "/api/v1/canonical-contacts/"+contactID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/merges?entityTable=leads&entityId=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var audits []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audits))
	require.Len(t, audits, 1)
	assert.Equal(t, "reviewer@clover.io", audits[0]["performed_by"])

	rec, body = do(t, h, http.MethodPost, "/api/v1/deduplication", map[string]any{
		"action": "bulk_update", "candidateIds": []string{candidateID}, "newStatus": "rejected",
	})
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Len(t, body["failed"], 1)
}

func TestServer_Errors(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{name: "unknown action", method: http.MethodPost, path: "/api/v1/deduplication", body: map[string]any{"action": "explode"}, status: http.StatusBadRequest, kind: "validation"},
		{name: "confirm without id", method: http.MethodPost, path: "/api/v1/deduplication", body: map[string]any{"action": "confirm"}, status: http.StatusBadRequest, kind: "validation"},
		{name: "unknown candidate", method: http.MethodGet, path: "/api/v1/deduplication/missing", status: http.StatusNotFound, kind: "not_found"},
		{name: "bad confidence", method: http.MethodGet, path: "/api/v1/deduplication?minConfidence=high", status: http.StatusBadRequest, kind: "validation"},
		{name: "unknown rule", method: http.MethodGet, path: "/api/v1/rules/missing", status: http.StatusNotFound, kind: "not_found"},
		{name: "invalid rule", method: http.MethodPost, path: "/api/v1/rules", body: map[string]any{"name": "x"}, status: http.StatusBadRequest, kind: "validation"},
		{name: "never seen record", method: http.MethodGet, path: "/api/v1/aliases/leads/404", status: http.StatusNotFound, kind: "not_found"},
		{name: "merges need an entity", method: http.MethodGet, path: "/api/v1/merges", status: http.StatusBadRequest, kind: "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestServer_UnregisteredServices(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	container, err := inject.NewContainer("clover-empty", logger)
	require.NoError(t, err)
	h := New(Config{ServiceName: "clover-test", ContainerID: container.GetContainerID()}, logger, routes...).Handler()

	for _, path := range []string{"/api/v1/rules", "/api/v1/deduplication", "/api/v1/aliases/leads/1"} {
		t.Run(path, func(t *testing.T) {
			rec, body := do(t, h, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, body["message"], "service unavailable")
		})
	}
}

func TestServer_Operational(t *testing.T) {
	h := newTestServer(t)

	rec, body := do(t, h, http.MethodGet, "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/api/v1/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
