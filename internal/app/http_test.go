package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
)

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()

	rr := doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Pinger = fakePinger{pingFn: func(context.Context) error { return errors.New("connection refused") }}
	})
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()

	rr := doJSON(t, h, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	payload := decodeMap(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload["status"])
	}
}

func TestAuthFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()
	creds := map[string]any{"email": "worker@example.com", "password": "secret123"}

	rr := doJSON(t, h, http.MethodPost, "/api/auth/sign-up", "", map[string]any{
		"email": "worker@example.com", "password": "secret123", "profile": map[string]string{"display_name": "Worker"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("sign-up: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodPost, "/api/auth/sign-up", "", creds)
	if rr.Code != http.StatusConflict || decodeMap(t, rr)["code"] != "EMAIL_EXISTS" {
		t.Fatalf("duplicate sign-up: got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodPost, "/api/auth/sign-in", "", map[string]any{"email": "worker@example.com", "password": "wrong"})
	if rr.Code != http.StatusBadRequest || decodeMap(t, rr)["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("bad sign-in: got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodPost, "/api/auth/sign-in", "", creds)
	if rr.Code != http.StatusOK {
		t.Fatalf("sign-in: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var session backend.AuthSession
	if err := json.Unmarshal(rr.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" || session.DisplayName != "Worker" {
		t.Fatalf("unexpected session payload: %+v", session)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/session", session.AccessToken, nil)
	payload := decodeMap(t, rr)
	if payload["authenticated"] != true || payload["tier"] != "authenticated" {
		t.Fatalf("unexpected /api/session payload: %v", payload)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", rr.Code)
	}
	rr = doJSON(t, h, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token: expected 401, got %d", rr.Code)
	}
}

func TestTableReads(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()

	rr := doJSON(t, h, http.MethodGet, "/api/tables/machines?status=eq.operational&order=name.desc", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var rows []backend.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows) != 2 || rows[0].String("name") != "Schweißroboter Beta" {
		t.Fatalf("unexpected rows: %v", rows)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/tables/products?count=1", "", nil)
	if got := decodeMap(t, rr)["count"]; got != float64(3) {
		t.Fatalf("expected count 3, got %v", got)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/tables/employees", "", nil)
	if rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty JSON array, got %q", rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/api/tables/users", "", nil)
	if rr.Code != http.StatusNotFound || decodeMap(t, rr)["code"] != "UNKNOWN_TABLE" {
		t.Fatalf("unknown table: got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/api/tables/machines?status=like.op", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: expected 400, got %d", rr.Code)
	}
}

func TestTableWritesAreGated(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()
	patch := map[string]any{"status": "maintenance"}

	rr := doJSON(t, h, http.MethodPatch, "/api/tables/machines/1", "", patch)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous write: expected 401, got %d", rr.Code)
	}

	demo := env.register(t, "demo@mes-system.com")
	rr = doJSON(t, h, http.MethodPatch, "/api/tables/machines/1", demo.AccessToken, patch)
	if rr.Code != http.StatusForbidden || decodeMap(t, rr)["code"] != "DEMO_READ_ONLY" {
		t.Fatalf("demo write: got %d body=%s", rr.Code, rr.Body.String())
	}

	worker := env.register(t, "worker@example.com")
	rr = doJSON(t, h, http.MethodPatch, "/api/tables/machines/1", worker.AccessToken, patch)
	if rr.Code != http.StatusOK || decodeMap(t, rr)["status"] != "maintenance" {
		t.Fatalf("authenticated write: got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodPost, "/api/tables/products", worker.AccessToken, map[string]any{"model": "Model Y"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("insert: expected 201, got %d", rr.Code)
	}
	id := decodeMap(t, rr)["id"]

	rr = doJSON(t, h, http.MethodDelete, "/api/tables/products/"+jsonID(id), worker.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, h, http.MethodDelete, "/api/tables/products/"+jsonID(id), worker.AccessToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rr.Code)
	}
}

func jsonID(v any) string {
	return backend.Record{"id": v}.ID()
}

func TestSearchAndDiagnosticsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()

	rr := doJSON(t, h, http.MethodGet, "/api/search?q=gamma", "", nil)
	payload := decodeMap(t, rr)
	if payload["engine"] != "scan" || payload["total"] != float64(1) {
		t.Fatalf("unexpected search payload: %v", payload)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/search?limit=0", "", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad limit: expected 422, got %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/diagnostics", "", nil)
	if rr.Code != http.StatusOK || decodeMap(t, rr)["ok"] != true {
		t.Fatalf("diagnostics: got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()

	doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	rr := doJSON(t, h, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("shopfloor_http_requests_total")) {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestReadyEndpointReportsSearchEngine(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()

	rr := doJSON(t, h, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	checks, _ := decodeMap(t, rr)["checks"].(map[string]any)
	searchCheck, _ := checks["search"].(map[string]any)
	if searchCheck["engine"] != "scan" {
		t.Fatalf("expected scan engine in readiness checks, got %v", checks)
	}
}

func TestMalformedBodyIsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewHTTPServer(env.service, "*", zap.NewNop()).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-in", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := decodeMap(t, rr)["code"]; code != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %v", code)
	}
}
