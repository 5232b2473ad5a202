package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sentrycam/internal/auth"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	users, err := auth.NewService(auth.ServiceConfig{Store: auth.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	return NewHandler(Config{Users: users})
}

func dispatch(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.Dispatch(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestVersionProbe(t *testing.T) {
	h := newTestHandler(t)
	for _, path := range []string{"/api", "/api/"} {
		rec := dispatch(h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("%s: unexpected allow origin %q", path, got)
		}
		payload := decodeBody(t, rec)
		versions, ok := payload["versions"].([]any)
		if !ok || len(versions) == 0 || versions[0] != "1.0" {
			t.Fatalf("%s: unexpected version list %v", path, payload["versions"])
		}
	}
}

func TestDispatchUnsupportedVersion(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodGet, "/api/9.9/users", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	versions, ok := payload["versions"].([]any)
	if !ok || len(versions) == 0 {
		t.Fatalf("expected supported version list in body, got %v", payload)
	}
}

func TestDispatchMissingResource(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodGet, "/api/1.0", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDispatchUnmappedOperation(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodPut, "/api/1.0/unknownresource", `{"x":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDispatchIgnoresMalformedBody(t *testing.T) {
	h := newTestHandler(t)
	// Malformed JSON is treated as no body, which addUser then rejects.
	rec := dispatch(h, http.MethodPost, "/api/1.0/users", `{"username": "x"`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUserLifecycleThroughAPI(t *testing.T) {
	h := newTestHandler(t)

	rec := dispatch(h, http.MethodPost, "/api/1.0/users", `{"username":"watcher","password":"long enough password"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d body %s", rec.Code, rec.Body.String())
	}

	rec = dispatch(h, http.MethodPost, "/api/1.0/users", `{"username":"watcher","password":"long enough password"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate add: expected 409, got %d", rec.Code)
	}

	rec = dispatch(h, http.MethodGet, "/api/1.0/users", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	users, ok := payload["users"].([]any)
	if !ok || len(users) != 1 || users[0] != "watcher" {
		t.Fatalf("list: unexpected users %v", payload["users"])
	}

	rec = dispatch(h, http.MethodPut, "/api/1.0/users/watcher", `{"password":"replacement password"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d body %s", rec.Code, rec.Body.String())
	}

	rec = dispatch(h, http.MethodPut, "/api/1.0/users/ghost", `{"password":"replacement password"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("edit unknown: expected 404, got %d", rec.Code)
	}

	rec = dispatch(h, http.MethodDelete, "/api/1.0/users/watcher", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", rec.Code)
	}

	rec = dispatch(h, http.MethodDelete, "/api/1.0/users/watcher", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("repeat remove: expected 404, got %d", rec.Code)
	}
}

func TestAddUserRequiresBody(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodPost, "/api/1.0/users", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAddUserRejectsShortPassword(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodPost, "/api/1.0/users", `{"username":"watcher","password":"short"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEditUserRequiresPathSegment(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodPut, "/api/1.0/users", `{"password":"replacement password"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodGet, "/api/1.0/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if store, ok := payload["store"].(bool); !ok || !store {
		t.Fatalf("expected reachable store, got %v", payload["store"])
	}
	if _, ok := payload["media"]; !ok {
		t.Fatal("expected media snapshot in status")
	}
}

func TestDevicesWithoutEngine(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodGet, "/api/1.0/devices", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a media engine, got %d", rec.Code)
	}
}

func TestDebugToggle(t *testing.T) {
	users, err := auth.NewService(auth.ServiceConfig{Store: auth.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	applied := make(chan bool, 1)
	h := NewHandler(Config{
		Users:    users,
		SetDebug: func(enabled bool) { applied <- enabled },
	})

	rec := dispatch(h, http.MethodPost, "/api/1.0/debug", `{"enabled":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body %s", rec.Code, rec.Body.String())
	}
	select {
	case enabled := <-applied:
		if !enabled {
			t.Fatal("expected debug to be enabled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debug toggle was never applied")
	}

	rec = dispatch(h, http.MethodPost, "/api/1.0/debug", `{"enabled":"yes"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-boolean body: expected 400, got %d", rec.Code)
	}
}

func TestDebugToggleUnconfigured(t *testing.T) {
	h := newTestHandler(t)
	rec := dispatch(h, http.MethodPost, "/api/1.0/debug", `{"enabled":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when debug control is absent, got %d", rec.Code)
	}
}
