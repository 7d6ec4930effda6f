package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareHeaders(t *testing.T) {
	var gotID int64
	var gotName, gotSession string
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
		gotName = UsernameFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	req.Header.Set(UserIDHeader, "42")
	req.Header.Set(UsernameHeader, "alice")
	req.Header.Set(SessionHeaderName, "tab-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotID != 42 || gotName != "alice" || gotSession != "tab-1" {
		t.Fatalf("unexpected identity: %d %q %q", gotID, gotName, gotSession)
	}
}

func TestMiddlewareQueryFallback(t *testing.T) {
	var gotID int64
	var gotSession string
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/chat?user_id=7&session_id=bad%20id", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotID != 7 {
		t.Fatalf("expected user 7, got %d", gotID)
	}
	if gotSession != DefaultSessionIDValue {
		t.Fatalf("invalid session id should fall back to default, got %q", gotSession)
	}
}

func TestMiddlewareRejectsMissingUser(t *testing.T) {
	called := false
	h := Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	for _, raw := range []string{"", "abc", "-5", "0"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if raw != "" {
			req.Header.Set(UserIDHeader, raw)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("user id %q: expected 401, got %d", raw, w.Code)
		}
	}
	if called {
		t.Fatal("handler called without identity")
	}
}
