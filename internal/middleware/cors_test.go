package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantCode    int
		wantAllow   string
		wantCreds   string
		wantHeaders bool
	}{
		{"same origin request", []string{"https://app.example"}, http.MethodGet, "", http.StatusTeapot, "", "", false},
		{"explicit origin", []string{"https://app.example"}, http.MethodPost, "https://app.example", http.StatusTeapot, "https://app.example", "true", true},
		{"wildcard without credentials", []string{"*"}, http.MethodGet, "https://other.example", http.StatusTeapot, "https://other.example", "", true},
		{"preflight allowed", []string{"*"}, http.MethodOptions, "https://other.example", http.StatusNoContent, "https://other.example", "", true},
		{"preflight refused", nil, http.MethodOptions, "https://evil.example", http.StatusForbidden, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/events", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.origins)(next).ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Fatalf("allow origin %q, want %q", got, tt.wantAllow)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Fatalf("credentials %q, want %q", got, tt.wantCreds)
			}
			if got := w.Header().Get("Access-Control-Allow-Headers"); strings.Contains(got, "X-User-ID") != tt.wantHeaders {
				t.Fatalf("allow headers %q", got)
			}
		})
	}
}
