// Package identity resolves the calling chat user of an HTTP or WebSocket request.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const (
	UserIDHeader          = "X-User-ID"
	UsernameHeader        = "X-Username"
	SessionHeaderName     = "X-Session-ID"
	DefaultSessionIDValue = "default"
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	sessionIDKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// UserIDFromContext extracts the user ID from the request context.
// Zero means no identity was established.
func UserIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(userIDKey).(int64); ok {
		return v
	}
	return 0
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the client session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithUser returns a context carrying the given identity.
func WithUser(ctx context.Context, userID int64, username, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, usernameKey, username)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func fromRequest(r *http.Request, header, query string) string {
	if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
		return v
	}
	// Browsers cannot set headers on WebSocket upgrades.
	return strings.TrimSpace(r.URL.Query().Get(query))
}

// Middleware injects the caller's chat identity. Requests without a valid
// numeric user id are rejected.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := fromRequest(r, UserIDHeader, "user_id")
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"missing or invalid user id"}`, http.StatusUnauthorized)
				return
			}

			username := fromRequest(r, UsernameHeader, "username")
			sessionID := fromRequest(r, SessionHeaderName, "session_id")

			ctx := WithUser(r.Context(), userID, username, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
