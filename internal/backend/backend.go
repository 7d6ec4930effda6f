// Package backend binds each dialogue turn to one of the two interchangeable
// catalog and document-engine profiles.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ID names a backend profile.
type ID string

const (
	// Primary serves the classic dialogue by default.
	Primary ID = "primary"
	// Secondary serves the extended dialogue by default.
	Secondary ID = "secondary"
)

// ErrUnknownBackend is returned for ids with no configured profile.
var ErrUnknownBackend = errors.New("unknown backend")

// ParseID validates a backend id from configuration or admin input.
func ParseID(s string) (ID, error) {
	switch id := ID(strings.ToLower(strings.TrimSpace(s))); id {
	case Primary, Secondary:
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

type contextKey int

const backendKey contextKey = 0

// WithBackend runs fn with id bound on a derived context. The caller's
// context keeps its own binding whatever fn does.
func WithBackend[T any](ctx context.Context, id ID, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(context.WithValue(ctx, backendKey, id))
}

// Current returns the backend bound to ctx, or Primary when none is.
func Current(ctx context.Context) ID {
	if id, ok := ctx.Value(backendKey).(ID); ok {
		return id
	}
	return Primary
}
