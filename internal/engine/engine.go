// Package engine connects the wizard to the external document-composition
// engine that renders trade reports.
package engine

import (
	"context"
	"errors"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
)

var (
	// ErrEngineUnavailable is returned when no engine can be reached for a backend.
	ErrEngineUnavailable = errors.New("document engine unavailable")
	// ErrBadResponse is returned when the engine reply cannot be decoded.
	ErrBadResponse = errors.New("malformed engine response")
)

// Engine renders one report per call.
type Engine interface {
	// Generate renders the request. A GenerationNoData status is not an error.
	Generate(ctx context.Context, req domain.ReportRequest) (*domain.GenerationResult, error)

	// Close releases the engine implementation.
	Close() error
}

// Loader brings up the engine implementation associated with a backend id.
type Loader interface {
	Load(ctx context.Context, backend string) (Engine, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, backend string) (Engine, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, backend string) (Engine, error) {
	return f(ctx, backend)
}
