package backend

import (
	"context"
	"fmt"

	"github.com/etofiasko/tg-bot-v2/internal/catalog"
	"github.com/etofiasko/tg-bot-v2/internal/engine"
)

// Profile is the catalog half of a backend; its engine lives in the Registry.
type Profile struct {
	ID      ID
	Catalog catalog.Catalog
}

// Selector resolves the backend bound to a turn's context.
type Selector struct {
	profiles map[ID]Profile
	registry *Registry
}

// NewSelector creates a selector over the given profiles.
func NewSelector(registry *Registry, profiles ...Profile) *Selector {
	m := make(map[ID]Profile, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p
	}
	return &Selector{profiles: m, registry: registry}
}

// Catalog returns the catalog of the backend bound to ctx.
func (s *Selector) Catalog(ctx context.Context) (catalog.Catalog, error) {
	id := Current(ctx)
	p, ok := s.profiles[id]
	if !ok || p.Catalog == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	return p.Catalog, nil
}

// Engine returns the engine of the backend bound to ctx, loading it if needed.
func (s *Selector) Engine(ctx context.Context) (engine.Engine, error) {
	id := Current(ctx)
	if _, ok := s.profiles[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	return s.registry.Acquire(ctx, id)
}

// Invalidate forces the next Engine call for id to reload and drops any
// cached catalog lists of that backend.
func (s *Selector) Invalidate(id ID) error {
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	s.registry.Invalidate(id)
	if f, ok := p.Catalog.(interface{ Flush() }); ok {
		f.Flush()
	}
	return nil
}
