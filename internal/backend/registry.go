package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/etofiasko/tg-bot-v2/internal/engine"
)

// slot holds the engine of one backend id. load serializes loads of that id
// only; mu guards the published handle and is never held across a load.
type slot struct {
	load sync.Mutex

	mu    sync.RWMutex
	eng   engine.Engine
	stale bool
	loads int
}

// current returns the published engine when it can serve turns. Engines that
// track their transport state are reloaded once it breaks.
func (s *slot) current() engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.eng == nil || s.stale {
		return nil
	}
	if hc, ok := s.eng.(interface{ Healthy() bool }); ok && !hc.Healthy() {
		return nil
	}
	return s.eng
}

// take unpublishes the engine and returns it for closing.
func (s *slot) take() engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng := s.eng
	s.eng, s.stale = nil, false
	return eng
}

// Registry holds at most one loaded engine per backend id. Turns that hit a
// loaded id only take that id's read lock; a load of one id never blocks
// turns on another, and an id is never loaded twice for the same invalidation.
type Registry struct {
	loader engine.Loader
	logger *slog.Logger

	mu    sync.Mutex
	slots map[ID]*slot
}

// NewRegistry creates a registry that loads engines through loader.
func NewRegistry(loader engine.Loader, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		loader: loader,
		logger: logger,
		slots:  make(map[ID]*slot),
	}
}

func (r *Registry) slot(id ID) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		s = &slot{}
		r.slots[id] = s
	}
	return s
}

// Acquire returns the engine for id, loading it if it is not loaded yet or
// was invalidated. A load failure only affects the caller.
func (r *Registry) Acquire(ctx context.Context, id ID) (engine.Engine, error) {
	s := r.slot(id)
	if eng := s.current(); eng != nil {
		return eng, nil
	}

	s.load.Lock()
	defer s.load.Unlock()

	// Another turn may have finished the load while we waited.
	if eng := s.current(); eng != nil {
		return eng, nil
	}
	if old := s.take(); old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warn("Failed to unload stale engine", "backend", id, "error", err)
		}
	}

	eng, err := r.loader.Load(ctx, string(id))
	if err != nil {
		r.logger.Error("Engine load failed", "backend", id, "error", err)
		return nil, fmt.Errorf("load engine for %s: %w", id, err)
	}
	if eng == nil {
		return nil, fmt.Errorf("load engine for %s: %w", id, engine.ErrEngineUnavailable)
	}

	s.mu.Lock()
	s.eng = eng
	s.loads++
	loads := s.loads
	s.mu.Unlock()
	r.logger.Info("Engine loaded", "backend", id, "loads", loads)
	return eng, nil
}

// Invalidate marks the engine for id stale; the next Acquire reloads it.
func (r *Registry) Invalidate(id ID) {
	s := r.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng != nil {
		s.stale = true
		r.logger.Info("Engine invalidated", "backend", id)
	}
}

// Loads reports how many times id has been loaded.
func (r *Registry) Loads(id ID) int {
	s := r.slot(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loads
}

// Loaded reports whether a usable engine is loaded for id.
func (r *Registry) Loaded(id ID) bool {
	return r.slot(id).current() != nil
}

// Close unloads every engine.
func (r *Registry) Close() error {
	r.mu.Lock()
	slots := make(map[ID]*slot, len(r.slots))
	for id, s := range r.slots {
		slots[id] = s
	}
	r.mu.Unlock()

	var errs []error
	for id, s := range slots {
		if eng := s.take(); eng != nil {
			if err := eng.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close engine %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}
