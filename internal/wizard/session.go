package wizard

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Session is one user's dialogue in progress.
type Session struct {
	UserID  int64
	Handle  string
	Variant Variant
	State   StepID
	// Fields maps a step id to its normalized answer.
	Fields    map[string]string
	Advanced  bool
	UpdatedAt time.Time
}

func (s *Session) clone() *Session {
	c := *s
	c.Fields = maps.Clone(s.Fields)
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	return &c
}

// Store keeps sessions in memory, keyed by user id. Sessions are copied in
// and out so callers never share a Fields map.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session), now: time.Now}
}

// Get returns a copy of the user's session.
func (s *Store) Get(userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Put stores a copy of sess and stamps its UpdatedAt.
func (s *Store) Put(sess *Session) {
	c := sess.clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = s.now()
	sess.UpdatedAt = c.UpdatedAt
	s.sessions[c.UserID] = c
}

// Clear drops the user's session.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than ttl and returns how many it dropped.
func (s *Store) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	n := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is canceled.
func (s *Store) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ttl); n > 0 {
					slog.Info("Session sweeper dropped idle sessions", "count", n, "remaining", s.Len())
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
