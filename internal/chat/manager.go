// Package chat provides the WebSocket chat transport and delivery of results
// produced outside of a turn.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/etofiasko/tg-bot-v2/internal/wizard"
)

// ErrNotConnected is returned by Notify when the user has no open connection.
var ErrNotConnected = errors.New("user not connected")

const writeTimeout = 10 * time.Second

// Manager tracks the open chat connections of each user, one per client session.
type Manager struct {
	mu     sync.RWMutex
	active map[int64]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewManager creates a new connection manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		active: make(map[int64]map[string]*websocket.Conn),
		logger: logger,
	}
}

// GetActive returns the connection of a user's client session.
func (m *Manager) GetActive(userID int64, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Connections returns every open connection of a user.
func (m *Manager) Connections(userID int64) []*websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(m.active[userID]))
	for _, c := range m.active[userID] {
		conns = append(conns, c)
	}
	return conns
}

// Register adds a connection, replacing an older one of the same client session.
func (m *Manager) Register(userID int64, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = conn
	m.logger.Info("Chat connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection unless it was already replaced.
func (m *Manager) Unregister(userID int64, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			m.logger.Info("Chat connection unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseAll closes every connection, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}

// Notify sends a result to every open connection of the user. It succeeds
// when at least one connection received it.
func (m *Manager) Notify(ctx context.Context, userID int64, res *wizard.Result) error {
	conns := m.Connections(userID)
	if len(conns) == 0 {
		return fmt.Errorf("notify user %d: %w", userID, ErrNotConnected)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	var errs []error
	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(conns) {
		return fmt.Errorf("notify user %d: %w", userID, errors.Join(errs...))
	}
	return nil
}

var _ wizard.Notifier = (*Manager)(nil)
