package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/etofiasko/tg-bot-v2/internal/identity"
	"github.com/etofiasko/tg-bot-v2/internal/shared"
	"github.com/etofiasko/tg-bot-v2/internal/wizard"
	"github.com/google/uuid"
)

// EventHandler processes one dialogue turn.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev wizard.Event) (*wizard.Result, error)
}

// inbound is a client frame. Type "ping" is answered with a pong; any other
// frame is a dialogue event.
type inbound struct {
	Type     string         `json:"type,omitempty"`
	Text     string         `json:"text,omitempty"`
	Callback string         `json:"callback,omitempty"`
	Variant  wizard.Variant `json:"variant,omitempty"`
}

// WebSocketHandler serves the chat dialogue over WebSocket.
type WebSocketHandler struct {
	events         EventHandler
	conns          *Manager
	turns          *shared.TurnLocks
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(events EventHandler, conns *Manager, turns *shared.TurnLocks, allowedOrigins []string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		events:         events,
		conns:          conns,
		turns:          turns,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID, identity.UsernameFromContext(r.Context()))
	h.logger.Info("Chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID int64, username string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			// Plain text frames are typed messages.
			msg = inbound{Text: string(message)}
		}

		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
			continue
		}

		res := h.turn(ctx, wizard.Event{
			UserID:   userID,
			Handle:   username,
			Variant:  msg.Variant,
			Text:     msg.Text,
			Callback: msg.Callback,
		})
		if err := h.writeJSON(ctx, ws, res); err != nil {
			h.logger.Debug("Failed to send turn result", "error", err, "user_id", userID)
			return
		}
	}
}

// turn runs one event under the user's turn lock.
func (h *WebSocketHandler) turn(ctx context.Context, ev wizard.Event) any {
	unlock, ok := h.turns.TryLock(ev.UserID)
	if !ok {
		return map[string]string{"error": "turn_in_progress"}
	}
	defer unlock()

	turnID := uuid.NewString()
	start := time.Now()
	res, err := h.events.HandleEvent(ctx, ev)
	if err != nil {
		h.logger.Error("Turn failed", "turn_id", turnID, "user_id", ev.UserID, "error", err)
		return wizard.InternalFailure()
	}
	h.logger.Debug("Turn processed",
		"turn_id", turnID,
		"user_id", ev.UserID,
		"state", res.State,
		"ended", res.Ended,
		"duration", time.Since(start))
	return res
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
