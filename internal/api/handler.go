// Package api provides HTTP handlers for the report wizard.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"github.com/etofiasko/tg-bot-v2/internal/shared"
	"github.com/etofiasko/tg-bot-v2/internal/wizard"
)

// EventHandler processes one dialogue turn.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev wizard.Event) (*wizard.Result, error)
}

// Exporter produces the admin spreadsheet exports.
type Exporter interface {
	ExportUsers(ctx context.Context, requester int64) (*domain.Document, error)
	ExportHistory(ctx context.Context, requester int64) (*domain.Document, error)
}

// Handler provides the dialogue and admin endpoints.
type Handler struct {
	events  EventHandler
	exports Exporter
	turns   *shared.TurnLocks
	logger  *slog.Logger
}

// NewHandler creates a new Handler. turns is shared with the WebSocket
// transport so a user's turns are serialized across both.
func NewHandler(events EventHandler, exports Exporter, turns *shared.TurnLocks, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		events:  events,
		exports: exports,
		turns:   turns,
		logger:  logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
