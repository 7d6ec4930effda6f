package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/etofiasko/tg-bot-v2/internal/access"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"github.com/etofiasko/tg-bot-v2/internal/identity"
	"github.com/etofiasko/tg-bot-v2/internal/wizard"
	"github.com/go-chi/chi/v5"
)

const maxEventBytes = 64 << 10

type eventRequest struct {
	Text     string         `json:"text"`
	Callback string         `json:"callback"`
	Variant  wizard.Variant `json:"variant"`
}

// RegisterRoutes registers the dialogue and admin routes. Callers must be
// identified by identity.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/events", h.PostEvent)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/users.xlsx", h.ExportUsers)
			r.Get("/history.xlsx", h.ExportHistory)
		})
	})
}

// PostEvent runs one dialogue turn for the calling user.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == 0 {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_event")
		return
	}
	if req.Text == "" && req.Callback == "" {
		Error(w, http.StatusBadRequest, "empty_event")
		return
	}

	// Prevent concurrent turns of the same user.
	unlock, ok := h.turns.TryLock(userID)
	if !ok {
		h.logger.Warn("Turn already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "turn_in_progress")
		return
	}
	defer unlock()

	res, err := h.events.HandleEvent(r.Context(), wizard.Event{
		UserID:   userID,
		Handle:   identity.UsernameFromContext(r.Context()),
		Variant:  req.Variant,
		Text:     req.Text,
		Callback: req.Callback,
	})
	if err != nil {
		h.logger.Error("Turn failed", "error", err, "user_id", userID)
		JSON(w, http.StatusInternalServerError, wizard.InternalFailure())
		return
	}
	JSON(w, http.StatusOK, res)
}

// ExportUsers downloads the user list.
func (h *Handler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, h.exports.ExportUsers)
}

// ExportHistory downloads the report history.
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, h.exports.ExportHistory)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, requester int64) (*domain.Document, error)) {
	userID := identity.UserIDFromContext(r.Context())
	doc, err := fn(r.Context(), userID)
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		Error(w, http.StatusForbidden, "forbidden")
		return
	case errors.Is(err, access.ErrHistoryEmpty):
		Error(w, http.StatusNotFound, "history_empty")
		return
	case err != nil:
		h.logger.Error("Export failed", "error", err, "user_id", userID, "path", r.URL.Path)
		Error(w, http.StatusInternalServerError, "export_failed")
		return
	}

	w.Header().Set("Content-Type", doc.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Data); err != nil {
		h.logger.Debug("Failed to write export", "error", err, "user_id", userID)
	}
}
