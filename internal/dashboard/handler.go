// Package dashboard serves the signed-in user's own account view.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/handlers"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/middleware"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/repository"
)

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type NotificationReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID uuid.UUID, id int64) error
}

type KeyLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
}

type Handler struct {
	users         UserReader
	notifications NotificationReader
	keys          KeyLister
	log           *slog.Logger
}

func NewHandler(users UserReader, notifications NotificationReader, keys KeyLister, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{users: users, notifications: notifications, keys: keys, log: log}
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromCtx(r.Context())
	u, err := h.users.GetByID(r.Context(), caller.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = apperr.NotFound("user not found")
		}
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, u)
}

// GET /api/v1/account/notifications?unread=true&limit=50
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromCtx(r.Context())
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 200 {
			handlers.WriteError(w, h.log, apperr.Validation("limit must be between 1 and 200"))
			return
		}
		limit = n
	}
	unread := r.URL.Query().Get("unread") == "true"
	list, err := h.notifications.ListByUser(r.Context(), caller.ID, unread, limit)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, list)
}

// POST /api/v1/account/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromCtx(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		handlers.WriteError(w, h.log, handlers.ErrBadID)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), caller.ID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = apperr.NotFound("notification %d not found", id)
		}
		handlers.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/account/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromCtx(r.Context())
	keys, err := h.keys.ListByUser(r.Context(), caller.ID)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, keys)
}
