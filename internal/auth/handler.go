package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/handlers"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/middleware"
)

type RegisterRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	DisplayName   string `json:"displayName"`
	WalletAddress string `json:"walletAddress"`
	IsAgent       bool   `json:"isAgent"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	Label string `json:"label"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	KeyPrefix string `json:"key_prefix"`
	Label     string `json:"label"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.WriteError(w, h.log, handlers.ErrBadJSON)
		return
	}
	u, err := h.svc.Register(r.Context(), RegisterInput{
		Email:         req.Email,
		Password:      req.Password,
		DisplayName:   req.DisplayName,
		WalletAddress: req.WalletAddress,
		IsAgent:       req.IsAgent,
	})
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, u)
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.WriteError(w, h.log, handlers.ErrBadJSON)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// CreateAPIKey handles POST /api/v1/auth/api-keys. The body is optional; the raw
// key is only ever returned here.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	var req CreateAPIKeyRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			handlers.WriteError(w, h.log, handlers.ErrBadJSON)
			return
		}
	}
	raw, k, err := h.svc.CreateAPIKey(r.Context(), u.ID, req.Label)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	h.log.Info("api key created", "user_id", u.ID, "key_id", k.ID)
	handlers.WriteJSON(w, http.StatusCreated, APIKeyResponse{ID: k.ID.String(), Key: raw, KeyPrefix: k.KeyPrefix, Label: k.Label})
}

// RevokeAPIKey handles DELETE /api/v1/auth/api-keys/{id}.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.WriteError(w, h.log, handlers.ErrBadID)
		return
	}
	if err := h.svc.RevokeAPIKey(r.Context(), u.ID, id); err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
