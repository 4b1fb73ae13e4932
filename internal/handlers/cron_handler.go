package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/services"
)

type ExpiryReconciler interface {
	Run(ctx context.Context) (services.ReconcileResult, error)
}

// CronHandler serves scheduler-triggered endpoints. The secret check lives in middleware.
type CronHandler struct {
	Reconciler ExpiryReconciler
	Logger     *slog.Logger
}

// BountyExpiry handles GET /cron/bounty-expiry. Partial failures still report counts.
func (h *CronHandler) BountyExpiry(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reconciler.Run(r.Context())
	if err != nil {
		h.Logger.Error("cron reconciliation finished with errors", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "reconciliation incomplete", "result": res})
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Healthz handles GET /healthz.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
