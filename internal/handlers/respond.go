package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
)

var (
	ErrBadJSON = apperr.Validation("invalid JSON body")
	ErrBadID   = apperr.Validation("invalid id in path")
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the error taxonomy. Anything outside it is logged and
// reported as a generic internal error.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		log.Error("unhandled error", "error", err)
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
		return
	}
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}
	msg := e.Message
	if e.Kind == apperr.KindUnavailable {
		msg = "service temporarily unavailable"
	}
	WriteJSON(w, status, errorBody{Error: msg, Code: string(e.Kind)})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadID
	}
	return id, nil
}
