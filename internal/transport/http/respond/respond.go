package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
)

// errorResponse is the JSON error body shared by every handler. The
// current version is set only on conflicts so the caller can re-read and
// retry with a fresh token.
type errorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	CurrentVersion int64  `json:"currentVersion,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// Err maps service errors onto HTTP statuses. Conflicts mean the caller
// lost a race and can retry; unprocessable means the request was
// well-formed but the mutation is not allowed from the current state.
func Err(w http.ResponseWriter, err error) {
	var conflict *order.ConflictError
	if errors.As(err, &conflict) {
		JSON(w, http.StatusConflict, errorResponse{
			Error:          "version_conflict",
			Message:        conflict.Error(),
			CurrentVersion: conflict.CurrentVersion,
		})
		return
	}
	var transition *order.InvalidTransitionError
	if errors.As(err, &transition) {
		JSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "invalid_transition",
			Message: transition.Error(),
		})
		return
	}

	switch {
	case errors.Is(err, order.ErrNotFound):
		JSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, order.ErrTerminalOrder),
		errors.Is(err, order.ErrEmptyDelta),
		errors.Is(err, order.ErrInvalidDelta),
		errors.Is(err, order.ErrUnknownItem):
		JSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "unprocessable", Message: err.Error()})
	case errors.Is(err, order.ErrInvalidDraft), errors.Is(err, order.ErrInvalidStatus):
		JSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
	default:
		JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal server error"})
	}
}

// BadRequest writes a 400 with the given message.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: message})
}

// Unauthorized writes a 401 with the given message.
func Unauthorized(w http.ResponseWriter, message string) {
	JSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: message})
}
