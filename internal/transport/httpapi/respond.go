package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/service/orders"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError переводит ошибку сервиса в HTTP-статус.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case orders.IsValidationError(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrDuplicateKey):
		writeError(w, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrOrderStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", err.Error())
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
