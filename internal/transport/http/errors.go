package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/pkg/logger"
)

// retryAfterSeconds: подсказка клиенту для транзиентных ошибок
const retryAfterSeconds = "1"

// writeError переводит доменные ошибки в HTTP-статус и тело ответа.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromCtx(r.Context()).ErrorContext(r.Context(), "handler."+op+":", slog.Any("err", err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound, "Room not found"
	case errors.Is(err, domain.ErrRoomInactive):
		return http.StatusGone, "Room is not active"
	case errors.Is(err, domain.ErrRoomFull):
		return http.StatusConflict, "Room is full"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrRoleDowngrade):
		return http.StatusConflict, "Role downgrade is not allowed"
	case errors.Is(err, domain.ErrCapacityBelowPublishers):
		return http.StatusConflict, "Capacity is below current publisher count"
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable, "Service temporarily unavailable, retry later"
	case errors.Is(err, domain.ErrCredentialIssuance):
		return http.StatusBadGateway, "Failed to issue room credential"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
