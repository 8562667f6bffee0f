package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/datapump/internal/api/response"
	"github.com/kiranshivaraju/datapump/internal/apperrors"
)

// writeError maps err onto the error envelope. Internal details are only
// logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	code := errorCode(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		message = "An unexpected error occurred"
	}

	var details any
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Field != "" {
		details = map[string]string{"field": appErr.Field}
	}
	response.Error(w, status, code, message, details)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return "INVALID_REQUEST"
	case errors.Is(err, apperrors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, apperrors.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, apperrors.ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, apperrors.ErrSubmission):
		return "SUBMISSION_FAILED"
	case errors.Is(err, apperrors.ErrServiceResponse):
		return "UPSTREAM_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
