package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/lorrc/follow-notifier/internal/adapters/primary/http/middleware"
	apperrors "github.com/lorrc/follow-notifier/internal/core/errors"
)

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return mw.GetRequestID(ctx)
}

// ErrorResponse is the standard JSON error response format
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle processes an error and writes the appropriate HTTP response
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	requestID := GetRequestID(r.Context())

	// Check for AppError first (our custom error type)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.logError(r, appErr.StatusCode, appErr.Err, requestID)
		WriteJSON(w, appErr.StatusCode, ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		})
		return
	}

	statusCode, response := h.mapDomainError(err)
	h.logError(r, statusCode, err, requestID)
	WriteJSON(w, statusCode, response)
}

// mapDomainError converts domain errors to HTTP status codes and responses
func (h *ErrorHandler) mapDomainError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, apperrors.ErrUpstreamUnauthenticated), errors.Is(err, apperrors.ErrNoSession):
		return http.StatusUnauthorized, ErrorResponse{
			Error: "Authentication with the upstream platform failed",
			Code:  "UNAUTHENTICATED",
		}
	case errors.Is(err, apperrors.ErrUpstreamTransient):
		return http.StatusBadGateway, ErrorResponse{
			Error: "The upstream platform is temporarily unavailable",
			Code:  "UPSTREAM_UNAVAILABLE",
		}
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{
			Error: "Resource not found",
			Code:  "NOT_FOUND",
		}
	case errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "BAD_REQUEST",
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error: "An unexpected error occurred",
			Code:  "INTERNAL_ERROR",
		}
	}
}

func (h *ErrorHandler) logError(r *http.Request, status int, err error, requestID string) {
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	}
	if requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	if status >= 500 {
		h.logger.Error("request failed", attrs...)
	} else {
		h.logger.Warn("request rejected", attrs...)
	}
}
