package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/cbuike/wallet-service/internal/apperrors"
)

type errorResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ErrorHandler renders domain failures as JSON with a matching status. Anything outside the
// domain taxonomy becomes an opaque 500 and is logged.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := StatusFor(err)
		message := err.Error()

		var fe *fiber.Error
		switch {
		case apperrors.IsDomain(err):
		case errors.As(err, &fe):
			status = fe.Code
			message = fe.Message
		default:
			requestID := RequestIDFrom(c)
			logger.ErrorContext(c.UserContext(), "unhandled error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", requestID),
				slog.Any("error", err),
			)
			message = "internal server error"
		}

		return c.Status(status).JSON(errorResponse{
			Status:  status,
			Error:   http.StatusText(status),
			Code:    apperrors.Code(err),
			Message: message,
		})
	}
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrMissingIdempotencyKey):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrDuplicateOperation),
		errors.Is(err, apperrors.ErrInsufficientFunds),
		errors.Is(err, apperrors.ErrInvalidAmount),
		errors.Is(err, apperrors.ErrInvalidTransactionType),
		errors.Is(err, apperrors.ErrSelfTransfer):
		return http.StatusConflict
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return http.StatusInternalServerError
}
