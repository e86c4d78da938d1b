package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/docsync-api/internal/api/shared"
	"github.com/phrazzld/docsync-api/internal/batch"
	"github.com/phrazzld/docsync-api/internal/platform/postgres"
	"github.com/phrazzld/docsync-api/internal/platform/vectordb"
	"github.com/phrazzld/docsync-api/internal/service/auth"
	"github.com/phrazzld/docsync-api/internal/syncbridge"
	"github.com/phrazzld/docsync-api/internal/task"
)

// ErrRunHistoryDisabled is returned by run history routes when no database
// is configured.
var ErrRunHistoryDisabled = errors.New("run history is disabled")

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking their messages.
func MapErrorToStatusCode(err error) int {
	var storeErr *vectordb.Error
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongAudience),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case errors.Is(err, vectordb.ErrInvalidInput),
		errors.Is(err, postgres.ErrInvalidEntity),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	case errors.Is(err, postgres.ErrNotFound),
		errors.Is(err, ErrRunHistoryDisabled):
		return http.StatusNotFound

	case errors.Is(err, postgres.ErrDuplicate):
		return http.StatusConflict

	case errors.As(err, &storeErr):
		switch storeErr.Code {
		case vectordb.StatusDataDuplication:
			return http.StatusConflict
		case vectordb.StatusDataError:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadGateway
		}

	case errors.Is(err, vectordb.ErrRequestFailed),
		errors.Is(err, batch.ErrFatal):
		return http.StatusBadGateway

	case errors.Is(err, syncbridge.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var storeErr *vectordb.Error
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongAudience),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)
	case errors.Is(err, vectordb.ErrInvalidInput):
		return "Invalid request data"
	case errors.Is(err, postgres.ErrInvalidEntity):
		return "Invalid entity data"

	case errors.Is(err, ErrRunHistoryDisabled):
		return "Run history is not enabled"
	case errors.Is(err, postgres.ErrNotFound):
		return "Not found"
	case errors.Is(err, postgres.ErrDuplicate):
		return "Already exists"

	case errors.As(err, &storeErr):
		return "Vector store rejected the request: " + vectordb.StatusText(storeErr.Code)
	case errors.Is(err, vectordb.ErrRequestFailed),
		errors.Is(err, batch.ErrFatal):
		return "Vector store request failed"

	case errors.Is(err, syncbridge.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"

	case errors.Is(err, task.ErrQueueClosed):
		return "Service is shutting down"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the response for err. A non-empty message overrides
// the mapped one.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "Field validation") {
		// Example format: "Key: 'Req.Name' Error:Field validation for 'Name' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "too short"
	case "max", "lte", "lt":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
