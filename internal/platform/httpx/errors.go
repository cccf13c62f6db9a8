package httpx

import (
	"errors"
	"net/http"

	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	if ve, ok := shared.AsValidationError(err); ok {
		ValidationProblem(w, ve.Message, ve.Fields)
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrUnauthorized),
		errors.Is(err, shared.ErrInvalidCredentials),
		errors.Is(err, shared.ErrTokenInvalid),
		errors.Is(err, shared.ErrApplicationInactive):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
