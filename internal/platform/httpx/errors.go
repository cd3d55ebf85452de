// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors handlers wrap to pick a status code.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrValidation    = errors.New("validation failed")
	ErrUnprocessable = errors.New("unprocessable input")
	ErrTooLarge      = errors.New("request body too large")
)

// RespondError maps wrapped sentinel errors to RFC7807 responses.
func RespondError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnprocessable):
		Problem(w, http.StatusUnprocessableEntity, "Unprocessable Input", err.Error())
	case errors.Is(err, ErrTooLarge), errors.As(err, &maxBytes):
		Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
