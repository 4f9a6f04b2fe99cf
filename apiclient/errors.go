package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is returned for non-2xx responses and for envelopes with
// success=false.
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("apiclient: %s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// UserMessage is the server-provided message, suitable for display.
func (e *Error) UserMessage() string { return e.Message }

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

func hasStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
