package fitness

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError carries the status and body of a failed provider request
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider request failed with status %d: %s", e.StatusCode, e.Body)
}

func statusIs(err error, code int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}

// IsNotFound reports whether the provider returned 404. The external
// activity was deleted; a permanent failure, never retried.
func IsNotFound(err error) bool {
	return statusIs(err, http.StatusNotFound)
}

// IsUnauthorized reports whether the provider returned 401
func IsUnauthorized(err error) bool {
	return statusIs(err, http.StatusUnauthorized)
}

// IsTooManyRequests reports whether the provider returned 429
func IsTooManyRequests(err error) bool {
	return statusIs(err, http.StatusTooManyRequests)
}

// IsTransient reports whether the failure should be retried: rate limits,
// server errors, invalid tokens, and anything that is not a typed HTTP
// error (network failures, timeouts).
func IsTransient(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return true
	}
	switch {
	case httpErr.StatusCode == http.StatusTooManyRequests:
		return true
	case httpErr.StatusCode == http.StatusUnauthorized:
		return true
	case httpErr.StatusCode >= 500:
		return true
	}
	return false
}
