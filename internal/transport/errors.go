package transport

import (
	"errors"
	"strconv"
	"time"
)

// ErrUnauthorized marks a 401 response. The session controller catches it,
// performs one silent re-login, and retries the call exactly once; a
// second ErrUnauthorized is terminal.
var ErrUnauthorized = errors.New("401 unauthorized")

// TerminalHTTPError marks a 4xx response other than 401/429: the
// operation fails outright and is never retried.
type TerminalHTTPError struct {
	StatusCode int
	Body       string
}

func (e *TerminalHTTPError) Error() string {
	return "terminal http status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

// retryableError wraps a transient failure (connection reset, 5xx, or
// 429) along with an optional server-directed delay parsed from
// Retry-After, consumed by withRetry.
type retryableError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }
