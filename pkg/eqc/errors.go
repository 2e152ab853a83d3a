package eqc

import (
	"errors"
	"fmt"
)

// Error taxonomy for registry calls. Resolution treats these differently:
// authentication failures halt external lookups for the rest of the batch,
// not-found is an expected "no match", and the retried classes surface as
// "external lookup unavailable for this record".
var (
	// ErrAuthentication covers a missing token at construction and HTTP 401.
	// Never retried; token refresh is the host platform's concern.
	ErrAuthentication = errors.New("eqc: authentication failed")

	// ErrNotFound is HTTP 404: the registry has no match. Not a failure.
	ErrNotFound = errors.New("eqc: no match")

	// ErrRateLimitExceeded is HTTP 429 still present after retries.
	ErrRateLimitExceeded = errors.New("eqc: rate limit exceeded")

	// ErrServer is HTTP 5xx still present after retries.
	ErrServer = errors.New("eqc: server error")

	// ErrRequestFailed is a transport-level failure still present after retries.
	ErrRequestFailed = errors.New("eqc: request failed")
)

// ClientError is a non-retryable 4xx other than 401/404/429.
type ClientError struct {
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("eqc: client error: status %d: %s", e.StatusCode, e.Body)
}
