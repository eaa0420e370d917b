package meli

import (
	"fmt"
)

// TransportError indicates a request never produced an HTTP response:
// network failure, timeout, or cancellation.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError indicates a data endpoint answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, truncate(e.Body))
}

// RefreshError indicates the OAuth token endpoint rejected a refresh, or
// answered with a response that cannot mint a usable credential. The stale
// token must not be used after this is returned.
type RefreshError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("token refresh rejected with status %d: %s", e.StatusCode, truncate(e.Body))
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
