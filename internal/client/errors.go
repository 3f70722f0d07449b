package client

import (
	"fmt"

	"github.com/reelsmith/api/internal/retry"
)

const maxErrorBody = 2048

// APIError is returned by every HTTP client for a non-2xx response. Kind is
// decided here, once, from the status code and the body.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
	Kind       retry.Kind
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// RetryKind lets retry.Classify dispatch on the error type.
func (e *APIError) RetryKind() retry.Kind {
	return e.Kind
}

func newAPIError(service string, status int, body []byte) *APIError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody] + "..."
	}
	return &APIError{
		Service:    service,
		StatusCode: status,
		Body:       b,
		Kind:       retry.KindForStatus(status),
	}
}
