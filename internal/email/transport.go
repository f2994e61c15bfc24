// Package email holds the outbound transactional-email transports and the
// system mail (confirmation, welcome) built on top of them.
package email

import (
	"context"
	"fmt"
	"net/http"
)

// Transport sends one HTML message to one address.
type Transport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// HTTPError is a non-2xx answer from a provider API.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
}

// Retryable reports whether another attempt could succeed.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
