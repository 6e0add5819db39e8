package completion

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoAPIKey            = errors.New("completion: missing API key")
	ErrEmptyPrompt         = errors.New("completion: empty prompt")
	ErrProviderUnavailable = errors.New("completion: no provider available")
)

// APIError is a non-200 reply from a completion endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
}

// IsRateLimited reports a 429 reply.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports rate limits and 5xx replies. Anything else will fail
// the same way again.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.StatusCode >= http.StatusInternalServerError
}

// IsRateLimited reports whether err wraps a 429 APIError.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRateLimited()
}

// WrapError prefixes err with the provider name.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", provider, err)
}

// ChainError holds one error per provider tried, in order.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "completion: every provider failed: " + strings.Join(msgs, "; ")
}

func (e *ChainError) Unwrap() []error {
	return e.Errors
}
