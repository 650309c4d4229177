package providers

import (
	"fmt"

	"github.com/deepnoodle-ai/autopilot/retry"
)

// ProviderError represents an error returned by a model provider API.
type ProviderError struct {
	provider   string
	statusCode int
	body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.provider, e.statusCode, e.body)
}

func (e *ProviderError) StatusCode() int {
	return e.statusCode
}

// NewError creates a ProviderError. Non-retryable status codes are marked
// permanent so retry.Do gives up immediately.
func NewError(provider string, statusCode int, body string) error {
	err := &ProviderError{provider: provider, statusCode: statusCode, body: body}
	if !retry.ShouldRetry(statusCode) {
		return retry.Permanent(err)
	}
	return err
}
