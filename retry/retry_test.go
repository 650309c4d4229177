package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type statusError struct {
	code int
}

func (e *statusError) Error() string   { return http.StatusText(e.code) }
func (e *statusError) StatusCode() int { return e.code }

func TestDoRetriesUntilExhausted(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return errors.New("test error")
	}, WithMaxRetries(3), WithBaseWait(time.Millisecond))
	assert.EqualError(t, err, "test error")
	assert.Equal(t, 3, count)
}

func TestDoStopsOnSuccess(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		if count < 2 {
			return &statusError{code: http.StatusTooManyRequests}
		}
		return nil
	}, WithMaxRetries(5), WithBaseWait(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDoStopsOnNonRetryableStatus(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return &statusError{code: http.StatusBadRequest}
	}, WithMaxRetries(5), WithBaseWait(time.Millisecond))
	assert.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestDoPermanent(t *testing.T) {
	count := 0
	cause := errors.New("bad credentials")
	err := Do(context.Background(), func() error {
		count++
		return Permanent(cause)
	}, WithMaxRetries(5), WithBaseWait(time.Millisecond))
	assert.Same(t, cause, err)
	assert.Equal(t, 1, count)
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	err := Do(ctx, func() error {
		count++
		cancel()
		return errors.New("unavailable")
	}, WithMaxRetries(5), WithBaseWait(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, count)
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(http.StatusTooManyRequests))
	assert.True(t, ShouldRetry(http.StatusServiceUnavailable))
	assert.True(t, ShouldRetry(http.StatusGatewayTimeout))
	assert.False(t, ShouldRetry(http.StatusBadRequest))
	assert.False(t, ShouldRetry(http.StatusUnauthorized))
}
