package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Model so calls wait for a token from a limiter.
type RateLimited struct {
	model   Model
	limiter *rate.Limiter
}

// NewRateLimited limits calls to model to rps per second with the given burst.
func NewRateLimited(model Model, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{model: model, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (m *RateLimited) Name() string {
	return m.model.Name()
}

func (m *RateLimited) Generate(ctx context.Context, opts ...Option) (*Response, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return m.model.Generate(ctx, opts...)
}
