package llm

import "context"

// Model is a language model capability. Implementations apply their own retry
// policy; an error returned from Generate is final.
type Model interface {
	// Name identifies the provider and model, e.g. "google/gemini-2.5-flash".
	Name() string

	// Generate a response from the model.
	Generate(ctx context.Context, opts ...Option) (*Response, error)
}
