package providers

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/deepnoodle-ai/autopilot/llm"
)

// ErrNoProvider is returned when no registered provider serves a model.
var ErrNoProvider = errors.New("no provider for model")

// Factory creates a model for a given model name.
type Factory func(model string) (llm.Model, error)

// ModelMatcher determines if a model name matches a provider.
type ModelMatcher func(model string) bool

// Entry pairs a matcher with its factory.
type Entry struct {
	Name    string
	Match   ModelMatcher
	Factory Factory
}

// Registry manages model-to-provider mappings. Entries are checked in
// registration order, so register more specific matchers first.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

// Register adds a provider entry to the registry.
func (r *Registry) Register(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// New returns a model for the given name. A name of the form
// "provider/model" selects the provider explicitly.
func (r *Registry) New(model string) (llm.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, rest, ok := strings.Cut(model, "/"); ok {
		for _, entry := range r.entries {
			if entry.Name == name {
				return entry.Factory(rest)
			}
		}
	}
	for _, entry := range r.entries {
		if entry.Match(model) {
			return entry.Factory(model)
		}
	}
	return nil, fmt.Errorf("%w %q", ErrNoProvider, model)
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		names = append(names, entry.Name)
	}
	return names
}

// PrefixMatcher returns a matcher that checks for a case-insensitive prefix.
func PrefixMatcher(prefixes ...string) ModelMatcher {
	lowered := make([]string, len(prefixes))
	for i, p := range prefixes {
		lowered[i] = strings.ToLower(p)
	}
	return func(model string) bool {
		lower := strings.ToLower(model)
		for _, prefix := range lowered {
			if strings.HasPrefix(lower, prefix) {
				return true
			}
		}
		return false
	}
}

// EnvMatcher returns a matcher that only matches if an environment variable
// is set, for providers that require API keys.
func EnvMatcher(envVar string, inner ModelMatcher) ModelMatcher {
	return func(model string) bool {
		if os.Getenv(envVar) == "" {
			return false
		}
		return inner(model)
	}
}

var defaultRegistry = &Registry{}

// Register adds a provider entry to the default registry. Provider packages
// call it from init.
func Register(entry Entry) {
	defaultRegistry.Register(entry)
}

// New returns a model from the default registry.
func New(model string) (llm.Model, error) {
	return defaultRegistry.New(model)
}

// Names returns the providers in the default registry.
func Names() []string {
	return defaultRegistry.Names()
}
