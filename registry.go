package autopilot

import (
	"fmt"
	"slices"
	"sync"
)

// ToolRegistry maps tool names to tools. It is populated at startup and then
// shared read-only by concurrent runs.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry returns a registry holding the given tools. It panics on
// duplicate names; use Register to handle the error instead.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: map[string]Tool{}}
	if err := r.Register(tools...); err != nil {
		panic(err)
	}
	return r
}

// Register adds tools to the registry. Names must be unique.
func (r *ToolRegistry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tool := range tools {
		name := tool.Name()
		if name == "" {
			return fmt.Errorf("tool name must not be empty")
		}
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("tool %q is already registered", name)
		}
		r.tools[name] = tool
	}
	return nil
}

// Get returns the named tool.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve returns the tools named by a definition's allow-list. Any name that
// is not registered yields a *ConfigError listing every missing name, which
// callers can tell apart from tool runtime failures with errors.Is(err,
// ErrUnknownTool).
func (r *ToolRegistry) Resolve(names []string) (map[string]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolved := make(map[string]Tool, len(names))
	var unknown []string
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		resolved[name] = tool
	}
	if len(unknown) > 0 {
		return nil, &ConfigError{UnknownTools: unknown}
	}
	return resolved, nil
}
