package mcp

import (
	"fmt"
	"os"
	"slices"
	"sort"
)

// Server transport types.
const (
	TypeStdio = "stdio"
	TypeHTTP  = "http"
)

// ServerConfig is used to configure an MCP server.
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Type    string            `json:"type" yaml:"type"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// AllowedTools limits which of the server's tools are exposed. Empty
	// means all of them.
	AllowedTools []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty"`

	// RequiresApproval marks every tool from this server as needing approval
	// under review-before oversight.
	RequiresApproval bool `json:"requiresApproval,omitempty" yaml:"requiresApproval,omitempty"`
}

// Validate checks that the configuration names a usable transport.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server name is required")
	}
	switch c.Type {
	case TypeStdio:
		if c.Command == "" {
			return fmt.Errorf("command is required for stdio mcp server %s", c.Name)
		}
	case TypeHTTP:
		if c.URL == "" {
			return fmt.Errorf("url is required for http mcp server %s", c.Name)
		}
	default:
		return fmt.Errorf("unsupported mcp server type: %q", c.Type)
	}
	return nil
}

// IsToolAllowed reports whether the named tool passes the allow-list.
func (c *ServerConfig) IsToolAllowed(name string) bool {
	return len(c.AllowedTools) == 0 || slices.Contains(c.AllowedTools, name)
}

// expandedArgs returns the args with environment variables substituted.
func (c *ServerConfig) expandedArgs() []string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = os.ExpandEnv(arg)
	}
	return args
}

// expandedEnv returns the env map as sorted KEY=VALUE pairs with environment
// variables substituted in the values.
func (c *ServerConfig) expandedEnv() []string {
	keys := make([]string, 0, len(c.Env))
	for key := range c.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, fmt.Sprintf("%s=%s", key, os.ExpandEnv(c.Env[key])))
	}
	return env
}
