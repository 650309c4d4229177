// Package config loads the autopilot.yaml file used by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/mcp"
	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

// DefaultModel is used when neither provider nor model is configured.
const DefaultModel = "gemini-2.5-flash"

// DefaultFile is the configuration file the CLI looks for in the working
// directory.
const DefaultFile = "autopilot.yaml"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the CLI configuration.
type Config struct {
	Provider    string              `yaml:"provider,omitempty"`
	Model       string              `yaml:"model,omitempty"`
	LogLevel    string              `yaml:"logLevel,omitempty"`
	LogFile     string              `yaml:"logFile,omitempty"`
	Definitions string              `yaml:"definitions,omitempty"`
	Store       Store               `yaml:"store,omitempty"`
	MCPServers  []*mcp.ServerConfig `yaml:"mcpServers,omitempty"`
	Limits      Limits              `yaml:"limits,omitempty"`
	Telemetry   Telemetry           `yaml:"telemetry,omitempty"`
	Approval    Approval            `yaml:"approval,omitempty"`
	Browser     Browser             `yaml:"browser,omitempty"`
}

// Store selects where executions, memory and definitions are kept.
type Store struct {
	Driver string `yaml:"driver,omitempty"`

	// DSN is the Postgres connection string. Environment variables in it are
	// expanded.
	DSN string `yaml:"dsn,omitempty"`

	// Path is the directory of the file driver or the database file of the
	// sqlite driver.
	Path string `yaml:"path,omitempty"`
}

// Limits throttles model calls across all runs.
type Limits struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// Telemetry configures OTLP export. An empty endpoint disables it.
type Telemetry struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// Approval lists glob patterns of tools that need review in every
// review-before definition, in addition to each definition's own list.
type Approval struct {
	Tools []string `yaml:"tools,omitempty"`
}

// Browser enables the chromedp-backed browser tool.
type Browser struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	RemoteURL   string `yaml:"remoteUrl,omitempty"`
	LiveViewURL string `yaml:"liveViewUrl,omitempty"`
	ShowWindow  bool   `yaml:"showWindow,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadEnv loads variables from the given .env files into the process
// environment. Missing files are skipped and existing variables win.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		path, err := homedir.Expand(path)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads, validates and completes the configuration at path. Relative
// paths in the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := c.resolvePaths(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes YAML strictly, so unknown keys are errors, then applies
// defaults and validates.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalWithOptions(data, &c, yaml.Strict()); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Model == "" && c.Provider == "" {
		c.Model = DefaultModel
	}
	if c.Definitions == "" {
		c.Definitions = "definitions"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case DriverFile:
			c.Store.Path = "~/.autopilot/data"
		case DriverSQLite:
			c.Store.Path = "~/.autopilot/autopilot.db"
		}
	}
	if c.Limits.RequestsPerSecond > 0 && c.Limits.Burst <= 0 {
		c.Limits.Burst = 1
	}
	c.Store.DSN = os.ExpandEnv(c.Store.DSN)
}

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "none":
	default:
		add("unknown logLevel %q", c.LogLevel)
	}
	if c.Model == "" {
		add("model is required when provider is set")
	}
	switch c.Store.Driver {
	case DriverMemory, DriverFile, DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			add("store.dsn is required for the postgres driver")
		}
	default:
		add("unknown store.driver %q", c.Store.Driver)
	}
	if c.Limits.RequestsPerSecond < 0 {
		add("limits.requestsPerSecond must not be negative")
	}
	seen := map[string]bool{}
	for i, server := range c.MCPServers {
		if server == nil {
			add("mcpServers[%d] is empty", i)
			continue
		}
		if err := server.Validate(); err != nil {
			add("mcpServers[%d]: %v", i, err)
		}
		if seen[server.Name] {
			add("mcp server %q is listed more than once", server.Name)
		}
		seen[server.Name] = true
	}
	for _, pattern := range c.Approval.Tools {
		if _, err := glob.Compile(pattern); err != nil {
			add("approval.tools: invalid pattern %q: %v", pattern, err)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) resolvePaths(base string) error {
	for _, p := range []*string{&c.Definitions, &c.Store.Path, &c.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("config: expand %s: %w", *p, err)
		}
		if !filepath.IsAbs(expanded) && expanded != ":memory:" {
			expanded = filepath.Join(base, expanded)
		}
		*p = expanded
	}
	return nil
}

// ModelName returns the name passed to the provider registry: the model,
// prefixed with the provider when one is configured.
func (c *Config) ModelName() string {
	if c.Provider == "" {
		return c.Model
	}
	return c.Provider + "/" + c.Model
}

// ApplyApproval adds the configured approval patterns to a review-before
// definition.
func (c *Config) ApplyApproval(def *autopilot.Definition) {
	if def.Oversight.Mode != autopilot.OversightReviewBefore || len(c.Approval.Tools) == 0 {
		return
	}
	for _, pattern := range c.Approval.Tools {
		if !slices.Contains(def.Oversight.ApprovalTools, pattern) {
			def.Oversight.ApprovalTools = append(def.Oversight.ApprovalTools, pattern)
		}
	}
}
