package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/slogger"
	"golang.org/x/sync/errgroup"
)

// Manager connects to a set of MCP servers and exposes their tools.
type Manager struct {
	dial   Dialer
	logger slogger.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	tools   map[string]*ToolAdapter
}

// ManagerOptions configures a new MCP manager
type ManagerOptions struct {
	Logger slogger.Logger

	// Dialer overrides how sessions are created. Defaults to Dial.
	Dialer Dialer
}

// NewManager creates a new MCP manager
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slogger.NewDevNullLogger()
	}
	if opts.Dialer == nil {
		opts.Dialer = Dial
	}
	return &Manager{
		dial:    opts.Dialer,
		logger:  opts.Logger,
		clients: map[string]*Client{},
		tools:   map[string]*ToolAdapter{},
	}
}

type connection struct {
	client *Client
	tools  []*ToolAdapter
}

// Connect initializes every server concurrently and discovers its tools.
// Tool names must be unique across servers. On any failure the servers
// connected by this call are closed again.
func (m *Manager) Connect(ctx context.Context, configs []*ServerConfig) error {
	connections := make([]*connection, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		g.Go(func() error {
			conn, err := m.connect(gctx, cfg)
			if err != nil {
				return err
			}
			connections[i] = conn
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = m.add(connections)
	}
	if err != nil {
		for _, conn := range connections {
			if conn != nil {
				_ = conn.client.Close()
			}
		}
		return err
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, cfg *ServerConfig) (*connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.logger.Info("mcp server starting", "server", cfg.Name, "type", cfg.Type)
	client, err := Connect(ctx, cfg, m.dial)
	if err != nil {
		return nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	conn := &connection{client: client}
	for _, tool := range tools {
		conn.tools = append(conn.tools, NewToolAdapter(client, tool))
	}
	m.logger.Info("mcp server connected",
		"server", cfg.Name,
		"server_name", client.ServerName(),
		"tool_count", len(conn.tools),
	)
	return conn, nil
}

func (m *Manager) add(connections []*connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := map[string]string{}
	for _, conn := range connections {
		name := conn.client.Name()
		if _, exists := m.clients[name]; exists {
			return fmt.Errorf("mcp server %s is already connected", name)
		}
		for _, tool := range conn.tools {
			if owner, exists := m.tools[tool.Name()]; exists {
				return NewMCPError("register tools", name,
					fmt.Errorf("%w: %s (also on %s)", ErrDuplicateTool, tool.Name(), owner.client.Name()))
			}
			if owner, exists := pending[tool.Name()]; exists {
				return NewMCPError("register tools", name,
					fmt.Errorf("%w: %s (also on %s)", ErrDuplicateTool, tool.Name(), owner))
			}
			pending[tool.Name()] = name
		}
	}
	for _, conn := range connections {
		m.clients[conn.client.Name()] = conn.client
		for _, tool := range conn.tools {
			m.tools[tool.Name()] = tool
		}
	}
	return nil
}

// Tools returns the discovered tools sorted by name.
func (m *Manager) Tools() []autopilot.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]autopilot.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, m.tools[name])
	}
	return tools
}

// ServerTools returns the tool names per connected server.
func (m *Manager) ServerTools() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string][]string{}
	for name, tool := range m.tools {
		server := tool.client.Name()
		out[server] = append(out[server], name)
	}
	for server := range out {
		sort.Strings(out[server])
	}
	return out
}

// RegisterTools adds all discovered tools to the registry.
func (m *Manager) RegisterTools(registry *autopilot.ToolRegistry) error {
	return registry.Register(m.Tools()...)
}

// Close disconnects every server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, NewMCPError("close", name, err))
		}
	}
	m.clients = map[string]*Client{}
	m.tools = map[string]*ToolAdapter{}
	return errors.Join(errs...)
}
