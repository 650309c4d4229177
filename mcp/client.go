package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName     = "autopilot"
	clientVersion  = "1.0.0"
	initTimeout    = 30 * time.Second
	defaultTimeout = 2 * time.Minute
)

// Session is the subset of the mcp-go client used here.
type Session interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer creates an unstarted session for a server.
type Dialer func(cfg *ServerConfig) (Session, error)

// Dial creates an mcp-go client for the configured transport.
func Dial(cfg *ServerConfig) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return client.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return client.NewStdioMCPClient(cfg.Command, cfg.expandedEnv(), cfg.expandedArgs()...)
	}
}

// Client is a connected MCP server.
type Client struct {
	config     *ServerConfig
	session    Session
	serverName string

	mu        sync.RWMutex
	connected bool
}

// Connect starts the session and performs the initialize handshake.
func Connect(ctx context.Context, cfg *ServerConfig, dial Dialer) (*Client, error) {
	if dial == nil {
		dial = Dial
	}
	session, err := dial(cfg)
	if err != nil {
		return nil, NewMCPError("connect", cfg.Name, err)
	}
	if err := session.Start(ctx); err != nil {
		_ = session.Close()
		return nil, NewMCPError("start", cfg.Name, err)
	}
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	result, err := session.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: clientName, Version: clientVersion},
		},
	})
	if err != nil {
		_ = session.Close()
		return nil, NewMCPError("initialize", cfg.Name, errors.Join(ErrInitializationFailed, err))
	}
	c := &Client{config: cfg, session: session, connected: true}
	if result != nil {
		c.serverName = result.ServerInfo.Name
	}
	return c, nil
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.config.Name
}

// ServerName returns the name the server reported during initialization.
func (c *Client) ServerName() string {
	return c.serverName
}

// ListTools returns the tools the server exposes, filtered by the allow-list.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if !c.isConnected() {
		return nil, NewMCPError("list tools", c.config.Name, ErrNotConnected)
	}
	result, err := c.session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, NewMCPError("list tools", c.config.Name, err)
	}
	var tools []mcp.Tool
	for _, tool := range result.Tools {
		if c.config.IsToolAllowed(tool.Name) {
			tools = append(tools, tool)
		}
	}
	return tools, nil
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	if !c.isConnected() {
		return nil, NewMCPError("call tool", c.config.Name, ErrNotConnected)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	result, err := c.session.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: arguments},
	})
	if err != nil {
		return nil, NewMCPError(fmt.Sprintf("call tool %s", name), c.config.Name, err)
	}
	return result, nil
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.session.Close()
}

func (c *Client) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
