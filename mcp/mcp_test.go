package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/wonton/assert"
	"github.com/deepnoodle-ai/wonton/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type fakeSession struct {
	mu        sync.Mutex
	tools     []mcp.Tool
	initErr   error
	callErr   error
	result    *mcp.CallToolResult
	calls     []mcp.CallToolParams
	closed    int
	startErr  error
	serverTag string
}

func (s *fakeSession) Start(ctx context.Context) error { return s.startErr }

func (s *fakeSession) Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	return &mcp.InitializeResult{ServerInfo: mcp.Implementation{Name: s.serverTag}}, nil
}

func (s *fakeSession) ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: s.tools}, nil
}

func (s *fakeSession) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, request.Params)
	if s.callErr != nil {
		return nil, s.callErr
	}
	return s.result, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func dialerFor(sessions map[string]*fakeSession) Dialer {
	return func(cfg *ServerConfig) (Session, error) {
		session, ok := sessions[cfg.Name]
		if !ok {
			return nil, errors.New("no such server")
		}
		return session, nil
	}
}

func httpConfig(name string) *ServerConfig {
	return &ServerConfig{Name: name, Type: TypeHTTP, URL: "http://localhost/" + name}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr string
	}{
		{name: "stdio", config: ServerConfig{Name: "fs", Type: TypeStdio, Command: "mcp-fs"}},
		{name: "http", config: ServerConfig{Name: "crm", Type: TypeHTTP, URL: "http://crm"}},
		{name: "missing name", config: ServerConfig{Type: TypeStdio, Command: "x"}, wantErr: "name is required"},
		{name: "stdio without command", config: ServerConfig{Name: "fs", Type: TypeStdio}, wantErr: "command is required"},
		{name: "http without url", config: ServerConfig{Name: "crm", Type: TypeHTTP}, wantErr: "url is required"},
		{name: "unknown type", config: ServerConfig{Name: "x", Type: "ws"}, wantErr: "unsupported mcp server type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestServerConfigExpandsEnvironment(t *testing.T) {
	t.Setenv("AUTOPILOT_MCP_TOKEN", "secret")
	cfg := &ServerConfig{
		Args: []string{"--token", "$AUTOPILOT_MCP_TOKEN"},
		Env:  map[string]string{"B": "2", "A": "${AUTOPILOT_MCP_TOKEN}"},
	}
	assert.Equal(t, []string{"--token", "secret"}, cfg.expandedArgs())
	assert.Equal(t, []string{"A=secret", "B=2"}, cfg.expandedEnv())
}

func TestConnectFiltersAllowedTools(t *testing.T) {
	session := &fakeSession{
		serverTag: "crm-server",
		tools: []mcp.Tool{
			{Name: "lookup_contact"},
			{Name: "delete_contact"},
		},
	}
	cfg := httpConfig("crm")
	cfg.AllowedTools = []string{"lookup_contact"}

	client, err := Connect(context.Background(), cfg, dialerFor(map[string]*fakeSession{"crm": session}))
	assert.NoError(t, err)
	assert.Equal(t, "crm-server", client.ServerName())

	tools, err := client.ListTools(context.Background())
	assert.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.Equal(t, "lookup_contact", tools[0].Name)

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.Equal(t, 1, session.closed)

	_, err = client.ListTools(context.Background())
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestConnectInitializationFailure(t *testing.T) {
	session := &fakeSession{initErr: errors.New("handshake refused")}
	_, err := Connect(context.Background(), httpConfig("crm"), dialerFor(map[string]*fakeSession{"crm": session}))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInitializationFailed))
	var mcpErr *MCPError
	assert.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, "initialize", mcpErr.Operation)
	assert.Equal(t, "crm", mcpErr.ServerName)
	assert.Equal(t, 1, session.closed)
}

func TestToolAdapter(t *testing.T) {
	readOnly := true
	session := &fakeSession{
		tools: []mcp.Tool{{
			Name: "lookup_contact",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"email": map[string]any{"type": "string", "description": "Contact email"},
					"tier":  map[string]any{"type": "string", "enum": []any{"free", "pro"}},
					"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				Required: []string{"email"},
			},
			Annotations: mcp.ToolAnnotation{ReadOnlyHint: &readOnly},
		}},
		result: &mcp.CallToolResult{Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: `{"name":"Ada"}`},
		}},
	}
	cfg := httpConfig("crm")
	cfg.RequiresApproval = true

	client, err := Connect(context.Background(), cfg, dialerFor(map[string]*fakeSession{"crm": session}))
	assert.NoError(t, err)
	tools, err := client.ListTools(context.Background())
	assert.NoError(t, err)
	tool := NewToolAdapter(client, tools[0])

	assert.Equal(t, "lookup_contact", tool.Name())
	assert.Equal(t, "MCP tool lookup_contact from server crm", tool.Description())

	s := tool.Schema()
	assert.Equal(t, schema.Object, s.Type)
	assert.Equal(t, []string{"email"}, s.Required)
	assert.Equal(t, schema.String, s.Properties["email"].Type)
	assert.Equal(t, "Contact email", s.Properties["email"].Description)
	assert.Equal(t, []any{"free", "pro"}, s.Properties["tier"].Enum)
	assert.Equal(t, schema.String, s.Properties["tags"].Items.Type)

	annotations := tool.Annotations()
	assert.True(t, annotations.OpenWorldHint)
	assert.True(t, annotations.ReadOnlyHint)
	assert.True(t, annotations.RequiresApproval)

	result, err := tool.Call(context.Background(), json.RawMessage(`{"email":"ada@example.com"}`))
	assert.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, `{"name":"Ada"}`, result.Text())
	assert.Len(t, session.calls, 1)
	assert.Equal(t, "lookup_contact", session.calls[0].Name)
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, session.calls[0].Arguments)
}

func TestToolAdapterReportsFailuresAsResults(t *testing.T) {
	session := &fakeSession{
		tools:   []mcp.Tool{{Name: "lookup_contact"}},
		callErr: errors.New("connection reset"),
	}
	client, err := Connect(context.Background(), httpConfig("crm"), dialerFor(map[string]*fakeSession{"crm": session}))
	assert.NoError(t, err)
	tool := NewToolAdapter(client, mcp.Tool{Name: "lookup_contact"})

	result, err := tool.Call(context.Background(), json.RawMessage(`{}`))
	assert.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "connection reset")

	result, err = tool.Call(context.Background(), json.RawMessage(`[1,2]`))
	assert.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "invalid input")

	session.callErr = nil
	session.result = &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "contact not found"}},
	}
	result, err = tool.Call(context.Background(), nil)
	assert.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "contact not found", result.Text())
	assert.Equal(t, map[string]any{}, session.calls[len(session.calls)-1].Arguments)
}

func TestManagerConnectAndRegister(t *testing.T) {
	sessions := map[string]*fakeSession{
		"crm":    {tools: []mcp.Tool{{Name: "lookup_contact"}, {Name: "update_contact"}}},
		"search": {tools: []mcp.Tool{{Name: "web_search"}}},
	}
	manager := NewManager(ManagerOptions{Dialer: dialerFor(sessions)})
	err := manager.Connect(context.Background(), []*ServerConfig{httpConfig("crm"), httpConfig("search")})
	assert.NoError(t, err)

	var names []string
	for _, tool := range manager.Tools() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"lookup_contact", "update_contact", "web_search"}, names)
	assert.Equal(t, map[string][]string{
		"crm":    {"lookup_contact", "update_contact"},
		"search": {"web_search"},
	}, manager.ServerTools())

	registry := autopilot.NewToolRegistry()
	assert.NoError(t, manager.RegisterTools(registry))
	assert.Equal(t, []string{"lookup_contact", "update_contact", "web_search"}, registry.Names())

	assert.NoError(t, manager.Close())
	assert.Equal(t, 1, sessions["crm"].closed)
	assert.Equal(t, 1, sessions["search"].closed)
	assert.Len(t, manager.Tools(), 0)
}

func TestManagerRejectsDuplicateToolNames(t *testing.T) {
	sessions := map[string]*fakeSession{
		"a": {tools: []mcp.Tool{{Name: "search"}}},
		"b": {tools: []mcp.Tool{{Name: "search"}}},
	}
	manager := NewManager(ManagerOptions{Dialer: dialerFor(sessions)})
	err := manager.Connect(context.Background(), []*ServerConfig{httpConfig("a"), httpConfig("b")})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateTool))
	assert.Len(t, manager.Tools(), 0)
	assert.Equal(t, 1, sessions["a"].closed)
	assert.Equal(t, 1, sessions["b"].closed)
}

func TestManagerConnectFailureClosesOthers(t *testing.T) {
	sessions := map[string]*fakeSession{
		"ok":     {tools: []mcp.Tool{{Name: "search"}}},
		"broken": {initErr: errors.New("boom")},
	}
	manager := NewManager(ManagerOptions{Dialer: dialerFor(sessions)})
	err := manager.Connect(context.Background(), []*ServerConfig{httpConfig("ok"), httpConfig("broken")})
	assert.Error(t, err)
	assert.Len(t, manager.Tools(), 0)
	assert.Equal(t, 1, sessions["broken"].closed)
}

func newTestMCPServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := server.NewMCPServer("contacts", "test", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewTool("lookup_contact",
			mcp.WithDescription("Look up a contact by email"),
			mcp.WithString("email", mcp.Description("Contact email"), mcp.Required()),
		),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			email := request.GetString("email", "")
			if email == "" {
				return mcp.NewToolResultError("email is required"), nil
			}
			return mcp.NewToolResultText(`{"email":"` + email + `","name":"Ada"}`), nil
		},
	)
	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestManagerWithStreamableHTTPServer(t *testing.T) {
	srv := newTestMCPServer(t)
	manager := NewManager(ManagerOptions{})
	t.Cleanup(func() { _ = manager.Close() })

	err := manager.Connect(context.Background(), []*ServerConfig{{
		Name: "contacts",
		Type: TypeHTTP,
		URL:  srv.URL + "/mcp",
	}})
	assert.NoError(t, err)

	tools := manager.Tools()
	assert.Len(t, tools, 1)
	tool := tools[0]
	assert.Equal(t, "lookup_contact", tool.Name())
	assert.Equal(t, "Look up a contact by email", tool.Description())
	assert.Equal(t, []string{"email"}, tool.Schema().Required)

	result, err := tool.Call(context.Background(), json.RawMessage(`{"email":"ada@example.com"}`))
	assert.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"email":"ada@example.com","name":"Ada"}`, result.Text())
}
