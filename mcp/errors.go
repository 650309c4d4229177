package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a tool is called on a closed client
	ErrNotConnected = errors.New("mcp client not connected")

	// ErrInitializationFailed is returned when the initialize handshake fails
	ErrInitializationFailed = errors.New("mcp client initialization failed")

	// ErrDuplicateTool is returned when two servers expose the same tool name
	ErrDuplicateTool = errors.New("mcp tool name already in use")
)

// MCPError wraps MCP-specific errors with additional context
type MCPError struct {
	Operation  string
	ServerName string
	Err        error
}

func (e *MCPError) Error() string {
	if e.ServerName != "" {
		return fmt.Sprintf("MCP %s failed for server %s: %v", e.Operation, e.ServerName, e.Err)
	}
	return fmt.Sprintf("MCP %s failed: %v", e.Operation, e.Err)
}

func (e *MCPError) Unwrap() error {
	return e.Err
}

// NewMCPError creates a new MCPError
func NewMCPError(operation, serverName string, err error) *MCPError {
	return &MCPError{
		Operation:  operation,
		ServerName: serverName,
		Err:        err,
	}
}
