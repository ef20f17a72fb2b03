// Package mcp implements the Model Context Protocol surface of the knowledge
// store: the fixed tool catalog, the JSON-RPC 2.0 dispatcher and the stdio
// transport that frames one message per line.
package mcp

import (
	"bytes"
	"encoding/json"
)

// Server identity reported by initialize.
const (
	ServerName      = "IDE_Memory"
	ServerVersion   = "0.1.0"
	ProtocolVersion = "2024-11-05"
)

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
)

// JSONRPCRequest is the envelope of an incoming message. Pointer fields
// distinguish a missing member from a present one; ID keeps the raw bytes so
// it can be echoed exactly.
type JSONRPCRequest struct {
	JSONRPC *string         `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message carries no usable id (absent or
// JSON null). Notifications are never answered.
func (r *JSONRPCRequest) IsNotification() bool {
	return isNullID(r.ID)
}

func isNullID(id json.RawMessage) bool {
	trimmed := bytes.TrimSpace(id)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// JSONRPCResponse is the envelope of an outgoing reply. Exactly one of Result
// and Error is set.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      *string         `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// SaveResult is the payload returned by mem_save.
type SaveResult struct {
	ID      int64 `json:"id"`
	Success bool  `json:"success"`
}
