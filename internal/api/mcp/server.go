package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/scrypster/ide-memory/internal/metrics"
	"github.com/scrypster/ide-memory/internal/storage"
	"github.com/scrypster/ide-memory/internal/telemetry"
)

// MethodParseError is the method name recorded for lines that could not be
// parsed as a JSON-RPC envelope.
const MethodParseError = "parse_error"

// Server dispatches JSON-RPC 2.0 messages to the tool registry. It holds no
// per-connection state; every line is handled on its own.
type Server struct {
	registry  *Registry
	recorder  metrics.Recorder
	logger    *zap.Logger
	sessionID string
	regOpts   []RegistryOption
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithRecorder sets the metrics recorder. The default discards records.
func WithRecorder(r metrics.Recorder) ServerOption {
	return func(s *Server) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger. It must not write to stdout.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionID tags log lines with the id of this server process.
func WithSessionID(id string) ServerOption {
	return func(s *Server) { s.sessionID = id }
}

// WithRegistryOptions forwards options to the tool registry.
func WithRegistryOptions(opts ...RegistryOption) ServerOption {
	return func(s *Server) { s.regOpts = append(s.regOpts, opts...) }
}

// NewServer creates a new MCP server backed by store.
func NewServer(store storage.KnowledgeStore, opts ...ServerOption) *Server {
	s := &Server{
		recorder: metrics.Nop{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessionID != "" {
		s.logger = s.logger.With(zap.String("session_id", s.sessionID))
	}
	s.registry = NewRegistry(store, s.regOpts...)
	return s
}

// Registry returns the tool registry used by the server.
func (s *Server) Registry() *Registry {
	return s.registry
}

// outcome describes how one line was handled, for metrics.
type outcome struct {
	method   string
	toolName *string
	errMsg   *string
}

func (o *outcome) fail(msg string) {
	o.errMsg = &msg
}

// HandleLine processes one input line and returns the reply to write, or nil
// when nothing must be written (blank lines, notifications and malformed
// lines without a recoverable id). Exactly one outcome is reported to the
// metrics recorder for every non-blank line.
func (s *Server) HandleLine(ctx context.Context, line []byte) []byte {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	start := time.Now()
	resp, out := s.handle(ctx, line)
	elapsed := time.Since(start)

	s.recorder.RecordRequest(out.method, out.toolName, elapsed, len(resp), out.errMsg == nil, out.errMsg)
	return resp
}

func (s *Server) handle(ctx context.Context, line []byte) ([]byte, outcome) {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil || req.JSONRPC == nil || req.Method == nil {
		if err == nil {
			err = errors.New("missing jsonrpc or method member")
		}
		return s.handleMalformed(line, err)
	}

	out := outcome{method: *req.Method}
	result, rpcErr := s.route(ctx, &req, &out)
	if rpcErr != nil {
		out.fail(rpcErr.Message)
	}

	if req.IsNotification() {
		if rpcErr != nil {
			s.logger.Debug("notification failed",
				zap.String("method", out.method), zap.String("error", rpcErr.Message))
		}
		return nil, out
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", zap.String("method", out.method), zap.Error(err))
		msg := fmt.Sprintf("failed to marshal response: %v", err)
		out.fail(msg)
		data = s.errorResponse(req.ID, ErrCodeInternalError, msg)
	}
	return data, out
}

// handleMalformed applies the malformed-input policy: reply with a parse
// error only when an id can be recovered from the line, otherwise drop it
// without writing anything.
func (s *Server) handleMalformed(line []byte, parseErr error) ([]byte, outcome) {
	out := outcome{method: MethodParseError}
	if name := gjson.GetBytes(line, "params.name"); name.Type == gjson.String {
		tool := name.String()
		out.toolName = &tool
	}
	msg := fmt.Sprintf("Parse error: %v", parseErr)
	out.fail(msg)

	id, ok := recoverID(line)
	if !ok {
		s.logger.Debug("dropping unparseable line without id", zap.Error(parseErr))
		return nil, out
	}
	return s.errorResponse(id, ErrCodeParseError, msg), out
}

// recoverID inspects a line that failed strict parsing for a top-level id.
// gjson tolerates damage after the member it is looking for, so ids survive
// truncated or otherwise broken lines.
func recoverID(line []byte) (json.RawMessage, bool) {
	res := gjson.GetBytes(line, "id")
	if !res.Exists() || res.Type == gjson.Null {
		return nil, false
	}
	raw := []byte(res.Raw)
	if !json.Valid(raw) {
		return nil, false
	}
	return raw, true
}

func (s *Server) route(ctx context.Context, req *JSONRPCRequest, out *outcome) (interface{}, *JSONRPCError) {
	switch *req.Method {
	case "initialize":
		return s.handleInitialize(), nil
	case "tools/list":
		return s.handleToolsList(), nil
	case "tools/call":
		return s.handleToolsCall(ctx, req.Params, out)
	default:
		return nil, &JSONRPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", *req.Method)}
	}
}

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize() MCPInitializeResult {
	return MCPInitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList() MCPToolsListResult {
	return MCPToolsListResult{Tools: s.registry.Tools()}
}

// handleToolsCall validates the call envelope and delegates to the registry.
// Envelope problems are invalid-params errors; every tool failure is an
// internal error carrying the tool's message.
func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage, out *outcome) (interface{}, *JSONRPCError) {
	if isNullID(params) {
		return nil, invalidParams("missing params for tools/call")
	}
	var p MCPToolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("invalid params for tools/call: %v", err)
	}
	if p.Name == nil {
		return nil, invalidParams("missing 'name' in params")
	}
	out.toolName = p.Name
	if isNullID(p.Arguments) {
		return nil, invalidParams("missing 'arguments' in params")
	}
	if trimmed := bytes.TrimSpace(p.Arguments); trimmed[0] != '{' {
		return nil, invalidParams("'arguments' must be an object")
	}

	ctx, span := telemetry.StartSpan(ctx, "tools/call "+*p.Name)
	defer span.End()
	span.SetTag("tool", *p.Name)

	result, err := s.registry.Call(ctx, *p.Name, p.Arguments)
	if err != nil {
		span.SetError()
		s.logToolError(ctx, *p.Name, err)
		return nil, &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
	}
	return result, nil
}

func (s *Server) logToolError(ctx context.Context, tool string, err error) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.Kind == KindStorage {
		s.logger.Error("tool call failed", zap.String("tool", tool), zap.Error(err))
		telemetry.CaptureError(ctx, err)
		return
	}
	s.logger.Debug("tool call rejected", zap.String("tool", tool), zap.Error(err))
}

func invalidParams(format string, args ...interface{}) *JSONRPCError {
	return &JSONRPCError{Code: ErrCodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id json.RawMessage, code int, message string) []byte {
	data, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	})
	if err != nil {
		// Last resort: keep the framing intact.
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":"internal error"}}`, id, ErrCodeInternalError))
	}
	return data
}
