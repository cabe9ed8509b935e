package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/config"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2024-11-05"

// rpcRequest is one incoming JSON-RPC message. The ID stays raw so
// string and numeric ids round-trip unchanged.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// callParams is the tools/call parameter object.
type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// contentItem is one element of a tool result's content array.
type contentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// toolResult is the tools/call result envelope.
type toolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

func textResult(text string) toolResult {
	return toolResult{Content: []contentItem{{Type: "text", Text: text}}}
}

func errorResult(text string) toolResult {
	return toolResult{Content: []contentItem{{Type: "text", Text: text}}, IsError: true}
}

func resultResponse(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

// isNotification reports whether the message carries no id and so must
// not be answered.
func isNotification(id json.RawMessage) bool {
	return len(id) == 0 || string(id) == "null"
}

func marshalResponse(resp rpcResponse) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"response marshaling failed"}}`)
	}
	return b
}

// HandleMessage runs one JSON-RPC message and returns the marshaled
// response, or nil for notifications. sessionID scopes browser state;
// both transports pass one per client.
func (s *Server) HandleMessage(ctx context.Context, sessionID string, raw []byte) []byte {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(errorResponse(nil, codeParseError, "parse error"))
	}
	if isNotification(req.ID) {
		// None of the notifications we receive (initialized, cancelled)
		// carry side effects.
		return nil
	}
	if req.Method == "" {
		return marshalResponse(errorResponse(req.ID, codeInvalidRequest, "missing method"))
	}
	return marshalResponse(s.dispatch(ctx, sessionID, req))
}

func (s *Server) dispatch(ctx context.Context, sessionID string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "pagemap", "version": config.Version},
		})
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": toolCatalog})
	case "tools/call":
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return errorResponse(req.ID, codeInvalidParams, "tools/call params require a tool name")
		}
		handler, ok := s.handlers[params.Name]
		if !ok {
			return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
		}
		return resultResponse(req.ID, s.callTool(ctx, sessionID, params.Name, handler, params.Arguments))
	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// callTool serializes the call against the session's tool lock and runs
// the handler. Every failure comes back as an isError tool result, not
// a JSON-RPC error, so agents always get parseable tool output.
func (s *Server) callTool(ctx context.Context, sessionID, tool string, handler toolHandler, args json.RawMessage) toolResult {
	s.inflight.Add(1)
	defer s.inflight.Done()

	entry := s.sessions.GetContext(sessionID)
	call := &toolCall{tool: tool, entry: entry, traceID: traceIDFrom(ctx)}

	release, err := s.sessions.AcquireToolLock(ctx, entry)
	if err != nil {
		return s.toolError(call, err)
	}
	defer release()

	start := time.Now()
	res := handler(ctx, call, args)
	s.logger.Debug("tool call finished",
		zap.String("tool", tool),
		zap.String("session", sessionID),
		zap.Bool("is_error", res.IsError),
		zap.Duration("elapsed", time.Since(start)))
	return res
}
