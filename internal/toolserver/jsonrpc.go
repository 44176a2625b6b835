package toolserver

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0: https://www.jsonrpc.org/specification

// Version is the JSON-RPC version stamped on every envelope.
const Version = "2.0"

// ProtocolVersion is the tool-protocol revision answered by initialize.
const ProtocolVersion = "2024-11-05"

// Wire-level error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one inbound envelope. A nil ID marks a notification; the server
// executes it but never answers.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool { return r.ID == nil }

// Response is one outbound envelope. Exactly one of Result and Error is set.
// ID deliberately lacks omitempty: parse errors answer with an explicit null.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is the wire error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// NewResponse builds a success envelope.
func NewResponse(id any, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds an error envelope.
func NewErrorResponse(id any, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// Handshake result shapes.

// ServerInfo names this server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability advertises the tool surface.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// Capabilities is the capability block of the initialize result.
type Capabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// InitializeResult answers the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Definition is one catalogue entry in a tools/list result.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult wraps a tool result for the wire: the JSON-encoded payload rides
// in a single text content block.
type CallResult struct {
	Content []ContentBlock `json:"content"`
}

// wrapResult encodes a tool result into the content-block envelope.
func wrapResult(raw []byte) CallResult {
	return CallResult{Content: []ContentBlock{{Type: "text", Text: string(raw)}}}
}
