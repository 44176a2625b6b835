package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"membria/internal/federation"
	"membria/internal/logging"
	"membria/internal/observability"
)

// maxLineBytes caps one inbound request line. Anything larger kills the
// stream, since the scanner cannot resynchronize past an oversized line.
const maxLineBytes = 1 << 20

// Options configure the stdio server around a compiled catalogue.
type Options struct {
	In         io.Reader
	Out        io.Writer
	Name       string
	Version    string
	Federation Federation
	Metrics    *observability.MetricsCollector
	Logger     logging.Logger
}

// Server speaks JSON-RPC 2.0 over line-delimited stdio. Requests are
// dispatched one at a time in arrival order, so handlers and the output
// stream need no locking.
type Server struct {
	catalog    *Catalog
	federation Federation
	in         io.Reader
	out        *bufio.Writer
	info       ServerInfo
	metrics    *observability.MetricsCollector
	logger     logging.Logger
}

// NewServer wires a catalogue to its transport. Zero-value options fall back
// to the process stdio.
func NewServer(catalog *Catalog, opts Options) *Server {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Name == "" {
		opts.Name = "membria"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		catalog:    catalog,
		federation: opts.Federation,
		in:         opts.In,
		out:        bufio.NewWriter(opts.Out),
		info:       ServerInfo{Name: opts.Name, Version: opts.Version},
		metrics:    opts.Metrics,
		logger:     logging.OrNop(opts.Logger),
	}
}

// Run reads requests until the input closes or the context is cancelled.
// The reader lives in its own goroutine so a cancellation during a blocked
// Read still stops the loop.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			b := scanner.Bytes()
			line := make([]byte, len(b))
			copy(line, b)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	s.logger.Info("tool server ready: %d tools", len(s.catalog.order))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if errors.Is(err, bufio.ErrTooLong) {
						return fmt.Errorf("request line exceeds %d bytes", maxLineBytes)
					}
					if err != nil {
						return fmt.Errorf("read requests: %w", err)
					}
				default:
				}
				return nil
			}
			s.handleLine(ctx, line)
		}
	}
}

// handleLine answers one raw request line. Notifications are executed but
// never answered, matching JSON-RPC semantics even for unknown methods.
func (s *Server) handleLine(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(NewErrorResponse(nil, CodeParseError, "parse error", err.Error()))
		return
	}
	resp := s.dispatch(ctx, &req)
	if req.IsNotification() || resp == nil {
		return
	}
	s.write(resp)
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "":
		return NewErrorResponse(req.ID, CodeInvalidRequest, "request has no method", nil)
	case "initialize":
		return NewResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    Capabilities{Tools: ToolsCapability{ListChanged: false}},
			ServerInfo:      s.info,
		})
	case "ping":
		return NewResponse(req.ID, map[string]any{})
	case "notifications/initialized":
		return NewResponse(req.ID, map[string]any{})
	case "tools/list":
		return NewResponse(req.ID, map[string]any{"tools": s.listTools()})
	case "resources/list":
		return NewResponse(req.ID, map[string]any{"resources": []any{}})
	case "prompts/list":
		return NewResponse(req.ID, map[string]any{"prompts": []any{}})
	case "tools/call":
		result, rpcErr := s.callTool(ctx, req.Params)
		if rpcErr != nil {
			return &Response{JSONRPC: Version, ID: req.ID, Error: rpcErr}
		}
		return NewResponse(req.ID, result)
	default:
		return NewErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

// listTools merges the local catalogue with any federated remote tools.
func (s *Server) listTools() []Definition {
	defs := s.catalog.definitions()
	if s.federation == nil || !s.federation.Enabled() {
		return defs
	}
	for _, t := range s.federation.Tools() {
		schema := any(map[string]any{"type": "object"})
		if len(t.InputSchema) > 0 {
			schema = t.InputSchema
		}
		defs = append(defs, Definition{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return defs
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: "tools/call params: " + err.Error()}
		}
	}
	if call.Name == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "tools/call needs a tool name"}
	}

	start := time.Now()
	result, rpcErr := s.invoke(ctx, call.Name, call.Arguments)
	status := "ok"
	if rpcErr != nil {
		status = "error"
		s.logger.Warn("tool %s failed: %s", call.Name, rpcErr.Message)
	}
	s.metrics.RecordToolCall(ctx, call.Name, status, time.Since(start))
	return result, rpcErr
}

// invoke runs one tool through the full pipeline: lookup, input contract,
// handler, output contract, wire wrapping. Federated calls skip the local
// contracts; the remote owns its schemas.
func (s *Server) invoke(ctx context.Context, name string, args json.RawMessage) (any, *RPCError) {
	if strings.HasPrefix(name, federation.ToolPrefix) {
		if s.federation == nil || !s.federation.Handles(name) {
			return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", name)}
		}
		raw, err := s.federation.Call(ctx, name, args)
		if err != nil {
			return nil, rpcErrorFor(err)
		}
		return wrapResult(raw), nil
	}

	tool, ok := s.catalog.lookup(name)
	if !ok {
		return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", name)}
	}
	if err := validateJSON(tool.input, args); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	result, err := tool.handler(ctx, args)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("encode %s result: %v", name, err)}
	}
	if err := validateJSON(tool.output, raw); err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("tool %s produced an invalid result: %v", name, err)}
	}
	return wrapResult(raw), nil
}

// write emits one single-line response and flushes, keeping stdout strictly
// one JSON object per line.
func (s *Server) write(resp *Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response: %v", err)
		return
	}
	if _, err := s.out.Write(raw); err != nil {
		s.logger.Error("write response: %v", err)
		return
	}
	if err := s.out.WriteByte('\n'); err != nil {
		s.logger.Error("write response: %v", err)
		return
	}
	if err := s.out.Flush(); err != nil {
		s.logger.Error("flush response: %v", err)
	}
}
