package toolserver

import (
	"errors"
	"fmt"

	"membria/internal/graph"
)

// argumentError is a handler-level rejection of otherwise schema-valid
// arguments (cross-field rules the schema cannot express). Maps to -32602.
type argumentError struct{ msg string }

func (e *argumentError) Error() string { return e.msg }

func invalidArgs(format string, args ...any) error {
	return &argumentError{msg: fmt.Sprintf(format, args...)}
}

// rpcErrorFor maps a handler error onto the wire taxonomy. Connectivity
// failures answer with the bare retriable marker; everything else, including
// state conflicts such as a duplicate squad name or a missing outcome,
// carries its message verbatim and no stack ever crosses the boundary.
func rpcErrorFor(err error) *RPCError {
	var argErr *argumentError
	if errors.As(err, &argErr) {
		return &RPCError{Code: CodeInvalidParams, Message: argErr.msg}
	}
	if errors.Is(err, graph.ErrNotConnected) {
		return &RPCError{Code: CodeInternalError, Message: "NotConnected"}
	}
	return &RPCError{Code: CodeInternalError, Message: err.Error()}
}
