package graph

import "errors"

// Typed failures surfaced by the client. Callers branch on these with
// errors.Is; the tool server maps them onto its wire-level error codes.
var (
	// ErrNotConnected is returned when a query is attempted before Connect
	// succeeded or after the connection was closed.
	ErrNotConnected = errors.New("NotConnected")

	// ErrQueryFailed wraps any engine-side or transport failure.
	ErrQueryFailed = errors.New("QueryFailed")

	// ErrSerializationFailed marks a conversion failure on either side of
	// the wire: a parameter value the Cypher preamble cannot express, or an
	// engine reply that does not decode into a result set.
	ErrSerializationFailed = errors.New("SerializationFailed")

	// ErrNotFound is returned by typed getters when no node matches.
	ErrNotFound = errors.New("not found")
)
