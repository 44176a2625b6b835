// Package errors classifies failures for retry decisions and converts them
// into messages an agent can act on. Callers wrap errors at the boundary
// where they know the failure mode; everything above only asks IsTransient
// or GetErrorType.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorType classifies errors for retry logic.
type ErrorType int

const (
	// ErrorTypeTransient - retry-able errors
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent - non-retry-able errors
	ErrorTypePermanent
	// ErrorTypeDegraded - can continue with reduced functionality
	ErrorTypeDegraded
)

// TransientError represents an error that can be retried.
type TransientError struct {
	Err           error
	RetryAfter    int // seconds to wait before retry, when the source told us
	StatusCode    int // HTTP status code if applicable
	SuggestedWait int
	Message       string // agent-facing message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError carries fallback content so the caller can keep serving with
// reduced functionality, typically a stale cache entry or an empty context
// block.
type DegradedError struct {
	Err             error
	FallbackContent string
	Message         string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// IsTransient checks whether an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isTransientHTTPStatus(statusCode)
	}

	if isSyscallError(err) {
		return true
	}

	return false
}

// IsPermanent checks whether an error is non-retry-able.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return false
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isPermanentHTTPStatus(statusCode)
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"bad request",
		"unknown tool",
		"schema violation",
	} {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}

	return false
}

// IsDegraded checks whether an error allows degraded service.
func IsDegraded(err error) bool {
	var degradedErr *DegradedError
	return errors.As(err, &degradedErr)
}

// GetErrorType classifies an error.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if IsDegraded(err) {
		return ErrorTypeDegraded
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	// Default to permanent to avoid infinite retries.
	return ErrorTypePermanent
}

// FormatForAgent converts technical errors into actionable messages for the
// calling agent.
func FormatForAgent(err error) string {
	if err == nil {
		return ""
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.Message != "" {
		return transientErr.Message
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.Message != "" {
		return permanentErr.Message
	}
	var degradedErr *DegradedError
	if errors.As(err, &degradedErr) && degradedErr.Message != "" {
		return degradedErr.Message
	}

	lowerErr := strings.ToLower(err.Error())

	if strings.Contains(lowerErr, "connection refused") {
		if strings.Contains(lowerErr, "6379") || strings.Contains(lowerErr, "falkor") || strings.Contains(lowerErr, "redis") {
			return "Graph engine is not reachable. Start FalkorDB and check MEMBRIA_FALKORDB_ADDR."
		}
		return "Service is not running. Check that the required backend is started."
	}
	if strings.Contains(lowerErr, "rate limit") || strings.Contains(lowerErr, "429") {
		return "Rate limit reached. The request will be retried with backoff."
	}
	if strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded") {
		return "Request timed out. Narrow the query or increase the operation timeout."
	}
	if strings.Contains(lowerErr, "network") || strings.Contains(lowerErr, "dns") {
		return "Network connectivity issue. Check the connection and try again."
	}
	if strings.Contains(lowerErr, "unauthorized") || strings.Contains(lowerErr, "401") {
		return "Authentication failed. Check the configured credentials."
	}
	if strings.Contains(lowerErr, "permission denied") || strings.Contains(lowerErr, "403") {
		return "Permission denied for this resource."
	}
	if strings.Contains(lowerErr, "not found") || strings.Contains(lowerErr, "404") {
		return "Resource not found. Verify the identifier."
	}
	if strings.Contains(lowerErr, "bad request") || strings.Contains(lowerErr, "400") {
		return "Invalid request. Check the arguments and try again."
	}
	if strings.Contains(lowerErr, "500") || strings.Contains(lowerErr, "502") ||
		strings.Contains(lowerErr, "503") || strings.Contains(lowerErr, "internal server error") {
		return "Backend error. The service is temporarily unavailable and the call will be retried."
	}

	return err.Error()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isPermanentHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
		http.StatusGone,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

var statusTokens = map[string]int{
	"400": 400, "401": 401, "403": 403, "404": 404, "409": 409,
	"429": 429, "500": 500, "502": 502, "503": 503, "504": 504,
}

func extractHTTPStatusCode(err error) int {
	lowerErr := strings.ToLower(err.Error())
	for token, code := range statusTokens {
		if strings.Contains(lowerErr, "status "+token) || strings.Contains(lowerErr, "status: "+token) {
			return code
		}
	}
	// Bare code somewhere in the message, e.g. "HTTP 503 from upstream".
	for _, field := range strings.Fields(lowerErr) {
		if code, ok := statusTokens[strings.Trim(field, ":,.()")]; ok {
			return code
		}
	}
	return 0
}

// NewTransientError creates a transient error with an agent-facing message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a permanent error with an agent-facing message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewDegradedError creates a degraded error with fallback content.
func NewDegradedError(err error, message, fallback string) *DegradedError {
	return &DegradedError{Err: err, Message: message, FallbackContent: fallback}
}
