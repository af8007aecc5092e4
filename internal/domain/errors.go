package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the gateway error taxonomy. Every error surfaced by the
// gateway client carries exactly one of these codes.
type ErrorCode string

const (
	// ErrCodeConnectionFailed covers generic inability to establish or keep
	// the session: unmapped server errors, shutdown notices, exhausted
	// reconnect attempts.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeAuthRejected means the server refused the credentials.
	ErrCodeAuthRejected ErrorCode = "AUTH_REJECTED"
	// ErrCodeProtocolMismatch means version negotiation failed.
	ErrCodeProtocolMismatch ErrorCode = "PROTOCOL_MISMATCH"
	// ErrCodeTimeout means a specific operation exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeNetworkError is a transport-level failure signaled by the socket.
	ErrCodeNetworkError ErrorCode = "NETWORK_ERROR"
)

// Sentinel errors for the gateway client.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotConnected     = errors.New("not connected")
)

// GatewayError is the typed error delivered through request rejections and
// the error callback.
type GatewayError struct {
	Code       ErrorCode
	Message    string
	Retryable  bool
	RetryAfter time.Duration // optional server hint, zero when absent
	Err        error         // underlying cause, may be nil
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NewGatewayError builds a GatewayError with the default retryability for
// the given code: timeouts and network errors are retryable, credential and
// protocol failures are not, connection failures are retryable unless the
// caller flips the flag.
func NewGatewayError(code ErrorCode, message string) *GatewayError {
	retryable := false
	switch code {
	case ErrCodeTimeout, ErrCodeNetworkError, ErrCodeConnectionFailed:
		retryable = true
	}
	return &GatewayError{Code: code, Message: message, Retryable: retryable}
}

// WithCause attaches an underlying error.
func (e *GatewayError) WithCause(err error) *GatewayError {
	e.Err = err
	return e
}

// AsGatewayError extracts a *GatewayError from err, or wraps err as a
// retryable CONNECTION_FAILED when it carries no code.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewGatewayError(ErrCodeConnectionFailed, err.Error()).WithCause(err)
}
