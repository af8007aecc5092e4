package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGatewayErrorDefaultRetryability(t *testing.T) {
	cases := []struct {
		code      ErrorCode
		retryable bool
	}{
		{ErrCodeConnectionFailed, true},
		{ErrCodeTimeout, true},
		{ErrCodeNetworkError, true},
		{ErrCodeAuthRejected, false},
		{ErrCodeProtocolMismatch, false},
	}
	for _, tc := range cases {
		ge := NewGatewayError(tc.code, "x")
		assert.Equal(t, tc.retryable, ge.Retryable, "code %s", tc.code)
	}
}

func TestGatewayErrorUnwrap(t *testing.T) {
	cause := errors.New("socket reset")
	ge := NewGatewayError(ErrCodeNetworkError, "read failed").WithCause(cause)

	require.ErrorIs(t, ge, cause)
	assert.Contains(t, ge.Error(), "NETWORK_ERROR")
	assert.Contains(t, ge.Error(), "socket reset")
}

func TestGatewayErrorMessageWithoutCause(t *testing.T) {
	ge := NewGatewayError(ErrCodeAuthRejected, "bad token")
	assert.Equal(t, "AUTH_REJECTED: bad token", ge.Error())
}

func TestAsGatewayErrorPassthrough(t *testing.T) {
	orig := NewGatewayError(ErrCodeTimeout, "slow")
	got := AsGatewayError(orig)
	assert.Same(t, orig, got)
}

func TestAsGatewayErrorWrapsPlainError(t *testing.T) {
	plain := errors.New("boom")
	ge := AsGatewayError(plain)
	assert.Equal(t, ErrCodeConnectionFailed, ge.Code)
	assert.True(t, ge.Retryable)
	require.ErrorIs(t, ge, plain)
}

func TestAsGatewayErrorFindsWrapped(t *testing.T) {
	inner := NewGatewayError(ErrCodeAuthRejected, "nope")
	wrapped := errors.Join(errors.New("outer"), inner)
	got := AsGatewayError(wrapped)
	assert.Equal(t, ErrCodeAuthRejected, got.Code)
}

func TestKnownMessageType(t *testing.T) {
	for _, mt := range []MessageType{
		MessageThinking, MessageToolCall, MessageToolResult,
		MessageError, MessageComplete, MessageHeartbeat,
	} {
		assert.True(t, KnownMessageType(mt), "type %s", mt)
	}
	assert.False(t, KnownMessageType("mystery"))
	assert.False(t, KnownMessageType(""))
}
