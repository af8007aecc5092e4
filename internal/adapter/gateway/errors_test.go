package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

func TestErrorFromFrameNil(t *testing.T) {
	ge := errorFromFrame(nil)
	require.NotNil(t, ge)
	assert.Equal(t, domain.ErrCodeConnectionFailed, ge.Code)
}

func TestErrorFromFrameRetryAfter(t *testing.T) {
	ge := errorFromFrame(&FrameError{
		Code:         "RATE_LIMITED",
		Message:      "slow down",
		Retryable:    true,
		RetryAfterMs: 1500,
	})
	assert.Equal(t, domain.ErrCodeConnectionFailed, ge.Code)
	assert.True(t, ge.Retryable)
	assert.Equal(t, 1500*time.Millisecond, ge.RetryAfter)
}

func TestMapErrorCode(t *testing.T) {
	cases := []struct {
		in   string
		want domain.ErrorCode
	}{
		{"AUTH_REJECTED", domain.ErrCodeAuthRejected},
		{"PROTOCOL_MISMATCH", domain.ErrCodeProtocolMismatch},
		{"TIMEOUT", domain.ErrCodeTimeout},
		{"NETWORK_ERROR", domain.ErrCodeNetworkError},
		{"CONNECTION_FAILED", domain.ErrCodeConnectionFailed},
		{"UNAUTHORIZED", domain.ErrCodeAuthRejected},
		{"FORBIDDEN", domain.ErrCodeAuthRejected},
		{"AUTH_EXPIRED", domain.ErrCodeAuthRejected},
		{"VERSION_UNSUPPORTED", domain.ErrCodeProtocolMismatch},
		{"PROTOCOL_ERROR", domain.ErrCodeProtocolMismatch},
		{"REQUEST_TIMEOUT", domain.ErrCodeTimeout},
		{"SOMETHING_ELSE", domain.ErrCodeConnectionFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mapErrorCode(tc.in), "code %s", tc.in)
	}
}
