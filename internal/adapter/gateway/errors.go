package gateway

import (
	"strings"
	"time"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

// errorFromFrame converts a protocol-level FrameError into the client error
// taxonomy. Unmapped server codes default to CONNECTION_FAILED.
func errorFromFrame(fe *FrameError) *domain.GatewayError {
	if fe == nil {
		return domain.NewGatewayError(domain.ErrCodeConnectionFailed, "request failed")
	}

	ge := domain.NewGatewayError(mapErrorCode(fe.Code), fe.Message)
	if fe.Retryable {
		ge.Retryable = true
	}
	if fe.RetryAfterMs > 0 {
		ge.RetryAfter = time.Duration(fe.RetryAfterMs) * time.Millisecond
	}
	return ge
}

// mapErrorCode maps server error codes onto the taxonomy. Exact taxonomy
// codes pass through; auth and protocol families map to their non-retryable
// counterparts.
func mapErrorCode(code string) domain.ErrorCode {
	switch domain.ErrorCode(code) {
	case domain.ErrCodeConnectionFailed, domain.ErrCodeAuthRejected,
		domain.ErrCodeProtocolMismatch, domain.ErrCodeTimeout,
		domain.ErrCodeNetworkError:
		return domain.ErrorCode(code)
	}

	upper := strings.ToUpper(code)
	switch {
	case strings.HasPrefix(upper, "AUTH") || upper == "UNAUTHORIZED" || upper == "FORBIDDEN":
		return domain.ErrCodeAuthRejected
	case strings.HasPrefix(upper, "PROTOCOL") || strings.HasPrefix(upper, "VERSION"):
		return domain.ErrCodeProtocolMismatch
	case strings.Contains(upper, "TIMEOUT"):
		return domain.ErrCodeTimeout
	default:
		return domain.ErrCodeConnectionFailed
	}
}
