package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

// Protocol version range this client supports.
const (
	minProtocolVersion = 3
	maxProtocolVersion = 3
)

// handshakeState tracks the connect negotiation state machine.
type handshakeState int

const (
	hsIdle handshakeState = iota
	hsSocketOpen
	hsAwaitingChallenge
	hsConnectSent
	hsConnected
	hsFailed
)

func (s handshakeState) String() string {
	switch s {
	case hsIdle:
		return "idle"
	case hsSocketOpen:
		return "socketOpen"
	case hsAwaitingChallenge:
		return "awaitingChallenge"
	case hsConnectSent:
		return "connectSent"
	case hsConnected:
		return "connected"
	case hsFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// challengePayload is the connect.challenge event payload.
type challengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts,omitempty"`
}

// connectParams is the application-level contract of the connect request.
type connectParams struct {
	MinProtocol int              `json:"minProtocol"`
	MaxProtocol int              `json:"maxProtocol"`
	Client      clientDescriptor `json:"client"`
	Role        string           `json:"role"`
	Scopes      []string         `json:"scopes"`
	Auth        connectAuth      `json:"auth"`
	UserAgent   string           `json:"userAgent,omitempty"`
	Nonce       string           `json:"nonce,omitempty"`
}

type clientDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	Instance    string `json:"instance,omitempty"`
}

type connectAuth struct {
	Token string `json:"token"`
}

// helloPayload is the payload of a successful connect response.
type helloPayload struct {
	Type     string       `json:"type"` // "hello-ok"
	Protocol int          `json:"protocol,omitempty"`
	Policy   *tickPolicy  `json:"policy,omitempty"`
	Server   *serverIdent `json:"server,omitempty"`
}

type tickPolicy struct {
	TickIntervalMs int `json:"tickIntervalMs"`
}

type serverIdent struct {
	Version string `json:"version,omitempty"`
}

// negotiated is the outcome of a successful handshake.
type negotiated struct {
	Protocol     int
	TickInterval time.Duration
}

// handshakeSequencer drives socket-open → challenge → connect → hello-ok.
// It lives for exactly one connection generation.
type handshakeSequencer struct {
	params connectParams
	corr   *Correlator
	logger *slog.Logger

	mu          sync.Mutex
	state       handshakeState
	challengeCh chan challengePayload
}

func newHandshakeSequencer(params connectParams, corr *Correlator, logger *slog.Logger) *handshakeSequencer {
	return &handshakeSequencer{
		params:      params,
		corr:        corr,
		logger:      logger,
		state:       hsSocketOpen,
		challengeCh: make(chan challengePayload, 1),
	}
}

// deliverChallenge hands the connect.challenge event to the sequencer.
// Called by the event dispatcher; never surfaced to the application.
func (h *handshakeSequencer) deliverChallenge(raw json.RawMessage) {
	var ch challengePayload
	if err := json.Unmarshal(raw, &ch); err != nil {
		h.logger.Warn("malformed connect.challenge payload", "error", err)
		return
	}
	select {
	case h.challengeCh <- ch:
	default:
		h.logger.Debug("duplicate connect.challenge dropped")
	}
}

// run performs the handshake. The caller bounds the whole phase with a
// single connect deadline on ctx; a server that opens the socket but never
// challenges trips the same deadline.
func (h *handshakeSequencer) run(ctx context.Context) (negotiated, error) {
	h.transition(hsAwaitingChallenge)

	var challenge challengePayload
	select {
	case challenge = <-h.challengeCh:
	case <-ctx.Done():
		h.transition(hsFailed)
		return negotiated{}, connectPhaseError(ctx.Err(), "no challenge received")
	}

	h.logger.Debug("connect.challenge received")

	params := h.params
	params.MinProtocol = minProtocolVersion
	params.MaxProtocol = maxProtocolVersion
	params.Nonce = challenge.Nonce

	h.transition(hsConnectSent)
	payload, err := h.corr.Send(ctx, "connect", params)
	if err != nil {
		h.transition(hsFailed)
		var ge *domain.GatewayError
		if errors.As(err, &ge) {
			return negotiated{}, ge
		}
		return negotiated{}, connectPhaseError(err, "connect request failed")
	}

	var hello helloPayload
	if err := json.Unmarshal(payload, &hello); err != nil {
		h.transition(hsFailed)
		return negotiated{}, domain.NewGatewayError(domain.ErrCodeProtocolMismatch,
			"malformed connect response payload").WithCause(err)
	}
	if hello.Type != "hello-ok" {
		h.transition(hsFailed)
		return negotiated{}, domain.NewGatewayError(domain.ErrCodeProtocolMismatch,
			fmt.Sprintf("expected hello-ok, got %q", hello.Type))
	}

	neg := negotiated{Protocol: hello.Protocol}
	if hello.Policy != nil && hello.Policy.TickIntervalMs > 0 {
		neg.TickInterval = time.Duration(hello.Policy.TickIntervalMs) * time.Millisecond
	}

	h.transition(hsConnected)
	return neg, nil
}

func (h *handshakeSequencer) transition(next handshakeState) {
	h.mu.Lock()
	prev := h.state
	h.state = next
	h.mu.Unlock()
	h.logger.Debug("handshake state", "from", prev.String(), "to", next.String())
}

func (h *handshakeSequencer) currentState() handshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// connectPhaseError maps context errors from the connect phase to TIMEOUT;
// anything else becomes a retryable connection failure.
func connectPhaseError(err error, message string) *domain.GatewayError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewGatewayError(domain.ErrCodeTimeout, "connect phase timed out: "+message).WithCause(err)
	}
	return domain.NewGatewayError(domain.ErrCodeConnectionFailed, message).WithCause(err)
}
