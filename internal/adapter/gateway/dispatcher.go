package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

// Event names consumed from the gateway.
const (
	eventConnectChallenge = "connect.challenge"
	eventTick             = "tick"
	eventChat             = "chat.event"
	eventAgent            = "agent.event"
	eventShutdown         = "shutdown"
)

// Callbacks are the three application-facing slots of a connection.
// Any slot may be nil.
type Callbacks struct {
	OnMessage      func(domain.GatewayMessage)
	OnStatusChange func(domain.ConnectionStatus)
	OnError        func(*domain.GatewayError)
}

func (cb Callbacks) emitMessage(msg domain.GatewayMessage) {
	if cb.OnMessage != nil {
		cb.OnMessage(msg)
	}
}

func (cb Callbacks) emitError(ge *domain.GatewayError) {
	if cb.OnError != nil {
		cb.OnError(ge)
	}
}

func (cb Callbacks) emitStatus(status domain.ConnectionStatus) {
	if cb.OnStatusChange != nil {
		cb.OnStatusChange(status)
	}
}

// agentEventPayload is the sub-typed payload of chat.event / agent.event.
type agentEventPayload struct {
	Type       string          `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolOutput json.RawMessage `json:"toolOutput,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// tickPayload is the tick event payload.
type tickPayload struct {
	TS int64 `json:"ts,omitempty"`
}

// shutdownPayload is the shutdown event payload.
type shutdownPayload struct {
	Reason       string `json:"reason,omitempty"`
	RetryAfterMs int    `json:"retryAfterMs,omitempty"`
}

// Dispatcher routes event frames to the handshake sequencer, the liveness
// monitor, or the application callbacks. It lives for one generation.
type Dispatcher struct {
	seq      *handshakeSequencer
	liveness *LivenessMonitor
	cb       Callbacks
	logger   *slog.Logger
}

func newDispatcher(seq *handshakeSequencer, liveness *LivenessMonitor, cb Callbacks, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{seq: seq, liveness: liveness, cb: cb, logger: logger}
}

// Dispatch translates one event frame. Events are handled synchronously in
// arrival order.
func (d *Dispatcher) Dispatch(ev EventFrame) {
	switch ev.Event {
	case eventConnectChallenge:
		d.seq.deliverChallenge(ev.Payload)

	case eventTick:
		d.liveness.Touch()
		var tick tickPayload
		if len(ev.Payload) > 0 {
			_ = json.Unmarshal(ev.Payload, &tick)
		}
		ts := tick.TS
		if ts == 0 {
			ts = domain.NowMillis()
		}
		d.cb.emitMessage(domain.GatewayMessage{Type: domain.MessageHeartbeat, Timestamp: ts})

	case eventChat, eventAgent:
		d.dispatchAgentEvent(ev)

	case eventShutdown:
		var sd shutdownPayload
		if len(ev.Payload) > 0 {
			_ = json.Unmarshal(ev.Payload, &sd)
		}
		ge := domain.NewGatewayError(domain.ErrCodeConnectionFailed, "server shutting down: "+sd.Reason)
		if sd.RetryAfterMs > 0 {
			ge.RetryAfter = time.Duration(sd.RetryAfterMs) * time.Millisecond
		}
		d.cb.emitError(ge)

	default:
		// Unknown future event types degrade to visibility, not silent loss.
		if len(ev.Payload) == 0 {
			d.logger.Debug("dropping unknown event without payload", "event", ev.Event)
			return
		}
		d.cb.emitMessage(domain.GatewayMessage{
			Type:      domain.MessageComplete,
			Content:   string(ev.Payload),
			Timestamp: domain.NowMillis(),
		})
	}
}

// DispatchLegacy passes a pre-framing payload straight through.
func (d *Dispatcher) DispatchLegacy(msg domain.GatewayMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = domain.NowMillis()
	}
	d.cb.emitMessage(msg)
}

func (d *Dispatcher) dispatchAgentEvent(ev EventFrame) {
	var p agentEventPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		d.logger.Warn("malformed agent event payload", "event", ev.Event, "error", err)
		return
	}

	ts := p.Timestamp
	if ts == 0 {
		ts = domain.NowMillis()
	}

	switch p.Type {
	case "thinking":
		d.cb.emitMessage(domain.GatewayMessage{Type: domain.MessageThinking, Content: p.Content, Timestamp: ts})
	case "tool_use", "tool_call":
		d.cb.emitMessage(domain.GatewayMessage{Type: domain.MessageToolCall, ToolName: p.ToolName, ToolInput: p.ToolInput, Timestamp: ts})
	case "tool_result":
		d.cb.emitMessage(domain.GatewayMessage{Type: domain.MessageToolResult, ToolName: p.ToolName, ToolOutput: p.ToolOutput, Timestamp: ts})
	case "complete", "done":
		d.cb.emitMessage(domain.GatewayMessage{Type: domain.MessageComplete, Content: p.Content, Timestamp: ts})
	case "error":
		d.cb.emitMessage(domain.GatewayMessage{Type: domain.MessageError, Error: p.Error, Content: p.Content, Timestamp: ts})
	default:
		if p.Content != "" {
			// Unrecognized sub-type with content degrades to complete.
			d.cb.emitMessage(domain.GatewayMessage{Type: domain.MessageComplete, Content: p.Content, Timestamp: ts})
			return
		}
		d.logger.Debug("dropping agent event with unknown sub-type", "event", ev.Event, "subtype", p.Type)
	}
}
