// Package gateway implements the persistent WebSocket client for the Helix
// gateway protocol: framed request/response/event messages, a challenge
// handshake, request correlation, tick-based liveness, and bounded
// exponential reconnection.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

// FrameKind identifies the wire frame variant.
type FrameKind string

const (
	FrameKindRequest  FrameKind = "req"
	FrameKindResponse FrameKind = "res"
	FrameKindEvent    FrameKind = "event"
)

// Frame is one discrete message unit on the wire.
type Frame interface {
	Kind() FrameKind
}

// RequestFrame invokes an RPC method on the gateway.
type RequestFrame struct {
	ID     string
	Method string
	Params json.RawMessage
}

func (RequestFrame) Kind() FrameKind { return FrameKindRequest }

// FrameError describes a protocol-level error in a response frame.
type FrameError struct {
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	Details      json.RawMessage `json:"details,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	RetryAfterMs int             `json:"retryAfterMs,omitempty"`
}

// ResponseFrame answers exactly one request frame.
type ResponseFrame struct {
	ID      string
	OK      bool
	Payload json.RawMessage
	Error   *FrameError
}

func (ResponseFrame) Kind() FrameKind { return FrameKindResponse }

// EventFrame is pushed by the server without a preceding request.
type EventFrame struct {
	Event   string
	Payload json.RawMessage
	Seq     int64
}

func (EventFrame) Kind() FrameKind { return FrameKindEvent }

// LegacyFrame carries a pre-framing wire payload whose top-level shape
// already matches a GatewayMessage. Kept for migration compatibility.
type LegacyFrame struct {
	Message domain.GatewayMessage
}

func (LegacyFrame) Kind() FrameKind { return FrameKindEvent }

// Wire shapes. Each variant serializes only its own fields; no stray nulls
// from unrelated branches.
type wireRequest struct {
	Kind   FrameKind       `json:"kind"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wireResponse struct {
	Kind    FrameKind       `json:"kind"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

type wireEvent struct {
	Kind    FrameKind       `json:"kind"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// Encode serializes a frame to its wire text.
func Encode(f Frame) ([]byte, error) {
	switch fr := f.(type) {
	case RequestFrame:
		return json.Marshal(wireRequest{Kind: FrameKindRequest, ID: fr.ID, Method: fr.Method, Params: fr.Params})
	case ResponseFrame:
		return json.Marshal(wireResponse{Kind: FrameKindResponse, ID: fr.ID, OK: fr.OK, Payload: fr.Payload, Error: fr.Error})
	case EventFrame:
		return json.Marshal(wireEvent{Kind: FrameKindEvent, Event: fr.Event, Payload: fr.Payload, Seq: fr.Seq})
	case LegacyFrame:
		return json.Marshal(fr.Message)
	default:
		return nil, fmt.Errorf("encode: unknown frame type %T", f)
	}
}

// Decode parses wire text into a frame. Unrecognized input yields an error;
// the caller logs and drops it without tearing down the connection.
func Decode(data []byte) (Frame, error) {
	var probe struct {
		Kind FrameKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch probe.Kind {
	case FrameKindRequest:
		var w wireRequest
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode request frame: %w", err)
		}
		return RequestFrame{ID: w.ID, Method: w.Method, Params: w.Params}, nil
	case FrameKindResponse:
		var w wireResponse
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode response frame: %w", err)
		}
		return ResponseFrame{ID: w.ID, OK: w.OK, Payload: w.Payload, Error: w.Error}, nil
	case FrameKindEvent:
		var w wireEvent
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode event frame: %w", err)
		}
		return EventFrame{Event: w.Event, Payload: w.Payload, Seq: w.Seq}, nil
	case "":
		// Legacy fallback: an unframed payload shaped like a GatewayMessage.
		var msg domain.GatewayMessage
		if err := json.Unmarshal(data, &msg); err == nil && domain.KnownMessageType(msg.Type) {
			return LegacyFrame{Message: msg}, nil
		}
		return nil, fmt.Errorf("decode frame: missing kind discriminator")
	default:
		return nil, fmt.Errorf("decode frame: unknown kind %q", probe.Kind)
	}
}
