package domain

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of domain-level message surfaced to the
// application by the gateway client.
type MessageType string

const (
	MessageThinking   MessageType = "thinking"
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
	MessageError      MessageType = "error"
	MessageComplete   MessageType = "complete"
	MessageHeartbeat  MessageType = "heartbeat"
)

// KnownMessageType reports whether t is one of the recognized message types.
// Used by the frame codec to detect legacy (pre-framing) wire payloads.
func KnownMessageType(t MessageType) bool {
	switch t {
	case MessageThinking, MessageToolCall, MessageToolResult,
		MessageError, MessageComplete, MessageHeartbeat:
		return true
	}
	return false
}

// GatewayMessage is the domain-level event the gateway client delivers to the
// application. It is produced from lower-level event frames, never from raw
// socket data.
type GatewayMessage struct {
	Type       MessageType     `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolOutput json.RawMessage `json:"toolOutput,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"` // unix milliseconds
}

// NowMillis returns the current time as unix milliseconds, the timestamp
// convention used on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// ConnectionStatus is the authoritative state of one gateway connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)
