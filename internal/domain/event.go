package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event published on the bus.
type EventType string

const (
	// Connection lifecycle.
	EventGatewayConnecting   EventType = "gateway.connecting"
	EventGatewayConnected    EventType = "gateway.connected"
	EventGatewayDisconnected EventType = "gateway.disconnected"
	EventGatewayStatusError  EventType = "gateway.status.error"
	EventGatewayError        EventType = "gateway.error"

	// Domain messages surfaced by the connection.
	EventGatewayMessage EventType = "gateway.message"

	// Health monitor.
	EventGatewayHealth           EventType = "gateway.health"
	EventGatewayRestartRequested EventType = "gateway.restart.requested"

	// Local gateway process launcher.
	EventLauncherStarted EventType = "launcher.started"
	EventLauncherStopped EventType = "launcher.stopped"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus distributes events to in-process subscribers.
type EventBus interface {
	// Publish fans out an event to matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for one event type and returns an
	// unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler for every event.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and stops delivery.
	Close()
}

// NewEvent builds an event with the payload marshaled to JSON. Marshal
// failures produce an event with an empty payload; callers publish
// fire-and-forget and cannot act on the error.
func NewEvent(eventType EventType, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	return Event{Type: eventType, Timestamp: time.Now(), Payload: raw}
}
