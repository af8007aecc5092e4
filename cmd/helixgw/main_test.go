package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

func TestStatusEventType(t *testing.T) {
	assert.Equal(t, domain.EventGatewayConnecting, statusEventType(domain.StatusConnecting))
	assert.Equal(t, domain.EventGatewayConnected, statusEventType(domain.StatusConnected))
	assert.Equal(t, domain.EventGatewayStatusError, statusEventType(domain.StatusError))
	assert.Equal(t, domain.EventGatewayDisconnected, statusEventType(domain.StatusDisconnected))
}

// Status transitions and connection errors publish under different event
// types so a subscriber for one never receives the other's payload shape.
func TestStatusErrorEventDistinctFromErrorEvent(t *testing.T) {
	assert.NotEqual(t, domain.EventGatewayError, statusEventType(domain.StatusError))
}

func TestHTTPBase(t *testing.T) {
	assert.Equal(t, "https://gw.example.com:9443", httpBase("wss://gw.example.com:9443?instance=desk"))
	assert.Equal(t, "http://127.0.0.1:8787", httpBase("ws://127.0.0.1:8787"))
	assert.Equal(t, "http://localhost:8787", httpBase("http://localhost:8787"))
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "gw.example.com:9443", hostPort("wss://gw.example.com:9443/connect?instance=desk"))
	assert.Equal(t, "127.0.0.1:8787", hostPort("ws://127.0.0.1:8787"))
}
