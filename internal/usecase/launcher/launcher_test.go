package launcher

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodcoding123/helix-gateway/internal/domain"
	"github.com/rodcoding123/helix-gateway/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartAndStop(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	started := make(chan domain.Event, 1)
	bus.Subscribe(domain.EventLauncherStarted, func(_ context.Context, ev domain.Event) {
		started <- ev
	})

	// "sleep" stands in for the gateway binary; it ignores the flags.
	l := New(Config{Command: "sleep", Args: []string{"30"}, Token: "secret"}, bus, testLogger())

	info, err := l.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Running)
	assert.NotZero(t, info.PID)
	assert.NotZero(t, info.Port)
	assert.Contains(t, info.URL, "ws://127.0.0.1:")

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("launcher.started event never published")
	}

	assert.True(t, l.Status().Running)
	assert.Equal(t, info.URL, l.URL())

	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, l.Status().Running)
	assert.Empty(t, l.URL())
}

func TestStartTwiceFails(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	l := New(Config{Command: "sleep", Args: []string{"30"}}, bus, testLogger())
	_, err := l.Start(context.Background())
	require.NoError(t, err)
	defer l.Stop(context.Background())

	_, err = l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestStartMissingBinary(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	l := New(Config{Command: "definitely-not-a-real-binary"}, bus, testLogger())
	_, err := l.Start(context.Background())
	require.Error(t, err)
	assert.False(t, l.Status().Running)
}

func TestStopWithoutStart(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	l := New(Config{Command: "sleep"}, bus, testLogger())
	require.NoError(t, l.Stop(context.Background()))
}

func TestEphemeralPortWhenPreferredTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	taken := ln.Addr().(*net.TCPAddr).Port

	bus := eventbus.New(testLogger())
	defer bus.Close()

	l := New(Config{Command: "sleep", Args: []string{"30"}, Port: taken}, bus, testLogger())
	info, err := l.Start(context.Background())
	require.NoError(t, err)
	defer l.Stop(context.Background())

	assert.NotEqual(t, taken, info.Port)
}

func TestRedactToken(t *testing.T) {
	in := []string{"gateway", "--port", "18789", "--token", "super-secret", "--bind", "loopback"}
	out := redactToken(in)

	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "[REDACTED]")
	// The input slice is untouched.
	assert.Contains(t, in, "super-secret")
}

func TestPortAvailable(t *testing.T) {
	port, err := ephemeralPort()
	require.NoError(t, err)
	assert.True(t, portAvailable(port))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.False(t, portAvailable(ln.Addr().(*net.TCPAddr).Port))
}
