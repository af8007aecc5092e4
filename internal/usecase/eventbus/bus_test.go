package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishReachesTypedSubscriber(t *testing.T) {
	bus := New(testLogger())
	defer bus.Close()

	got := make(chan domain.Event, 1)
	bus.Subscribe(domain.EventGatewayConnected, func(_ context.Context, ev domain.Event) {
		got <- ev
	})

	bus.Publish(context.Background(), domain.NewEvent(domain.EventGatewayConnected, nil))

	select {
	case ev := <-got:
		assert.Equal(t, domain.EventGatewayConnected, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("typed subscriber never received the event")
	}
}

func TestPublishSkipsOtherTypes(t *testing.T) {
	bus := New(testLogger())
	defer bus.Close()

	var calls atomic.Int32
	bus.Subscribe(domain.EventGatewayConnected, func(context.Context, domain.Event) {
		calls.Add(1)
	})

	bus.Publish(context.Background(), domain.NewEvent(domain.EventGatewayDisconnected, nil))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := New(testLogger())
	defer bus.Close()

	var calls atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) { calls.Add(1) })

	bus.Publish(context.Background(), domain.NewEvent(domain.EventGatewayConnected, nil))
	bus.Publish(context.Background(), domain.NewEvent(domain.EventGatewayMessage, map[string]string{"x": "y"}))

	require.Eventually(t, func() bool { return calls.Load() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(testLogger())
	defer bus.Close()

	var calls atomic.Int32
	unsub := bus.Subscribe(domain.EventGatewayMessage, func(context.Context, domain.Event) {
		calls.Add(1)
	})

	bus.Publish(context.Background(), domain.NewEvent(domain.EventGatewayMessage, nil))
	require.Eventually(t, func() bool { return calls.Load() == 1 },
		time.Second, 5*time.Millisecond)

	unsub()
	bus.Publish(context.Background(), domain.NewEvent(domain.EventGatewayMessage, nil))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := New(testLogger())
	defer bus.Close()

	got := make(chan struct{}, 1)
	bus.Subscribe(domain.EventGatewayError, func(context.Context, domain.Event) {
		panic("handler bug")
	})
	bus.Subscribe(domain.EventGatewayError, func(context.Context, domain.Event) {
		got <- struct{}{}
	})

	bus.Publish(context.Background(), domain.NewEvent(domain.EventGatewayError, nil))

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second handler starved by a panicking sibling")
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := New(testLogger())

	var calls atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) { calls.Add(1) })
	bus.Close()

	bus.Publish(context.Background(), domain.NewEvent(domain.EventGatewayMessage, nil))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestNewEventMarshalsPayload(t *testing.T) {
	ev := domain.NewEvent(domain.EventGatewayMessage, map[string]int{"seq": 7})
	assert.JSONEq(t, `{"seq":7}`, string(ev.Payload))
}
