package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodcoding123/helix-gateway/internal/domain"
	"github.com/rodcoding123/helix-gateway/internal/usecase/eventbus"
)

// busRecorder collects published events by type.
type busRecorder struct {
	bus *eventbus.Bus

	mu     sync.Mutex
	events []domain.Event
}

func newBusRecorder(t *testing.T) *busRecorder {
	t.Helper()
	r := &busRecorder{bus: eventbus.New(testLogger())}
	r.bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	t.Cleanup(r.bus.Close)
	return r
}

func (r *busRecorder) ofType(et domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

func (r *busRecorder) waitFor(t *testing.T, et domain.EventType) domain.Event {
	t.Helper()
	var got domain.Event
	require.Eventually(t, func() bool {
		evs := r.ofType(et)
		if len(evs) == 0 {
			return false
		}
		got = evs[0]
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestMonitorHealthyTransition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rec := newBusRecorder(t)
	m := NewHealthMonitor(MonitorConfig{
		BaseURL: srv.URL,
		Addr:    strings.TrimPrefix(srv.URL, "http://"),
	}, rec.bus, testLogger())

	m.check(context.Background())

	assert.Equal(t, HealthHealthy, m.State())
	ev := rec.waitFor(t, domain.EventGatewayHealth)
	var he HealthEvent
	require.NoError(t, json.Unmarshal(ev.Payload, &he))
	assert.Equal(t, HealthHealthy, he.State)
}

func TestMonitorTCPFallback(t *testing.T) {
	// Plain HTTP 500 from /health, but the port accepts TCP; with a server
	// that rejects HTTP entirely the TCP fallback has to carry the probe.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	rec := newBusRecorder(t)
	m := NewHealthMonitor(MonitorConfig{
		BaseURL: srv.URL,
		Addr:    strings.TrimPrefix(srv.URL, "http://"),
	}, rec.bus, testLogger())

	m.check(context.Background())
	assert.Equal(t, HealthHealthy, m.State())
}

func TestMonitorUnhealthyAfterThreshold(t *testing.T) {
	rec := newBusRecorder(t)
	m := NewHealthMonitor(MonitorConfig{
		BaseURL:            "http://127.0.0.1:1",
		Addr:               "127.0.0.1:1",
		ProbeTimeout:       200 * time.Millisecond,
		UnhealthyThreshold: 2,
		MaxRestarts:        2,
	}, rec.bus, testLogger())

	m.check(context.Background())
	assert.Equal(t, HealthUnknown, m.State(), "one failure is below the threshold")

	m.check(context.Background())
	assert.Equal(t, HealthUnhealthy, m.State())

	ev := rec.waitFor(t, domain.EventGatewayHealth)
	var he HealthEvent
	require.NoError(t, json.Unmarshal(ev.Payload, &he))
	assert.Equal(t, HealthUnhealthy, he.State)

	rec.waitFor(t, domain.EventGatewayRestartRequested)
}

func TestMonitorRestartRequestsBounded(t *testing.T) {
	rec := newBusRecorder(t)
	m := NewHealthMonitor(MonitorConfig{
		BaseURL:            "http://127.0.0.1:1",
		Addr:               "127.0.0.1:1",
		ProbeTimeout:       200 * time.Millisecond,
		UnhealthyThreshold: 1,
		MaxRestarts:        2,
	}, rec.bus, testLogger())

	for i := 0; i < 5; i++ {
		m.check(context.Background())
	}

	require.Eventually(t, func() bool {
		return len(rec.ofType(domain.EventGatewayRestartRequested)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Unhealthy is announced once per episode, not on every failed probe.
	assert.Len(t, rec.ofType(domain.EventGatewayHealth), 1)
}

func TestMonitorRecovery(t *testing.T) {
	var mu sync.Mutex
	healthy := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := newBusRecorder(t)
	m := NewHealthMonitor(MonitorConfig{
		BaseURL: srv.URL,
		Addr:    "127.0.0.1:1", // TCP fallback must not mask the 500
		// Short interval keeps the breaker's open window small enough for
		// the recovery probe below to go through half-open.
		Interval:           10 * time.Millisecond,
		ProbeTimeout:       200 * time.Millisecond,
		UnhealthyThreshold: 1,
		MaxRestarts:        1,
	}, rec.bus, testLogger())

	m.check(context.Background())
	assert.Equal(t, HealthUnhealthy, m.State())

	mu.Lock()
	healthy = true
	mu.Unlock()

	// Wait out the breaker's open state, then probe again.
	time.Sleep(50 * time.Millisecond)
	m.check(context.Background())
	assert.Equal(t, HealthHealthy, m.State())

	require.Eventually(t, func() bool {
		evs := rec.ofType(domain.EventGatewayHealth)
		if len(evs) < 2 {
			return false
		}
		var he HealthEvent
		if err := json.Unmarshal(evs[len(evs)-1].Payload, &he); err != nil {
			return false
		}
		return he.State == HealthHealthy && he.Message == "gateway recovered"
	}, 2*time.Second, 10*time.Millisecond)
}
