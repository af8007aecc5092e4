package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

// HealthState describes the monitored gateway process.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthEvent is the payload of gateway.health events.
type HealthEvent struct {
	State     HealthState `json:"state"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// RestartRequest is the payload of gateway.restart.requested events.
type RestartRequest struct {
	Attempt     int `json:"attempt"`
	MaxRestarts int `json:"maxRestarts"`
}

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	// BaseURL is the gateway HTTP base, e.g. "http://127.0.0.1:18789".
	BaseURL string
	// Addr is the host:port used for the TCP fallback probe.
	Addr string
	// Interval is the probe cadence.
	Interval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// UnhealthyThreshold is the number of consecutive failed probes before
	// the gateway is declared unhealthy.
	UnhealthyThreshold int
	// MaxRestarts bounds restart requests per unhealthy episode.
	MaxRestarts int
}

func (cfg MonitorConfig) withDefaults() MonitorConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 3
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 3
	}
	return cfg
}

// HealthMonitor probes the local gateway process and publishes health
// transitions on the event bus. The probe is wrapped in a circuit breaker
// so a dead gateway is not hammered with HTTP requests between checks.
type HealthMonitor struct {
	cfg     MonitorConfig
	bus     domain.EventBus
	breaker *gobreaker.CircuitBreaker[struct{}]
	client  *http.Client
	logger  *slog.Logger

	mu       sync.Mutex
	state    HealthState
	failures int
	restarts int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHealthMonitor creates a monitor; call Run to start probing.
func NewHealthMonitor(cfg MonitorConfig, bus domain.EventBus, logger *slog.Logger) *HealthMonitor {
	cfg = cfg.withDefaults()

	m := &HealthMonitor{
		cfg:    cfg,
		bus:    bus,
		client: &http.Client{Timeout: cfg.ProbeTimeout},
		logger: logger.With("component", "gateway-monitor"),
		state:  HealthUnknown,
		stopCh: make(chan struct{}),
	}

	m.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "gateway-health",
		MaxRequests: 1, // one probe in half-open state
		Interval:    cfg.Interval * 4,
		Timeout:     cfg.Interval * 2,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.UnhealthyThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("health probe breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return m
}

// Run probes until ctx is cancelled or Stop is called.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// Stop halts probing.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// State returns the last observed health state.
func (m *HealthMonitor) State() HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *HealthMonitor) check(ctx context.Context) {
	_, err := m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, m.probe(ctx)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		m.failures = 0
		m.restarts = 0
		if m.state != HealthHealthy {
			prev := m.state
			m.state = HealthHealthy
			msg := "gateway healthy"
			if prev == HealthUnhealthy {
				msg = "gateway recovered"
			}
			m.publish(ctx, HealthEvent{State: HealthHealthy, Message: msg, Timestamp: domain.NowMillis()})
		}
		return
	}

	m.failures++
	if m.failures < m.cfg.UnhealthyThreshold {
		return
	}

	if m.state != HealthUnhealthy {
		m.state = HealthUnhealthy
		m.publish(ctx, HealthEvent{
			State:     HealthUnhealthy,
			Message:   fmt.Sprintf("gateway not responding after %d checks", m.failures),
			Timestamp: domain.NowMillis(),
		})
	}

	if m.restarts < m.cfg.MaxRestarts {
		m.restarts++
		m.bus.Publish(ctx, domain.NewEvent(domain.EventGatewayRestartRequested, RestartRequest{
			Attempt:     m.restarts,
			MaxRestarts: m.cfg.MaxRestarts,
		}))
	}
}

// probe checks the /health endpoint, falling back to a bare TCP dial when
// HTTP is unavailable.
func (m *HealthMonitor) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := m.client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	conn, dialErr := net.DialTimeout("tcp", m.cfg.Addr, m.cfg.ProbeTimeout)
	if dialErr != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	conn.Close()
	return nil
}

func (m *HealthMonitor) publish(ctx context.Context, ev HealthEvent) {
	m.bus.Publish(ctx, domain.NewEvent(domain.EventGatewayHealth, ev))
}
