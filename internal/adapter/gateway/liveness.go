package gateway

import (
	"log/slog"
	"sync"
	"time"
)

// staleMultiplier is how many tick intervals may elapse without a tick
// before the socket is declared dead.
const staleMultiplier = 2.5

// defaultCheckFloor is the minimum check cadence.
const defaultCheckFloor = 1 * time.Second

// LivenessMonitor watches the periodic tick event and force-closes the
// socket when ticks stop arriving. One monitor belongs to exactly one
// connection generation and never fires after Stop.
type LivenessMonitor struct {
	logger     *slog.Logger
	checkFloor time.Duration

	mu       sync.Mutex
	lastTick time.Time
	interval time.Duration
	stopCh   chan struct{}
	stopOnce *sync.Once
	started  bool
}

// newLivenessMonitor creates a monitor. checkFloor bounds the check cadence
// from below; zero means the 1s default.
func newLivenessMonitor(checkFloor time.Duration, logger *slog.Logger) *LivenessMonitor {
	if checkFloor <= 0 {
		checkFloor = defaultCheckFloor
	}
	return &LivenessMonitor{logger: logger, checkFloor: checkFloor}
}

// Touch records a tick arrival. Safe to call before Start.
func (m *LivenessMonitor) Touch() {
	m.mu.Lock()
	m.lastTick = time.Now()
	m.mu.Unlock()
}

// Start begins watching with the negotiated tick interval. onStale is
// invoked once when no tick has arrived within staleMultiplier intervals.
func (m *LivenessMonitor) Start(interval time.Duration, onStale func()) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.interval = interval
	m.lastTick = time.Now()
	m.stopCh = make(chan struct{})
	m.stopOnce = &sync.Once{}
	stopCh := m.stopCh
	m.mu.Unlock()

	cadence := interval
	if cadence < m.checkFloor {
		cadence = m.checkFloor
	}

	go m.run(cadence, stopCh, onStale)
}

func (m *LivenessMonitor) run(cadence time.Duration, stopCh chan struct{}, onStale func()) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	threshold := time.Duration(float64(m.interval) * staleMultiplier)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			elapsed := time.Since(m.lastTick)
			m.mu.Unlock()

			if elapsed > threshold {
				m.logger.Warn("tick timeout, forcing socket close",
					"elapsed", elapsed, "threshold", threshold)
				// Stop first so a slow close can never race a second fire.
				m.Stop()
				onStale()
				return
			}
		}
	}
}

// Stop halts the monitor. Idempotent; must be called on every socket close
// so a stale timer never fires against a replaced socket.
func (m *LivenessMonitor) Stop() {
	m.mu.Lock()
	once := m.stopOnce
	stopCh := m.stopCh
	m.mu.Unlock()

	if once == nil {
		return
	}
	once.Do(func() { close(stopCh) })
}
