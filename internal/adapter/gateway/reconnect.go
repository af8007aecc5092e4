package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectSupervisor schedules reconnection after unplanned socket
// closures: exponential backoff (base, 2x, no jitter) bounded by a maximum
// attempt count. The attempt counter resets on socket open, not on
// handshake completion; see DESIGN.md for the rationale.
type ReconnectSupervisor struct {
	maxAttempts int
	logger      *slog.Logger

	mu       sync.Mutex
	bo       *backoff.ExponentialBackOff
	attempts int
	timer    *time.Timer
	pending  bool
}

func newReconnectSupervisor(base time.Duration, maxAttempts int, logger *slog.Logger) *ReconnectSupervisor {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = base << 10
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &ReconnectSupervisor{
		maxAttempts: maxAttempts,
		logger:      logger,
		bo:          bo,
	}
}

// ScheduleNext consumes one attempt and arms a one-shot timer for fn.
// It reports the chosen delay and whether an attempt was scheduled;
// exhausted is true when the attempt budget ran out. While a timer is
// already pending the call is a no-op, so concurrent closure observers can
// neither stack attempts nor burn the budget.
func (s *ReconnectSupervisor) ScheduleNext(fn func()) (delay time.Duration, scheduled, exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return 0, false, false
	}
	if s.attempts >= s.maxAttempts {
		return 0, false, true
	}
	s.attempts++
	delay = s.bo.NextBackOff()
	s.pending = true
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
		fn()
	})
	return delay, true, false
}

// Attempts reports the current attempt count.
func (s *ReconnectSupervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Reset zeroes the attempt counter and backoff state. Called on every
// successful socket open.
func (s *ReconnectSupervisor) Reset() {
	s.mu.Lock()
	s.attempts = 0
	s.bo.Reset()
	s.mu.Unlock()
}

// Stop cancels any pending reconnect timer. Called on explicit disconnect
// so no attempt fires against a torn-down client.
func (s *ReconnectSupervisor) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
	s.mu.Unlock()
}
