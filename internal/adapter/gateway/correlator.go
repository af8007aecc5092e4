package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

// pendingResult is delivered to a waiting Send call.
type pendingResult struct {
	payload json.RawMessage
	err     error
}

// pendingRequest is owned exclusively by the correlator: created on send,
// destroyed on matching response, timeout, or teardown.
type pendingRequest struct {
	id string
	ch chan pendingResult
}

// Correlator tracks in-flight requests for one connection generation.
// It never outlives the socket that created it, so a late response from a
// previous generation can never match a request in the next.
type Correlator struct {
	timeout time.Duration
	write   func(Frame) error
	logger  *slog.Logger

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	closed   bool
	closeErr error
}

// newCorrelator creates a correlator that transmits frames via write.
func newCorrelator(timeout time.Duration, write func(Frame) error, logger *slog.Logger) *Correlator {
	return &Correlator{
		timeout: timeout,
		write:   write,
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}
}

// Send transmits a request frame and blocks until the matching response,
// the per-request timeout, ctx cancellation, or connection teardown.
func (c *Correlator) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	id := uuid.NewString()
	entry := &pendingRequest{id: id, ch: make(chan pendingResult, 1)}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = entry
	c.mu.Unlock()

	if err := c.write(RequestFrame{ID: id, Method: method, Params: raw}); err != nil {
		c.remove(id)
		return nil, domain.NewGatewayError(domain.ErrCodeNetworkError, "write request").WithCause(err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-entry.ch:
		return res.payload, res.err
	case <-timer.C:
		c.remove(id)
		return nil, domain.NewGatewayError(domain.ErrCodeTimeout,
			fmt.Sprintf("request %s timed out after %s", method, c.timeout))
	case <-ctx.Done():
		c.remove(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, domain.NewGatewayError(domain.ErrCodeTimeout,
				fmt.Sprintf("request %s deadline exceeded", method)).WithCause(ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// Post transmits a request frame without registering for a response. Any
// response arriving later is unmatched and therefore logged and ignored.
func (c *Correlator) Post(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	return c.write(RequestFrame{ID: uuid.NewString(), Method: method, Params: raw})
}

// Resolve delivers a response frame to its pending request. Unmatched
// responses are not errors; late handshake artifacts arrive here.
func (c *Correlator) Resolve(rf ResponseFrame) {
	c.mu.Lock()
	entry, ok := c.pending[rf.ID]
	if ok {
		delete(c.pending, rf.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("ignoring unmatched response", "id", rf.ID)
		return
	}

	if rf.OK {
		entry.ch <- pendingResult{payload: rf.Payload}
		return
	}
	entry.ch <- pendingResult{err: errorFromFrame(rf.Error)}
}

// FailAll rejects every outstanding request with err and clears the table
// atomically. Subsequent Send calls fail immediately; no entry straddles
// two socket generations.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, entry := range pending {
		entry.ch <- pendingResult{err: err}
	}
}

// PendingCount reports the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
