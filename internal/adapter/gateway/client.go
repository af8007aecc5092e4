package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"nhooyr.io/websocket"

	"github.com/rodcoding123/helix-gateway/internal/domain"
	"github.com/rodcoding123/helix-gateway/internal/infra/tracer"
)

// Default timing parameters.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultRequestTimeout = 60 * time.Second
	DefaultTickInterval   = 30 * time.Second
	DefaultReconnectBase  = 1 * time.Second
	DefaultMaxReconnects  = 5

	writeTimeout = 5 * time.Second

	// closeCodeTickTimeout is the application close code used when the
	// liveness monitor force-closes a stale socket.
	closeCodeTickTimeout websocket.StatusCode = 4000
)

// Config holds the immutable settings of one Client.
type Config struct {
	// URL is the gateway WebSocket URL.
	URL string
	// Token is the opaque auth token carried in the connect request.
	Token string
	// Instance identifies this client instance; defaulted to a fresh ULID.
	Instance string

	ClientID   string
	ClientName string
	Version    string
	Platform   string
	Mode       string
	Role       string
	Scopes     []string
	UserAgent  string

	// ConnectTimeout bounds the whole connect phase, socket open through
	// hello-ok.
	ConnectTimeout time.Duration
	// RequestTimeout is the per-request deadline.
	RequestTimeout time.Duration
	// TickInterval is the liveness fallback when the server negotiates none.
	TickInterval time.Duration
	// TickCheckFloor bounds the liveness check cadence from below.
	TickCheckFloor time.Duration
	// ReconnectBase is the backoff base delay after an unplanned closure.
	ReconnectBase time.Duration
	// MaxReconnects bounds consecutive reconnection attempts.
	MaxReconnects int

	Callbacks Callbacks
}

func (cfg Config) withDefaults() Config {
	if cfg.ClientID == "" {
		cfg.ClientID = "helix-desktop"
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "Helix"
	}
	if cfg.Version == "" {
		cfg.Version = "helix-gateway/0.1"
	}
	if cfg.Platform == "" {
		cfg.Platform = runtime.GOOS
	}
	if cfg.Mode == "" {
		cfg.Mode = "desktop"
	}
	if cfg.Role == "" {
		cfg.Role = "operator"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"operator.admin"}
	}
	if cfg.Instance == "" {
		cfg.Instance = ulid.Make().String()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = fmt.Sprintf("%s/%s (%s)", cfg.ClientID, cfg.Version, cfg.Platform)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	return cfg
}

// Client is the gateway connection facade. One Client owns at most one live
// socket at a time; all per-socket state (pending requests, handshake,
// liveness timer) belongs to a single connection generation and is torn
// down as a unit. Construct explicitly and pass by reference; there is no
// package-level singleton.
type Client struct {
	cfg    Config
	logger *slog.Logger
	sup    *ReconnectSupervisor

	connectMu sync.Mutex // serializes Connect calls
	writeMu   sync.Mutex // serializes socket writes

	mu         sync.Mutex
	gen        uint64 // current connection generation
	conn       *websocket.Conn
	correlator *Correlator
	liveness   *LivenessMonitor
	status     domain.ConnectionStatus
	closing    bool // explicit disconnect in progress
}

// NewClient creates a disconnected client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "gateway-client"),
		sup:    newReconnectSupervisor(cfg.ReconnectBase, cfg.MaxReconnects, logger),
		status: domain.StatusDisconnected,
	}
}

// Status returns the current connection status.
func (c *Client) Status() domain.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect opens the socket and drives the handshake. It returns only after
// hello-ok, a handshake failure, or the connect-phase timeout. Handshake
// failures are surfaced both here and through the error callback.
func (c *Client) Connect(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "gateway.Connect")
	defer span.End()

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.status == domain.StatusConnected && c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.gen++
	myGen := c.gen
	c.mu.Unlock()

	c.setStatus(domain.StatusConnecting)

	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	c.logger.Info("connecting to gateway", "url", c.cfg.URL)

	ws, _, err := websocket.Dial(cctx, c.cfg.URL, nil)
	if err != nil {
		ge := connectPhaseError(err, "dial gateway")
		if ge.Code == domain.ErrCodeConnectionFailed {
			ge.Code = domain.ErrCodeNetworkError
		}
		c.setStatus(domain.StatusError)
		c.cfg.Callbacks.emitError(ge)
		tracer.RecordError(span, ge)
		return ge
	}

	// Socket open: the reconnect counter resets here, before the handshake
	// outcome is known.
	c.sup.Reset()

	write := func(f Frame) error { return c.writeFrame(ws, f) }
	corr := newCorrelator(c.cfg.RequestTimeout, write, c.logger)
	seq := newHandshakeSequencer(c.handshakeParams(), corr, c.logger)
	liveness := newLivenessMonitor(c.cfg.TickCheckFloor, c.logger)
	disp := newDispatcher(seq, liveness, c.cfg.Callbacks, c.logger)

	c.mu.Lock()
	if c.gen != myGen {
		// Superseded while dialing (explicit disconnect).
		c.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "superseded")
		ge := domain.NewGatewayError(domain.ErrCodeConnectionFailed, "connection superseded")
		tracer.RecordError(span, ge)
		return ge
	}
	c.conn = ws
	c.correlator = corr
	c.liveness = liveness
	c.mu.Unlock()

	go c.readLoop(myGen, ws, corr, disp)

	neg, err := seq.run(cctx)
	if err != nil {
		ge := domain.AsGatewayError(err)
		c.teardown(myGen)
		c.setStatus(domain.StatusError)
		c.cfg.Callbacks.emitError(ge)
		tracer.RecordError(span, ge)
		return ge
	}

	c.mu.Lock()
	if c.gen != myGen {
		// The socket died between hello-ok and here; the read loop already
		// tore this generation down and scheduled a reconnect.
		c.mu.Unlock()
		ge := domain.NewGatewayError(domain.ErrCodeConnectionFailed, "connection closed during connect").
			WithCause(domain.ErrConnectionClosed)
		tracer.RecordError(span, ge)
		return ge
	}
	c.mu.Unlock()

	interval := neg.TickInterval
	if interval <= 0 {
		interval = c.cfg.TickInterval
	}
	liveness.Start(interval, func() {
		_ = ws.Close(closeCodeTickTimeout, "tick timeout")
	})

	c.setStatus(domain.StatusConnected)
	c.logger.Info("gateway connected",
		"protocol", neg.Protocol,
		"tick_interval", interval,
	)
	tracer.SetOK(span)
	return nil
}

// Disconnect closes the connection deliberately. No reconnection is
// attempted and any pending reconnect timer is cancelled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	if conn == nil {
		// A dial may be in flight. Invalidate its generation so the
		// connect attempt sees itself superseded instead of completing
		// against a client that was just disconnected.
		c.gen++
	}
	c.mu.Unlock()

	c.sup.Stop()

	if conn != nil {
		// The read loop observes the closure and finishes the teardown.
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return
	}
	c.setStatus(domain.StatusDisconnected)
}

// Request sends a request frame and blocks until the response, the
// per-request timeout, or connection teardown.
func (c *Client) Request(ctx context.Context, method string, params any) ([]byte, error) {
	ctx, span := tracer.StartSpan(ctx, "gateway.Request",
		trace.WithAttributes(attribute.String("rpc.method", method)))
	defer span.End()

	c.mu.Lock()
	corr := c.correlator
	status := c.status
	c.mu.Unlock()

	if corr == nil || status != domain.StatusConnected {
		ge := domain.NewGatewayError(domain.ErrCodeConnectionFailed, "not connected").
			WithCause(domain.ErrNotConnected)
		tracer.RecordError(span, ge)
		return nil, ge
	}

	payload, err := corr.Send(ctx, method, params)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return payload, nil
}

// chatSendParams is the chat.send request body.
type chatSendParams struct {
	Message string `json:"message"`
}

// SendMessage fires a chat.send request without awaiting the response.
// No-op when disconnected.
func (c *Client) SendMessage(text string) {
	c.post("chat.send", chatSendParams{Message: text})
}

// Interrupt fires a chat.abort request. No-op when disconnected.
func (c *Client) Interrupt() {
	c.post("chat.abort", nil)
}

// Send transmits a raw frame, fire-and-forget. No-op when disconnected.
func (c *Client) Send(f Frame) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Debug("send skipped, not connected")
		return
	}
	if err := c.writeFrame(conn, f); err != nil {
		c.logger.Warn("send failed", "error", err)
	}
}

func (c *Client) post(method string, params any) {
	c.mu.Lock()
	corr := c.correlator
	status := c.status
	c.mu.Unlock()

	if corr == nil || status != domain.StatusConnected {
		c.logger.Debug("request skipped, not connected", "method", method)
		return
	}
	if err := corr.Post(method, params); err != nil {
		c.logger.Warn("fire-and-forget request failed", "method", method, "error", err)
	}
}

func (c *Client) handshakeParams() connectParams {
	return connectParams{
		Client: clientDescriptor{
			ID:          c.cfg.ClientID,
			DisplayName: c.cfg.ClientName,
			Version:     c.cfg.Version,
			Platform:    c.cfg.Platform,
			Mode:        c.cfg.Mode,
			Instance:    c.cfg.Instance,
		},
		Role:      c.cfg.Role,
		Scopes:    c.cfg.Scopes,
		Auth:      connectAuth{Token: c.cfg.Token},
		UserAgent: c.cfg.UserAgent,
	}
}

func (c *Client) readLoop(myGen uint64, ws *websocket.Conn, corr *Correlator, disp *Dispatcher) {
	ctx := context.Background()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.handleClose(myGen, err)
			return
		}

		frame, derr := Decode(data)
		if derr != nil {
			// Parse failures never cross the codec boundary.
			c.logger.Warn("dropping undecodable frame", "error", derr)
			continue
		}

		switch fr := frame.(type) {
		case ResponseFrame:
			corr.Resolve(fr)
		case EventFrame:
			disp.Dispatch(fr)
		case LegacyFrame:
			disp.DispatchLegacy(fr.Message)
		case RequestFrame:
			c.logger.Debug("ignoring server-initiated request", "method", fr.Method)
		}
	}
}

// teardown dismantles generation myGen: pending requests rejected, liveness
// stopped, socket closed. Returns the closing flag and whether myGen was
// still current; a stale generation is a no-op.
func (c *Client) teardown(myGen uint64) (closing, valid bool) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return false, false
	}
	c.gen++ // invalidate any timer still holding myGen
	conn := c.conn
	corr := c.correlator
	liv := c.liveness
	c.conn = nil
	c.correlator = nil
	c.liveness = nil
	closing = c.closing
	c.mu.Unlock()

	if liv != nil {
		liv.Stop()
	}
	if corr != nil {
		corr.FailAll(domain.NewGatewayError(domain.ErrCodeConnectionFailed, "connection closed").
			WithCause(domain.ErrConnectionClosed))
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	return closing, true
}

// handleClose runs once per socket closure, from the read loop.
func (c *Client) handleClose(myGen uint64, cause error) {
	closing, valid := c.teardown(myGen)
	if !valid {
		return
	}

	c.setStatus(domain.StatusDisconnected)

	if closing {
		c.logger.Info("gateway disconnected")
		return
	}

	c.logger.Warn("gateway connection lost", "error", cause)
	c.cfg.Callbacks.emitError(
		domain.NewGatewayError(domain.ErrCodeNetworkError, "connection lost").WithCause(cause))
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	delay, scheduled, exhausted := c.sup.ScheduleNext(func() {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}
		if err := c.Connect(context.Background()); err != nil {
			c.scheduleReconnect()
		}
	})

	if exhausted {
		ge := &domain.GatewayError{
			Code:      domain.ErrCodeConnectionFailed,
			Message:   fmt.Sprintf("giving up after %d reconnect attempts", c.cfg.MaxReconnects),
			Retryable: false,
		}
		c.logger.Error("reconnect attempts exhausted", "max", c.cfg.MaxReconnects)
		c.setStatus(domain.StatusError)
		c.cfg.Callbacks.emitError(ge)
		return
	}
	if scheduled {
		c.logger.Info("scheduling reconnect", "attempt", c.sup.Attempts(), "delay", delay)
	}
}

func (c *Client) writeFrame(ws *websocket.Conn, f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

// setStatus records a transition and invokes the status callback outside
// the client lock, synchronously at the moment of the change.
func (c *Client) setStatus(status domain.ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	c.cfg.Callbacks.emitStatus(status)
}
