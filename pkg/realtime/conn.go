package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ConnConfig tunes per-connection behavior.
type ConnConfig struct {
	// ReadTimeout bounds the wait for the next client frame. Pings keep
	// healthy connections inside it.
	ReadTimeout time.Duration

	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration

	// PingInterval is the heartbeat period. Must be shorter than
	// ReadTimeout on the client side.
	PingInterval time.Duration

	// SendBuffer is the outbound queue length. A subscriber that cannot
	// drain it has frames dropped rather than stalling publishers.
	SendBuffer int

	// MaxMessageSize caps inbound control frames.
	MaxMessageSize int64
}

// DefaultConnConfig returns the standard connection settings.
func DefaultConnConfig() *ConnConfig {
	return &ConnConfig{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   25 * time.Second,
		SendBuffer:     64,
		MaxMessageSize: 4 * 1024,
	}
}

// Conn is one long-lived client connection. It owns its subscription
// set: only the connection's own loops mutate it, so no cross-connection
// state is shared beyond the bus.
//
// Lifecycle: Connecting (HTTP upgrade) -> Accepted (auto-joins done) ->
// processing frames -> Closed. A connection with no attachable session
// identity is rejected before Accepted.
type Conn struct {
	ws       *websocket.Conn
	identity Identity
	rules    *Rules
	bus      Bus

	config  *ConnConfig
	logger  *slog.Logger
	metrics *Metrics

	// mu protects subs. WriteLoop is the only writer to ws.
	mu   sync.Mutex
	subs map[string]Subscription

	send   chan *Message
	done   chan struct{}
	closed atomic.Bool
}

// NewConn wraps an upgraded websocket. Call Start to begin processing.
func NewConn(ws *websocket.Conn, identity Identity, rules *Rules, bus Bus, config *ConnConfig, logger *slog.Logger) *Conn {
	if config == nil {
		config = DefaultConnConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		ws:       ws,
		identity: identity,
		rules:    rules,
		bus:      bus,
		config:   config,
		logger: logger.With(
			"session_id", identity.SessionID,
			"principal", identity.Principal,
		),
		subs: make(map[string]Subscription),
		send: make(chan *Message, config.SendBuffer),
		done: make(chan struct{}),
	}
}

// Start performs the automatic joins and launches the connection loops.
// Auto-joins bypass the authorization rules: they are system
// subscriptions, not client requests.
func (c *Conn) Start() error {
	if c.metrics != nil {
		c.metrics.ActiveConnections.Inc()
	}
	if err := c.join(GroupBroadcast); err != nil {
		return err
	}
	if err := c.join(SessionGroup(c.identity.SessionID)); err != nil {
		return err
	}
	if c.identity.Principal != "" {
		if err := c.join(c.rules.PrivateNamespace + "." + c.identity.Principal); err != nil {
			return err
		}
		if err := c.join(GroupUsers); err != nil {
			return err
		}
	}

	go c.ReadLoop()
	go c.WriteLoop()
	return nil
}

// Subscribed reports whether the connection currently holds group.
func (c *Conn) Subscribed(group string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[group]
	return ok
}

// Groups returns the current subscription set.
func (c *Conn) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for g := range c.subs {
		out = append(out, g)
	}
	return out
}

// ReadLoop consumes client control frames until the connection drops.
// It blocks until the connection is closed or an error occurs.
func (c *Conn) ReadLoop() {
	defer c.Close()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	for {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}

		var frame ControlFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			c.logger.Error("control decode error", "error", err)
			continue
		}
		c.handleControl(frame)
	}
}

// handleControl validates and applies one subscribe/unsubscribe request,
// always answering with a subscription.response frame.
func (c *Conn) handleControl(frame ControlFrame) {
	switch frame.Type {
	case ControlSubscribe:
		c.handleSubscribe(frame.Group)

	case ControlUnsubscribe:
		c.handleUnsubscribe(frame.Group)

	default:
		c.logger.Warn("unknown control frame", "type", frame.Type)
	}
}

func (c *Conn) handleSubscribe(group string) {
	// Authorization runs before the membership check: system groups are
	// held by every connection, and answering "resubscribed" for them
	// would confirm a destination the client may never address.
	if err := c.rules.Authorize(c.identity, group); err != nil {
		c.logger.Warn("subscription rejected", "group", group, "error", err)
		c.respondError(group, err)
		return
	}

	// An idempotent retry of a held subscription succeeds with a
	// distinct status so the client can tell it apart from a fresh join.
	if c.Subscribed(group) {
		c.respond(group, StatusResubscribed, "")
		return
	}

	if err := c.join(group); err != nil {
		c.logger.Error("join failed", "group", group, "error", err)
		c.respond(group, StatusError, "subscription failed")
		return
	}
	c.respond(group, StatusSubscribed, "")
}

func (c *Conn) handleUnsubscribe(group string) {
	// Same validation as subscribe: a group the client could never join
	// by hand is not theirs to leave. Without this check a client frame
	// could detach its own session group, and since rejoining is
	// denied, the connection would permanently lose system pushes.
	if err := c.rules.Authorize(c.identity, group); err != nil {
		c.logger.Warn("unsubscribe rejected", "group", group, "error", err)
		c.respondError(group, err)
		return
	}

	c.leave(group)
	c.respond(group, StatusUnsubscribed, "")
}

func (c *Conn) respondError(group string, err error) {
	switch {
	case errors.Is(err, ErrUnauthorizedSubscription):
		c.respond(group, StatusError, "unauthorized")
	case errors.Is(err, ErrInvalidGroupName):
		c.respond(group, StatusError, "unknown group")
	default:
		c.respond(group, StatusError, "subscription failed")
	}
}

func (c *Conn) respond(group, status, message string) {
	if c.metrics != nil {
		c.metrics.Subscriptions.WithLabelValues(status).Inc()
	}
	c.Send(SubscriptionResponse(group, status, message))
}

// Send queues an event frame for delivery. A full queue drops the frame:
// a slow client must not stall the publisher.
func (c *Conn) Send(m *Message) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- m:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn("send queue full, dropping frame", "type", m.Type)
		if c.metrics != nil {
			c.metrics.FramesDropped.Inc()
		}
		return nil
	}
}

func (c *Conn) join(group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[group]; ok {
		return nil
	}
	sub, err := c.bus.Subscribe(group, func(m *Message) {
		// Forwarded verbatim: the handler does not filter per client.
		c.Send(m)
	})
	if err != nil {
		return err
	}
	c.subs[group] = sub
	return nil
}

func (c *Conn) leave(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[group]; ok {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Error("unsubscribe error", "group", group, "error", err)
		}
		delete(c.subs, group)
	}
}

// WriteLoop owns all writes to the socket: queued event frames and the
// heartbeat. It runs until the connection is closed.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case m := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteJSON(m); err != nil {
				c.logger.Error("write error", "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close tears the connection down: every joined group is left and the
// subscription set cleared, on normal and abnormal disconnects alike.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	for group, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Error("unsubscribe error", "group", group, "error", err)
		}
	}
	c.subs = make(map[string]Subscription)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveConnections.Dec()
	}
	c.logger.Debug("connection closed")
	return c.ws.Close()
}

// SessionResolver attaches a session identity to an incoming upgrade
// request. Returning an error rejects the connection before it is
// accepted.
type SessionResolver func(r *http.Request) (Identity, error)

// Server upgrades HTTP requests into realtime connections.
type Server struct {
	upgrader websocket.Upgrader
	resolve  SessionResolver
	rules    *Rules
	bus      Bus
	config   *ConnConfig
	logger   *slog.Logger
	metrics  *Metrics
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithConnConfig overrides the per-connection settings.
func WithConnConfig(config *ConnConfig) ServerOption {
	return func(s *Server) { s.config = config }
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithServerMetrics sets the metrics sink.
func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithCheckOrigin overrides the upgrade origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// NewServer builds the realtime connection endpoint.
func NewServer(resolve SessionResolver, rules *Rules, bus Bus, opts ...ServerOption) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		resolve: resolve,
		rules:   rules,
		bus:     bus,
		config:  DefaultConnConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP implements the upgrade endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.resolve(r)
	if err != nil || identity.SessionID == "" {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "error", err)
		return
	}

	conn := NewConn(ws, identity, s.rules, s.bus, s.config, s.logger)
	conn.metrics = s.metrics
	if err := conn.Start(); err != nil {
		s.logger.Error("connection start failed", "error", err)
		conn.Close()
	}
}
