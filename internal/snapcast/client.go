package snapcast

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults for the control connection.
const (
	DefaultAddress = "localhost:1705"

	defaultConnectTimeout    = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute
	readBufferSize           = 64 * 1024
)

// Config holds the connection settings.
type Config struct {
	// Address is host:port of the JSON-RPC control port.
	Address string

	// ConnectTimeout bounds each dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the first backoff delay after a drop.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// Stats holds operational counters.
type Stats struct {
	CallsTotal      uint64
	ErrorsTotal     uint64
	Notifications   uint64
	ReconnectsTotal uint64
	Connected       bool
	Reconnecting    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notification is a server-initiated message such as Client.OnVolumeChanged.
type Notification struct {
	Method string
	Params json.RawMessage
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// message is any inbound line: a response when ID is set, otherwise a
// notification.
type message struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Client is a JSON-RPC connection to a Snapcast server.
//
// All methods are safe for concurrent use. Notifications are delivered on
// the receive goroutine, so the callback must not block for long.
type Client struct {
	cfg Config

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool
	writeMu   sync.Mutex

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan message

	notifyMu sync.RWMutex
	onNotify func(Notification)

	reconnecting atomic.Bool
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup

	loggerMu sync.RWMutex
	logger   Logger

	callsTotal      atomic.Uint64
	errorsTotal     atomic.Uint64
	notifications   atomic.Uint64
	reconnectsTotal atomic.Uint64
}

// Dial connects to the server and starts the receive loop.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, cfg.Address, err)
	}

	c := &Client{
		cfg:       cfg,
		conn:      conn,
		connected: true,
		pending:   make(map[uint64]chan message),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
	c.wg.Add(1)
	go c.receiveLoop(conn)
	return c, nil
}

// SetLogger sets the logger.
func (c *Client) SetLogger(l Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// SetOnNotification sets the callback for server notifications.
func (c *Client) SetOnNotification(fn func(Notification)) {
	c.notifyMu.Lock()
	c.onNotify = fn
	c.notifyMu.Unlock()
}

// IsConnected reports whether the connection is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	return Stats{
		CallsTotal:      c.callsTotal.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		Notifications:   c.notifications.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// Call sends one request and waits for its response. result may be nil.
// An error response is returned as *RPCError; ctx errors are wrapped so
// errors.Is(err, context.DeadlineExceeded) holds.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.connMu.RLock()
	conn, up := c.conn, c.connected
	c.connMu.RUnlock()
	if !up || conn == nil {
		return ErrNotConnected
	}

	id := c.nextID.Add(1)
	ch := make(chan message, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer c.forget(id)
	// A disconnect sweeps pending calls after clearing the flag, so a call
	// registered after the sweep sees the flag.
	if !c.IsConnected() {
		return ErrNotConnected
	}

	line, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("snapcast: encode %s: %w", method, err)
	}
	line = append(line, '\n')

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	err = conn.SetWriteDeadline(deadline)
	if err == nil {
		_, err = conn.Write(line)
	}
	c.writeMu.Unlock()
	c.callsTotal.Add(1)
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write %s: %w", ErrNotConnected, method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("snapcast: %s: %w", method, ctx.Err())
	case <-c.done:
		return ErrClosed
	case m, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: connection lost during %s", ErrNotConnected, method)
		}
		if m.Error != nil {
			c.errorsTotal.Add(1)
			return m.Error
		}
		if result != nil && len(m.Result) > 0 {
			if err := json.Unmarshal(m.Result, result); err != nil {
				return fmt.Errorf("snapcast: decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) forget(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Status returns the full server status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.Call(ctx, "Server.GetStatus", nil, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Close stops the receive loop and closes the connection. Pending calls
// fail with ErrClosed. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ============================================================================
// Receive loop
// ============================================================================

// receiveLoop reads lines until the connection drops, then reconnects.
func (c *Client) receiveLoop(conn net.Conn) {
	defer c.wg.Done()

	for {
		c.readConn(conn)
		if c.isClosed() {
			return
		}
		c.handleDisconnect()

		next, ok := c.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

func (c *Client) readConn(conn net.Conn) {
	r := bufio.NewReaderSize(conn, readBufferSize)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 && err == nil {
			c.handleLine(line)
		}
		if err != nil {
			if !c.isClosed() {
				c.log().Warn("snapcast read failed", "error", err)
			}
			return
		}
	}
}

func (c *Client) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	var msgs []message
	if line[0] == '[' {
		if err := json.Unmarshal(line, &msgs); err != nil {
			c.errorsTotal.Add(1)
			c.log().Warn("snapcast batch decode failed", "error", err)
			return
		}
	} else {
		var m message
		if err := json.Unmarshal(line, &m); err != nil {
			c.errorsTotal.Add(1)
			c.log().Warn("snapcast message decode failed", "error", err)
			return
		}
		msgs = append(msgs, m)
	}

	for _, m := range msgs {
		if m.ID != nil {
			c.deliver(*m.ID, m)
			continue
		}
		if m.Method != "" {
			c.notify(Notification{Method: m.Method, Params: m.Params})
		}
	}
}

func (c *Client) deliver(id uint64, m message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if ok {
		ch <- m
	}
}

func (c *Client) notify(n Notification) {
	c.notifications.Add(1)
	c.notifyMu.RLock()
	fn := c.onNotify
	c.notifyMu.RUnlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("snapcast notification callback panic", "method", n.Method, "panic", r)
		}
	}()
	fn(n)
}

// handleDisconnect marks the connection down and fails every pending call.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if wasConnected {
		c.log().Warn("snapcast connection lost, will reconnect", "address", c.cfg.Address)
	}
}

// reconnect dials with exponential backoff until it succeeds or Close is
// called.
func (c *Client) reconnect() (net.Conn, bool) {
	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
		cancel()
		if err != nil {
			c.errorsTotal.Add(1)
			c.log().Warn("snapcast reconnect failed", "attempt", attempt, "backoff", backoff.String(), "error", err)
			backoff = min(time.Duration(float64(backoff)*1.5), maxReconnectInterval)
			continue
		}

		c.connMu.Lock()
		if c.isClosed() {
			c.connMu.Unlock()
			conn.Close()
			return nil, false
		}
		c.conn = conn
		c.connected = true
		c.connMu.Unlock()

		c.reconnectsTotal.Add(1)
		c.log().Info("snapcast reconnected", "attempt", attempt)
		return conn, true
	}
}
