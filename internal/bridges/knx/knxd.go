package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	readBufferSize      = 256
	callbackQueueSize   = 100
	callbackWorkerCount = 4
)

// ConnConfig configures the knxd connection.
type ConnConfig struct {
	// Connection is "tcp://host:port" or "unix:///run/knxd".
	Connection        string
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	ReconnectInterval time.Duration
}

// ConnectionURL builds a knxd URL from host and port. A host starting with
// "/" is taken as a Unix socket path.
func ConnectionURL(host string, port int) string {
	if strings.HasPrefix(host, "/") {
		return "unix://" + host
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Stats holds connection counters.
type Stats struct {
	TelegramsTx      uint64    `json:"telegrams_tx"`
	TelegramsRx      uint64    `json:"telegrams_rx"`
	TelegramsDropped uint64    `json:"telegrams_dropped"`
	ErrorsTotal      uint64    `json:"errors_total"`
	ReconnectsTotal  uint64    `json:"reconnects_total"`
	LastActivity     time.Time `json:"last_activity"`
	Connected        bool      `json:"connected"`
	Reconnecting     bool      `json:"reconnecting"`
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Connector is the bus side of the bridge.
type Connector interface {
	Send(ctx context.Context, t Telegram) error
	SetOnTelegram(callback func(Telegram))
	IsConnected() bool
	Stats() Stats
}

var _ Connector = (*Client)(nil)

// Client is a knxd group socket connection.
//
// Received telegrams are handed to the callback by a fixed pool of workers,
// so the callback may run concurrently. When the connection drops the
// receive loop redials with backoff (x1.5, capped at two minutes) until
// Close is called.
type Client struct {
	cfg ConnConfig

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	reconnecting atomic.Bool
	attempts     atomic.Int32

	callbackMu sync.RWMutex
	onTelegram func(Telegram)
	queue      chan Telegram

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	loggerMu sync.RWMutex
	logger   Logger

	telegramsTx  atomic.Uint64
	telegramsRx  atomic.Uint64
	dropped      atomic.Uint64
	errorsTotal  atomic.Uint64
	reconnects   atomic.Uint64
	lastActivity atomic.Int64
}

// Dial connects to knxd, opens the group socket and starts the receive loop.
func Dial(ctx context.Context, cfg ConnConfig) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrConnectionFailed, err)
	}
	if err := openGroupCon(dialCtx, conn, cfg.ReadTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		cfg:       cfg,
		conn:      conn,
		connected: true,
		queue:     make(chan Telegram, callbackQueueSize),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
	c.lastActivity.Store(time.Now().Unix())

	for range callbackWorkerCount {
		c.wg.Add(1)
		go c.callbackWorker()
	}
	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "tcp", "localhost:6720", nil
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// openGroupCon sends EIB_OPEN_GROUPCON (reserved, write_only=0, reserved)
// and waits for the echo. Deadlines never exceed the context's.
func openGroupCon(ctx context.Context, conn net.Conn, readTimeout time.Duration) error {
	deadline := func(d time.Duration) time.Time {
		t := time.Now().Add(d)
		if dl, ok := ctx.Deadline(); ok && dl.Before(t) {
			return dl
		}
		return t
	}

	if err := conn.SetWriteDeadline(deadline(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(EncodeKNXDMessage(EIBOpenGroupCon, []byte{0x00, 0x00, 0x00})); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if err := conn.SetReadDeadline(deadline(readTimeout)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	frame, err := readFrame(conn, nil)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	msgType, _, err := ParseKNXDMessage(frame)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if msgType != EIBOpenGroupCon {
		return fmt.Errorf("unexpected response type 0x%04X", msgType)
	}
	return nil
}

// readFrame reads one size-prefixed knxd frame. With a non-nil buf, frames
// larger than buf fail with ErrProtocolDesync.
func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	var size [2]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(size[:]))
	if n < 2 {
		return nil, fmt.Errorf("%w: frame size %d", ErrInvalidTelegram, n)
	}
	total := 2 + n
	if buf == nil {
		buf = make([]byte, total)
	} else if total > len(buf) {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrProtocolDesync, total, len(buf))
	}
	copy(buf, size[:])
	if _, err := io.ReadFull(r, buf[2:total]); err != nil {
		return nil, err
	}
	return buf[:total], nil
}

// ============================================================================
// Receive side
// ============================================================================

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for !c.isClosed() {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.dropConnection(err)
			continue
		}
		frame, err := readFrame(conn, buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			c.dropConnection(err)
			continue
		}

		msgType, payload, err := ParseKNXDMessage(frame)
		if err != nil {
			c.errorsTotal.Add(1)
			continue
		}
		if msgType == EIBGroupPacket && len(payload) >= groupPacketRxHeader {
			c.handleGroupPacket(payload)
		}
	}
}

func (c *Client) handleGroupPacket(payload []byte) {
	t, err := ParseTelegram(payload)
	if err != nil {
		c.errorsTotal.Add(1)
		return
	}
	c.telegramsRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.callbackMu.RLock()
	hasCallback := c.onTelegram != nil
	c.callbackMu.RUnlock()
	if !hasCallback {
		return
	}

	select {
	case c.queue <- t:
	default:
		c.dropped.Add(1)
		c.getLogger().Warn("knx callback queue full, dropping telegram", "ga", t.Destination.String())
	}
}

func (c *Client) callbackWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case t := <-c.queue:
			c.callbackMu.RLock()
			cb := c.onTelegram
			c.callbackMu.RUnlock()
			if cb != nil {
				c.invoke(cb, t)
			}
		}
	}
}

func (c *Client) invoke(cb func(Telegram), t Telegram) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("telegram callback panic", "ga", t.Destination.String(), "panic", r)
		}
	}()
	cb(t)
}

// ============================================================================
// Reconnection
// ============================================================================

// dropConnection closes the current socket after a fatal read error.
func (c *Client) dropConnection(cause error) {
	if c.isClosed() {
		return
	}
	c.errorsTotal.Add(1)

	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if wasConnected {
		c.getLogger().Warn("knxd connection lost", "error", cause)
	}
}

// reconnect redials until it succeeds or the client is closed. It reports
// false on close.
func (c *Client) reconnect() bool {
	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		c.getLogger().Error("knxd reconnect: invalid connection URL", "error", err)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		attempt := c.attempts.Add(1)
		conn, err := c.redial(network, address)
		if err == nil {
			c.connMu.Lock()
			if c.isClosed() {
				c.connMu.Unlock()
				conn.Close()
				return false
			}
			c.conn = conn
			c.connected = true
			c.connMu.Unlock()

			c.attempts.Store(0)
			c.reconnects.Add(1)
			c.lastActivity.Store(time.Now().Unix())
			c.getLogger().Info("knxd reconnected", "attempts", attempt)
			return true
		}

		c.errorsTotal.Add(1)
		c.getLogger().Warn("knxd reconnect failed", "attempt", attempt, "backoff", backoff.String(), "error", err)
		backoff = min(time.Duration(float64(backoff)*1.5), maxReconnectInterval)
	}
}

func (c *Client) redial(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	if err := openGroupCon(ctx, conn, c.cfg.ReadTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close stops the receive loop and workers. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.connMu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()

		c.wg.Wait()
		c.getLogger().Info("knxd connection closed")
	})
	return nil
}

// ============================================================================
// Send side
// ============================================================================

// Send writes a telegram to the bus.
func (c *Client) Send(ctx context.Context, t Telegram) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTelegramFailed, err)
	}

	c.connMu.RLock()
	conn, connected := c.conn, c.connected
	c.connMu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrTelegramFailed, err)
	}
	if _, err := conn.Write(EncodeKNXDMessage(EIBGroupPacket, t.Encode())); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrTelegramFailed, err)
	}

	c.telegramsTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// SetOnTelegram sets the callback for received telegrams. Panics in the
// callback are recovered and logged.
func (c *Client) SetOnTelegram(callback func(Telegram)) {
	c.callbackMu.Lock()
	c.onTelegram = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// IsConnected reports whether the group socket is open.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// HealthCheck fails with ErrNotConnected while disconnected.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns the current counters.
func (c *Client) Stats() Stats {
	return Stats{
		TelegramsTx:      c.telegramsTx.Load(),
		TelegramsRx:      c.telegramsRx.Load(),
		TelegramsDropped: c.dropped.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
		ReconnectsTotal:  c.reconnects.Load(),
		LastActivity:     time.Unix(c.lastActivity.Load(), 0),
		Connected:        c.IsConnected(),
		Reconnecting:     c.reconnecting.Load(),
	}
}
