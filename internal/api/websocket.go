package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
)

// Control message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsQueueSize = 256
)

// WSMessage is a control message exchanged with a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is the inbound form of WSMessage.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Origins are checked by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsTimings struct {
	ping     time.Duration
	idle     time.Duration
	maxFrame int64
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	return wsTimings{
		ping:     config.Seconds(cfg.PingInterval),
		idle:     config.Seconds(cfg.PingInterval + cfg.PongTimeout),
		maxFrame: int64(cfg.MaxMessageSize),
	}
}

// wsConn is one upgraded connection. Writes to the socket happen only in
// writeLoop; everything else goes through the out queue.
type wsConn struct {
	hub     *Hub
	ws      *websocket.Conn
	subject string

	mu     sync.Mutex
	out    chan []byte
	closed bool
	subs   map[string]struct{}
}

func newConn(hub *Hub, ws *websocket.Conn, subject string) *wsConn {
	return &wsConn{
		hub:     hub,
		ws:      ws,
		subject: subject,
		out:     make(chan []byte, wsQueueSize),
		subs:    make(map[string]struct{}),
	}
}

// enqueue reports false when the connection is closed or its queue full.
func (c *wsConn) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the out queue and reports whether this call did it.
func (c *wsConn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.out)
	return true
}

func (c *wsConn) follows(channels []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if _, ok := c.subs[ch]; ok {
			return true
		}
	}
	return false
}

func (c *wsConn) setSubscribed(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.subs[ch] = struct{}{}
		} else {
			delete(c.subs, ch)
		}
	}
}

// handleWebSocket upgrades GET /ws. With auth enabled the caller must
// present a single-use ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject := "anonymous"
	if s.cfg.Auth.Enabled {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.consume(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(s.hub, ws, subject)
	s.hub.add(c)

	t := timingsFrom(s.hub.cfg)
	go c.writeLoop(t)
	go c.readLoop(t)
}

func (c *wsConn) readLoop(t wsTimings) {
	defer func() {
		c.hub.remove(c)
		c.ws.Close()
	}()

	extend := func() error { return c.ws.SetReadDeadline(time.Now().Add(t.idle)) }
	c.ws.SetReadLimit(t.maxFrame)
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend()
	c.ws.SetPongHandler(func(string) error { return extend() })

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err, "subject", c.subject)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame counts as alive.
		//nolint:errcheck // see above
		extend()
		c.handle(raw)
	}
}

func (c *wsConn) writeLoop(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.ws.SetWriteDeadline(time.Now().Add(t.idle))
		return c.ws.WriteMessage(kind, data)
	}

	for {
		select {
		case data, open := <-c.out:
			if !open {
				//nolint:errcheck // peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) handle(raw []byte) {
	var req wsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeSubscriptions(req, req.Type == WSTypeSubscribe)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}

// changeSubscriptions applies all channels or none.
func (c *wsConn) changeSubscriptions(req wsRequest, on bool) {
	var p WSSubscribePayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			c.fail(req.ID, "invalid payload")
			return
		}
	}
	if len(p.Channels) == 0 {
		c.fail(req.ID, "payload must list channels")
		return
	}
	for _, ch := range p.Channels {
		if !validChannel(ch) {
			c.fail(req.ID, fmt.Sprintf("unknown channel %q", ch))
			return
		}
	}

	c.setSubscribed(p.Channels, on)

	key := "unsubscribed"
	if on {
		key = "subscribed"
	}
	c.hub.logger.Debug("websocket "+key, "channels", p.Channels, "subject", c.subject)
	c.reply(req.ID, WSTypeResponse, map[string]any{key: p.Channels})
}

func (c *wsConn) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsConn) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
