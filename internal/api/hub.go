package api

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/logging"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
)

// Subscription channels. A zone notification reaches subscribers of
// "all", "zones" and "zone/<index>"; client notifications work the same way.
const (
	ChannelAll     = "all"
	ChannelZones   = "zones"
	ChannelClients = "clients"
)

// StatusEvent is the wire form of one status value. Status reads answer
// with it and the hub pushes it for every notification; Type is the status
// feature id.
type StatusEvent struct {
	Type      string    `json:"type"`
	Zone      int       `json:"zone,omitempty"`
	Client    int       `json:"client,omitempty"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

func newStatusEvent(statusID string, scope notify.Scope, index int, value any, at time.Time) StatusEvent {
	ev := StatusEvent{Type: statusID, Value: value, Timestamp: at}
	if scope == notify.ScopeClient {
		ev.Client = index
	} else {
		ev.Zone = index
	}
	return ev
}

// channelsFor lists the channels an aggregate's events are published on.
func channelsFor(scope notify.Scope, index int) []string {
	group := ChannelZones
	if scope == notify.ScopeClient {
		group = ChannelClients
	}
	return []string{ChannelAll, group, string(scope) + "/" + strconv.Itoa(index)}
}

// validChannel accepts "all", "zones", "clients", "zone/<n>" and "client/<n>".
func validChannel(ch string) bool {
	switch ch {
	case ChannelAll, ChannelZones, ChannelClients:
		return true
	}
	scope, idx, ok := strings.Cut(ch, "/")
	if !ok || (scope != string(notify.ScopeZone) && scope != string(notify.ScopeClient)) {
		return false
	}
	n, err := strconv.Atoi(idx)
	return err == nil && n >= 1
}

// Hub fans status events out to WebSocket connections by channel.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu    sync.RWMutex
	conns map[*wsConn]struct{}

	broadcasts atomic.Uint64
	dropped    atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[*wsConn]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*wsConn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.shutdown()
		if c.ws != nil {
			c.ws.Close()
		}
	}
}

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("websocket connected", "subject", c.subject, "connections", n)
}

// remove is idempotent; the connection's outbound queue is closed once.
func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	if c.shutdown() {
		h.logger.Debug("websocket disconnected", "subject", c.subject, "connections", n)
	}
}

// HandleNotification pushes n to subscribed connections, followed by the
// metadata event for track and playlist changes. It is a notify.Handler.
func (h *Hub) HandleNotification(_ context.Context, n notify.Notification) error {
	channels := channelsFor(n.Scope(), n.Index())
	h.Broadcast(newStatusEvent(n.StatusID(), n.Scope(), n.Index(), n.Value(), n.Timestamp()), channels...)

	var meta any
	var metaID string
	switch ev := n.(type) {
	case notify.TrackChanged:
		if ev.Track != nil {
			meta, metaID = ev.Track, feature.TrackInfo
		}
	case notify.PlaylistChanged:
		if ev.Playlist != nil {
			meta, metaID = ev.Playlist, feature.PlaylistInfo
		}
	}
	if meta != nil {
		h.Broadcast(newStatusEvent(metaID, n.Scope(), n.Index(), meta, n.Timestamp()), channels...)
	}
	return nil
}

// Broadcast sends payload to every connection subscribed to at least one
// of channels. A connection whose queue is full misses the event.
func (h *Hub) Broadcast(payload any, channels ...string) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encoding websocket event", "error", err)
		return
	}
	h.broadcasts.Add(1)

	h.mu.RLock()
	targets := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.follows(channels) {
			continue
		}
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcasts returns how many events have been broadcast.
func (h *Hub) Broadcasts() uint64 { return h.broadcasts.Load() }

// Dropped returns how many deliveries were skipped for slow connections.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
