// Package client implements the Snapcast client aggregate.
//
// A client is one physical player. It follows the same contract as a zone:
// validate, apply through the Controller, then swap the snapshot, all inside
// the client's own exclusive slot. Hooks attached with OnApplied see each
// new snapshot before the slot is released.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
)

// Limits.
const (
	MaxLatencyMs       = 10000
	DefaultCallTimeout = 5 * time.Second
)

// ErrInvalidClient is returned when a client or manager cannot be built.
var ErrInvalidClient = errors.New("client: invalid configuration")

// State is an immutable snapshot of a client.
type State struct {
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	SnapcastID string    `json:"snapcast_id"`
	Volume     int       `json:"volume"`
	Muted      bool      `json:"muted"`
	LatencyMs  int       `json:"latency_ms"`
	ZoneIndex  int       `json:"zone_index"`
	Connected  bool      `json:"connected"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Controller applies client effects on the streaming server.
type Controller interface {
	SetClientVolume(ctx context.Context, client, volume int) error
	SetClientMute(ctx context.Context, client int, muted bool) error
	SetClientLatency(ctx context.Context, client, latencyMs int) error
	AssignClientZone(ctx context.Context, client, zone int) error
}

// Zones reports which zone indices exist.
type Zones interface {
	Has(index int) bool
}

// Config is the static configuration of one client.
type Config struct {
	Index      int
	Name       string
	SnapcastID string
	ZoneIndex  int
}

// Client owns the state of one player.
type Client struct {
	index       int
	ctrl        Controller
	zones       Zones
	slot        chan struct{}
	snapshot    atomic.Pointer[State]
	callTimeout time.Duration
}

// New creates a client. initial may carry values read from the server.
func New(cfg Config, ctrl Controller, zones Zones, initial *State) (*Client, error) {
	if cfg.Index < 1 {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidClient, cfg.Index)
	}
	if ctrl == nil || zones == nil {
		return nil, fmt.Errorf("%w: client %d needs a controller and zones", ErrInvalidClient, cfg.Index)
	}

	s := State{Volume: 100}
	if initial != nil {
		s = *initial
	}
	s.Index = cfg.Index
	s.Name = cfg.Name
	s.SnapcastID = cfg.SnapcastID
	if s.ZoneIndex == 0 {
		s.ZoneIndex = cfg.ZoneIndex
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	c := &Client{
		index:       cfg.Index,
		ctrl:        ctrl,
		zones:       zones,
		slot:        make(chan struct{}, 1),
		callTimeout: DefaultCallTimeout,
	}
	c.snapshot.Store(&s)
	return c, nil
}

// Index returns the client index.
func (c *Client) Index() int { return c.index }

// State returns the current snapshot.
func (c *Client) State() State { return *c.snapshot.Load() }

func (c *Client) apply(ctx context.Context, op string, fn func(next *State) func(context.Context) error) (State, error) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return State{}, apperr.External(ctx.Err(), "client %d: %s: waiting for client", c.index, op)
	}
	defer func() { <-c.slot }()

	next := *c.snapshot.Load()
	eff := fn(&next)

	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := eff(cctx); err != nil {
		if ctxErr := cctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return State{}, apperr.External(err, "client %d: %s: playback control failed", c.index, op)
	}

	next.UpdatedAt = time.Now()
	c.snapshot.Store(&next)
	if hook, ok := ctx.Value(appliedKey{}).(func(State)); ok {
		hook(next)
	}
	return next, nil
}

type appliedKey struct{}

// OnApplied returns a context that makes every client mutation run fn with
// the new snapshot before the client's slot is released.
func OnApplied(ctx context.Context, fn func(State)) context.Context {
	return context.WithValue(ctx, appliedKey{}, fn)
}

// SetVolume sets the client volume (0-100).
func (c *Client) SetVolume(ctx context.Context, volume int) (State, error) {
	if volume < 0 || volume > 100 {
		return State{}, apperr.Invalid("volume must be between 0 and 100, got %d", volume)
	}
	return c.apply(ctx, "SetVolume", func(next *State) func(context.Context) error {
		next.Volume = volume
		return func(ctx context.Context) error { return c.ctrl.SetClientVolume(ctx, c.index, volume) }
	})
}

// SetMute sets the mute flag without touching the volume.
func (c *Client) SetMute(ctx context.Context, muted bool) (State, error) {
	return c.apply(ctx, "SetMute", func(next *State) func(context.Context) error {
		next.Muted = muted
		return func(ctx context.Context) error { return c.ctrl.SetClientMute(ctx, c.index, muted) }
	})
}

// ToggleMute inverts the mute flag.
func (c *Client) ToggleMute(ctx context.Context) (State, error) {
	return c.apply(ctx, "ToggleMute", func(next *State) func(context.Context) error {
		muted := !next.Muted
		next.Muted = muted
		return func(ctx context.Context) error { return c.ctrl.SetClientMute(ctx, c.index, muted) }
	})
}

// SetLatency sets the playback latency in milliseconds.
func (c *Client) SetLatency(ctx context.Context, latencyMs int) (State, error) {
	if latencyMs < 0 || latencyMs > MaxLatencyMs {
		return State{}, apperr.Invalid("latency must be between 0 and %d ms, got %d", MaxLatencyMs, latencyMs)
	}
	return c.apply(ctx, "SetLatency", func(next *State) func(context.Context) error {
		next.LatencyMs = latencyMs
		return func(ctx context.Context) error { return c.ctrl.SetClientLatency(ctx, c.index, latencyMs) }
	})
}

// AssignZone moves the client into zone.
func (c *Client) AssignZone(ctx context.Context, zone int) (State, error) {
	if zone < 1 {
		return State{}, apperr.Invalid("zone index must be positive, got %d", zone)
	}
	if !c.zones.Has(zone) {
		return State{}, apperr.Missing("zone %d not found", zone)
	}
	return c.apply(ctx, "AssignZone", func(next *State) func(context.Context) error {
		next.ZoneIndex = zone
		return func(ctx context.Context) error { return c.ctrl.AssignClientZone(ctx, c.index, zone) }
	})
}
