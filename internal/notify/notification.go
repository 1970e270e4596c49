// Package notify carries post-success domain events to protocol bridges.
//
// Every Notification type maps to exactly one status feature id. Handlers
// raise one Notification after a successful zone or client operation; the
// Dispatcher hands it to each subscriber synchronously, in registration
// order.
package notify

import (
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// Scope is the kind of aggregate a notification is about.
type Scope string

// Scopes.
const (
	ScopeZone   Scope = "zone"
	ScopeClient Scope = "client"
)

// Notification is an immutable domain event.
type Notification interface {
	// StatusID is the feature id of the status this event updates.
	StatusID() string
	Scope() Scope
	// Index is the zone or client index.
	Index() int
	// Value is the new status value, as bridges publish it.
	Value() any
	Timestamp() time.Time
}

// Event is the common part of every notification.
type Event struct {
	Target int       `json:"index"`
	At     time.Time `json:"timestamp"`
}

// Index implements Notification.
func (e Event) Index() int { return e.Target }

// Timestamp implements Notification.
func (e Event) Timestamp() time.Time { return e.At }

// ============================================================================
// Zone notifications
// ============================================================================

// VolumeChanged reports a new zone volume.
type VolumeChanged struct {
	Event
	Volume int `json:"volume"`
}

func (VolumeChanged) StatusID() string { return feature.VolumeStatus }
func (VolumeChanged) Scope() Scope     { return ScopeZone }
func (n VolumeChanged) Value() any     { return n.Volume }

// MuteChanged reports a new zone mute flag.
type MuteChanged struct {
	Event
	Muted bool `json:"muted"`
}

func (MuteChanged) StatusID() string { return feature.MuteStatus }
func (MuteChanged) Scope() Scope     { return ScopeZone }
func (n MuteChanged) Value() any     { return n.Muted }

// PlaybackStateChanged reports a new transport state.
type PlaybackStateChanged struct {
	Event
	State zone.PlaybackState `json:"playback_state"`
}

func (PlaybackStateChanged) StatusID() string { return feature.PlaybackState }
func (PlaybackStateChanged) Scope() Scope     { return ScopeZone }
func (n PlaybackStateChanged) Value() any     { return string(n.State) }

// TrackChanged reports the loaded track. TrackIndex is 0 for a URL stream.
type TrackChanged struct {
	Event
	TrackIndex int             `json:"track_index"`
	Track      *zone.TrackMeta `json:"track,omitempty"`
}

func (TrackChanged) StatusID() string { return feature.TrackIndex }
func (TrackChanged) Scope() Scope     { return ScopeZone }
func (n TrackChanged) Value() any     { return n.TrackIndex }

// PlaylistChanged reports the selected playlist.
type PlaylistChanged struct {
	Event
	PlaylistIndex int                `json:"playlist_index"`
	Playlist      *zone.PlaylistMeta `json:"playlist,omitempty"`
}

func (PlaylistChanged) StatusID() string { return feature.PlaylistIndex }
func (PlaylistChanged) Scope() Scope     { return ScopeZone }
func (n PlaylistChanged) Value() any     { return n.PlaylistIndex }

// TrackRepeatChanged reports track repeat.
type TrackRepeatChanged struct {
	Event
	Enabled bool `json:"enabled"`
}

func (TrackRepeatChanged) StatusID() string { return feature.TrackRepeatStatus }
func (TrackRepeatChanged) Scope() Scope     { return ScopeZone }
func (n TrackRepeatChanged) Value() any     { return n.Enabled }

// PlaylistRepeatChanged reports playlist repeat.
type PlaylistRepeatChanged struct {
	Event
	Enabled bool `json:"enabled"`
}

func (PlaylistRepeatChanged) StatusID() string { return feature.PlaylistRepeatStatus }
func (PlaylistRepeatChanged) Scope() Scope     { return ScopeZone }
func (n PlaylistRepeatChanged) Value() any     { return n.Enabled }

// ShuffleChanged reports playlist shuffle.
type ShuffleChanged struct {
	Event
	Enabled bool `json:"enabled"`
}

func (ShuffleChanged) StatusID() string { return feature.ShuffleStatus }
func (ShuffleChanged) Scope() Scope     { return ScopeZone }
func (n ShuffleChanged) Value() any     { return n.Enabled }

// PositionChanged reports a seek.
type PositionChanged struct {
	Event
	PositionMs int64 `json:"position_ms"`
}

func (PositionChanged) StatusID() string { return feature.TrackPositionStatus }
func (PositionChanged) Scope() Scope     { return ScopeZone }
func (n PositionChanged) Value() any     { return n.PositionMs }

// ============================================================================
// Client notifications
// ============================================================================

// ClientVolumeChanged reports a new client volume.
type ClientVolumeChanged struct {
	Event
	Volume int `json:"volume"`
}

func (ClientVolumeChanged) StatusID() string { return feature.ClientVolumeStatus }
func (ClientVolumeChanged) Scope() Scope     { return ScopeClient }
func (n ClientVolumeChanged) Value() any     { return n.Volume }

// ClientMuteChanged reports a new client mute flag.
type ClientMuteChanged struct {
	Event
	Muted bool `json:"muted"`
}

func (ClientMuteChanged) StatusID() string { return feature.ClientMuteStatus }
func (ClientMuteChanged) Scope() Scope     { return ScopeClient }
func (n ClientMuteChanged) Value() any     { return n.Muted }

// ClientLatencyChanged reports a new client latency.
type ClientLatencyChanged struct {
	Event
	LatencyMs int `json:"latency_ms"`
}

func (ClientLatencyChanged) StatusID() string { return feature.ClientLatencyStatus }
func (ClientLatencyChanged) Scope() Scope     { return ScopeClient }
func (n ClientLatencyChanged) Value() any     { return n.LatencyMs }

// ClientZoneChanged reports a client moved to another zone.
type ClientZoneChanged struct {
	Event
	ZoneIndex int `json:"zone_index"`
}

func (ClientZoneChanged) StatusID() string { return feature.ClientZoneStatus }
func (ClientZoneChanged) Scope() Scope     { return ScopeClient }
func (n ClientZoneChanged) Value() any     { return n.ZoneIndex }

// All returns one zero value of every notification type.
func All() []Notification {
	return []Notification{
		VolumeChanged{},
		MuteChanged{},
		PlaybackStateChanged{},
		TrackChanged{},
		PlaylistChanged{},
		TrackRepeatChanged{},
		PlaylistRepeatChanged{},
		ShuffleChanged{},
		PositionChanged{},
		ClientVolumeChanged{},
		ClientMuteChanged{},
		ClientLatencyChanged{},
		ClientZoneChanged{},
	}
}

// ============================================================================
// Snapshots
// ============================================================================

// FromZoneState expands a zone snapshot into one notification per status.
// Track and playlist notifications are omitted while nothing is selected.
func FromZoneState(s zone.State) []Notification {
	ev := Event{Target: s.Index, At: s.UpdatedAt}
	out := []Notification{
		PlaybackStateChanged{Event: ev, State: s.Playback},
		VolumeChanged{Event: ev, Volume: s.Volume},
		MuteChanged{Event: ev, Muted: s.Muted},
		TrackRepeatChanged{Event: ev, Enabled: s.TrackRepeat},
		PlaylistRepeatChanged{Event: ev, Enabled: s.PlaylistRepeat},
		ShuffleChanged{Event: ev, Enabled: s.Shuffle},
		PositionChanged{Event: ev, PositionMs: s.PositionMs},
	}
	if s.TrackIndex != nil {
		out = append(out, TrackChanged{Event: ev, TrackIndex: *s.TrackIndex, Track: s.Track})
	}
	if s.PlaylistIndex != nil {
		out = append(out, PlaylistChanged{Event: ev, PlaylistIndex: *s.PlaylistIndex, Playlist: s.Playlist})
	}
	return out
}

// FromClientState expands a client snapshot into one notification per status.
func FromClientState(s client.State) []Notification {
	ev := Event{Target: s.Index, At: s.UpdatedAt}
	return []Notification{
		ClientVolumeChanged{Event: ev, Volume: s.Volume},
		ClientMuteChanged{Event: ev, Muted: s.Muted},
		ClientLatencyChanged{Event: ev, LatencyMs: s.LatencyMs},
		ClientZoneChanged{Event: ev, ZoneIndex: s.ZoneIndex},
	}
}
