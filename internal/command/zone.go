package command

import (
	"math"
	"strings"

	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// ============================================================================
// Playback
// ============================================================================

// Play starts playback.
type Play struct {
	Meta
	ZoneTarget
}

func (Play) Operation() string              { return "Play" }
func (Play) Class() pipeline.OperationClass { return pipeline.ClassStart }

// Pause pauses playback.
type Pause struct {
	Meta
	ZoneTarget
}

func (Pause) Operation() string              { return "Pause" }
func (Pause) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// Stop stops playback.
type Stop struct {
	Meta
	ZoneTarget
}

func (Stop) Operation() string              { return "Stop" }
func (Stop) Class() pipeline.OperationClass { return pipeline.ClassStop }

// ============================================================================
// Volume and mute
// ============================================================================

// SetVolume sets the zone volume.
type SetVolume struct {
	Meta
	ZoneTarget
	Volume int `json:"volume"`
}

func (SetVolume) Operation() string              { return "SetVolume" }
func (SetVolume) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

func (c SetVolume) Validate() error {
	var p problems
	p.index("zone", c.Zone)
	p.add(c.Volume < zone.MinVolume || c.Volume > zone.MaxVolume,
		"volume must be between %d and %d, got %d", zone.MinVolume, zone.MaxVolume, c.Volume)
	return p.err()
}

// VolumeUp raises the volume by Step, clamped at the maximum.
type VolumeUp struct {
	Meta
	ZoneTarget
	Step int `json:"step"`
}

func (VolumeUp) Operation() string              { return "VolumeUp" }
func (VolumeUp) Class() pipeline.OperationClass { return pipeline.ClassUpdate }
func (c VolumeUp) Validate() error              { return validateStep(c.Zone, c.Step) }

// VolumeDown lowers the volume by Step, clamped at the minimum.
type VolumeDown struct {
	Meta
	ZoneTarget
	Step int `json:"step"`
}

func (VolumeDown) Operation() string              { return "VolumeDown" }
func (VolumeDown) Class() pipeline.OperationClass { return pipeline.ClassUpdate }
func (c VolumeDown) Validate() error              { return validateStep(c.Zone, c.Step) }

func validateStep(zoneIndex, step int) error {
	var p problems
	p.index("zone", zoneIndex)
	p.add(step < 1 || step > zone.MaxVolume, "step must be between 1 and %d, got %d", zone.MaxVolume, step)
	return p.err()
}

// SetMute mutes or unmutes the zone.
type SetMute struct {
	Meta
	ZoneTarget
	Muted bool `json:"muted"`
}

func (SetMute) Operation() string              { return "SetMute" }
func (SetMute) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// ToggleMute flips the mute state.
type ToggleMute struct {
	Meta
	ZoneTarget
}

func (ToggleMute) Operation() string              { return "ToggleMute" }
func (ToggleMute) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// ============================================================================
// Tracks
// ============================================================================

// SetTrack selects a track of the current playlist.
type SetTrack struct {
	Meta
	ZoneTarget
	Track int `json:"track"`
}

func (SetTrack) Operation() string              { return "SetTrack" }
func (SetTrack) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

func (c SetTrack) Validate() error {
	var p problems
	p.index("zone", c.Zone)
	p.index("track", c.Track)
	return p.err()
}

// PlayTrack selects a track of the current playlist and starts it.
type PlayTrack struct {
	Meta
	ZoneTarget
	Track int `json:"track"`
}

func (PlayTrack) Operation() string              { return "PlayTrack" }
func (PlayTrack) Class() pipeline.OperationClass { return pipeline.ClassStart }

func (c PlayTrack) Validate() error {
	var p problems
	p.index("zone", c.Zone)
	p.index("track", c.Track)
	return p.err()
}

// NextTrack advances to the next track.
type NextTrack struct {
	Meta
	ZoneTarget
}

func (NextTrack) Operation() string              { return "NextTrack" }
func (NextTrack) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// PreviousTrack goes back one track.
type PreviousTrack struct {
	Meta
	ZoneTarget
}

func (PreviousTrack) Operation() string              { return "PreviousTrack" }
func (PreviousTrack) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// PlayURL plays an arbitrary http(s) stream.
type PlayURL struct {
	Meta
	ZoneTarget
	URL string `json:"url"`
}

func (PlayURL) Operation() string              { return "PlayURL" }
func (PlayURL) Class() pipeline.OperationClass { return pipeline.ClassStart }

func (c PlayURL) Validate() error {
	var p problems
	p.index("zone", c.Zone)
	p.add(strings.TrimSpace(c.URL) == "", "url is required")
	return p.err()
}

// ============================================================================
// Playlists
// ============================================================================

// SetPlaylist selects a playlist and loads its first track.
type SetPlaylist struct {
	Meta
	ZoneTarget
	Playlist int `json:"playlist"`
}

func (SetPlaylist) Operation() string              { return "SetPlaylist" }
func (SetPlaylist) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

func (c SetPlaylist) Validate() error {
	var p problems
	p.index("zone", c.Zone)
	p.index("playlist", c.Playlist)
	return p.err()
}

// NextPlaylist selects the next playlist, wrapping at the end.
type NextPlaylist struct {
	Meta
	ZoneTarget
}

func (NextPlaylist) Operation() string              { return "NextPlaylist" }
func (NextPlaylist) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// PreviousPlaylist selects the previous playlist, wrapping at the start.
type PreviousPlaylist struct {
	Meta
	ZoneTarget
}

func (PreviousPlaylist) Operation() string              { return "PreviousPlaylist" }
func (PreviousPlaylist) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// PlayPlaylistTrack runs SetPlaylist, SetTrack and Play in order. Steps
// that succeeded stay applied when a later one fails.
type PlayPlaylistTrack struct {
	Meta
	ZoneTarget
	Playlist int `json:"playlist"`
	Track    int `json:"track"`
}

func (PlayPlaylistTrack) Operation() string              { return "PlayPlaylistTrack" }
func (PlayPlaylistTrack) Class() pipeline.OperationClass { return pipeline.ClassStart }

func (c PlayPlaylistTrack) Validate() error {
	var p problems
	p.index("zone", c.Zone)
	p.index("playlist", c.Playlist)
	p.index("track", c.Track)
	return p.err()
}

// ============================================================================
// Modes
// ============================================================================

// SetTrackRepeat sets track repeat.
type SetTrackRepeat struct {
	Meta
	ZoneTarget
	Enabled bool `json:"enabled"`
}

func (SetTrackRepeat) Operation() string              { return "SetTrackRepeat" }
func (SetTrackRepeat) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// ToggleTrackRepeat flips track repeat.
type ToggleTrackRepeat struct {
	Meta
	ZoneTarget
}

func (ToggleTrackRepeat) Operation() string              { return "ToggleTrackRepeat" }
func (ToggleTrackRepeat) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// SetPlaylistRepeat sets playlist repeat.
type SetPlaylistRepeat struct {
	Meta
	ZoneTarget
	Enabled bool `json:"enabled"`
}

func (SetPlaylistRepeat) Operation() string              { return "SetPlaylistRepeat" }
func (SetPlaylistRepeat) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// TogglePlaylistRepeat flips playlist repeat.
type TogglePlaylistRepeat struct {
	Meta
	ZoneTarget
}

func (TogglePlaylistRepeat) Operation() string              { return "TogglePlaylistRepeat" }
func (TogglePlaylistRepeat) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// SetShuffle sets playlist shuffle.
type SetShuffle struct {
	Meta
	ZoneTarget
	Enabled bool `json:"enabled"`
}

func (SetShuffle) Operation() string              { return "SetShuffle" }
func (SetShuffle) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// ToggleShuffle flips playlist shuffle.
type ToggleShuffle struct {
	Meta
	ZoneTarget
}

func (ToggleShuffle) Operation() string              { return "ToggleShuffle" }
func (ToggleShuffle) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// ============================================================================
// Seeking
// ============================================================================

// SeekPosition moves playback to PositionMs.
type SeekPosition struct {
	Meta
	ZoneTarget
	PositionMs int64 `json:"position_ms"`
}

func (SeekPosition) Operation() string              { return "SeekPosition" }
func (SeekPosition) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

func (c SeekPosition) Validate() error {
	var p problems
	p.index("zone", c.Zone)
	p.add(c.PositionMs < 0, "position must not be negative, got %d", c.PositionMs)
	return p.err()
}

// SeekProgress moves playback to a fraction of the track.
type SeekProgress struct {
	Meta
	ZoneTarget
	Progress float64 `json:"progress"`
}

func (SeekProgress) Operation() string              { return "SeekProgress" }
func (SeekProgress) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

func (c SeekProgress) Validate() error {
	var p problems
	p.index("zone", c.Zone)
	p.add(math.IsNaN(c.Progress) || c.Progress < 0 || c.Progress > 1,
		"progress must be between 0 and 1, got %v", c.Progress)
	return p.err()
}
