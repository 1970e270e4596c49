// Package zone implements the per-zone state engine.
//
// A Zone is the single owner of its state. Every mutation runs inside the
// zone's exclusive slot and follows the same order:
//
//  1. validate parameters
//  2. resolve catalog entries
//  3. apply the effect through the Controller
//  4. swap in a new snapshot
//
// A failure at any step leaves the published snapshot untouched. Zones never
// raise notifications themselves. A caller that needs to announce a change
// attaches a hook with OnApplied; it runs with the new snapshot before the
// slot is released, so announcements for one zone leave in mutation order.
//
// Different zones share nothing and run fully in parallel.
package zone

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/catalog"
)

// Defaults.
const (
	DefaultCallTimeout = 5 * time.Second
	DefaultVolume      = 50
)

// Config is the static configuration of one zone.
type Config struct {
	Index  int
	Name   string
	Volume int // initial volume; DefaultVolume when zero
}

// Option customises a Zone.
type Option func(*Zone)

// WithCallTimeout bounds each controller and catalog call.
func WithCallTimeout(d time.Duration) Option {
	return func(z *Zone) {
		if d > 0 {
			z.callTimeout = d
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(z *Zone) { z.now = now }
}

// WithInitialState adjusts the first snapshot, e.g. with values read back
// from the streaming server at startup.
func WithInitialState(fn func(*State)) Option {
	return func(z *Zone) { z.seed = append(z.seed, fn) }
}

// Zone owns the state of one audio zone.
type Zone struct {
	index       int
	ctrl        Controller
	cat         Catalog
	slot        chan struct{}
	snapshot    atomic.Pointer[State]
	callTimeout time.Duration
	now         func() time.Time
	seed        []func(*State)
}

// New creates a zone. Index must be positive and both collaborators set.
func New(cfg Config, ctrl Controller, cat Catalog, opts ...Option) (*Zone, error) {
	if cfg.Index < 1 {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidZone, cfg.Index)
	}
	if ctrl == nil || cat == nil {
		return nil, fmt.Errorf("%w: zone %d needs a controller and a catalog", ErrInvalidZone, cfg.Index)
	}

	z := &Zone{
		index:       cfg.Index,
		ctrl:        ctrl,
		cat:         cat,
		slot:        make(chan struct{}, 1),
		callTimeout: DefaultCallTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(z)
	}

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("Zone %d", cfg.Index)
	}
	volume := cfg.Volume
	if volume == 0 {
		volume = DefaultVolume
	}
	initial := State{
		Index:     cfg.Index,
		Name:      name,
		Playback:  Stopped,
		Volume:    volume,
		UpdatedAt: z.now(),
	}
	for _, fn := range z.seed {
		fn(&initial)
	}
	initial.Index = cfg.Index
	initial.Volume = clamp(initial.Volume)
	z.snapshot.Store(&initial)
	z.seed = nil

	return z, nil
}

// Index returns the zone index.
func (z *Zone) Index() int { return z.index }

// State returns the current snapshot.
func (z *Zone) State() State {
	return z.snapshot.Load().Clone()
}

// effect is one call to the playback controller.
type effect func(ctx context.Context) error

// acquire takes the zone's exclusive slot. Waiting honours ctx.
func (z *Zone) acquire(ctx context.Context) error {
	select {
	case z.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (z *Zone) release() { <-z.slot }

// apply runs one mutation. fn validates and resolves against a private copy
// of the current state and returns the effect to execute; the copy is only
// published when the effect succeeds.
func (z *Zone) apply(ctx context.Context, op string, fn func(ctx context.Context, next *State) ([]effect, error)) (State, error) {
	if err := z.acquire(ctx); err != nil {
		return State{}, apperr.External(err, "zone %d: %s: waiting for zone", z.index, op)
	}
	defer z.release()

	next := z.snapshot.Load().Clone()
	effects, err := fn(ctx, &next)
	if err != nil {
		return State{}, err
	}
	for _, eff := range effects {
		if err := z.call(ctx, eff); err != nil {
			return State{}, apperr.External(err, "zone %d: %s: playback control failed", z.index, op)
		}
	}

	next.UpdatedAt = z.now()
	z.snapshot.Store(&next)
	if hook, ok := ctx.Value(appliedKey{}).(func(State)); ok {
		hook(next.Clone())
	}
	return next.Clone(), nil
}

type appliedKey struct{}

// OnApplied returns a context that makes every zone mutation run fn with
// the new snapshot while the zone's slot is still held. fn must not call
// back into the same zone.
func OnApplied(ctx context.Context, fn func(State)) context.Context {
	return context.WithValue(ctx, appliedKey{}, fn)
}

// call runs eff with the per-call timeout. When the deadline or the caller
// cancels, the context error is kept in the chain for classification.
func (z *Zone) call(ctx context.Context, eff effect) error {
	cctx, cancel := context.WithTimeout(ctx, z.callTimeout)
	defer cancel()

	err := eff(cctx)
	if err == nil {
		return nil
	}
	if ctxErr := cctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// resolve runs a catalog lookup with the per-call timeout. NotFound passes
// through; anything else is an external failure.
func (z *Zone) resolve(ctx context.Context, fn func(ctx context.Context) error) error {
	err := z.call(ctx, fn)
	if err == nil || apperr.IsKind(err, apperr.NotFound) {
		return err
	}
	return apperr.External(err, "zone %d: catalog lookup failed", z.index)
}

func (z *Zone) playlist(ctx context.Context, index int) (catalog.Playlist, error) {
	var p catalog.Playlist
	err := z.resolve(ctx, func(ctx context.Context) error {
		var err error
		p, err = z.cat.Playlist(ctx, index)
		return err
	})
	return p, err
}

func (z *Zone) track(ctx context.Context, playlist, index int) (catalog.Track, error) {
	var t catalog.Track
	err := z.resolve(ctx, func(ctx context.Context) error {
		var err error
		t, err = z.cat.Track(ctx, playlist, index)
		return err
	})
	return t, err
}

func (z *Zone) playlistCount(ctx context.Context) (int, error) {
	var n int
	err := z.resolve(ctx, func(ctx context.Context) error {
		var err error
		n, err = z.cat.PlaylistCount(ctx)
		return err
	})
	return n, err
}

// ============================================================================
// Transport
// ============================================================================

// Play starts or resumes playback.
func (z *Zone) Play(ctx context.Context) (State, error) {
	return z.apply(ctx, "Play", func(_ context.Context, next *State) ([]effect, error) {
		next.Playback = Playing
		return []effect{func(ctx context.Context) error { return z.ctrl.Play(ctx, z.index) }}, nil
	})
}

// Pause pauses playback. A stopped zone stays stopped.
func (z *Zone) Pause(ctx context.Context) (State, error) {
	return z.apply(ctx, "Pause", func(_ context.Context, next *State) ([]effect, error) {
		if next.Playback == Playing {
			next.Playback = Paused
		}
		return []effect{func(ctx context.Context) error { return z.ctrl.Pause(ctx, z.index) }}, nil
	})
}

// Stop stops playback and rewinds the position.
func (z *Zone) Stop(ctx context.Context) (State, error) {
	return z.apply(ctx, "Stop", func(_ context.Context, next *State) ([]effect, error) {
		next.Playback = Stopped
		next.PositionMs = 0
		return []effect{func(ctx context.Context) error { return z.ctrl.Stop(ctx, z.index) }}, nil
	})
}

// ============================================================================
// Volume and mute
// ============================================================================

// SetVolume sets the volume. Setting the current value still succeeds.
func (z *Zone) SetVolume(ctx context.Context, volume int) (State, error) {
	if err := validateVolume(volume); err != nil {
		return State{}, err
	}
	return z.apply(ctx, "SetVolume", func(_ context.Context, next *State) ([]effect, error) {
		next.Volume = volume
		return []effect{z.volumeEffect(volume)}, nil
	})
}

// VolumeUp raises the volume by step, clamped to MaxVolume.
func (z *Zone) VolumeUp(ctx context.Context, step int) (State, error) {
	return z.adjustVolume(ctx, "VolumeUp", step)
}

// VolumeDown lowers the volume by step, clamped to MinVolume.
func (z *Zone) VolumeDown(ctx context.Context, step int) (State, error) {
	return z.adjustVolume(ctx, "VolumeDown", -step)
}

func (z *Zone) adjustVolume(ctx context.Context, op string, delta int) (State, error) {
	step := delta
	if step < 0 {
		step = -step
	}
	if step < 1 || step > MaxVolume {
		return State{}, apperr.Invalid("volume step must be between 1 and %d, got %d", MaxVolume, step)
	}
	return z.apply(ctx, op, func(_ context.Context, next *State) ([]effect, error) {
		next.Volume = clamp(next.Volume + delta)
		return []effect{z.volumeEffect(next.Volume)}, nil
	})
}

func (z *Zone) volumeEffect(volume int) effect {
	return func(ctx context.Context) error { return z.ctrl.SetVolume(ctx, z.index, volume) }
}

// SetMute sets the mute flag. The stored volume is not touched.
func (z *Zone) SetMute(ctx context.Context, muted bool) (State, error) {
	return z.setFlag(ctx, "SetMute", muteField, constant(muted), z.ctrl.SetMute)
}

// ToggleMute inverts the mute flag. The returned snapshot carries the value
// this call wrote.
func (z *Zone) ToggleMute(ctx context.Context) (State, error) {
	return z.setFlag(ctx, "ToggleMute", muteField, not, z.ctrl.SetMute)
}

// ============================================================================
// Tracks
// ============================================================================

// SetTrack selects track index of the current playlist.
func (z *Zone) SetTrack(ctx context.Context, index int) (State, error) {
	if err := validateIndex("track", index); err != nil {
		return State{}, err
	}
	return z.apply(ctx, "SetTrack", func(ctx context.Context, next *State) ([]effect, error) {
		t, err := z.resolveTrack(ctx, next, index)
		if err != nil {
			return nil, err
		}
		next.setTrack(t)
		return []effect{z.loadTrackEffect(t)}, nil
	})
}

// PlayTrack selects track index of the current playlist and starts
// playback. It runs as SetTrack followed by Play, each committed on its
// own; when Play fails the new track stays selected and the error is
// returned.
func (z *Zone) PlayTrack(ctx context.Context, index int) (State, error) {
	if _, err := z.SetTrack(ctx, index); err != nil {
		return State{}, err
	}
	return z.Play(ctx)
}

// NextTrack advances to the next track. Past the last track it wraps only
// when playlist repeat is on.
func (z *Zone) NextTrack(ctx context.Context) (State, error) {
	return z.stepTrack(ctx, "NextTrack", 1)
}

// PreviousTrack returns to the previous track. Before the first track it
// wraps only when playlist repeat is on.
func (z *Zone) PreviousTrack(ctx context.Context) (State, error) {
	return z.stepTrack(ctx, "PreviousTrack", -1)
}

func (z *Zone) stepTrack(ctx context.Context, op string, delta int) (State, error) {
	return z.apply(ctx, op, func(ctx context.Context, next *State) ([]effect, error) {
		if next.PlaylistIndex == nil || next.Playlist == nil {
			return nil, apperr.Missing("zone %d has no playlist selected", z.index)
		}
		count := next.Playlist.TrackCount
		if count == 0 {
			return nil, apperr.Missing("playlist %d is empty", *next.PlaylistIndex)
		}

		target := 0
		switch {
		case next.TrackIndex == nil && delta > 0:
			target = 1
		case next.TrackIndex == nil:
			target = count
		default:
			target = *next.TrackIndex + delta
		}
		if target > count || target < 1 {
			if !next.PlaylistRepeat {
				return nil, apperr.Missing("zone %d: no track beyond the playlist boundary", z.index)
			}
			if target > count {
				target = 1
			} else {
				target = count
			}
		}

		t, err := z.track(ctx, *next.PlaylistIndex, target)
		if err != nil {
			return nil, err
		}
		next.setTrack(t)
		return []effect{z.loadTrackEffect(t)}, nil
	})
}

// PlayURL plays an arbitrary http(s) stream. The track index is cleared.
func (z *Zone) PlayURL(ctx context.Context, rawURL string) (State, error) {
	if err := validateURL(rawURL); err != nil {
		return State{}, err
	}
	return z.apply(ctx, "PlayURL", func(_ context.Context, next *State) ([]effect, error) {
		next.clearTrack()
		next.Track = &TrackMeta{Title: rawURL, URL: rawURL}
		next.Playback = Playing
		return []effect{func(ctx context.Context) error { return z.ctrl.PlayURL(ctx, z.index, rawURL) }}, nil
	})
}

func (z *Zone) resolveTrack(ctx context.Context, s *State, index int) (catalog.Track, error) {
	if s.PlaylistIndex == nil {
		return catalog.Track{}, apperr.Missing("zone %d has no playlist selected", z.index)
	}
	return z.track(ctx, *s.PlaylistIndex, index)
}

func (z *Zone) loadTrackEffect(t catalog.Track) effect {
	return func(ctx context.Context) error { return z.ctrl.LoadTrack(ctx, z.index, t) }
}

// ============================================================================
// Playlists
// ============================================================================

// SetPlaylist selects playlist index and loads its first track.
func (z *Zone) SetPlaylist(ctx context.Context, index int) (State, error) {
	if err := validateIndex("playlist", index); err != nil {
		return State{}, err
	}
	return z.apply(ctx, "SetPlaylist", func(ctx context.Context, next *State) ([]effect, error) {
		return z.selectPlaylist(ctx, next, index)
	})
}

// NextPlaylist selects the next playlist, wrapping around the catalog.
func (z *Zone) NextPlaylist(ctx context.Context) (State, error) {
	return z.stepPlaylist(ctx, "NextPlaylist", 1)
}

// PreviousPlaylist selects the previous playlist, wrapping around the catalog.
func (z *Zone) PreviousPlaylist(ctx context.Context) (State, error) {
	return z.stepPlaylist(ctx, "PreviousPlaylist", -1)
}

func (z *Zone) stepPlaylist(ctx context.Context, op string, delta int) (State, error) {
	return z.apply(ctx, op, func(ctx context.Context, next *State) ([]effect, error) {
		count, err := z.playlistCount(ctx)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, apperr.Missing("catalog has no playlists")
		}

		current := 0
		if next.PlaylistIndex != nil {
			current = *next.PlaylistIndex
		}
		var target int
		if delta > 0 {
			target = current%count + 1
		} else if current <= 1 {
			target = count
		} else {
			target = current - 1
		}
		return z.selectPlaylist(ctx, next, target)
	})
}

func (z *Zone) selectPlaylist(ctx context.Context, next *State, index int) ([]effect, error) {
	p, err := z.playlist(ctx, index)
	if err != nil {
		return nil, err
	}
	next.setPlaylist(p)
	next.clearTrack()
	if p.TrackCount > 0 {
		t, err := z.track(ctx, index, 1)
		if err != nil {
			return nil, err
		}
		next.setTrack(t)
	}
	return []effect{func(ctx context.Context) error { return z.ctrl.LoadPlaylist(ctx, z.index, p) }}, nil
}

// ============================================================================
// Modes
// ============================================================================

// SetTrackRepeat sets track repeat.
func (z *Zone) SetTrackRepeat(ctx context.Context, enabled bool) (State, error) {
	return z.setFlag(ctx, "SetTrackRepeat", trackRepeatField, constant(enabled), z.ctrl.SetTrackRepeat)
}

// ToggleTrackRepeat inverts track repeat.
func (z *Zone) ToggleTrackRepeat(ctx context.Context) (State, error) {
	return z.setFlag(ctx, "ToggleTrackRepeat", trackRepeatField, not, z.ctrl.SetTrackRepeat)
}

// SetPlaylistRepeat sets playlist repeat.
func (z *Zone) SetPlaylistRepeat(ctx context.Context, enabled bool) (State, error) {
	return z.setFlag(ctx, "SetPlaylistRepeat", playlistRepeatField, constant(enabled), z.ctrl.SetPlaylistRepeat)
}

// TogglePlaylistRepeat inverts playlist repeat.
func (z *Zone) TogglePlaylistRepeat(ctx context.Context) (State, error) {
	return z.setFlag(ctx, "TogglePlaylistRepeat", playlistRepeatField, not, z.ctrl.SetPlaylistRepeat)
}

// SetShuffle sets playlist shuffle.
func (z *Zone) SetShuffle(ctx context.Context, enabled bool) (State, error) {
	return z.setFlag(ctx, "SetShuffle", shuffleField, constant(enabled), z.ctrl.SetShuffle)
}

// ToggleShuffle inverts playlist shuffle.
func (z *Zone) ToggleShuffle(ctx context.Context) (State, error) {
	return z.setFlag(ctx, "ToggleShuffle", shuffleField, not, z.ctrl.SetShuffle)
}

func muteField(s *State) *bool           { return &s.Muted }
func trackRepeatField(s *State) *bool    { return &s.TrackRepeat }
func playlistRepeatField(s *State) *bool { return &s.PlaylistRepeat }
func shuffleField(s *State) *bool        { return &s.Shuffle }

func not(v bool) bool { return !v }

func constant(v bool) func(bool) bool {
	return func(bool) bool { return v }
}

// setFlag reads, transforms and writes one boolean inside the zone slot,
// so concurrent toggles never lose an update.
func (z *Zone) setFlag(ctx context.Context, op string, field func(*State) *bool, fn func(bool) bool,
	ctrl func(context.Context, int, bool) error) (State, error) {
	return z.apply(ctx, op, func(_ context.Context, next *State) ([]effect, error) {
		ptr := field(next)
		value := fn(*ptr)
		*ptr = value
		return []effect{func(ctx context.Context) error { return ctrl(ctx, z.index, value) }}, nil
	})
}

// ============================================================================
// Seeking
// ============================================================================

// SeekToPosition moves playback to positionMs.
func (z *Zone) SeekToPosition(ctx context.Context, positionMs int64) (State, error) {
	if positionMs < 0 {
		return State{}, apperr.Invalid("position must not be negative, got %d", positionMs)
	}
	return z.apply(ctx, "SeekToPosition", func(_ context.Context, next *State) ([]effect, error) {
		if next.Track == nil {
			return nil, apperr.Missing("zone %d has no track loaded", z.index)
		}
		if d := next.Track.DurationMs; d > 0 && positionMs > d {
			return nil, apperr.Invalid("position %d exceeds track duration %d", positionMs, d)
		}
		next.PositionMs = positionMs
		return []effect{z.seekEffect(positionMs)}, nil
	})
}

// SeekToProgress moves playback to a fraction in [0,1] of the track.
func (z *Zone) SeekToProgress(ctx context.Context, progress float64) (State, error) {
	if math.IsNaN(progress) || progress < 0 || progress > 1 {
		return State{}, apperr.Invalid("progress must be between 0 and 1, got %v", progress)
	}
	return z.apply(ctx, "SeekToProgress", func(_ context.Context, next *State) ([]effect, error) {
		if next.Track == nil || next.Track.DurationMs <= 0 {
			return nil, apperr.Missing("zone %d has no track with a known duration", z.index)
		}
		pos := int64(progress * float64(next.Track.DurationMs))
		next.PositionMs = pos
		return []effect{z.seekEffect(pos)}, nil
	})
}

func (z *Zone) seekEffect(pos int64) effect {
	return func(ctx context.Context) error { return z.ctrl.Seek(ctx, z.index, pos) }
}

// ============================================================================
// Validation helpers
// ============================================================================

func validateVolume(v int) error {
	if v < MinVolume || v > MaxVolume {
		return apperr.Invalid("volume must be between %d and %d, got %d", MinVolume, MaxVolume, v)
	}
	return nil
}

func validateIndex(what string, index int) error {
	if index < 1 {
		return apperr.Invalid("%s index must be positive, got %d", what, index)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Invalid("invalid url: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Invalid("url must be an absolute http or https url, got %q", raw)
	}
	return nil
}

func clamp(v int) int {
	switch {
	case v < MinVolume:
		return MinVolume
	case v > MaxVolume:
		return MaxVolume
	default:
		return v
	}
}
