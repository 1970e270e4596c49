package zone

import (
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/catalog"
)

// PlaybackState is the transport state of a zone.
type PlaybackState string

// Playback states.
const (
	Stopped PlaybackState = "stopped"
	Playing PlaybackState = "playing"
	Paused  PlaybackState = "paused"
)

// Volume bounds.
const (
	MinVolume = 0
	MaxVolume = 100
)

// TrackMeta is the metadata of the loaded track.
type TrackMeta struct {
	Title      string `json:"title"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	URL        string `json:"url"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// PlaylistMeta is the metadata of the selected playlist.
type PlaylistMeta struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrackCount int    `json:"track_count"`
}

// State is an immutable point-in-time snapshot of a zone.
//
// Snapshots are never modified after publication; every mutation swaps in a
// fresh value. Callers must not assume a snapshot is still current.
type State struct {
	Index          int           `json:"index"`
	Name           string        `json:"name"`
	Playback       PlaybackState `json:"playback_state"`
	Volume         int           `json:"volume"`
	Muted          bool          `json:"muted"`
	TrackIndex     *int          `json:"track_index,omitempty"`
	Track          *TrackMeta    `json:"track,omitempty"`
	PlaylistIndex  *int          `json:"playlist_index,omitempty"`
	Playlist       *PlaylistMeta `json:"playlist,omitempty"`
	TrackRepeat    bool          `json:"track_repeat"`
	PlaylistRepeat bool          `json:"playlist_repeat"`
	Shuffle        bool          `json:"playlist_shuffle"`
	PositionMs     int64         `json:"position_ms"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.TrackIndex != nil {
		v := *s.TrackIndex
		out.TrackIndex = &v
	}
	if s.Track != nil {
		v := *s.Track
		out.Track = &v
	}
	if s.PlaylistIndex != nil {
		v := *s.PlaylistIndex
		out.PlaylistIndex = &v
	}
	if s.Playlist != nil {
		v := *s.Playlist
		out.Playlist = &v
	}
	return out
}

func (s *State) setTrack(t catalog.Track) {
	idx := t.Index
	s.TrackIndex = &idx
	s.Track = &TrackMeta{
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		URL:        t.URL,
		DurationMs: t.DurationMs,
	}
	s.PositionMs = 0
}

func (s *State) setPlaylist(p catalog.Playlist) {
	idx := p.Index
	s.PlaylistIndex = &idx
	s.Playlist = &PlaylistMeta{ID: p.ID, Name: p.Name, TrackCount: p.TrackCount}
}

func (s *State) clearTrack() {
	s.TrackIndex = nil
	s.Track = nil
	s.PositionMs = 0
}
