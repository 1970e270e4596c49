// Package catalog holds the media catalog: playlists and their tracks.
//
// Playlists and tracks are addressed by 1-based index, the same indices the
// zone commands carry. The catalog is configuration, not runtime state: it is
// persisted in SQLite and seeded from a YAML file (see Seed and Watcher).
package catalog

import (
	"context"
	"errors"
)

// Playlist describes one playlist.
type Playlist struct {
	Index      int    `json:"index" yaml:"-"`
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	TrackCount int    `json:"track_count" yaml:"-"`
}

// Track describes one entry of a playlist.
type Track struct {
	Index         int    `json:"index" yaml:"-"`
	PlaylistIndex int    `json:"playlist_index" yaml:"-"`
	Title         string `json:"title" yaml:"title"`
	Artist        string `json:"artist,omitempty" yaml:"artist"`
	Album         string `json:"album,omitempty" yaml:"album"`
	URL           string `json:"url" yaml:"url"`
	DurationMs    int64  `json:"duration_ms,omitempty" yaml:"duration_ms"`
}

// Store is the read side used by zones and the API.
//
// Implementations return an error matching apperr.NotFound when an index
// does not resolve.
type Store interface {
	Playlist(ctx context.Context, index int) (Playlist, error)
	Playlists(ctx context.Context) ([]Playlist, error)
	PlaylistCount(ctx context.Context) (int, error)
	Track(ctx context.Context, playlist, index int) (Track, error)
	Tracks(ctx context.Context, playlist int) ([]Track, error)
}

// Catalog errors.
var (
	// ErrInvalidSeed is returned when a seed document fails validation.
	ErrInvalidSeed = errors.New("catalog: invalid seed")
)
