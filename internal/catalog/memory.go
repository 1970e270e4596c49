package catalog

import (
	"context"
	"sync"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
)

// Memory is an in-memory Store. It is used in tests and as a fallback when
// no database is configured.
type Memory struct {
	mu        sync.RWMutex
	playlists []Playlist
	tracks    [][]Track
}

// NewMemory returns a Memory store holding the given playlists.
func NewMemory(entries ...PlaylistEntry) *Memory {
	m := &Memory{}
	m.Replace(entries)
	return m
}

// PlaylistEntry pairs a playlist with its tracks.
type PlaylistEntry struct {
	Playlist Playlist `yaml:",inline"`
	Tracks   []Track  `yaml:"tracks"`
}

// Replace swaps the whole content, re-indexing from 1.
func (m *Memory) Replace(entries []PlaylistEntry) {
	playlists := make([]Playlist, len(entries))
	tracks := make([][]Track, len(entries))
	for i, e := range entries {
		p := e.Playlist
		p.Index = i + 1
		p.TrackCount = len(e.Tracks)
		playlists[i] = p

		ts := make([]Track, len(e.Tracks))
		for j, t := range e.Tracks {
			t.Index = j + 1
			t.PlaylistIndex = p.Index
			ts[j] = t
		}
		tracks[i] = ts
	}

	m.mu.Lock()
	m.playlists = playlists
	m.tracks = tracks
	m.mu.Unlock()
}

// Playlist implements Store.
func (m *Memory) Playlist(_ context.Context, index int) (Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 1 || index > len(m.playlists) {
		return Playlist{}, apperr.Missing("playlist %d not found", index)
	}
	return m.playlists[index-1], nil
}

// Playlists implements Store.
func (m *Memory) Playlists(_ context.Context) ([]Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Playlist, len(m.playlists))
	copy(out, m.playlists)
	return out, nil
}

// PlaylistCount implements Store.
func (m *Memory) PlaylistCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.playlists), nil
}

// Track implements Store.
func (m *Memory) Track(_ context.Context, playlist, index int) (Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if playlist < 1 || playlist > len(m.playlists) {
		return Track{}, apperr.Missing("playlist %d not found", playlist)
	}
	ts := m.tracks[playlist-1]
	if index < 1 || index > len(ts) {
		return Track{}, apperr.Missing("track %d not found in playlist %d", index, playlist)
	}
	return ts[index-1], nil
}

// Tracks implements Store.
func (m *Memory) Tracks(_ context.Context, playlist int) ([]Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if playlist < 1 || playlist > len(m.playlists) {
		return nil, apperr.Missing("playlist %d not found", playlist)
	}
	out := make([]Track, len(m.tracks[playlist-1]))
	copy(out, m.tracks[playlist-1])
	return out, nil
}
