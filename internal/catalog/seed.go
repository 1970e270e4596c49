package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader replaces the content of a catalog.
type Loader interface {
	Load(ctx context.Context, entries []PlaylistEntry) error
}

// Load implements Loader.
func (m *Memory) Load(_ context.Context, entries []PlaylistEntry) error {
	m.Replace(entries)
	return nil
}

// SeedDocument is the YAML layout of a catalog seed file:
//
//	playlists:
//	  - id: jazz
//	    name: Jazz Classics
//	    tracks:
//	      - title: So What
//	        artist: Miles Davis
//	        url: http://media.local/jazz/so-what.flac
//	        duration_ms: 562000
type SeedDocument struct {
	Playlists []PlaylistEntry `yaml:"playlists"`
}

// ParseSeed decodes and validates a seed document.
func ParseSeed(data []byte) ([]PlaylistEntry, error) {
	var doc SeedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if err := validateSeed(doc.Playlists); err != nil {
		return nil, err
	}
	return doc.Playlists, nil
}

// LoadSeed reads the seed file at path.
func LoadSeed(path string) ([]PlaylistEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("reading catalog seed: %w", err)
	}
	return ParseSeed(data)
}

// Apply loads the seed file at path into l.
func Apply(ctx context.Context, l Loader, path string) (int, error) {
	entries, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	if err := l.Load(ctx, entries); err != nil {
		return 0, fmt.Errorf("loading catalog: %w", err)
	}
	return len(entries), nil
}

func validateSeed(entries []PlaylistEntry) error {
	var errs []string
	ids := make(map[string]bool, len(entries))
	for i, e := range entries {
		where := fmt.Sprintf("playlists[%d]", i)
		switch {
		case e.Playlist.ID == "":
			errs = append(errs, where+": id is required")
		case ids[e.Playlist.ID]:
			errs = append(errs, fmt.Sprintf("%s: duplicate id %q", where, e.Playlist.ID))
		}
		ids[e.Playlist.ID] = true
		if e.Playlist.Name == "" {
			errs = append(errs, where+": name is required")
		}
		for j, t := range e.Tracks {
			u, err := url.Parse(t.URL)
			if t.URL == "" || err != nil || u.Scheme == "" {
				errs = append(errs, fmt.Sprintf("%s.tracks[%d]: url must be absolute", where, j))
			}
			if t.DurationMs < 0 {
				errs = append(errs, fmt.Sprintf("%s.tracks[%d]: duration_ms must not be negative", where, j))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(ErrInvalidSeed, errors.New(strings.Join(errs, "; ")))
	}
	return nil
}
