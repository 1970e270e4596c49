package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/database"
)

// SQLite is the persistent Store backed by the playlists and tracks
// tables.
//
// Reads join the pipeline transaction carried by ctx, if any.
type SQLite struct {
	db *database.DB
}

// NewSQLite creates a SQLite store. The schema must already be migrated.
func NewSQLite(db *database.DB) *SQLite {
	return &SQLite{db: db}
}

const playlistColumns = `p.idx, p.id, p.name, (SELECT COUNT(*) FROM tracks t WHERE t.playlist_idx = p.idx)`

// Playlist implements Store.
func (s *SQLite) Playlist(ctx context.Context, index int) (Playlist, error) {
	var p Playlist
	err := s.db.QueryRowContext(ctx,
		"SELECT "+playlistColumns+" FROM playlists p WHERE p.idx = ?", index,
	).Scan(&p.Index, &p.ID, &p.Name, &p.TrackCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Playlist{}, apperr.Missing("playlist %d not found", index)
	}
	if err != nil {
		return Playlist{}, fmt.Errorf("querying playlist %d: %w", index, err)
	}
	return p, nil
}

// Playlists implements Store.
func (s *SQLite) Playlists(ctx context.Context) ([]Playlist, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+playlistColumns+" FROM playlists p ORDER BY p.idx")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Playlist
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.Index, &p.ID, &p.Name, &p.TrackCount); err != nil {
			return nil, fmt.Errorf("scanning playlist: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PlaylistCount implements Store.
func (s *SQLite) PlaylistCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM playlists").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting playlists: %w", err)
	}
	return n, nil
}

// Track implements Store.
func (s *SQLite) Track(ctx context.Context, playlist, index int) (Track, error) {
	if _, err := s.Playlist(ctx, playlist); err != nil {
		return Track{}, err
	}
	var t Track
	err := s.db.QueryRowContext(ctx, `
		SELECT idx, playlist_idx, title, artist, album, url, duration_ms
		FROM tracks WHERE playlist_idx = ? AND idx = ?`, playlist, index,
	).Scan(&t.Index, &t.PlaylistIndex, &t.Title, &t.Artist, &t.Album, &t.URL, &t.DurationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, apperr.Missing("track %d not found in playlist %d", index, playlist)
	}
	if err != nil {
		return Track{}, fmt.Errorf("querying track %d/%d: %w", playlist, index, err)
	}
	return t, nil
}

// Tracks implements Store.
func (s *SQLite) Tracks(ctx context.Context, playlist int) ([]Track, error) {
	if _, err := s.Playlist(ctx, playlist); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, playlist_idx, title, artist, album, url, duration_ms
		FROM tracks WHERE playlist_idx = ? ORDER BY idx`, playlist)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(&t.Index, &t.PlaylistIndex, &t.Title, &t.Artist, &t.Album, &t.URL, &t.DurationMs); err != nil {
			return nil, fmt.Errorf("scanning track: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Load implements Loader. The whole catalog is replaced in one
// transaction; indices are assigned from 1 in document order.
func (s *SQLite) Load(ctx context.Context, entries []PlaylistEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM tracks"); err != nil {
		return fmt.Errorf("clearing tracks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM playlists"); err != nil {
		return fmt.Errorf("clearing playlists: %w", err)
	}

	for i, e := range entries {
		pIdx := i + 1
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO playlists (idx, id, name) VALUES (?, ?, ?)",
			pIdx, e.Playlist.ID, e.Playlist.Name,
		); err != nil {
			return fmt.Errorf("inserting playlist %q: %w", e.Playlist.ID, err)
		}
		for j, t := range e.Tracks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tracks (playlist_idx, idx, title, artist, album, url, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				pIdx, j+1, t.Title, t.Artist, t.Album, t.URL, t.DurationMs,
			); err != nil {
				return fmt.Errorf("inserting track %d of %q: %w", j+1, e.Playlist.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing catalog: %w", err)
	}
	return nil
}
