package zone

import (
	"context"

	"github.com/metaneutrons/snapdog2-sub010/internal/catalog"
)

// Controller applies playback effects on the streaming server.
//
// A Zone calls its Controller before it changes state; an error leaves the
// zone untouched. Implementations must honour ctx cancellation.
type Controller interface {
	Play(ctx context.Context, zone int) error
	Pause(ctx context.Context, zone int) error
	Stop(ctx context.Context, zone int) error
	SetVolume(ctx context.Context, zone, volume int) error
	SetMute(ctx context.Context, zone int, muted bool) error
	LoadPlaylist(ctx context.Context, zone int, playlist catalog.Playlist) error
	LoadTrack(ctx context.Context, zone int, track catalog.Track) error
	PlayURL(ctx context.Context, zone int, url string) error
	SetTrackRepeat(ctx context.Context, zone int, enabled bool) error
	SetPlaylistRepeat(ctx context.Context, zone int, enabled bool) error
	SetShuffle(ctx context.Context, zone int, enabled bool) error
	Seek(ctx context.Context, zone int, positionMs int64) error
}

// Catalog resolves playlists and tracks by 1-based index.
type Catalog interface {
	Playlist(ctx context.Context, index int) (catalog.Playlist, error)
	PlaylistCount(ctx context.Context) (int, error)
	Track(ctx context.Context, playlist, index int) (catalog.Track, error)
}
