package command

import (
	"strconv"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
)

// Cache durations per query family. Cached answers are not invalidated by
// commands; they may lag a write by up to the duration.
const (
	ZoneStateTTL    = time.Hour
	ClientStateTTL  = 10 * time.Minute
	SystemStatusTTL = 2 * time.Minute
	MediaTTL        = 10 * time.Minute
)

// readOnly marks a query.
type readOnly struct{}

func (readOnly) ReadOnly() {}

// ============================================================================
// Zones and clients
// ============================================================================

// GetZoneState returns one zone snapshot.
type GetZoneState struct {
	readOnly
	Zone int
}

func (GetZoneState) Operation() string       { return "GetZoneState" }
func (q GetZoneState) CacheKey() string      { return strconv.Itoa(q.Zone) }
func (GetZoneState) CacheTTL() time.Duration { return ZoneStateTTL }
func (q GetZoneState) Validate() error       { return ZoneTarget{Zone: q.Zone}.Validate() }

// GetAllZoneStates returns every zone snapshot in ascending index order.
type GetAllZoneStates struct{ readOnly }

func (GetAllZoneStates) Operation() string { return "GetAllZoneStates" }

// GetClientState returns one client snapshot.
type GetClientState struct {
	readOnly
	Client int
}

func (GetClientState) Operation() string       { return "GetClientState" }
func (q GetClientState) CacheKey() string      { return strconv.Itoa(q.Client) }
func (GetClientState) CacheTTL() time.Duration { return ClientStateTTL }
func (q GetClientState) Validate() error       { return ClientTarget{Client: q.Client}.Validate() }

// GetAllClientStates returns every client snapshot in ascending index order.
type GetAllClientStates struct{ readOnly }

func (GetAllClientStates) Operation() string { return "GetAllClientStates" }

// ============================================================================
// System
// ============================================================================

// GetSystemStatus reports uptime, inventory and transport connectivity.
type GetSystemStatus struct{ readOnly }

func (GetSystemStatus) Operation() string       { return "GetSystemStatus" }
func (GetSystemStatus) CacheKey() string        { return "" }
func (GetSystemStatus) CacheTTL() time.Duration { return SystemStatusTTL }

// GetVersionInfo reports the build.
type GetVersionInfo struct{ readOnly }

func (GetVersionInfo) Operation() string { return "GetVersionInfo" }

// GetServerStats reports the pipeline counters.
type GetServerStats struct{ readOnly }

func (GetServerStats) Operation() string { return "GetServerStats" }

// GetCommandHistory returns the most recent journal entries.
type GetCommandHistory struct {
	readOnly
	Limit int
}

func (GetCommandHistory) Operation() string { return "GetCommandHistory" }

func (q GetCommandHistory) Validate() error {
	var p problems
	p.add(q.Limit < 1 || q.Limit > 1000, "limit must be between 1 and 1000, got %d", q.Limit)
	return p.err()
}

// ============================================================================
// Media
// ============================================================================

// GetPlaylists lists the catalog.
type GetPlaylists struct{ readOnly }

func (GetPlaylists) Operation() string       { return "GetPlaylists" }
func (GetPlaylists) CacheKey() string        { return "" }
func (GetPlaylists) CacheTTL() time.Duration { return MediaTTL }

// GetPlaylist returns one playlist.
type GetPlaylist struct {
	readOnly
	Playlist int
}

func (GetPlaylist) Operation() string       { return "GetPlaylist" }
func (q GetPlaylist) CacheKey() string      { return strconv.Itoa(q.Playlist) }
func (GetPlaylist) CacheTTL() time.Duration { return MediaTTL }

func (q GetPlaylist) Validate() error {
	var p problems
	p.index("playlist", q.Playlist)
	return p.err()
}

// GetPlaylistTracks lists the tracks of one playlist.
type GetPlaylistTracks struct {
	readOnly
	Playlist int
}

func (GetPlaylistTracks) Operation() string       { return "GetPlaylistTracks" }
func (q GetPlaylistTracks) CacheKey() string      { return strconv.Itoa(q.Playlist) }
func (GetPlaylistTracks) CacheTTL() time.Duration { return MediaTTL }

func (q GetPlaylistTracks) Validate() error {
	var p problems
	p.index("playlist", q.Playlist)
	return p.err()
}

// GetTrack returns one track of a playlist.
type GetTrack struct {
	readOnly
	Playlist int
	Track    int
}

func (GetTrack) Operation() string       { return "GetTrack" }
func (q GetTrack) CacheKey() string      { return strconv.Itoa(q.Playlist) + "/" + strconv.Itoa(q.Track) }
func (GetTrack) CacheTTL() time.Duration { return MediaTTL }

func (q GetTrack) Validate() error {
	var p problems
	p.index("playlist", q.Playlist)
	p.index("track", q.Track)
	return p.err()
}

// Compile-time checks.
var (
	_ pipeline.Cacheable = GetZoneState{}
	_ pipeline.Cacheable = GetClientState{}
	_ pipeline.Cacheable = GetSystemStatus{}
	_ pipeline.Cacheable = GetTrack{}
	_ pipeline.Query     = GetCommandHistory{}
	_ pipeline.Mutating  = PlayPlaylistTrack{}
	_ pipeline.Mutating  = AssignClientZone{}
)
