package command

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/catalog"
	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/database"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// Publisher delivers notifications; *notify.Dispatcher implements it.
type Publisher interface {
	Publish(ctx context.Context, n notify.Notification) int
}

// Journal records applied commands; *database.Journal implements it.
type Journal interface {
	Append(ctx context.Context, e database.JournalEntry) error
	Recent(ctx context.Context, limit int) ([]database.JournalEntry, error)
}

// StatsSource exposes pipeline counters; *pipeline.Stats implements it.
type StatsSource interface {
	Snapshot() map[string]pipeline.OpStats
}

// Probe reports whether a transport is connected.
type Probe interface {
	IsConnected() bool
}

// Logger defines the logging interface used by the handlers.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// SystemStatus is the answer to GetSystemStatus.
type SystemStatus struct {
	Status      string          `json:"status"` // "ok" or "degraded"
	Version     string          `json:"version"`
	StartedAt   time.Time       `json:"started_at"`
	Uptime      string          `json:"uptime"`
	Zones       int             `json:"zones"`
	Clients     int             `json:"clients"`
	Connections map[string]bool `json:"connections"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ServerStats is the answer to GetServerStats.
type ServerStats struct {
	Uptime     string                      `json:"uptime"`
	Operations map[string]pipeline.OpStats `json:"operations"`
}

// Deps are the collaborators of the handlers. Zones, Clients, Catalog and
// Notifier are required.
type Deps struct {
	Zones    *zone.Manager
	Clients  *client.Manager
	Catalog  catalog.Store
	Notifier Publisher
	Journal  Journal          // optional
	Stats    StatsSource      // optional
	Probes   map[string]Probe // optional, keyed by transport name
	Version  VersionInfo
	Logger   Logger
	Now      func() time.Time
}

// Handlers executes commands and queries.
type Handlers struct {
	Deps
	started time.Time
}

// New validates deps and returns Handlers.
func New(deps Deps) (*Handlers, error) {
	if deps.Zones == nil || deps.Clients == nil || deps.Catalog == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("command: zones, clients, catalog and notifier are required")
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Version.GoVersion == "" {
		deps.Version.GoVersion = runtime.Version()
	}
	return &Handlers{Deps: deps, started: deps.Now()}, nil
}

// Register installs every command and query handler on p.
func (h *Handlers) Register(p *pipeline.Pipeline) {
	h.registerZoneCommands(p)
	h.registerClientCommands(p)
	h.registerQueries(p)
}

// ============================================================================
// Shared execution
// ============================================================================

// journaled is a command that can be written to the journal.
type journaled interface {
	pipeline.Mutating
	CommandID() uuid.UUID
}

type zoneCommand interface {
	journaled
	ZoneIndex() int
}

type clientCommand interface {
	journaled
	ClientIndex() int
}

// zoneRaise builds the notification for a zone operation's new snapshot.
type zoneRaise func(e notify.Event, s zone.State) notify.Notification

// zoneStep is one committed mutation of a multi-step zone command.
type zoneStep struct {
	run   func(ctx context.Context, z *zone.Zone) (zone.State, error)
	raise zoneRaise
}

// onZone registers a handler for a single-step zone command.
func onZone[C zoneCommand](p *pipeline.Pipeline, h *Handlers,
	apply func(ctx context.Context, z *zone.Zone, cmd C) (zone.State, error), raise zoneRaise,
) {
	pipeline.HandleCommand(p, func(ctx context.Context, cmd C) error {
		z, err := h.Zones.Zone(cmd.ZoneIndex())
		if err != nil {
			return err
		}
		if _, err := apply(h.announceZone(ctx, raise), z, cmd); err != nil {
			return err
		}
		h.record(ctx, cmd, "zone", cmd.ZoneIndex())
		return nil
	})
}

// onClient registers a handler for a client command.
func onClient[C clientCommand](p *pipeline.Pipeline, h *Handlers,
	apply func(ctx context.Context, c *client.Client, cmd C) (client.State, error),
	raise func(e notify.Event, s client.State) notify.Notification,
) {
	pipeline.HandleCommand(p, func(ctx context.Context, cmd C) error {
		c, err := h.Clients.Client(cmd.ClientIndex())
		if err != nil {
			return err
		}
		announce := client.OnApplied(ctx, func(s client.State) {
			h.Notifier.Publish(ctx, raise(notify.Event{Target: s.Index, At: s.UpdatedAt}, s))
		})
		if _, err := apply(announce, c, cmd); err != nil {
			return err
		}
		h.record(ctx, cmd, "client", cmd.ClientIndex())
		return nil
	})
}

// announceZone publishes raise for every snapshot committed under the
// returned context. Publishing happens inside the zone's slot, so two
// commands on one zone announce in the order they were applied.
func (h *Handlers) announceZone(ctx context.Context, raise zoneRaise) context.Context {
	return zone.OnApplied(ctx, func(s zone.State) {
		h.Notifier.Publish(ctx, raise(notify.Event{Target: s.Index, At: s.UpdatedAt}, s))
	})
}

// runSteps applies steps in order and stops at the first failure. Steps
// that succeeded stay applied and have been announced.
func (h *Handlers) runSteps(ctx context.Context, z *zone.Zone, steps ...zoneStep) error {
	for _, st := range steps {
		if _, err := st.run(h.announceZone(ctx, st.raise), z); err != nil {
			return err
		}
	}
	return nil
}

// record appends the command to the journal. The aggregate has already
// changed, so a journal failure is logged rather than failing the command.
func (h *Handlers) record(ctx context.Context, cmd journaled, scope string, target int) {
	if h.Journal == nil {
		return
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		payload = []byte("{}")
	}
	id := cmd.CommandID()
	if id == uuid.Nil {
		id = uuid.New()
	}
	entry := database.JournalEntry{
		ID:        id.String(),
		Operation: cmd.Operation(),
		Scope:     scope,
		Target:    target,
		Source:    string(cmd.Origin()),
		Payload:   string(payload),
		At:        h.Now(),
	}
	if err := h.Journal.Append(ctx, entry); err != nil {
		h.Logger.Warn("command journal append failed", "operation", entry.Operation, "id", entry.ID, "error", err)
	}
}

// ============================================================================
// Zone commands
// ============================================================================

func (h *Handlers) registerZoneCommands(p *pipeline.Pipeline) {
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ Play) (zone.State, error) { return z.Play(ctx) }, playbackChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ Pause) (zone.State, error) { return z.Pause(ctx) }, playbackChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ Stop) (zone.State, error) { return z.Stop(ctx) }, playbackChanged)

	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SetVolume) (zone.State, error) {
		return z.SetVolume(ctx, c.Volume)
	}, volumeChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, c VolumeUp) (zone.State, error) {
		return z.VolumeUp(ctx, c.Step)
	}, volumeChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, c VolumeDown) (zone.State, error) {
		return z.VolumeDown(ctx, c.Step)
	}, volumeChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SetMute) (zone.State, error) {
		return z.SetMute(ctx, c.Muted)
	}, muteChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ ToggleMute) (zone.State, error) {
		return z.ToggleMute(ctx)
	}, muteChanged)

	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SetTrack) (zone.State, error) {
		return z.SetTrack(ctx, c.Track)
	}, trackChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ NextTrack) (zone.State, error) {
		return z.NextTrack(ctx)
	}, trackChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ PreviousTrack) (zone.State, error) {
		return z.PreviousTrack(ctx)
	}, trackChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, c PlayURL) (zone.State, error) {
		return z.PlayURL(ctx, c.URL)
	}, trackChanged)

	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SetPlaylist) (zone.State, error) {
		return z.SetPlaylist(ctx, c.Playlist)
	}, playlistChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ NextPlaylist) (zone.State, error) {
		return z.NextPlaylist(ctx)
	}, playlistChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ PreviousPlaylist) (zone.State, error) {
		return z.PreviousPlaylist(ctx)
	}, playlistChanged)

	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SetTrackRepeat) (zone.State, error) {
		return z.SetTrackRepeat(ctx, c.Enabled)
	}, trackRepeatChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ ToggleTrackRepeat) (zone.State, error) {
		return z.ToggleTrackRepeat(ctx)
	}, trackRepeatChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SetPlaylistRepeat) (zone.State, error) {
		return z.SetPlaylistRepeat(ctx, c.Enabled)
	}, playlistRepeatChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ TogglePlaylistRepeat) (zone.State, error) {
		return z.TogglePlaylistRepeat(ctx)
	}, playlistRepeatChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SetShuffle) (zone.State, error) {
		return z.SetShuffle(ctx, c.Enabled)
	}, shuffleChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, _ ToggleShuffle) (zone.State, error) {
		return z.ToggleShuffle(ctx)
	}, shuffleChanged)

	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SeekPosition) (zone.State, error) {
		return z.SeekToPosition(ctx, c.PositionMs)
	}, positionChanged)
	onZone(p, h, func(ctx context.Context, z *zone.Zone, c SeekProgress) (zone.State, error) {
		return z.SeekToProgress(ctx, c.Progress)
	}, positionChanged)

	pipeline.HandleCommand(p, h.playTrack)
	pipeline.HandleCommand(p, h.playPlaylistTrack)
}

// playTrack announces the track change and the playback change separately.
// A failed Play leaves the new track selected.
func (h *Handlers) playTrack(ctx context.Context, cmd PlayTrack) error {
	z, err := h.Zones.Zone(cmd.Zone)
	if err != nil {
		return err
	}
	err = h.runSteps(ctx, z,
		zoneStep{func(ctx context.Context, z *zone.Zone) (zone.State, error) { return z.SetTrack(ctx, cmd.Track) }, trackChanged},
		zoneStep{func(ctx context.Context, z *zone.Zone) (zone.State, error) { return z.Play(ctx) }, playbackChanged},
	)
	if err != nil {
		return err
	}
	h.record(ctx, cmd, "zone", cmd.Zone)
	return nil
}

// playPlaylistTrack runs its three steps fail-fast. Each step that
// succeeds raises its own notification and stays applied.
func (h *Handlers) playPlaylistTrack(ctx context.Context, cmd PlayPlaylistTrack) error {
	z, err := h.Zones.Zone(cmd.Zone)
	if err != nil {
		return err
	}
	err = h.runSteps(ctx, z,
		zoneStep{func(ctx context.Context, z *zone.Zone) (zone.State, error) { return z.SetPlaylist(ctx, cmd.Playlist) }, playlistChanged},
		zoneStep{func(ctx context.Context, z *zone.Zone) (zone.State, error) { return z.SetTrack(ctx, cmd.Track) }, trackChanged},
		zoneStep{func(ctx context.Context, z *zone.Zone) (zone.State, error) { return z.Play(ctx) }, playbackChanged},
	)
	if err != nil {
		return err
	}
	h.record(ctx, cmd, "zone", cmd.Zone)
	return nil
}

func playbackChanged(e notify.Event, s zone.State) notify.Notification {
	return notify.PlaybackStateChanged{Event: e, State: s.Playback}
}

func volumeChanged(e notify.Event, s zone.State) notify.Notification {
	return notify.VolumeChanged{Event: e, Volume: s.Volume}
}

func muteChanged(e notify.Event, s zone.State) notify.Notification {
	return notify.MuteChanged{Event: e, Muted: s.Muted}
}

func trackChanged(e notify.Event, s zone.State) notify.Notification {
	n := notify.TrackChanged{Event: e, Track: s.Track}
	if s.TrackIndex != nil {
		n.TrackIndex = *s.TrackIndex
	}
	return n
}

func playlistChanged(e notify.Event, s zone.State) notify.Notification {
	n := notify.PlaylistChanged{Event: e, Playlist: s.Playlist}
	if s.PlaylistIndex != nil {
		n.PlaylistIndex = *s.PlaylistIndex
	}
	return n
}

func trackRepeatChanged(e notify.Event, s zone.State) notify.Notification {
	return notify.TrackRepeatChanged{Event: e, Enabled: s.TrackRepeat}
}

func playlistRepeatChanged(e notify.Event, s zone.State) notify.Notification {
	return notify.PlaylistRepeatChanged{Event: e, Enabled: s.PlaylistRepeat}
}

func shuffleChanged(e notify.Event, s zone.State) notify.Notification {
	return notify.ShuffleChanged{Event: e, Enabled: s.Shuffle}
}

func positionChanged(e notify.Event, s zone.State) notify.Notification {
	return notify.PositionChanged{Event: e, PositionMs: s.PositionMs}
}

// ============================================================================
// Client commands
// ============================================================================

func (h *Handlers) registerClientCommands(p *pipeline.Pipeline) {
	onClient(p, h, func(ctx context.Context, c *client.Client, cmd SetClientVolume) (client.State, error) {
		return c.SetVolume(ctx, cmd.Volume)
	}, func(e notify.Event, s client.State) notify.Notification {
		return notify.ClientVolumeChanged{Event: e, Volume: s.Volume}
	})
	onClient(p, h, func(ctx context.Context, c *client.Client, cmd SetClientMute) (client.State, error) {
		return c.SetMute(ctx, cmd.Muted)
	}, clientMuteChanged)
	onClient(p, h, func(ctx context.Context, c *client.Client, _ ToggleClientMute) (client.State, error) {
		return c.ToggleMute(ctx)
	}, clientMuteChanged)
	onClient(p, h, func(ctx context.Context, c *client.Client, cmd SetClientLatency) (client.State, error) {
		return c.SetLatency(ctx, cmd.LatencyMs)
	}, func(e notify.Event, s client.State) notify.Notification {
		return notify.ClientLatencyChanged{Event: e, LatencyMs: s.LatencyMs}
	})
	onClient(p, h, func(ctx context.Context, c *client.Client, cmd AssignClientZone) (client.State, error) {
		return c.AssignZone(ctx, cmd.ZoneIndex)
	}, func(e notify.Event, s client.State) notify.Notification {
		return notify.ClientZoneChanged{Event: e, ZoneIndex: s.ZoneIndex}
	})
}

func clientMuteChanged(e notify.Event, s client.State) notify.Notification {
	return notify.ClientMuteChanged{Event: e, Muted: s.Muted}
}

// ============================================================================
// Queries
// ============================================================================

func (h *Handlers) registerQueries(p *pipeline.Pipeline) {
	pipeline.HandleQuery(p, func(_ context.Context, q GetZoneState) (zone.State, error) {
		return h.Zones.State(q.Zone)
	})
	pipeline.HandleQuery(p, func(context.Context, GetAllZoneStates) ([]zone.State, error) {
		return h.Zones.States(), nil
	})
	pipeline.HandleQuery(p, func(_ context.Context, q GetClientState) (client.State, error) {
		return h.Clients.State(q.Client)
	})
	pipeline.HandleQuery(p, func(context.Context, GetAllClientStates) ([]client.State, error) {
		return h.Clients.States(), nil
	})
	pipeline.HandleQuery(p, h.systemStatus)
	pipeline.HandleQuery(p, func(context.Context, GetVersionInfo) (VersionInfo, error) {
		return h.Version, nil
	})
	pipeline.HandleQuery(p, h.serverStats)
	pipeline.HandleQuery(p, func(ctx context.Context, q GetCommandHistory) ([]database.JournalEntry, error) {
		if h.Journal == nil {
			return nil, apperr.New(apperr.Unsupported, "command journal is disabled")
		}
		return h.Journal.Recent(ctx, q.Limit)
	})

	pipeline.HandleQuery(p, func(ctx context.Context, _ GetPlaylists) ([]catalog.Playlist, error) {
		return h.Catalog.Playlists(ctx)
	})
	pipeline.HandleQuery(p, func(ctx context.Context, q GetPlaylist) (catalog.Playlist, error) {
		return h.Catalog.Playlist(ctx, q.Playlist)
	})
	pipeline.HandleQuery(p, func(ctx context.Context, q GetPlaylistTracks) ([]catalog.Track, error) {
		return h.Catalog.Tracks(ctx, q.Playlist)
	})
	pipeline.HandleQuery(p, func(ctx context.Context, q GetTrack) (catalog.Track, error) {
		return h.Catalog.Track(ctx, q.Playlist, q.Track)
	})
}

func (h *Handlers) systemStatus(context.Context, GetSystemStatus) (SystemStatus, error) {
	now := h.Now()
	st := SystemStatus{
		Status:      "ok",
		Version:     h.Version.Version,
		StartedAt:   h.started,
		Uptime:      now.Sub(h.started).Round(time.Second).String(),
		Zones:       h.Zones.Len(),
		Clients:     h.Clients.Len(),
		Connections: make(map[string]bool, len(h.Probes)),
		Timestamp:   now,
	}
	for name, probe := range h.Probes {
		up := probe.IsConnected()
		st.Connections[name] = up
		if !up {
			st.Status = "degraded"
		}
	}
	return st, nil
}

func (h *Handlers) serverStats(context.Context, GetServerStats) (ServerStats, error) {
	out := ServerStats{
		Uptime:     h.Now().Sub(h.started).Round(time.Second).String(),
		Operations: map[string]pipeline.OpStats{},
	}
	if h.Stats != nil {
		out.Operations = h.Stats.Snapshot()
	}
	return out, nil
}
