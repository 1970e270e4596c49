package feature

import "net/http"

// Zone command ids.
const (
	Play                 = "PLAY"
	Pause                = "PAUSE"
	Stop                 = "STOP"
	Volume               = "VOLUME"
	VolumeUp             = "VOLUME_UP"
	VolumeDown           = "VOLUME_DOWN"
	Mute                 = "MUTE"
	MuteToggle           = "MUTE_TOGGLE"
	Track                = "TRACK"
	TrackNext            = "TRACK_NEXT"
	TrackPrevious        = "TRACK_PREVIOUS"
	TrackPlayIndex       = "TRACK_PLAY_INDEX"
	TrackPlayURL         = "TRACK_PLAY_URL"
	Playlist             = "PLAYLIST"
	PlaylistNext         = "PLAYLIST_NEXT"
	PlaylistPrevious     = "PLAYLIST_PREVIOUS"
	TrackRepeat          = "TRACK_REPEAT"
	TrackRepeatToggle    = "TRACK_REPEAT_TOGGLE"
	PlaylistRepeat       = "PLAYLIST_REPEAT"
	PlaylistRepeatToggle = "PLAYLIST_REPEAT_TOGGLE"
	Shuffle              = "PLAYLIST_SHUFFLE"
	ShuffleToggle        = "PLAYLIST_SHUFFLE_TOGGLE"
	TrackPosition        = "TRACK_POSITION"
	TrackProgress        = "TRACK_PROGRESS"
)

// Zone status ids.
const (
	PlaybackState        = "PLAYBACK_STATE"
	VolumeStatus         = "VOLUME_STATUS"
	MuteStatus           = "MUTE_STATUS"
	TrackIndex           = "TRACK_INDEX"
	PlaylistIndex        = "PLAYLIST_INDEX"
	TrackRepeatStatus    = "TRACK_REPEAT_STATUS"
	PlaylistRepeatStatus = "PLAYLIST_REPEAT_STATUS"
	ShuffleStatus        = "PLAYLIST_SHUFFLE_STATUS"
	TrackInfo            = "TRACK_INFO"
	PlaylistInfo         = "PLAYLIST_INFO"
	TrackPositionStatus  = "TRACK_POSITION_STATUS"
	ZoneState            = "ZONE_STATE"
)

// Client feature ids.
const (
	ClientVolume        = "CLIENT_VOLUME"
	ClientMute          = "CLIENT_MUTE"
	ClientMuteToggle    = "CLIENT_MUTE_TOGGLE"
	ClientLatency       = "CLIENT_LATENCY"
	ClientZone          = "CLIENT_ZONE"
	ClientVolumeStatus  = "CLIENT_VOLUME_STATUS"
	ClientMuteStatus    = "CLIENT_MUTE_STATUS"
	ClientLatencyStatus = "CLIENT_LATENCY_STATUS"
	ClientZoneStatus    = "CLIENT_ZONE_STATUS"
	ClientState         = "CLIENT_STATE"
)

// Global and media ids.
const (
	SystemStatus        = "SYSTEM_STATUS"
	VersionInfo         = "VERSION_INFO"
	ServerStats         = "SERVER_STATS"
	ZonesInfo           = "ZONES_INFO"
	ClientsInfo         = "CLIENTS_INFO"
	MediaPlaylists      = "MEDIA_PLAYLISTS"
	MediaPlaylistInfo   = "MEDIA_PLAYLIST_INFO"
	MediaPlaylistTracks = "MEDIA_PLAYLIST_TRACKS"
	MediaTrackInfo      = "MEDIA_TRACK_INFO"
)

// Base paths and topic prefixes.
const (
	APIPrefix   = "/api/v1"
	TopicPrefix = "snapdog"

	zonePath   = APIPrefix + "/zones/{zoneIndex}"
	clientPath = APIPrefix + "/clients/{clientIndex}"
	zoneTopic  = TopicPrefix + "/zone/{zoneIndex}"
	clientTop  = TopicPrefix + "/client/{clientIndex}"
)

// Shared exclusion reasons.
const (
	reasonMetadata = "structured metadata has no KNX datapoint"
	reasonSystem   = "system information stays on the API"
	reasonCatalog  = "catalog browsing stays on the API"
	reasonNoTopic  = "request/response data has no status topic"
)

type entry struct {
	id, desc   string
	method     string
	path       string
	topic      string
	knxReason  string
	mqttReason string
	recent     bool
}

func build(cat Category, kind Kind, s entry) Feature {
	f := Feature{
		ID:            s.id,
		Category:      cat,
		Kind:          kind,
		Description:   s.desc,
		Protocols:     AllProtocols,
		RecentlyAdded: s.recent,
	}
	if s.path != "" {
		f.REST = &Endpoint{Method: s.method, Path: s.path}
	}
	f.MQTTTopic = s.topic
	if s.knxReason != "" || s.mqttReason != "" {
		f.Exclusions = make(map[Protocol]string)
	}
	if s.knxReason != "" {
		f.Protocols = f.Protocols.Without(ProtocolKNX)
		f.Exclusions[ProtocolKNX] = s.knxReason
	}
	if s.mqttReason != "" {
		f.Protocols = f.Protocols.Without(ProtocolMQTT)
		f.Exclusions[ProtocolMQTT] = s.mqttReason
	}
	return f
}

func zoneCmd(id, desc, method, sub, name string) entry {
	return entry{id: id, desc: desc, method: method, path: zonePath + sub, topic: zoneTopic + "/command/" + name}
}

func zoneStatus(id, desc, sub, name string) entry {
	return entry{id: id, desc: desc, method: http.MethodGet, path: zonePath + sub, topic: zoneTopic + "/status/" + name}
}

func clientCmd(id, desc, method, sub, name string) entry {
	return entry{id: id, desc: desc, method: method, path: clientPath + sub, topic: clientTop + "/command/" + name}
}

func clientStatus(id, desc, sub, name string) entry {
	return entry{id: id, desc: desc, method: http.MethodGet, path: clientPath + sub, topic: clientTop + "/status/" + name}
}

func apiOnly(id, desc, path, knxReason string) entry {
	return entry{id: id, desc: desc, method: http.MethodGet, path: APIPrefix + path, knxReason: knxReason, mqttReason: reasonNoTopic}
}

func withKNX(s entry, reason string) entry {
	s.knxReason = reason
	return s
}

func recent(s entry) entry {
	s.recent = true
	return s
}

// DefaultFeatures returns the SnapDog feature table.
func DefaultFeatures() []Feature {
	var out []Feature
	add := func(cat Category, kind Kind, entries ...entry) {
		for _, s := range entries {
			out = append(out, build(cat, kind, s))
		}
	}

	add(CategoryZone, KindCommand,
		zoneCmd(Play, "Start or resume playback", http.MethodPost, "/play", "play"),
		zoneCmd(Pause, "Pause playback", http.MethodPost, "/pause", "pause"),
		zoneCmd(Stop, "Stop playback", http.MethodPost, "/stop", "stop"),
		zoneCmd(Volume, "Set zone volume (0-100)", http.MethodPut, "/volume", "volume"),
		zoneCmd(VolumeUp, "Raise zone volume by a step", http.MethodPost, "/volume/up", "volume_up"),
		zoneCmd(VolumeDown, "Lower zone volume by a step", http.MethodPost, "/volume/down", "volume_down"),
		zoneCmd(Mute, "Set zone mute", http.MethodPut, "/mute", "mute"),
		zoneCmd(MuteToggle, "Toggle zone mute", http.MethodPost, "/mute/toggle", "mute_toggle"),
		zoneCmd(Track, "Select a track of the current playlist", http.MethodPut, "/track", "track"),
		zoneCmd(TrackNext, "Skip to the next track", http.MethodPost, "/next", "track_next"),
		zoneCmd(TrackPrevious, "Return to the previous track", http.MethodPost, "/previous", "track_previous"),
		zoneCmd(TrackPlayIndex, "Select a track and start playback", http.MethodPost, "/play/track", "track_play"),
		recent(withKNX(zoneCmd(TrackPlayURL, "Play a stream URL", http.MethodPost, "/play/url", "play_url"),
			"URL strings do not fit a KNX datapoint")),
		zoneCmd(Playlist, "Select a playlist", http.MethodPut, "/playlist", "playlist"),
		zoneCmd(PlaylistNext, "Select the next playlist", http.MethodPost, "/playlist/next", "playlist_next"),
		zoneCmd(PlaylistPrevious, "Select the previous playlist", http.MethodPost, "/playlist/previous", "playlist_previous"),
		zoneCmd(TrackRepeat, "Set track repeat", http.MethodPut, "/repeat/track", "track_repeat"),
		zoneCmd(TrackRepeatToggle, "Toggle track repeat", http.MethodPost, "/repeat/track/toggle", "track_repeat_toggle"),
		zoneCmd(PlaylistRepeat, "Set playlist repeat", http.MethodPut, "/repeat/playlist", "playlist_repeat"),
		zoneCmd(PlaylistRepeatToggle, "Toggle playlist repeat", http.MethodPost, "/repeat/playlist/toggle", "playlist_repeat_toggle"),
		zoneCmd(Shuffle, "Set playlist shuffle", http.MethodPut, "/shuffle", "shuffle"),
		recent(zoneCmd(ShuffleToggle, "Toggle playlist shuffle", http.MethodPost, "/shuffle/toggle", "shuffle_toggle")),
		withKNX(zoneCmd(TrackPosition, "Seek to a position in milliseconds", http.MethodPut, "/track/position", "position"),
			"millisecond positions have no zone group address"),
		recent(zoneCmd(TrackProgress, "Seek to a fraction of the track (0-1)", http.MethodPut, "/track/progress", "progress")),
	)

	add(CategoryZone, KindStatus,
		zoneStatus(PlaybackState, "Current playback state", "/playback", "playback"),
		zoneStatus(VolumeStatus, "Current zone volume", "/volume", "volume"),
		zoneStatus(MuteStatus, "Current zone mute", "/mute", "mute"),
		zoneStatus(TrackIndex, "Current track index", "/track", "track"),
		zoneStatus(PlaylistIndex, "Current playlist index", "/playlist", "playlist"),
		zoneStatus(TrackRepeatStatus, "Track repeat state", "/repeat/track", "track_repeat"),
		zoneStatus(PlaylistRepeatStatus, "Playlist repeat state", "/repeat/playlist", "playlist_repeat"),
		withKNX(zoneStatus(ShuffleStatus, "Playlist shuffle state", "/shuffle", "shuffle"),
			"shuffle is a toggle-style status not mirrored to KNX"),
		withKNX(zoneStatus(TrackInfo, "Current track metadata", "/track/info", "track_info"), reasonMetadata),
		withKNX(zoneStatus(PlaylistInfo, "Current playlist metadata", "/playlist/info", "playlist_info"), reasonMetadata),
		withKNX(zoneStatus(TrackPositionStatus, "Playback position in milliseconds", "/track/position", "position"),
			"position updates would flood the bus"),
		withKNX(zoneStatus(ZoneState, "Complete zone state", "", "state"), "aggregate state has no KNX datapoint"),
	)

	add(CategoryClient, KindCommand,
		clientCmd(ClientVolume, "Set client volume (0-100)", http.MethodPut, "/volume", "volume"),
		clientCmd(ClientMute, "Set client mute", http.MethodPut, "/mute", "mute"),
		clientCmd(ClientMuteToggle, "Toggle client mute", http.MethodPost, "/mute/toggle", "mute_toggle"),
		withKNX(clientCmd(ClientLatency, "Set client latency in milliseconds", http.MethodPut, "/latency", "latency"),
			"latency tuning is an installer operation"),
		clientCmd(ClientZone, "Assign the client to a zone", http.MethodPut, "/zone", "zone"),
	)

	add(CategoryClient, KindStatus,
		clientStatus(ClientVolumeStatus, "Current client volume", "/volume", "volume"),
		clientStatus(ClientMuteStatus, "Current client mute", "/mute", "mute"),
		withKNX(clientStatus(ClientLatencyStatus, "Current client latency", "/latency", "latency"),
			"latency tuning is an installer operation"),
		clientStatus(ClientZoneStatus, "Zone the client is assigned to", "/zone", "zone"),
		withKNX(clientStatus(ClientState, "Complete client state", "", "state"), "aggregate state has no KNX datapoint"),
	)

	add(CategoryGlobal, KindStatus,
		apiOnly(SystemStatus, "Service health and connectivity", "/system/status", reasonSystem),
		apiOnly(VersionInfo, "Service version", "/system/version", reasonSystem),
		apiOnly(ServerStats, "Command and query dispatch statistics", "/system/stats", reasonSystem),
		apiOnly(ZonesInfo, "All zone states", "/zones", reasonSystem),
		apiOnly(ClientsInfo, "All client states", "/clients", reasonSystem),
	)

	add(CategoryMedia, KindStatus,
		apiOnly(MediaPlaylists, "Available playlists", "/media/playlists", reasonCatalog),
		apiOnly(MediaPlaylistInfo, "Playlist details", "/media/playlists/{index}", reasonCatalog),
		apiOnly(MediaPlaylistTracks, "Tracks of a playlist", "/media/playlists/{index}/tracks", reasonCatalog),
		apiOnly(MediaTrackInfo, "Track details", "/media/playlists/{index}/tracks/{trackIndex}", reasonCatalog),
	)

	return out
}

// Default builds the registry from DefaultFeatures. It panics if the table
// is inconsistent, which tests rule out.
func Default() *Registry {
	r, err := NewRegistry(DefaultFeatures()...)
	if err != nil {
		panic(err)
	}
	return r
}
