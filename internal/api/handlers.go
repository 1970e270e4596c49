package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/command"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// URL parameters used by registry paths.
const (
	paramZone     = "zoneIndex"
	paramClient   = "clientIndex"
	paramPlaylist = "index"
	paramTrack    = "trackIndex"
)

// Command history paging.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// ============================================================================
// Commands
// ============================================================================

// commandHandler decodes the payload of a command feature and sends the
// command through the pipeline. Success is answered with 204.
func (s *Server) commandHandler(f feature.Feature) http.HandlerFunc {
	kind, _ := command.ArgOf(f.ID)
	optional := command.OptionalArg(f.ID)
	param := paramZone
	if f.Category == feature.CategoryClient {
		param = paramClient
	}

	return func(w http.ResponseWriter, r *http.Request) {
		index, err := pathIndex(r, param)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		arg, err := decodeArg(r.Body, kind, optional)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		cmd, buildErr := command.FromFeature(f.ID, index, pipeline.SourceAPI, arg)
		if buildErr != nil {
			s.writeAppError(w, r, apperr.From(buildErr, f.ID))
			return
		}

		res := s.pipeline.Send(r.Context(), cmd)
		if !res.OK() {
			s.writeAppError(w, r, res.Err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// decodeArg reads a command payload. The body is either a bare JSON value
// or an object {"value": ...}. An empty body is accepted for commands
// without a payload and for optional payloads.
func decodeArg(body io.Reader, kind command.ArgKind, optional bool) (command.Arg, *apperr.Error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return command.Arg{}, apperr.Invalid("reading request body: %v", err)
	}
	raw = bytes.TrimSpace(raw)
	if kind == command.ArgNone {
		return command.Arg{}, nil
	}
	if len(raw) == 0 {
		if optional {
			return command.Arg{}, nil
		}
		return command.Arg{}, apperr.Invalid("request body must carry a %s value", kind)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return command.Arg{}, apperr.Invalid("request body is not valid JSON")
	}
	if obj, ok := v.(map[string]any); ok {
		inner, found := obj["value"]
		if !found {
			return command.Arg{}, apperr.Invalid(`request object must have a "value" field`)
		}
		v = inner
	}

	switch kind {
	case command.ArgInt:
		n, ok := v.(json.Number)
		if !ok {
			return command.Arg{}, apperr.Invalid("expected an integer, got %s", jsonType(v))
		}
		i, err := n.Int64()
		if err != nil {
			return command.Arg{}, apperr.Invalid("expected an integer, got %s", n)
		}
		return command.Arg{Int: i}, nil
	case command.ArgFloat:
		n, ok := v.(json.Number)
		if !ok {
			return command.Arg{}, apperr.Invalid("expected a number, got %s", jsonType(v))
		}
		f, err := n.Float64()
		if err != nil {
			return command.Arg{}, apperr.Invalid("expected a number, got %s", n)
		}
		return command.Arg{Float: f}, nil
	case command.ArgBool:
		b, ok := v.(bool)
		if !ok {
			return command.Arg{}, apperr.Invalid("expected a boolean, got %s", jsonType(v))
		}
		return command.Arg{Bool: b}, nil
	default:
		str, ok := v.(string)
		if !ok {
			return command.Arg{}, apperr.Invalid("expected a string, got %s", jsonType(v))
		}
		return command.Arg{Text: str}, nil
	}
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case json.Number:
		return "a number"
	case string:
		return "a string"
	case []any:
		return "an array"
	default:
		return "an object"
	}
}

// ============================================================================
// Status reads
// ============================================================================

// zoneStatusHandler answers a zone status feature from the zone snapshot.
func (s *Server) zoneStatusHandler(statusID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := pathIndex(r, paramZone)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		res := s.pipeline.Query(r.Context(), command.GetZoneState{Zone: index})
		if !res.OK() {
			s.writeAppError(w, r, res.Err)
			return
		}
		st, ok := res.Data.(zone.State)
		if !ok {
			s.writeAppError(w, r, apperr.New(apperr.Internal, "zone state has type %T", res.Data))
			return
		}
		writeJSON(w, http.StatusOK, StatusEvent{
			Type:      statusID,
			Zone:      index,
			Value:     zoneStatusValue(statusID, st),
			Timestamp: st.UpdatedAt,
		})
	}
}

// zoneStatusValue projects one status out of a zone snapshot. It is nil
// for a track or playlist status while nothing is selected.
func zoneStatusValue(statusID string, st zone.State) any {
	switch statusID {
	case feature.ZoneState:
		return st
	case feature.TrackInfo:
		if st.Track == nil {
			return nil
		}
		return st.Track
	case feature.PlaylistInfo:
		if st.Playlist == nil {
			return nil
		}
		return st.Playlist
	}
	return statusValue(statusID, notify.FromZoneState(st))
}

// clientStatusHandler answers a client status feature from the client
// snapshot.
func (s *Server) clientStatusHandler(statusID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := pathIndex(r, paramClient)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		res := s.pipeline.Query(r.Context(), command.GetClientState{Client: index})
		if !res.OK() {
			s.writeAppError(w, r, res.Err)
			return
		}
		st, ok := res.Data.(client.State)
		if !ok {
			s.writeAppError(w, r, apperr.New(apperr.Internal, "client state has type %T", res.Data))
			return
		}
		var value any = st
		if statusID != feature.ClientState {
			value = statusValue(statusID, notify.FromClientState(st))
		}
		writeJSON(w, http.StatusOK, StatusEvent{
			Type:      statusID,
			Client:    index,
			Value:     value,
			Timestamp: st.UpdatedAt,
		})
	}
}

func statusValue(statusID string, ns []notify.Notification) any {
	for _, n := range ns {
		if n.StatusID() == statusID {
			return n.Value()
		}
	}
	return nil
}

// ============================================================================
// Global and media queries
// ============================================================================

// queryBuilder turns a request into the query it reads.
type queryBuilder func(r *http.Request) (pipeline.Query, *apperr.Error)

var globalQueries = map[string]queryBuilder{
	feature.SystemStatus: static(command.GetSystemStatus{}),
	feature.VersionInfo:  static(command.GetVersionInfo{}),
	feature.ServerStats:  static(command.GetServerStats{}),
	feature.ZonesInfo:    static(command.GetAllZoneStates{}),
	feature.ClientsInfo:  static(command.GetAllClientStates{}),

	feature.MediaPlaylists: static(command.GetPlaylists{}),
	feature.MediaPlaylistInfo: func(r *http.Request) (pipeline.Query, *apperr.Error) {
		p, err := pathIndex(r, paramPlaylist)
		if err != nil {
			return nil, err
		}
		return command.GetPlaylist{Playlist: p}, nil
	},
	feature.MediaPlaylistTracks: func(r *http.Request) (pipeline.Query, *apperr.Error) {
		p, err := pathIndex(r, paramPlaylist)
		if err != nil {
			return nil, err
		}
		return command.GetPlaylistTracks{Playlist: p}, nil
	},
	feature.MediaTrackInfo: func(r *http.Request) (pipeline.Query, *apperr.Error) {
		p, err := pathIndex(r, paramPlaylist)
		if err != nil {
			return nil, err
		}
		t, err := pathIndex(r, paramTrack)
		if err != nil {
			return nil, err
		}
		return command.GetTrack{Playlist: p, Track: t}, nil
	},
}

func static(q pipeline.Query) queryBuilder {
	return func(*http.Request) (pipeline.Query, *apperr.Error) { return q, nil }
}

// queryHandler runs the built query and writes its answer as JSON.
func (s *Server) queryHandler(build queryBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := build(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.writeQuery(w, r, q)
	}
}

func (s *Server) writeQuery(w http.ResponseWriter, r *http.Request, q pipeline.Query) {
	res := s.pipeline.Query(r.Context(), q)
	if !res.OK() {
		s.writeAppError(w, r, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, res.Data)
}

// handleCommandHistory returns the most recent journal entries.
// GET /system/history?limit=N
func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeBadRequest(w, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}
	s.writeQuery(w, r, command.GetCommandHistory{Limit: limit})
}

// ============================================================================
// Feature catalogue
// ============================================================================

// featureView is the JSON form of a feature.
type featureView struct {
	ID                     string            `json:"id"`
	Category               feature.Category  `json:"category"`
	Kind                   feature.Kind      `json:"kind"`
	Description            string            `json:"description"`
	Protocols              []string          `json:"protocols"`
	Exclusions             map[string]string `json:"exclusions,omitempty"`
	REST                   *feature.Endpoint `json:"rest,omitempty"`
	MQTTTopic              string            `json:"mqtt_topic,omitempty"`
	Payload                string            `json:"payload,omitempty"`
	RequiresImplementation bool              `json:"requires_implementation"`
	RecentlyAdded          bool              `json:"recently_added"`
}

func viewOf(f feature.Feature) featureView {
	v := featureView{
		ID:                     f.ID,
		Category:               f.Category,
		Kind:                   f.Kind,
		Description:            f.Description,
		Protocols:              []string{},
		REST:                   f.REST,
		MQTTTopic:              f.MQTTTopic,
		RequiresImplementation: f.RequiresImplementation,
		RecentlyAdded:          f.RecentlyAdded,
	}
	for _, p := range f.Protocols.List() {
		if f.Supports(p) {
			v.Protocols = append(v.Protocols, p.String())
		}
	}
	if len(f.Exclusions) > 0 {
		v.Exclusions = make(map[string]string, len(f.Exclusions))
		for p, reason := range f.Exclusions {
			v.Exclusions[p.String()] = reason
		}
	}
	if kind, ok := command.ArgOf(f.ID); ok {
		v.Payload = kind.String()
	}
	return v
}

// handleListFeatures lists the registry.
// GET /features?category=zone&protocol=knx
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	category := feature.Category(r.URL.Query().Get("category"))
	protocol := strings.ToLower(r.URL.Query().Get("protocol"))

	features := s.registry.Filter(func(f *feature.Feature) bool {
		if category != "" && f.Category != category {
			return false
		}
		if protocol == "" {
			return true
		}
		for _, p := range f.Protocols.List() {
			if p.String() == protocol && f.Supports(p) {
				return true
			}
		}
		return false
	})

	out := make([]featureView, 0, len(features))
	for _, f := range features {
		out = append(out, viewOf(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"features":     out,
		"count":        len(out),
		"generated_at": time.Now().UTC(),
	})
}

// handleGetFeature returns one feature by id.
func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(chi.URLParam(r, "id"))
	f, err := s.registry.Lookup(id)
	if errors.Is(err, feature.ErrFeatureNotFound) {
		writeNotFound(w, "feature "+id+" not found")
		return
	}
	if err != nil {
		writeInternalError(w, "looking up feature")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(f))
}

// ============================================================================
// Helpers
// ============================================================================

// pathIndex parses a 1-based index URL parameter. Range checks beyond
// syntax are left to request validation.
func pathIndex(r *http.Request, name string) (int, *apperr.Error) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}
