package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/auth"
	mqttbridge "github.com/metaneutrons/snapdog2-sub010/internal/bridges/mqtt"
	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/command"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/logging"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakePipeline records commands and answers queries by operation name.
type fakePipeline struct {
	mu       sync.Mutex
	sent     []pipeline.Command
	queries  []pipeline.Query
	sendErr  *apperr.Error
	answers  map[string]any
	queryErr map[string]*apperr.Error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		answers:  make(map[string]any),
		queryErr: make(map[string]*apperr.Error),
	}
}

func (f *fakePipeline) Send(_ context.Context, cmd pipeline.Command) pipeline.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return pipeline.Result{Operation: cmd.Operation(), Err: f.sendErr}
}

func (f *fakePipeline) Query(_ context.Context, q pipeline.Query) pipeline.Value[any] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	out := pipeline.Value[any]{Result: pipeline.Result{Operation: q.Operation()}}
	if e, ok := f.queryErr[q.Operation()]; ok {
		out.Err = e
		return out
	}
	v, ok := f.answers[q.Operation()]
	if !ok {
		out.Err = &apperr.Error{Kind: apperr.Unsupported, Op: q.Operation(), Message: "no answer"}
		return out
	}
	out.Data = v
	return out
}

func (f *fakePipeline) lastCommand(t *testing.T) pipeline.Command {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no command was sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakePipeline) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakePipeline) lastQuery(t *testing.T) pipeline.Query {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		t.Fatal("no query was run")
	}
	return f.queries[len(f.queries)-1]
}

type fakeMQTT struct{ m mqttbridge.BridgeMetrics }

func (f fakeMQTT) GetMetrics() mqttbridge.BridgeMetrics { return f.m }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
		Timeouts: config.APITimeoutConfig{
			Read:  5,
			Write: 5,
			Idle:  5,
		},
		WebSocket: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Auth: config.AuthConfig{Issuer: "snapdog"},
	}
}

// testServer creates a Server over a fake pipeline. Options adjust the
// API configuration before construction.
func testServer(t *testing.T, opts ...func(*config.APIConfig)) (*Server, *fakePipeline) {
	t.Helper()

	cfg := testConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	fp := newFakePipeline()

	srv, err := New(Deps{
		Config:   cfg,
		Logger:   testLogger(),
		Pipeline: fp,
		Registry: feature.Default(),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, fp
}

func withAuth(cfg *config.APIConfig) {
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = testSecret
}

// serve runs one request through the router.
func serve(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return e
}

func bearer(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.IssueToken("tester", role, testSecret, "snapdog", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return "Bearer " + token
}

func intPtr(v int) *int { return &v }

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	log := testLogger()
	fp := newFakePipeline()
	reg := feature.Default()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Pipeline: fp, Registry: reg}},
		{"no pipeline", Deps{Logger: log, Registry: reg}},
		{"no registry", Deps{Logger: log, Pipeline: fp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _ := testServer(t)
	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/health", "", "X-Request-ID", "client-123")

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)
	w := serve(srv.buildRouter(), http.MethodOptions, "/api/v1/zones/1/volume", "", "Origin", "http://localhost:3000")

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t, func(c *config.APIConfig) {
		c.CORS.AllowedOrigins = []string{"http://panel.local"}
	})
	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/health", "", "Origin", "http://evil.example")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if e := decodeError(t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t)
	w := serve(srv.buildRouter(), http.MethodDelete, "/api/v1/zones/1/volume", "")

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if e := decodeError(t, w); e.Code != ErrCodeMethodNotAllowed {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeMethodNotAllowed)
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := serve(h, http.MethodGet, "/", "")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// http.ErrAbortHandler is left for net/http to handle.
func TestRecovery_AbortHandler(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	serve(h, http.MethodGet, "/", "")
	t.Error("abort panic was swallowed")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.10:51000", "192.0.2.10"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.11", "192.0.2.11"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		if got := clientIP(r); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

// Forwarded addresses get their own bucket.
func TestRateLimit_PerForwardedClient(t *testing.T) {
	srv, _ := testServer(t, func(c *config.APIConfig) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	})
	router := srv.buildRouter()

	if w := serve(router, http.MethodGet, "/api/v1/health", "", "X-Real-IP", "198.51.100.1"); w.Code != http.StatusOK {
		t.Fatalf("first client status = %d, want 200", w.Code)
	}
	if w := serve(router, http.MethodGet, "/api/v1/health", "", "X-Real-IP", "198.51.100.2"); w.Code != http.StatusOK {
		t.Errorf("second client status = %d, want 200", w.Code)
	}
	if w := serve(router, http.MethodGet, "/api/v1/health", "", "X-Real-IP", "198.51.100.1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("repeat client status = %d, want 429", w.Code)
	}
}

// ─── Command Tests ─────────────────────────────────────────────────

func TestCommand_Dispatch(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   pipeline.Command
	}{
		{
			name:   "volume as object",
			method: http.MethodPut,
			path:   "/api/v1/zones/2/volume",
			body:   `{"value": 40}`,
			want:   command.SetVolume{ZoneTarget: command.ZoneTarget{Zone: 2}, Volume: 40},
		},
		{
			name:   "client mute as bare value",
			method: http.MethodPut,
			path:   "/api/v1/clients/3/mute",
			body:   `true`,
			want:   command.SetClientMute{ClientTarget: command.ClientTarget{Client: 3}, Muted: true},
		},
		{
			name:   "play without body",
			method: http.MethodPost,
			path:   "/api/v1/zones/1/play",
			want:   command.Play{ZoneTarget: command.ZoneTarget{Zone: 1}},
		},
		{
			name:   "volume up default step",
			method: http.MethodPost,
			path:   "/api/v1/zones/1/volume/up",
			want:   command.VolumeUp{ZoneTarget: command.ZoneTarget{Zone: 1}, Step: 5},
		},
		{
			name:   "volume down explicit step",
			method: http.MethodPost,
			path:   "/api/v1/zones/1/volume/down",
			body:   `10`,
			want:   command.VolumeDown{ZoneTarget: command.ZoneTarget{Zone: 1}, Step: 10},
		},
		{
			name:   "play url",
			method: http.MethodPost,
			path:   "/api/v1/zones/4/play/url",
			body:   `{"value": "http://radio.example/stream"}`,
			want:   command.PlayURL{ZoneTarget: command.ZoneTarget{Zone: 4}, URL: "http://radio.example/stream"},
		},
		{
			name:   "seek progress",
			method: http.MethodPut,
			path:   "/api/v1/zones/1/track/progress",
			body:   `0.25`,
			want:   command.SeekProgress{ZoneTarget: command.ZoneTarget{Zone: 1}, Progress: 0.25},
		},
		{
			name:   "assign client zone",
			method: http.MethodPut,
			path:   "/api/v1/clients/2/zone",
			body:   `{"value": 3}`,
			want:   command.AssignClientZone{ClientTarget: command.ClientTarget{Client: 2}, ZoneIndex: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fp := testServer(t)
			w := serve(srv.buildRouter(), tt.method, tt.path, tt.body)

			if w.Code != http.StatusNoContent {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusNoContent, w.Body.String())
			}
			got := fp.lastCommand(t)
			if got.Origin() != pipeline.SourceAPI {
				t.Errorf("Origin() = %q, want %q", got.Origin(), pipeline.SourceAPI)
			}
			if !sameCommand(got, tt.want) {
				t.Errorf("sent %#v, want %#v", got, tt.want)
			}
		})
	}
}

// sameCommand compares commands ignoring their Meta.
func sameCommand(got, want pipeline.Command) bool {
	strip := func(c pipeline.Command) string {
		b, _ := json.Marshal(c) //nolint:errcheck // test helper
		var m map[string]any
		_ = json.Unmarshal(b, &m) //nolint:errcheck // test helper
		delete(m, "id")
		delete(m, "source")
		out, _ := json.Marshal(m) //nolint:errcheck // test helper
		return c.Operation() + string(out)
	}
	return strip(got) == strip(want)
}

func TestCommand_BadRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"string for integer", http.MethodPut, "/api/v1/zones/1/volume", `"loud"`},
		{"fraction for integer", http.MethodPut, "/api/v1/zones/1/volume", `4.5`},
		{"missing body", http.MethodPut, "/api/v1/zones/1/mute", ""},
		{"object without value", http.MethodPut, "/api/v1/zones/1/mute", `{"muted": true}`},
		{"invalid JSON", http.MethodPut, "/api/v1/zones/1/volume", `{"value":`},
		{"number for boolean", http.MethodPut, "/api/v1/clients/1/mute", `1`},
		{"non-numeric index", http.MethodPut, "/api/v1/zones/abc/volume", `10`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fp := testServer(t)
			w := serve(srv.buildRouter(), tt.method, tt.path, tt.body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if e := decodeError(t, w); e.Code != apperr.Validation.String() {
				t.Errorf("code = %q, want %q", e.Code, apperr.Validation.String())
			}
			if fp.sentCount() != 0 {
				t.Errorf("%d commands sent, want 0", fp.sentCount())
			}
		})
	}
}

func TestCommand_ErrorMapping(t *testing.T) {
	tests := []struct {
		kind       apperr.Kind
		wantStatus int
		wantCode   string
	}{
		{apperr.Validation, http.StatusBadRequest, "validation"},
		{apperr.NotFound, http.StatusNotFound, "not_found"},
		{apperr.Unauthorized, http.StatusUnauthorized, "unauthorized"},
		{apperr.Unsupported, http.StatusNotImplemented, "unsupported"},
		{apperr.ExternalService, http.StatusBadGateway, "external_service"},
		{apperr.Timeout, http.StatusGatewayTimeout, "timeout"},
		{apperr.Cancelled, StatusClientClosedRequest, "cancelled"},
		{apperr.Internal, http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			srv, fp := testServer(t)
			fp.sendErr = &apperr.Error{Kind: tt.kind, Op: "SetVolume", Message: "secret detail"}

			w := serve(srv.buildRouter(), http.MethodPut, "/api/v1/zones/1/volume", `50`)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			e := decodeError(t, w)
			if e.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
			}
			leaked := strings.Contains(e.Message, "secret detail")
			if tt.kind == apperr.Internal && leaked {
				t.Error("internal error message leaked to the client")
			}
			if tt.kind != apperr.Internal && !leaked {
				t.Errorf("message = %q, want the error message", e.Message)
			}
		})
	}
}

func TestDecodeArg(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		kind     command.ArgKind
		optional bool
		want     command.Arg
		wantErr  bool
	}{
		{"none ignores body", `{"anything": 1}`, command.ArgNone, false, command.Arg{}, false},
		{"int bare", `42`, command.ArgInt, false, command.Arg{Int: 42}, false},
		{"int object", `{"value": -3}`, command.ArgInt, false, command.Arg{Int: -3}, false},
		{"int optional empty", ``, command.ArgInt, true, command.Arg{}, false},
		{"int required empty", `  `, command.ArgInt, false, command.Arg{}, true},
		{"int from float", `1.5`, command.ArgInt, false, command.Arg{}, true},
		{"float", `{"value": 0.75}`, command.ArgFloat, false, command.Arg{Float: 0.75}, false},
		{"float from string", `"0.75"`, command.ArgFloat, false, command.Arg{}, true},
		{"bool", `false`, command.ArgBool, false, command.Arg{Bool: false}, false},
		{"bool from null", `null`, command.ArgBool, false, command.Arg{}, true},
		{"text", `"http://x/y"`, command.ArgText, false, command.Arg{Text: "http://x/y"}, false},
		{"text from array", `["a"]`, command.ArgText, false, command.Arg{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeArg(strings.NewReader(tt.body), tt.kind, tt.optional)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if err.Kind != apperr.Validation {
					t.Errorf("decodeArg() error kind = %v, want validation", err.Kind)
				}
				return
			}
			if got != tt.want {
				t.Errorf("decodeArg() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// Every API feature in the registry is reachable at its documented path
// and method.
func TestRoutes_CoverRegistry(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	for _, f := range feature.Default().All() {
		if f.REST == nil || !f.Supports(feature.ProtocolAPI) {
			continue
		}
		path := strings.ReplaceAll(f.Path(1), "{trackIndex}", "1")
		w := serve(router, f.REST.Method, path, "")
		if w.Code == http.StatusNotFound || w.Code == http.StatusMethodNotAllowed {
			t.Errorf("%s %s (%s) = %d", f.REST.Method, path, f.ID, w.Code)
		}
	}
}

// ─── Status Tests ──────────────────────────────────────────────────

func testZoneState() zone.State {
	return zone.State{
		Index:         1,
		Name:          "Living Room",
		Playback:      zone.Playing,
		Volume:        35,
		Muted:         true,
		TrackIndex:    intPtr(2),
		Track:         &zone.TrackMeta{Title: "So What", Artist: "Miles Davis", URL: "http://media/1.flac"},
		PositionMs:    12000,
		UpdatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		PlaylistIndex: nil,
	}
}

func TestZoneStatus(t *testing.T) {
	tests := []struct {
		path     string
		wantType string
		check    func(t *testing.T, v any)
	}{
		{"/api/v1/zones/1/volume", feature.VolumeStatus, func(t *testing.T, v any) {
			if v != float64(35) {
				t.Errorf("value = %v, want 35", v)
			}
		}},
		{"/api/v1/zones/1/mute", feature.MuteStatus, func(t *testing.T, v any) {
			if v != true {
				t.Errorf("value = %v, want true", v)
			}
		}},
		{"/api/v1/zones/1/playback", feature.PlaybackState, func(t *testing.T, v any) {
			if v != "playing" {
				t.Errorf("value = %v, want playing", v)
			}
		}},
		{"/api/v1/zones/1/track", feature.TrackIndex, func(t *testing.T, v any) {
			if v != float64(2) {
				t.Errorf("value = %v, want 2", v)
			}
		}},
		{"/api/v1/zones/1/track/info", feature.TrackInfo, func(t *testing.T, v any) {
			m, ok := v.(map[string]any)
			if !ok || m["title"] != "So What" {
				t.Errorf("value = %v, want track metadata", v)
			}
		}},
		{"/api/v1/zones/1/playlist", feature.PlaylistIndex, func(t *testing.T, v any) {
			if v != nil {
				t.Errorf("value = %v, want null without a playlist", v)
			}
		}},
		{"/api/v1/zones/1", feature.ZoneState, func(t *testing.T, v any) {
			m, ok := v.(map[string]any)
			if !ok || m["name"] != "Living Room" || m["volume"] != float64(35) {
				t.Errorf("value = %v, want the zone snapshot", v)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			srv, fp := testServer(t)
			fp.answers["GetZoneState"] = testZoneState()

			w := serve(srv.buildRouter(), http.MethodGet, tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
			}

			var ev struct {
				Type      string    `json:"type"`
				Zone      int       `json:"zone"`
				Value     any       `json:"value"`
				Timestamp time.Time `json:"timestamp"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if ev.Type != tt.wantType || ev.Zone != 1 {
				t.Errorf("event = %s/zone %d, want %s/zone 1", ev.Type, ev.Zone, tt.wantType)
			}
			if !ev.Timestamp.Equal(testZoneState().UpdatedAt) {
				t.Errorf("timestamp = %v, want the snapshot time", ev.Timestamp)
			}
			tt.check(t, ev.Value)

			if q, ok := fp.lastQuery(t).(command.GetZoneState); !ok || q.Zone != 1 {
				t.Errorf("query = %#v, want GetZoneState for zone 1", fp.lastQuery(t))
			}
		})
	}
}

func TestZoneStatus_NotFound(t *testing.T) {
	srv, fp := testServer(t)
	fp.queryErr["GetZoneState"] = apperr.Missing("zone %d not found", 9)

	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/zones/9/volume", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestClientStatus(t *testing.T) {
	srv, fp := testServer(t)
	fp.answers["GetClientState"] = client.State{
		Index:     2,
		Name:      "Kitchen",
		Volume:    60,
		LatencyMs: 25,
		ZoneIndex: 1,
	}
	router := srv.buildRouter()

	tests := []struct {
		path     string
		wantType string
		want     any
	}{
		{"/api/v1/clients/2/volume", feature.ClientVolumeStatus, float64(60)},
		{"/api/v1/clients/2/latency", feature.ClientLatencyStatus, float64(25)},
		{"/api/v1/clients/2/zone", feature.ClientZoneStatus, float64(1)},
		{"/api/v1/clients/2/mute", feature.ClientMuteStatus, false},
	}
	for _, tt := range tests {
		w := serve(router, http.MethodGet, tt.path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", tt.path, w.Code)
		}
		var ev StatusEvent
		if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != tt.wantType || ev.Client != 2 || ev.Value != tt.want {
			t.Errorf("GET %s = %+v, want %s value %v", tt.path, ev, tt.wantType, tt.want)
		}
	}
}

// ─── Global and Media Tests ────────────────────────────────────────

func TestGlobalQueries(t *testing.T) {
	tests := []struct {
		path string
		want pipeline.Query
	}{
		{"/api/v1/system/status", command.GetSystemStatus{}},
		{"/api/v1/system/version", command.GetVersionInfo{}},
		{"/api/v1/system/stats", command.GetServerStats{}},
		{"/api/v1/zones", command.GetAllZoneStates{}},
		{"/api/v1/clients", command.GetAllClientStates{}},
		{"/api/v1/media/playlists", command.GetPlaylists{}},
		{"/api/v1/media/playlists/2", command.GetPlaylist{Playlist: 2}},
		{"/api/v1/media/playlists/2/tracks", command.GetPlaylistTracks{Playlist: 2}},
		{"/api/v1/media/playlists/2/tracks/7", command.GetTrack{Playlist: 2, Track: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			srv, fp := testServer(t)
			fp.answers[tt.want.Operation()] = map[string]string{"answer": tt.want.Operation()}

			w := serve(srv.buildRouter(), http.MethodGet, tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
			}
			if got := fp.lastQuery(t); got != tt.want {
				t.Errorf("query = %#v, want %#v", got, tt.want)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["answer"] != tt.want.Operation() {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestMediaQuery_BadIndex(t *testing.T) {
	srv, fp := testServer(t)
	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/media/playlists/x/tracks", "")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if len(fp.queries) != 0 {
		t.Errorf("%d queries run, want 0", len(fp.queries))
	}
}

func TestCommandHistory(t *testing.T) {
	srv, fp := testServer(t)
	fp.answers["GetCommandHistory"] = []string{}
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/system/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if q := fp.lastQuery(t).(command.GetCommandHistory); q.Limit != defaultHistoryLimit {
		t.Errorf("Limit = %d, want %d", q.Limit, defaultHistoryLimit)
	}

	serve(router, http.MethodGet, "/api/v1/system/history?limit=10", "")
	if q := fp.lastQuery(t).(command.GetCommandHistory); q.Limit != 10 {
		t.Errorf("Limit = %d, want 10", q.Limit)
	}

	for _, bad := range []string{"0", "1001", "ten"} {
		w := serve(router, http.MethodGet, "/api/v1/system/history?limit="+bad, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", bad, w.Code)
		}
	}
}

func TestCommandHistory_JournalDisabled(t *testing.T) {
	srv, _ := testServer(t)
	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/system/history", "")

	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotImplemented)
	}
}

// ─── Feature Catalogue Tests ───────────────────────────────────────

func TestListFeatures(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	var resp struct {
		Features []featureView `json:"features"`
		Count    int           `json:"count"`
	}

	w := serve(router, http.MethodGet, "/api/v1/features", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != feature.Default().Len() || len(resp.Features) != resp.Count {
		t.Errorf("count = %d (%d listed), want %d", resp.Count, len(resp.Features), feature.Default().Len())
	}

	w = serve(router, http.MethodGet, "/api/v1/features?category=zone&protocol=knx", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count == 0 {
		t.Fatal("no zone features on KNX")
	}
	for _, f := range resp.Features {
		if f.Category != feature.CategoryZone {
			t.Errorf("%s has category %s", f.ID, f.Category)
		}
		if !containsString(f.Protocols, "knx") {
			t.Errorf("%s listed for knx but protocols = %v", f.ID, f.Protocols)
		}
		if f.ID == feature.ShuffleStatus {
			t.Errorf("%s is excluded from KNX", f.ID)
		}
	}
}

func TestGetFeature(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/features/volume", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var v featureView
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.ID != feature.Volume || v.Payload != "int" || v.REST == nil || v.REST.Method != http.MethodPut {
		t.Errorf("feature = %+v", v)
	}

	w = serve(router, http.MethodGet, "/api/v1/features/"+feature.TrackInfo, "")
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Exclusions["knx"] == "" {
		t.Errorf("TRACK_INFO exclusions = %v, want a knx reason", v.Exclusions)
	}

	w = serve(router, http.MethodGet, "/api/v1/features/NOPE", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown feature status = %d, want 404", w.Code)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth_Permissions(t *testing.T) {
	srv, fp := testServer(t, withAuth)
	fp.answers["GetZoneState"] = testZoneState()
	router := srv.buildRouter()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		auth       string
		wantStatus int
	}{
		{"no token", http.MethodPut, "/api/v1/zones/1/volume", `10`, "", http.StatusUnauthorized},
		{"garbage token", http.MethodPut, "/api/v1/zones/1/volume", `10`, "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", http.MethodPut, "/api/v1/zones/1/volume", `10`, "Basic abc", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/zones/1/volume", "", bearer(t, auth.RoleViewer), http.StatusOK},
		{"viewer controls", http.MethodPut, "/api/v1/zones/1/volume", `10`, bearer(t, auth.RoleViewer), http.StatusForbidden},
		{"controller controls", http.MethodPut, "/api/v1/zones/1/volume", `10`, bearer(t, auth.RoleController), http.StatusNoContent},
		{"controller sets latency", http.MethodPut, "/api/v1/clients/1/latency", `20`, bearer(t, auth.RoleController), http.StatusForbidden},
		{"admin sets latency", http.MethodPut, "/api/v1/clients/1/latency", `20`, bearer(t, auth.RoleAdmin), http.StatusNoContent},
		{"health stays open", http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
		{"features need a token", http.MethodGet, "/api/v1/features", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.auth != "" {
				headers = []string{"Authorization", tt.auth}
			}
			w := serve(router, tt.method, tt.path, tt.body, headers...)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate header")
			}
		})
	}
}

func TestAuth_WrongIssuer(t *testing.T) {
	srv, _ := testServer(t, withAuth)
	token, err := auth.IssueToken("tester", auth.RoleAdmin, testSecret, "someone-else", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	w := serve(srv.buildRouter(), http.MethodPost, "/api/v1/zones/1/play", "", "Authorization", "Bearer "+token)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func withLoginUser(t *testing.T, name, password string, role auth.Role) func(*config.APIConfig) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return func(cfg *config.APIConfig) {
		withAuth(cfg)
		cfg.Auth.TokenTTL = 2
		cfg.Auth.Users = []config.UserConfig{{Name: name, PasswordHash: hash, Role: string(role)}}
	}
}

func TestLogin(t *testing.T) {
	srv, _ := testServer(t, withLoginUser(t, "kitchen-panel", "hunter22", auth.RoleController))
	router := srv.buildRouter()

	w := serve(router, http.MethodPost, "/api/v1/auth/login", `{"username":"kitchen-panel","password":"hunter22"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Role != auth.RoleController {
		t.Errorf("role = %q, want controller", resp.Role)
	}
	if until := time.Until(resp.ExpiresAt); until < time.Hour || until > 2*time.Hour {
		t.Errorf("expires in %v, want about 2h", until)
	}

	// The issued token drives a zone.
	w = serve(router, http.MethodPost, "/api/v1/zones/1/play", "", "Authorization", "Bearer "+resp.Token)
	if w.Code != http.StatusNoContent {
		t.Errorf("play with login token: status = %d, want 204", w.Code)
	}
}

func TestLogin_Failures(t *testing.T) {
	srv, _ := testServer(t, withLoginUser(t, "kitchen-panel", "hunter22", auth.RoleViewer))
	router := srv.buildRouter()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"wrong password", `{"username":"kitchen-panel","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"garage","password":"hunter22"}`, http.StatusUnauthorized},
		{"malformed body", `{"username":`, http.StatusBadRequest},
		{"missing username", `{"password":"hunter22"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodPost, "/api/v1/auth/login", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// Without configured users there is no login route.
func TestLogin_Disabled(t *testing.T) {
	srv, _ := testServer(t, withAuth)
	w := serve(srv.buildRouter(), http.MethodPost, "/api/v1/auth/login", `{"username":"a","password":"b"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNew_RejectsBadUser(t *testing.T) {
	cfg := testConfig()
	withAuth(&cfg)
	cfg.Auth.Users = []config.UserConfig{{Name: "x", PasswordHash: "plain", Role: "viewer"}}

	_, err := New(Deps{Config: cfg, Logger: testLogger(), Pipeline: newFakePipeline(), Registry: feature.Default()})
	if !errors.Is(err, auth.ErrInvalidHash) {
		t.Errorf("New() error = %v, want ErrInvalidHash", err)
	}
}

// ─── Rate Limit Tests ──────────────────────────────────────────────

func TestRateLimit(t *testing.T) {
	srv, _ := testServer(t, func(c *config.APIConfig) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}
	})
	router := srv.buildRouter()

	for i := 0; i < 2; i++ {
		if w := serve(router, http.MethodGet, "/api/v1/health", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}
	w := serve(router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After header")
	}
}

func TestIPLimiter_Sweep(t *testing.T) {
	l := newIPLimiter(1, 1)
	l.allow("10.0.0.1")
	l.allow("10.0.0.2")

	l.sweep(time.Now())
	if len(l.visitors) != 2 {
		t.Errorf("visitors after fresh sweep = %d, want 2", len(l.visitors))
	}
	l.sweep(time.Now().Add(limiterIdle + time.Second))
	if len(l.visitors) != 0 {
		t.Errorf("visitors after idle sweep = %d, want 0", len(l.visitors))
	}
}

// ─── Ticket Tests ──────────────────────────────────────────────────

func TestWSTicket_Endpoint(t *testing.T) {
	srv, _ := testServer(t, withAuth)
	w := serve(srv.buildRouter(), http.MethodPost, "/api/v1/auth/ws-ticket", "",
		"Authorization", bearer(t, auth.RoleViewer))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Ticket == "" || resp.ExpiresIn != 60 {
		t.Errorf("response = %+v", resp)
	}

	entry, ok := srv.tickets.consume(resp.Ticket)
	if !ok || entry.subject != "tester" {
		t.Errorf("consume() = %+v, %v, want subject tester", entry, ok)
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	ts := newTicketStore()
	ticket := ts.issue("panel")

	if _, ok := ts.consume(ticket); !ok {
		t.Error("ticket should be valid on first use")
	}
	if _, ok := ts.consume(ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	ts := newTicketStore()
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{subject: "panel", expiresAt: time.Now().Add(-time.Second)}
	ts.mu.Unlock()

	if _, ok := ts.consume(ticket); ok {
		t.Error("expired ticket should not be valid")
	}
}

func TestWSTicket_CleanExpired(t *testing.T) {
	ts := newTicketStore()
	fresh := ts.issue("a")
	ts.issue("b")

	ts.cleanExpired(time.Now().Add(ticketTTL + time.Second))
	if _, ok := ts.consume(fresh); ok {
		t.Error("ticket survived cleanup past its TTL")
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.tickets) != 0 {
		t.Errorf("%d tickets left, want 0", len(ts.tickets))
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	fp := newFakePipeline()
	srv, err := New(Deps{
		Config:   testConfig(),
		Logger:   testLogger(),
		Pipeline: fp,
		Registry: feature.Default(),
		MQTT:     fakeMQTT{m: mqttbridge.BridgeMetrics{Connected: true, StatusPublished: 7}},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	w := serve(srv.buildRouter(), http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	mq, ok := m["mqtt"].(map[string]any)
	if !ok || mq["connected"] != true || mq["status_published"] != float64(7) {
		t.Errorf("mqtt = %v", m["mqtt"])
	}
	if _, ok := m["knx"]; ok {
		t.Error("knx metrics present without a KNX bridge")
	}
	if m["features"] != float64(feature.Default().Len()) {
		t.Errorf("features = %v", m["features"])
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

// startServer starts srv on an ephemeral port and returns its address.
func startServer(t *testing.T, srv *Server) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() })

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return srv.Addr()
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t)
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q, want empty", srv.Addr())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := srv.Addr()

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_HealthCheck(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}

	startServer(t, srv)
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context = nil, want error")
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v, want nil", err)
	}
}
