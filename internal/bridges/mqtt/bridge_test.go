package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/command"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	mqttclient "github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/mqtt"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

type published struct {
	Topic    string
	Payload  string
	Retained bool
}

// MockTransport records publishes and subscriptions.
type MockTransport struct {
	mu         sync.Mutex
	handlers   map[string]mqttclient.MessageHandler
	published  []published
	publishErr error
	connected  bool
}

func newMockTransport() *MockTransport {
	return &MockTransport{handlers: make(map[string]mqttclient.MessageHandler), connected: true}
}

func (m *MockTransport) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, published{Topic: topic, Payload: string(payload), Retained: retained})
	return nil
}

func (m *MockTransport) Subscribe(topic string, _ byte, h mqttclient.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = h
	return nil
}

func (m *MockTransport) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// deliver invokes the handler subscribed with filter.
func (m *MockTransport) deliver(t *testing.T, filter, topic, payload string) {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[filter]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", filter)
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

func (m *MockTransport) Published() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

func (m *MockTransport) find(topic string) (published, bool) {
	for _, p := range m.Published() {
		if p.Topic == topic {
			return p, true
		}
	}
	return published{}, false
}

// MockSender records commands and returns a fixed result.
type MockSender struct {
	mu   sync.Mutex
	cmds []pipeline.Command
	err  *apperr.Error
}

func (m *MockSender) Send(_ context.Context, cmd pipeline.Command) pipeline.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmds = append(m.cmds, cmd)
	return pipeline.Result{Operation: cmd.Operation(), Err: m.err}
}

func (m *MockSender) Commands() []pipeline.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pipeline.Command(nil), m.cmds...)
}

type fakeZones map[int]zone.State

func (f fakeZones) State(index int) (zone.State, error) {
	s, ok := f[index]
	if !ok {
		return zone.State{}, errors.New("no zone")
	}
	return s, nil
}

func (f fakeZones) States() []zone.State {
	var out []zone.State
	for i := 1; i <= len(f); i++ {
		out = append(out, f[i])
	}
	return out
}

type fakeClients map[int]client.State

func (f fakeClients) State(index int) (client.State, error) {
	s, ok := f[index]
	if !ok {
		return client.State{}, errors.New("no client")
	}
	return s, nil
}

func (f fakeClients) States() []client.State {
	var out []client.State
	for i := 1; i <= len(f); i++ {
		out = append(out, f[i])
	}
	return out
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warns() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func newTestBridge(t *testing.T, opts BridgeOptions) (*Bridge, *MockTransport, *MockSender) {
	t.Helper()
	tr := newMockTransport()
	sender := &MockSender{}
	opts.Transport = tr
	opts.Dispatcher = sender
	opts.Registry = feature.Default()
	b, err := NewBridge(opts)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, tr, sender
}

const (
	zoneFilter   = "snapdog/zone/+/command/+"
	clientFilter = "snapdog/client/+/command/+"
)

func TestNewBridge_RequiresCollaborators(t *testing.T) {
	reg := feature.Default()
	tests := []struct {
		name string
		opts BridgeOptions
		want error
	}{
		{"no transport", BridgeOptions{Dispatcher: &MockSender{}, Registry: reg}, ErrNoTransport},
		{"no dispatcher", BridgeOptions{Transport: newMockTransport(), Registry: reg}, ErrNoDispatcher},
		{"no registry", BridgeOptions{Transport: newMockTransport(), Dispatcher: &MockSender{}}, ErrNoRegistry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("NewBridge() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStart_Subscribes(t *testing.T) {
	_, tr, _ := newTestBridge(t, BridgeOptions{})

	for _, f := range []string{zoneFilter, clientFilter} {
		if _, ok := tr.handlers[f]; !ok {
			t.Errorf("missing subscription %s", f)
		}
	}
}

func TestStop_Unsubscribes(t *testing.T) {
	b, tr, _ := newTestBridge(t, BridgeOptions{})
	b.Stop()
	b.Stop()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.handlers) != 0 {
		t.Errorf("handlers after Stop() = %d, want 0", len(tr.handlers))
	}
}

func TestInbound_Commands(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		topic   string
		payload string
		check   func(t *testing.T, cmd pipeline.Command)
	}{
		{"volume", zoneFilter, "snapdog/zone/1/command/volume", "42", func(t *testing.T, cmd pipeline.Command) {
			c, ok := cmd.(command.SetVolume)
			if !ok || c.Zone != 1 || c.Volume != 42 {
				t.Errorf("command = %#v, want SetVolume{Zone:1 Volume:42}", cmd)
			}
		}},
		{"mute on", zoneFilter, "snapdog/zone/2/command/mute", "on", func(t *testing.T, cmd pipeline.Command) {
			c, ok := cmd.(command.SetMute)
			if !ok || c.Zone != 2 || !c.Muted {
				t.Errorf("command = %#v, want SetMute{Zone:2 Muted:true}", cmd)
			}
		}},
		{"play ignores payload", zoneFilter, "snapdog/zone/1/command/play", "whatever", func(t *testing.T, cmd pipeline.Command) {
			if _, ok := cmd.(command.Play); !ok {
				t.Errorf("command = %#v, want Play", cmd)
			}
		}},
		{"volume up without step", zoneFilter, "snapdog/zone/1/command/volume_up", "", func(t *testing.T, cmd pipeline.Command) {
			c, ok := cmd.(command.VolumeUp)
			if !ok || c.Zone != 1 || c.Step != 5 {
				t.Errorf("command = %#v, want VolumeUp{Zone:1 Step:5}", cmd)
			}
		}},
		{"client zone", clientFilter, "snapdog/client/3/command/zone", "2", func(t *testing.T, cmd pipeline.Command) {
			c, ok := cmd.(command.AssignClientZone)
			if !ok || c.Client != 3 || c.ZoneIndex != 2 {
				t.Errorf("command = %#v, want AssignClientZone{Client:3 ZoneIndex:2}", cmd)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, tr, sender := newTestBridge(t, BridgeOptions{})
			tr.deliver(t, tt.filter, tt.topic, tt.payload)

			cmds := sender.Commands()
			if len(cmds) != 1 {
				t.Fatalf("sent %d commands, want 1", len(cmds))
			}
			if cmds[0].Origin() != pipeline.SourceMQTT {
				t.Errorf("Origin() = %v, want %v", cmds[0].Origin(), pipeline.SourceMQTT)
			}
			tt.check(t, cmds[0])
			if got := b.GetMetrics().CommandsReceived; got != 1 {
				t.Errorf("CommandsReceived = %d, want 1", got)
			}
		})
	}
}

func TestInbound_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"unknown name", "snapdog/zone/1/command/explode", ""},
		{"bad index", "snapdog/zone/0/command/play", ""},
		{"status topic", "snapdog/zone/1/status/volume", "10"},
		{"bad payload", "snapdog/zone/1/command/volume", "loud"},
		{"empty volume", "snapdog/zone/1/command/volume", ""},
		{"blank track", "snapdog/zone/1/command/track", "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &recordingLogger{}
			b, tr, sender := newTestBridge(t, BridgeOptions{Logger: log})
			tr.deliver(t, zoneFilter, tt.topic, tt.payload)

			if n := len(sender.Commands()); n != 0 {
				t.Errorf("sent %d commands, want 0", n)
			}
			if got := b.GetMetrics().CommandsFailed; got != 1 {
				t.Errorf("CommandsFailed = %d, want 1", got)
			}
			if len(log.Warns()) != 1 {
				t.Errorf("warnings = %v, want one", log.Warns())
			}
		})
	}
}

func TestInbound_DispatchFailureIsLogged(t *testing.T) {
	log := &recordingLogger{}
	b, tr, sender := newTestBridge(t, BridgeOptions{Logger: log})
	sender.err = apperr.New(apperr.NotFound, "zone 9 not found")

	tr.deliver(t, zoneFilter, "snapdog/zone/9/command/play", "")

	if got := b.GetMetrics().CommandsFailed; got != 1 {
		t.Errorf("CommandsFailed = %d, want 1", got)
	}
	if w := log.Warns(); len(w) != 1 || w[0] != "mqtt command failed" {
		t.Errorf("warnings = %v", w)
	}
}

func TestInbound_CustomBase(t *testing.T) {
	_, tr, sender := newTestBridge(t, BridgeOptions{Topics: mqttclient.NewTopics("home/audio")})

	tr.deliver(t, "home/audio/zone/+/command/+", "home/audio/zone/1/command/pause", "")
	if cmds := sender.Commands(); len(cmds) != 1 {
		t.Fatalf("sent %d commands, want 1", len(cmds))
	}
}

func TestHandleNotification_PublishesRetained(t *testing.T) {
	b, tr, _ := newTestBridge(t, BridgeOptions{})
	ctx := context.Background()
	ev := notify.Event{Target: 1}

	notes := []notify.Notification{
		notify.VolumeChanged{Event: ev, Volume: 40},
		notify.PlaybackStateChanged{Event: ev, State: zone.Playing},
		notify.ShuffleChanged{Event: ev, Enabled: true},
		notify.ClientZoneChanged{Event: notify.Event{Target: 2}, ZoneIndex: 1},
	}
	for _, n := range notes {
		if err := b.HandleNotification(ctx, n); err != nil {
			t.Fatalf("HandleNotification(%s) error = %v", n.StatusID(), err)
		}
	}

	want := map[string]string{
		"snapdog/zone/1/status/volume":   "40",
		"snapdog/zone/1/status/playback": "playing",
		"snapdog/zone/1/status/shuffle":  "true",
		"snapdog/client/2/status/zone":   "1",
	}
	for topic, payload := range want {
		p, ok := tr.find(topic)
		if !ok {
			t.Errorf("nothing published on %s", topic)
			continue
		}
		if p.Payload != payload || !p.Retained {
			t.Errorf("%s = %q retained=%v, want %q retained", topic, p.Payload, p.Retained, payload)
		}
	}
	if got := b.GetMetrics().StatusPublished; got != uint64(len(want)) {
		t.Errorf("StatusPublished = %d, want %d", got, len(want))
	}
}

func TestHandleNotification_TrackInfo(t *testing.T) {
	b, tr, _ := newTestBridge(t, BridgeOptions{})

	n := notify.TrackChanged{
		Event:      notify.Event{Target: 1},
		TrackIndex: 3,
		Track:      &zone.TrackMeta{Title: "Song", URL: "http://m/3.flac"},
	}
	if err := b.HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if p, ok := tr.find("snapdog/zone/1/status/track"); !ok || p.Payload != "3" {
		t.Errorf("track = %+v, %v", p, ok)
	}
	p, ok := tr.find("snapdog/zone/1/status/track_info")
	if !ok || !strings.Contains(p.Payload, `"title":"Song"`) {
		t.Errorf("track_info = %+v, %v", p, ok)
	}
}

func TestHandleNotification_AggregateState(t *testing.T) {
	zones := fakeZones{1: {Index: 1, Name: "Living Room", Volume: 40, Playback: zone.Paused}}
	clients := fakeClients{1: {Index: 1, Name: "Kitchen", ZoneIndex: 1}}
	b, tr, _ := newTestBridge(t, BridgeOptions{Zones: zones, Clients: clients})
	ctx := context.Background()

	if err := b.HandleNotification(ctx, notify.VolumeChanged{Event: notify.Event{Target: 1}, Volume: 40}); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if err := b.HandleNotification(ctx, notify.ClientMuteChanged{Event: notify.Event{Target: 1}, Muted: true}); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}

	p, ok := tr.find("snapdog/zone/1/status/state")
	if !ok || !strings.Contains(p.Payload, `"name":"Living Room"`) || !strings.Contains(p.Payload, `"playback_state":"paused"`) {
		t.Errorf("zone state = %+v, %v", p, ok)
	}
	p, ok = tr.find("snapdog/client/1/status/state")
	if !ok || !strings.Contains(p.Payload, `"zone_index":1`) {
		t.Errorf("client state = %+v, %v", p, ok)
	}
}

func TestHandleNotification_PublishError(t *testing.T) {
	b, tr, _ := newTestBridge(t, BridgeOptions{})
	tr.publishErr = mqttclient.ErrNotConnected

	err := b.HandleNotification(context.Background(), notify.MuteChanged{Event: notify.Event{Target: 1}, Muted: true})
	if !errors.Is(err, mqttclient.ErrNotConnected) {
		t.Errorf("HandleNotification() error = %v, want ErrNotConnected", err)
	}
	if got := b.GetMetrics().PublishErrors; got != 1 {
		t.Errorf("PublishErrors = %d, want 1", got)
	}
}

func TestSync(t *testing.T) {
	track := 2
	zones := fakeZones{
		1: {Index: 1, Volume: 10, Playback: zone.Stopped, TrackIndex: &track},
		2: {Index: 2, Volume: 80, Muted: true, Playback: zone.Playing},
	}
	clients := fakeClients{1: {Index: 1, Volume: 55, LatencyMs: 20, ZoneIndex: 2}}
	b, tr, _ := newTestBridge(t, BridgeOptions{Zones: zones, Clients: clients})

	if err := b.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	want := map[string]string{
		"snapdog/zone/1/status/volume":    "10",
		"snapdog/zone/1/status/track":     "2",
		"snapdog/zone/2/status/mute":      "true",
		"snapdog/zone/2/status/playback":  "playing",
		"snapdog/client/1/status/latency": "20",
		"snapdog/client/1/status/zone":    "2",
	}
	for topic, payload := range want {
		if p, ok := tr.find(topic); !ok || p.Payload != payload {
			t.Errorf("%s = %+v (found %v), want %q", topic, p, ok, payload)
		}
	}
	if _, ok := tr.find("snapdog/zone/2/status/track"); ok {
		t.Error("zone 2 has no track but one was published")
	}
	if _, ok := tr.find("snapdog/zone/2/status/state"); !ok {
		t.Error("zone 2 aggregate state not published")
	}
}

func TestSync_Disconnected(t *testing.T) {
	b, tr, _ := newTestBridge(t, BridgeOptions{Zones: fakeZones{}})
	tr.connected = false

	if err := b.Sync(context.Background()); !errors.Is(err, mqttclient.ErrNotConnected) {
		t.Errorf("Sync() error = %v, want ErrNotConnected", err)
	}
}

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"playing", "playing"},
		{42, "42"},
		{true, "true"},
		{0.5, "0.5"},
		{&zone.PlaylistMeta{ID: "p1", Name: "Jazz", TrackCount: 3}, `{"id":"p1","name":"Jazz","track_count":3}`},
	}
	for _, tt := range tests {
		got, err := encodePayload(tt.value)
		if err != nil {
			t.Fatalf("encodePayload(%v) error = %v", tt.value, err)
		}
		if string(got) != tt.want {
			t.Errorf("encodePayload(%v) = %s, want %s", tt.value, got, tt.want)
		}
	}
}
