package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/command"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	mqttclient "github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/mqtt"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// defaultCommandTimeout bounds one dispatch started from a message.
const defaultCommandTimeout = 5 * time.Second

// Transport is the subset of the MQTT client the bridge uses.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Dispatcher sends commands through the pipeline.
type Dispatcher interface {
	Send(ctx context.Context, cmd pipeline.Command) pipeline.Result
}

// ZoneStates provides zone snapshots for the aggregate state topic.
type ZoneStates interface {
	State(index int) (zone.State, error)
	States() []zone.State
}

// ClientStates provides client snapshots for the aggregate state topic.
type ClientStates interface {
	State(index int) (client.State, error)
	States() []client.State
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// BridgeOptions holds the collaborators of a bridge.
type BridgeOptions struct {
	Transport  Transport
	Dispatcher Dispatcher
	Registry   *feature.Registry

	// Topics roots published and subscribed topics. Zero value uses "snapdog".
	Topics mqttclient.Topics
	QoS    byte

	// Zones and Clients enable the aggregate ZONE_STATE and CLIENT_STATE
	// topics and Sync. Both are optional.
	Zones   ZoneStates
	Clients ClientStates

	// CommandTimeout defaults to 5s.
	CommandTimeout time.Duration

	Logger Logger
}

// Bridge translates between MQTT topics and the command pipeline.
//
// Thread Safety: message handlers and HandleNotification may run
// concurrently.
type Bridge struct {
	transport Transport
	sender    Dispatcher
	registry  *feature.Registry
	topics    mqttclient.Topics
	qos       byte
	zones     ZoneStates
	clients   ClientStates
	timeout   time.Duration

	// commands maps "zone/volume" to VOLUME.
	commands map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	logger   Logger
	loggerMu sync.RWMutex

	received  atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
	pubErrors atomic.Uint64
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}

	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		transport: opts.Transport,
		sender:    opts.Dispatcher,
		registry:  opts.Registry,
		topics:    mqttclient.NewTopics(opts.Topics.Base),
		qos:       opts.QoS,
		zones:     opts.Zones,
		clients:   opts.Clients,
		timeout:   timeout,
		commands:  commandTable(opts.Registry),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}, nil
}

// commandTable indexes MQTT command features by "<scope>/<name>".
func commandTable(r *feature.Registry) map[string]string {
	out := make(map[string]string)
	features := r.Filter(func(f *feature.Feature) bool {
		return f.Kind == feature.KindCommand && f.Supports(feature.ProtocolMQTT) && f.MQTTTopic != ""
	})
	for _, f := range features {
		rest, ok := strings.CutPrefix(f.MQTTTopic, feature.TopicPrefix+"/")
		if !ok {
			continue
		}
		// zone/{zoneIndex}/command/play
		parts := strings.Split(rest, "/")
		if len(parts) != 4 {
			continue
		}
		out[parts[0]+"/"+parts[3]] = f.ID
	}
	return out
}

// Start subscribes to the zone and client command topics. Dispatches run
// under a context derived from the bridge, cancelled by Stop.
func (b *Bridge) Start(ctx context.Context) error {
	for _, topic := range b.commandFilters() {
		if err := b.transport.Subscribe(topic, b.qos, b.handleMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.getLogger().Info("subscribed to commands", "topic", topic)
	}

	go func() {
		select {
		case <-ctx.Done():
			b.Stop()
		case <-b.ctx.Done():
		}
	}()
	return nil
}

// Stop drops the command subscriptions and cancels in-flight dispatches.
// Safe to call more than once.
func (b *Bridge) Stop() {
	b.once.Do(func() {
		b.cancel()
		if b.transport.IsConnected() {
			for _, topic := range b.commandFilters() {
				if err := b.transport.Unsubscribe(topic); err != nil {
					b.getLogger().Warn("unsubscribe failed", "topic", topic, "error", err)
				}
			}
		}
		b.getLogger().Info("mqtt bridge stopped")
	})
}

func (b *Bridge) commandFilters() []string {
	return []string{b.topics.AllZoneCommands(), b.topics.AllClientCommands()}
}

// ============================================================================
// Inbound
// ============================================================================

func (b *Bridge) handleMessage(topic string, payload []byte) error {
	b.received.Add(1)

	cmd, err := b.decode(topic, payload)
	if err != nil {
		b.failed.Add(1)
		b.getLogger().Warn("mqtt command rejected", "topic", topic, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	res := b.sender.Send(ctx, cmd)
	if !res.OK() {
		b.failed.Add(1)
		b.getLogger().Warn("mqtt command failed",
			"topic", topic,
			"operation", res.Operation,
			"kind", res.Err.Kind.String(),
			"error", res.Err)
		return nil
	}
	b.getLogger().Debug("mqtt command handled", "topic", topic, "operation", res.Operation)
	return nil
}

// decode resolves a command topic and payload to a pipeline command.
func (b *Bridge) decode(topic string, payload []byte) (pipeline.Command, error) {
	route, ok := b.topics.Parse(topic)
	if !ok || route.Direction != mqttclient.DirCommand {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}
	id, ok := b.commands[route.Scope+"/"+route.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}
	if _, ok := command.ArgOf(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}
	arg, err := command.ParseFeatureArg(id, string(payload))
	if err != nil {
		return nil, err
	}
	return command.FromFeature(id, route.Index, pipeline.SourceMQTT, arg)
}

// ============================================================================
// Outbound
// ============================================================================

// HandleNotification publishes the status topic of n and, when state sources
// are configured, the aggregate state topic. It is a notify.Handler.
func (b *Bridge) HandleNotification(_ context.Context, n notify.Notification) error {
	return errors.Join(b.publishNotification(n), b.publishAggregate(n.Scope(), n.Index()))
}

// publishNotification publishes the status value of n, plus the metadata
// topic for track and playlist changes.
func (b *Bridge) publishNotification(n notify.Notification) error {
	err := b.publishStatus(n.StatusID(), n.Index(), n.Value())
	switch ev := n.(type) {
	case notify.TrackChanged:
		if ev.Track != nil {
			err = errors.Join(err, b.publishStatus(feature.TrackInfo, ev.Index(), ev.Track))
		}
	case notify.PlaylistChanged:
		if ev.Playlist != nil {
			err = errors.Join(err, b.publishStatus(feature.PlaylistInfo, ev.Index(), ev.Playlist))
		}
	}
	return err
}

func (b *Bridge) publishAggregate(scope notify.Scope, index int) error {
	switch {
	case scope == notify.ScopeZone && b.zones != nil:
		s, err := b.zones.State(index)
		if err != nil {
			return nil
		}
		return b.publishStatus(feature.ZoneState, index, s)
	case scope == notify.ScopeClient && b.clients != nil:
		s, err := b.clients.State(index)
		if err != nil {
			return nil
		}
		return b.publishStatus(feature.ClientState, index, s)
	}
	return nil
}

// publishStatus publishes one retained status value. Features not exposed on
// MQTT are skipped silently.
func (b *Bridge) publishStatus(statusID string, index int, value any) error {
	if !b.registry.IsProtocolSupported(statusID, feature.ProtocolMQTT) {
		return nil
	}
	topic := b.registry.Topic(statusID, index)
	if topic == "" {
		return nil
	}
	topic = b.topics.Rebase(topic, feature.TopicPrefix)

	payload, err := encodePayload(value)
	if err != nil {
		b.pubErrors.Add(1)
		return fmt.Errorf("encode %s: %w", statusID, err)
	}
	if err := b.transport.Publish(topic, payload, b.qos, true); err != nil {
		b.pubErrors.Add(1)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	b.published.Add(1)
	return nil
}

// encodePayload renders strings raw and everything else as JSON.
func encodePayload(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	}
	return json.Marshal(value)
}

// Sync republishes every status topic from the current snapshots. Call it
// after (re)connecting so retained topics match live state.
func (b *Bridge) Sync(ctx context.Context) error {
	if !b.transport.IsConnected() {
		return mqttclient.ErrNotConnected
	}
	var errs []error
	if b.zones != nil {
		for _, s := range b.zones.States() {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, n := range notify.FromZoneState(s) {
				errs = append(errs, b.publishNotification(n))
			}
			errs = append(errs, b.publishStatus(feature.ZoneState, s.Index, s))
		}
	}
	if b.clients != nil {
		for _, s := range b.clients.States() {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, n := range notify.FromClientState(s) {
				errs = append(errs, b.publishNotification(n))
			}
			errs = append(errs, b.publishStatus(feature.ClientState, s.Index, s))
		}
	}
	return errors.Join(errs...)
}

// ============================================================================
// Logging and metrics
// ============================================================================

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// BridgeMetrics contains counters for the system status endpoint.
type BridgeMetrics struct {
	Connected        bool   `json:"connected"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	StatusPublished  uint64 `json:"status_published"`
	PublishErrors    uint64 `json:"publish_errors"`
}

// GetMetrics returns the current counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		Connected:        b.transport.IsConnected(),
		CommandsReceived: b.received.Load(),
		CommandsFailed:   b.failed.Load(),
		StatusPublished:  b.published.Load(),
		PublishErrors:    b.pubErrors.Load(),
	}
}
