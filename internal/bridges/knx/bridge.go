package knx

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/command"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// Bridge operation constants.
const (
	// defaultCommandTimeout bounds one dispatch started from a telegram.
	defaultCommandTimeout = 5 * time.Second

	// echoWindow is how long a written value is remembered so the bus echo
	// of our own write is not taken as a command.
	echoWindow = 2 * time.Second
)

// Playback state codes on DPT 5.010.
const (
	playbackStopped = 0
	playbackPlaying = 1
	playbackPaused  = 2
)

// Dispatcher sends commands through the pipeline.
type Dispatcher interface {
	Send(ctx context.Context, cmd pipeline.Command) pipeline.Result
}

// ZoneStates answers GroupValue_Read on zone status addresses.
type ZoneStates interface {
	State(index int) (zone.State, error)
}

// ClientStates answers GroupValue_Read on client status addresses.
type ClientStates interface {
	State(index int) (client.State, error)
}

// BridgeOptions holds the collaborators of a bridge.
type BridgeOptions struct {
	Connector  Connector
	Dispatcher Dispatcher
	Registry   *feature.Registry
	Addresses  []Addresses

	// Zones and Clients are optional. Without them reads go unanswered.
	Zones   ZoneStates
	Clients ClientStates

	// CommandTimeout defaults to 5s.
	CommandTimeout time.Duration

	Logger Logger
}

// Bridge translates between KNX group telegrams and the command pipeline.
//
// Writes to command addresses become commands. Status notifications become
// writes to status addresses. Reads on status addresses are answered from
// the current zone and client state.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	knxd     Connector
	sender   Dispatcher
	registry *feature.Registry
	index    *Index
	zones    ZoneStates
	clients  ClientStates
	timeout  time.Duration

	// sent remembers the last value written per group address.
	sent   map[uint16]sentValue
	sentMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex

	received   atomic.Uint64
	failed     atomic.Uint64
	ignored    atomic.Uint64
	written    atomic.Uint64
	suppressed atomic.Uint64
	writeErrs  atomic.Uint64
}

type sentValue struct {
	data []byte
	at   time.Time
}

// NewBridge validates the address bindings and creates a bridge. Call Start
// to begin receiving telegrams.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Connector == nil {
		return nil, ErrNoConnector
	}
	if opts.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}

	idx, err := BuildIndex(opts.Registry, opts.Addresses)
	if err != nil {
		return nil, fmt.Errorf("knx addresses: %w", err)
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
		knxd:     opts.Connector,
		sender:   opts.Dispatcher,
		registry: opts.Registry,
		index:    idx,
		zones:    opts.Zones,
		clients:  opts.Clients,
		timeout:  timeout,
		sent:     make(map[uint16]sentValue),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}, nil
}

// Start registers the telegram callback. The bridge stops when ctx is
// cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.knxd.SetOnTelegram(b.handleTelegram)

	for _, s := range b.index.Suppressed {
		b.getLogger().Info("knx status binding kept off the bus", "binding", s)
	}
	b.getLogger().Info("knx bridge started", "bindings", b.index.Len())

	go func() {
		select {
		case <-ctx.Done():
			b.Stop()
		case <-b.ctx.Done():
		}
	}()
	return nil
}

// Stop detaches from the connector and cancels in-flight dispatches. Safe to
// call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.knxd.SetOnTelegram(nil)
		b.cancel()
		b.getLogger().Info("knx bridge stopped")
	})
}

// ============================================================================
// Inbound
// ============================================================================

// handleTelegram processes an incoming telegram from the bus.
func (b *Bridge) handleTelegram(t Telegram) {
	switch {
	case t.IsWrite():
		b.handleWrite(t)
	case t.IsRead():
		b.handleRead(t)
	}
}

func (b *Bridge) handleWrite(t Telegram) {
	binding, ok := b.index.commands[t.Destination.ToUint16()]
	if !ok {
		// Traffic for addresses we don't own.
		return
	}
	if b.isEcho(t) {
		return
	}
	b.received.Add(1)

	arg, fire, err := decodeArg(binding, t.Data)
	if err != nil {
		b.failed.Add(1)
		b.getLogger().Warn("knx command rejected", "ga", t.Destination.String(), "feature", binding.FeatureID, "error", err)
		return
	}
	if !fire {
		b.ignored.Add(1)
		return
	}

	cmd, err := command.FromFeature(binding.FeatureID, binding.Index, pipeline.SourceKNX, arg)
	if err != nil {
		b.failed.Add(1)
		b.getLogger().Warn("knx command rejected", "ga", t.Destination.String(), "feature", binding.FeatureID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	res := b.sender.Send(ctx, cmd)
	if !res.OK() {
		b.failed.Add(1)
		b.getLogger().Warn("knx command failed",
			"ga", t.Destination.String(),
			"operation", res.Operation,
			"kind", res.Err.Kind.String(),
			"error", res.Err)
		return
	}
	b.getLogger().Debug("knx command handled", "ga", t.Destination.String(), "operation", res.Operation)
}

// decodeArg converts telegram data to a command argument. fire is false for
// a trigger written with 0.
func decodeArg(binding commandBinding, data []byte) (arg command.Arg, fire bool, err error) {
	kind, ok := command.ArgOf(binding.FeatureID)
	if !ok {
		return command.Arg{}, false, fmt.Errorf("%w: %s", ErrUnmappedFeature, binding.FeatureID)
	}

	switch binding.DPT {
	case DPTTrigger:
		on, err := DecodeDPT1(data)
		if err != nil {
			return command.Arg{}, false, err
		}
		return command.Arg{}, on, nil
	case DPTSwitch:
		on, err := DecodeDPT1(data)
		if err != nil {
			return command.Arg{}, false, err
		}
		return command.Arg{Bool: on}, true, nil
	case DPTScaling:
		pct, err := percentOf(data)
		if err != nil {
			return command.Arg{}, false, err
		}
		if kind == command.ArgFloat {
			return command.Arg{Float: float64(pct) / 100}, true, nil
		}
		return command.Arg{Int: int64(pct)}, true, nil
	case DPTCount:
		n, err := DecodeDPT5Count(data)
		if err != nil {
			return command.Arg{}, false, err
		}
		return command.Arg{Int: int64(n)}, true, nil
	}
	return command.Arg{}, false, fmt.Errorf("%w: DPT %s", ErrDecodingFailed, binding.DPT)
}

// handleRead answers a GroupValue_Read on a status address.
func (b *Bridge) handleRead(t Telegram) {
	key, ok := b.index.reads[t.Destination.ToUint16()]
	if !ok {
		return
	}
	value, ok := b.currentValue(key)
	if !ok {
		b.getLogger().Debug("knx read unanswered", "ga", t.Destination.String(), "feature", key.ID)
		return
	}
	binding := b.index.status[key]
	if err := b.write(APCIResponse, binding, value); err != nil {
		b.getLogger().Warn("knx read response failed", "ga", t.Destination.String(), "error", err)
	}
}

// currentValue looks up a status value from the live state.
func (b *Bridge) currentValue(key statusKey) (any, bool) {
	switch key.Scope {
	case notify.ScopeZone:
		if b.zones == nil {
			return nil, false
		}
		s, err := b.zones.State(key.Index)
		if err != nil {
			return nil, false
		}
		return zoneValue(s, key.ID)
	case notify.ScopeClient:
		if b.clients == nil {
			return nil, false
		}
		s, err := b.clients.State(key.Index)
		if err != nil {
			return nil, false
		}
		return clientValue(s, key.ID)
	}
	return nil, false
}

func zoneValue(s zone.State, id string) (any, bool) {
	switch id {
	case feature.PlaybackState:
		return string(s.Playback), true
	case feature.VolumeStatus:
		return s.Volume, true
	case feature.MuteStatus:
		return s.Muted, true
	case feature.TrackIndex:
		if s.TrackIndex == nil {
			return nil, false
		}
		return *s.TrackIndex, true
	case feature.PlaylistIndex:
		if s.PlaylistIndex == nil {
			return nil, false
		}
		return *s.PlaylistIndex, true
	case feature.TrackRepeatStatus:
		return s.TrackRepeat, true
	case feature.PlaylistRepeatStatus:
		return s.PlaylistRepeat, true
	case feature.ShuffleStatus:
		return s.Shuffle, true
	}
	return nil, false
}

func clientValue(s client.State, id string) (any, bool) {
	switch id {
	case feature.ClientVolumeStatus:
		return s.Volume, true
	case feature.ClientMuteStatus:
		return s.Muted, true
	case feature.ClientZoneStatus:
		return s.ZoneIndex, true
	}
	return nil, false
}

// ============================================================================
// Outbound
// ============================================================================

// HandleNotification writes the status value of n to its bound group
// address. Features excluded from KNX are never written. It is a
// notify.Handler.
func (b *Bridge) HandleNotification(_ context.Context, n notify.Notification) error {
	key := statusKey{Scope: n.Scope(), Index: n.Index(), ID: n.StatusID()}
	binding, ok := b.index.status[key]
	if !ok {
		return nil
	}
	if !b.registry.IsProtocolSupported(key.ID, feature.ProtocolKNX) {
		b.suppressed.Add(1)
		return nil
	}
	if err := b.write(APCIWrite, binding, n.Value()); err != nil {
		return fmt.Errorf("knx %s %d %s: %w", key.Scope, key.Index, key.ID, err)
	}
	return nil
}

func (b *Bridge) write(apci byte, binding statusBinding, value any) error {
	data, err := encodeValue(binding.DPT, value)
	if err != nil {
		b.writeErrs.Add(1)
		return err
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	if err := b.knxd.Send(ctx, newTelegram(apci, binding.GA, binding.DPT, data)); err != nil {
		b.writeErrs.Add(1)
		return err
	}
	b.remember(binding.GA, data)
	b.written.Add(1)
	return nil
}

// encodeValue converts a notification value to telegram data.
func encodeValue(dpt DPT, value any) ([]byte, error) {
	switch v := value.(type) {
	case bool:
		if dpt == DPTSwitch || dpt == DPTTrigger {
			return EncodeDPT1(v), nil
		}
	case int:
		switch dpt {
		case DPTScaling:
			return EncodeDPT5(float64(v)), nil
		case DPTCount:
			return EncodeDPT5Count(v)
		}
	case string:
		if dpt == DPTCount {
			code, ok := playbackCode(v)
			if !ok {
				return nil, fmt.Errorf("%w: unknown playback state %q", ErrEncodingFailed, v)
			}
			return EncodeDPT5Count(code)
		}
	}
	return nil, fmt.Errorf("%w: %T as DPT %s", ErrEncodingFailed, value, dpt)
}

func playbackCode(state string) (int, bool) {
	switch zone.PlaybackState(state) {
	case zone.Stopped:
		return playbackStopped, true
	case zone.Playing:
		return playbackPlaying, true
	case zone.Paused:
		return playbackPaused, true
	}
	return 0, false
}

// ============================================================================
// Echo suppression
// ============================================================================

func (b *Bridge) remember(ga GroupAddress, data []byte) {
	b.sentMu.Lock()
	b.sent[ga.ToUint16()] = sentValue{data: append([]byte(nil), data...), at: time.Now()}
	b.sentMu.Unlock()
}

// isEcho reports whether t repeats a value this bridge wrote recently.
func (b *Bridge) isEcho(t Telegram) bool {
	b.sentMu.Lock()
	defer b.sentMu.Unlock()

	key := t.Destination.ToUint16()
	last, ok := b.sent[key]
	if !ok {
		return false
	}
	if time.Since(last.at) > echoWindow {
		delete(b.sent, key)
		return false
	}
	if !bytes.Equal(last.data, t.Data) {
		return false
	}
	delete(b.sent, key)
	return true
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
	Status           string `json:"status"`
	Bindings         int    `json:"bindings"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	TriggersIgnored  uint64 `json:"triggers_ignored"`
	StatusWritten    uint64 `json:"status_written"`
	StatusSuppressed uint64 `json:"status_suppressed"`
	WriteErrors      uint64 `json:"write_errors"`
	Bus              Stats  `json:"bus"`
}

// GetMetrics returns the current counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats := b.knxd.Stats()
	status := "disconnected"
	switch {
	case b.knxd.IsConnected():
		status = "healthy"
	case stats.Reconnecting:
		status = "reconnecting"
	}
	return BridgeMetrics{
		Connected:        b.knxd.IsConnected(),
		Status:           status,
		Bindings:         b.index.Len(),
		CommandsReceived: b.received.Load(),
		CommandsFailed:   b.failed.Load(),
		TriggersIgnored:  b.ignored.Load(),
		StatusWritten:    b.written.Load(),
		StatusSuppressed: b.suppressed.Load(),
		WriteErrors:      b.writeErrs.Load(),
		Bus:              stats,
	}
}
