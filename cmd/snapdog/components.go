package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/auth"
	"github.com/metaneutrons/snapdog2-sub010/internal/bridges/knx"
	mqttbridge "github.com/metaneutrons/snapdog2-sub010/internal/bridges/mqtt"
	"github.com/metaneutrons/snapdog2-sub010/internal/catalog"
	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/command"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/logging"
	mqttclient "github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/mqtt"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/snapcast"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// ============================================================================
// Snapcast and aggregates
// ============================================================================

type audioParts struct {
	rpc     *snapcast.Client
	zones   *zone.Manager
	clients *client.Manager
}

// connectSnapcast dials the server, reads its status once and builds the
// zone and client aggregates seeded from it. A failed status read is not
// fatal: aggregates then start from configured defaults.
func connectSnapcast(ctx context.Context, cfg *config.Config, store catalog.Store, log *logging.Logger) (*audioParts, error) {
	rpc, err := snapcast.Dial(ctx, snapcast.Config{
		Address:           cfg.Snapcast.Address,
		ConnectTimeout:    config.Seconds(cfg.Snapcast.ConnectTimeout),
		ReconnectInterval: config.Seconds(cfg.Snapcast.ReconnectInterval),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to Snapcast: %w", err)
	}
	rpc.SetLogger(log.Component("snapcast"))
	log.Info("Snapcast connected", "address", cfg.Snapcast.Address)

	status, err := rpc.Status(ctx)
	if err != nil {
		log.Warn("reading Snapcast status failed, starting from defaults", "error", err)
	}

	bindings := zoneBindings(cfg.Zones)
	zoneCtrl := snapcast.NewZoneController(rpc, bindings)
	clientCtrl := snapcast.NewClientController(rpc, clientIDs(cfg.Clients), bindings)
	clientCtrl.Seed(status)

	callTimeout := config.Seconds(cfg.Snapcast.CallTimeout)

	zones := make([]*zone.Zone, 0, len(cfg.Zones))
	for _, zc := range cfg.Zones {
		z, err := zone.New(
			zone.Config{Index: zc.Index, Name: zc.Name, Volume: zc.Volume},
			zoneCtrl,
			store,
			zone.WithCallTimeout(callTimeout),
			zone.WithInitialState(snapcast.ZoneSeed(status, bindings[zc.Index])),
		)
		if err != nil {
			rpc.Close() //nolint:errcheck // startup failure path
			return nil, fmt.Errorf("creating zone %d: %w", zc.Index, err)
		}
		zones = append(zones, z)
	}
	zoneMgr, err := zone.NewManager(zones...)
	if err != nil {
		rpc.Close() //nolint:errcheck // startup failure path
		return nil, fmt.Errorf("creating zone manager: %w", err)
	}

	clients := make([]*client.Client, 0, len(cfg.Clients))
	for _, cc := range cfg.Clients {
		c, err := client.New(
			client.Config{Index: cc.Index, Name: cc.Name, SnapcastID: cc.SnapcastID, ZoneIndex: cc.Zone},
			clientCtrl,
			zoneMgr,
			snapcast.ClientSeed(status, cc.SnapcastID, bindings),
		)
		if err != nil {
			rpc.Close() //nolint:errcheck // startup failure path
			return nil, fmt.Errorf("creating client %d: %w", cc.Index, err)
		}
		clients = append(clients, c)
	}
	clientMgr, err := client.NewManager(clients...)
	if err != nil {
		rpc.Close() //nolint:errcheck // startup failure path
		return nil, fmt.Errorf("creating client manager: %w", err)
	}

	log.Info("aggregates ready", "zones", zoneMgr.Len(), "clients", clientMgr.Len())
	return &audioParts{rpc: rpc, zones: zoneMgr, clients: clientMgr}, nil
}

func zoneBindings(zones []config.ZoneConfig) map[int]snapcast.ZoneBinding {
	out := make(map[int]snapcast.ZoneBinding, len(zones))
	for _, z := range zones {
		out[z.Index] = snapcast.ZoneBinding{Group: z.Snapcast.Group, Stream: z.Snapcast.Stream}
	}
	return out
}

func clientIDs(clients []config.ClientConfig) map[int]string {
	out := make(map[int]string, len(clients))
	for _, c := range clients {
		out[c.Index] = c.SnapcastID
	}
	return out
}

// ============================================================================
// Protocol bridges
// ============================================================================

// bridgeDeps are the collaborators every protocol bridge needs.
type bridgeDeps struct {
	registry   *feature.Registry
	pipeline   *pipeline.Pipeline
	dispatcher *notify.Dispatcher
	audio      *audioParts
}

type mqttParts struct {
	client *mqttclient.Client
}

// connectMQTT returns nil when MQTT is disabled.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqttParts, error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}
	c, err := mqttclient.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	c.SetLogger(log.Component("mqtt"))
	c.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return &mqttParts{client: c}, nil
}

// startBridge subscribes to command topics, publishes every status once and
// republishes after each reconnect.
func (m *mqttParts) startBridge(ctx context.Context, cfg config.MQTTConfig, deps bridgeDeps, log *logging.Logger) (*mqttbridge.Bridge, error) {
	bridge, err := mqttbridge.NewBridge(mqttbridge.BridgeOptions{
		Transport:  m.client,
		Dispatcher: deps.pipeline,
		Registry:   deps.registry,
		Topics:     mqttclient.NewTopics(cfg.BaseTopic),
		QoS:        byte(cfg.QoS), // #nosec G115 -- validated to 0..2 by config
		Zones:      deps.audio.zones,
		Clients:    deps.audio.clients,
		Logger:     log.Component("mqtt-bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	deps.dispatcher.SubscribeAll("mqtt", bridge.HandleNotification)

	if err := bridge.Sync(ctx); err != nil {
		log.Warn("initial MQTT status sync incomplete", "error", err)
	}
	m.client.SetOnConnect(func() {
		log.Info("MQTT reconnected, resyncing status topics")
		go func() {
			if err := bridge.Sync(ctx); err != nil {
				log.Warn("MQTT status sync incomplete", "error", err)
			}
		}()
	})
	return bridge, nil
}

func (m *mqttParts) close(log *logging.Logger) {
	log.Info("disconnecting from MQTT")
	if err := m.client.Close(); err != nil {
		log.Error("error closing MQTT", "error", err)
	}
}

type knxParts struct {
	client *knx.Client
}

// connectKNX returns nil when KNX is disabled.
func connectKNX(ctx context.Context, cfg config.KNXConfig, log *logging.Logger) (*knxParts, error) {
	if !cfg.Enabled {
		log.Info("KNX disabled")
		return nil, nil
	}
	connCfg := knx.ConnConfigFrom(cfg)
	c, err := knx.Dial(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to knxd: %w", err)
	}
	c.SetLogger(log.Component("knx"))
	log.Info("connected to knxd", "url", connCfg.Connection)
	return &knxParts{client: c}, nil
}

func (k *knxParts) startBridge(ctx context.Context, cfg *config.Config, deps bridgeDeps, log *logging.Logger) (*knx.Bridge, error) {
	addrs := knx.AddressesFromConfig(cfg.Zones, cfg.Clients)
	bridge, err := knx.NewBridge(knx.BridgeOptions{
		Connector:  k.client,
		Dispatcher: deps.pipeline,
		Registry:   deps.registry,
		Addresses:  addrs,
		Zones:      deps.audio.zones,
		Clients:    deps.audio.clients,
		Logger:     log.Component("knx-bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating KNX bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting KNX bridge: %w", err)
	}
	deps.dispatcher.SubscribeAll("knx", bridge.HandleNotification)
	log.Info("KNX bridge started", "bindings", len(addrs))
	return bridge, nil
}

func (k *knxParts) close(log *logging.Logger) {
	log.Info("disconnecting from knxd")
	if err := k.client.Close(); err != nil {
		log.Error("error closing knxd connection", "error", err)
	}
}

// ============================================================================
// Build info and tokens
// ============================================================================

func versionInfo() command.VersionInfo {
	return command.VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: date,
		GoVersion: runtime.Version(),
	}
}

// issueToken prints a bearer token for the API. grant is "subject:role".
// The secret and issuer come from the loaded configuration.
func issueToken(w io.Writer, grant string, ttl time.Duration) error {
	subject, role, err := parseGrant(grant)
	if err != nil {
		return err
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.IssueToken(subject, role, cfg.API.Auth.JWTSecret, cfg.API.Auth.Issuer, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func parseGrant(grant string) (string, auth.Role, error) {
	subject, role, ok := strings.Cut(grant, ":")
	if !ok || subject == "" || role == "" {
		return "", "", fmt.Errorf("grant %q: want subject:role", grant)
	}
	r := auth.Role(role)
	if !auth.IsValidRole(r) {
		return "", "", fmt.Errorf("grant %q: unknown role %q", grant, role)
	}
	return subject, r, nil
}

// hashPassword reads one password line from r and prints its hash for
// api.auth.users[].password_hash.
func hashPassword(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
