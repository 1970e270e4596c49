// SnapDog - multi-room audio hub
//
// This is the main entry point for the SnapDog service. It wires the zone
// and client aggregates to Snapcast, puts the command pipeline in front of
// them and exposes it over REST/WebSocket, MQTT and KNX.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/metaneutrons/snapdog2-sub010/migrations"

	"github.com/metaneutrons/snapdog2-sub010/internal/api"
	"github.com/metaneutrons/snapdog2-sub010/internal/cache"
	"github.com/metaneutrons/snapdog2-sub010/internal/catalog"
	"github.com/metaneutrons/snapdog2-sub010/internal/command"
	"github.com/metaneutrons/snapdog2-sub010/internal/discovery"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/database"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/influxdb"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/logging"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/tracing"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/snapcast"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "snapdog"

	shutdownTimeout    = 10 * time.Second
	cacheSweepInterval = time.Minute
)

func main() {
	issue := flag.String("issue-token", "", "print an API token for `subject:role` and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of a token printed by -issue-token")
	hashPw := flag.Bool("hash-password", false, "read a password from stdin, print its hash and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case *hashPw:
		err = hashPassword(os.Stdin, os.Stdout)
	case *issue != "":
		err = issueToken(os.Stdout, *issue, *tokenTTL)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SnapDog",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"zones", len(cfg.Zones),
		"clients", len(cfg.Clients),
	)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, serviceName, version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Error("error flushing traces", "error", err)
		}
	}()

	// Storage
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	journal, err := openJournal(ctx, cfg.Database, db, log)
	if err != nil {
		return err
	}

	store := catalog.NewSQLite(db)
	if cfg.Catalog.SeedFile != "" {
		n, err := catalog.Apply(ctx, store, cfg.Catalog.SeedFile)
		if err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}
		log.Info("catalog seeded", "path", cfg.Catalog.SeedFile, "playlists", n)
	}

	// Audio backend and aggregates
	audio, err := connectSnapcast(ctx, cfg, store, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from Snapcast")
		if closeErr := audio.rpc.Close(); closeErr != nil {
			log.Error("error closing Snapcast", "error", closeErr)
		}
	}()

	// Pipeline
	dispatcher := notify.NewDispatcher()
	dispatcher.SetLogger(log.Component("notify"))

	stats := pipeline.NewStats()
	sinks := pipeline.MultiSink{stats}

	influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, influx)
		dispatcher.SubscribeAll("influxdb", influx.HandleNotification)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	g, gctx := errgroup.WithContext(ctx)

	opts := []pipeline.Option{
		pipeline.WithLogger(log.Component("pipeline")),
		pipeline.WithMetrics(sinks),
		pipeline.WithTxProvider(db),
	}
	if cfg.Pipeline.Cache {
		ttl := cache.NewTTL()
		opts = append(opts, pipeline.WithCache(ttl))
		g.Go(func() error {
			ttl.Run(gctx, cacheSweepInterval)
			return nil
		})
	}
	p := pipeline.New(pipeline.Config{
		SlowCommand:   config.Millis(cfg.Pipeline.SlowCommandMs),
		SlowQuery:     config.Millis(cfg.Pipeline.SlowQueryMs),
		TxTimeout:     config.Seconds(cfg.Pipeline.TxTimeout),
		BulkTxTimeout: config.Seconds(cfg.Pipeline.BulkTxTimeout),
	}, opts...)

	// Protocol transports
	registry := feature.Default()
	probes := map[string]command.Probe{"snapcast": audio.rpc}

	mq, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	if mq != nil {
		defer mq.close(log)
		probes["mqtt"] = mq.client
	}

	kn, err := connectKNX(ctx, cfg.KNX, log)
	if err != nil {
		return err
	}
	if kn != nil {
		defer kn.close(log)
		probes["knx"] = kn.client
	}

	handlers, err := command.New(command.Deps{
		Zones:    audio.zones,
		Clients:  audio.clients,
		Catalog:  store,
		Notifier: dispatcher,
		Journal:  journal,
		Stats:    stats,
		Probes:   probes,
		Version:  versionInfo(),
		Logger:   log.Component("command"),
	})
	if err != nil {
		return fmt.Errorf("creating command handlers: %w", err)
	}
	handlers.Register(p)
	log.Info("command pipeline ready", "features", registry.Len())

	// Bridges
	deps := bridgeDeps{
		registry:   registry,
		pipeline:   p,
		dispatcher: dispatcher,
		audio:      audio,
	}
	var apiDeps api.Deps
	if mq != nil {
		bridge, err := mq.startBridge(ctx, cfg.MQTT, deps, log)
		if err != nil {
			return err
		}
		defer bridge.Stop()
		apiDeps.MQTT = bridge
	}
	if kn != nil {
		bridge, err := kn.startBridge(ctx, cfg, deps, log)
		if err != nil {
			return err
		}
		defer bridge.Stop()
		apiDeps.KNX = bridge
	}

	if cfg.API.Enabled {
		apiDeps.Config = cfg.API
		apiDeps.Logger = log.Component("api")
		apiDeps.Pipeline = p
		apiDeps.Registry = registry
		apiDeps.Version = version

		srv, err := api.New(apiDeps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		dispatcher.SubscribeAll("websocket", srv.Hub().HandleNotification)

		if cfg.Discovery.Enabled {
			adv, err := discovery.New(cfg.Discovery, cfg.API.Port, version, log.Component("discovery"))
			if err != nil {
				return fmt.Errorf("creating mDNS advertiser: %w", err)
			}
			g.Go(func() error {
				if err := adv.Run(gctx); err != nil {
					// mDNS is a convenience; the hub stays usable without it.
					log.Warn("mDNS advertisement failed", "error", err)
				}
				return nil
			})
		}
	} else {
		log.Info("API disabled")
	}

	if cfg.Catalog.SeedFile != "" && cfg.Catalog.Watch {
		w := catalog.NewWatcher(cfg.Catalog.SeedFile, store)
		w.SetLogger(log.Component("catalog"))
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error {
		watchReload(gctx, configPath, log)
		return nil
	})

	if err := healthCheck(ctx, db, audio.rpc, mq, influx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	// Deferred Close() calls run in reverse order: bridges, API, transports,
	// InfluxDB, Snapcast, database, tracing.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SNAPDOG_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SNAPDOG_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the startup connections. Optional parts may be nil.
func healthCheck(ctx context.Context, db *database.DB, audio *snapcast.Client, mq *mqttParts, influx *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if !audio.IsConnected() {
		return errors.New("snapcast: not connected")
	}
	if mq != nil {
		if err := mq.client.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influx != nil {
		if err := influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

func openJournal(ctx context.Context, cfg config.DatabaseConfig, db *database.DB, log *logging.Logger) (command.Journal, error) {
	if !cfg.Journal {
		return nil, nil
	}
	j := database.NewJournal(db)
	if cfg.JournalRetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.JournalRetentionDays)
		n, err := j.Prune(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("pruning command journal: %w", err)
		}
		log.Info("command journal pruned", "removed", n, "retention_days", cfg.JournalRetentionDays)
	}
	return j, nil
}
