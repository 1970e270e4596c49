package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/logging"
)

// watchReload re-reads the config file on SIGHUP and applies
// logging.level. Every other section needs a restart.
func watchReload(ctx context.Context, path string, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reloadLogLevel(path, log); err != nil {
				log.Warn("config reload failed, keeping current settings", "error", err)
			}
		}
	}
}

func reloadLogLevel(path string, log *logging.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.SetLevel(cfg.Logging.Level)
	log.Info("log level reloaded", "level", log.Level().String())
	return nil
}
