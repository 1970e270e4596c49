// Package discovery advertises the SnapDog API on the local network over
// mDNS/DNS-SD so controllers can find it without configuration.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"

	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/logging"
)

// Defaults applied when the discovery section leaves a field empty.
const (
	DefaultService = "_snapdog._tcp"
	DefaultDomain  = "local."
)

// ErrInvalidPort is returned when the advertised port is not usable.
var ErrInvalidPort = errors.New("discovery: invalid port")

// Advertiser publishes one service record until its context ends.
type Advertiser struct {
	instance string
	service  string
	domain   string
	port     int
	txt      []string
	logger   *logging.Logger
}

// New builds an advertiser for the API listening on port.
func New(cfg config.DiscoveryConfig, port int, version string, logger *logging.Logger) (*Advertiser, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	a := &Advertiser{
		instance: cfg.Instance,
		service:  cfg.Service,
		domain:   cfg.Domain,
		port:     port,
		txt:      []string{"version=" + version, "path=/api/v1"},
		logger:   logger,
	}
	if a.instance == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "snapdog"
		}
		a.instance = host
	}
	if a.service == "" {
		a.service = DefaultService
	}
	if a.domain == "" {
		a.domain = DefaultDomain
	}
	return a, nil
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string { return a.instance }

// TXT returns the advertised TXT records.
func (a *Advertiser) TXT() []string { return a.txt }

// Run registers the service and blocks until ctx is cancelled, then
// withdraws the record.
func (a *Advertiser) Run(ctx context.Context) error {
	server, err := zeroconf.Register(a.instance, a.service, a.domain, a.port, a.txt, nil)
	if err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}
	a.logger.Info("mDNS service registered",
		"instance", a.instance,
		"service", a.service,
		"port", a.port,
	)

	<-ctx.Done()

	server.Shutdown()
	a.logger.Info("mDNS service withdrawn")
	return nil
}
