package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(config.DiscoveryConfig{Enabled: true}, 5555, "1.2.3", testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.service != DefaultService {
		t.Errorf("service = %q, want %q", a.service, DefaultService)
	}
	if a.domain != DefaultDomain {
		t.Errorf("domain = %q, want %q", a.domain, DefaultDomain)
	}
	if a.Instance() == "" {
		t.Error("Instance() is empty, want the hostname fallback")
	}
	if txt := a.TXT(); len(txt) == 0 || txt[0] != "version=1.2.3" {
		t.Errorf("TXT() = %v, want version first", txt)
	}
}

func TestNew_Configured(t *testing.T) {
	a, err := New(config.DiscoveryConfig{
		Instance: "living-room-hub",
		Service:  "_audio._tcp",
		Domain:   "home.arpa.",
	}, 8080, "dev", testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Instance() != "living-room-hub" || a.service != "_audio._tcp" || a.domain != "home.arpa." {
		t.Errorf("advertiser = %+v", a)
	}
}

func TestNew_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		if _, err := New(config.DiscoveryConfig{}, port, "dev", testLogger()); !errors.Is(err, ErrInvalidPort) {
			t.Errorf("New(port=%d) error = %v, want ErrInvalidPort", port, err)
		}
	}
}

// Run must return once the context ends. Multicast may be unavailable in
// CI, in which case Register fails and Run returns early.
func TestRun_ReturnsOnCancel(t *testing.T) {
	a, err := New(config.DiscoveryConfig{Instance: "snapdog-test"}, 18080, "test", testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Logf("Run() error = %v (multicast unavailable?)", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
