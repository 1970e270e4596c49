package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize = 100
	fallbackFlush     = 10 // seconds
)

// Client writes SnapDog operation samples and status changes to InfluxDB.
// Writes go through the library's batching write API and never block the
// caller. Safe for concurrent use; a nil *Client is inert.
type Client struct {
	influx influxdb2.Client
	writes api.WriteAPI
	bucket string

	up        atomic.Bool
	failures  atomic.Uint64
	onFailure atomic.Pointer[func(error)]
}

// Connect pings the server and starts the batched writer. A disabled
// section yields ErrDisabled so callers can branch on it.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		influx: influx,
		writes: influx.WriteAPI(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
	}
	c.up.Store(true)
	go c.drainErrors(c.writes.Errors())
	return c, nil
}

func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = fallbackBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = fallbackFlush
	}
	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(config.Seconds(flush) / time.Millisecond)).
		SetPrecision(time.Millisecond)
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	switch {
	case err != nil:
		return err
	case !ok:
		return errors.New("server reports unhealthy")
	}
	return nil
}

// drainErrors runs until the write API is closed.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)
		if fn := c.onFailure.Load(); fn != nil {
			(*fn)(err)
		}
	}
}

// SetOnError registers a callback for asynchronous write failures.
// Passing nil removes it.
func (c *Client) SetOnError(fn func(error)) {
	if fn == nil {
		c.onFailure.Store(nil)
		return
	}
	c.onFailure.Store(&fn)
}

// WriteErrors returns how many batches the server rejected so far.
func (c *Client) WriteErrors() uint64 {
	if c == nil {
		return 0
	}
	return c.failures.Load()
}

// Bucket returns the bucket points are written to.
func (c *Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c != nil && c.up.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(pingCtx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush blocks until buffered points are sent.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writes.Flush()
	}
}

// Close flushes what is buffered and releases the client. Calling it
// more than once, or on nil, is fine.
func (c *Client) Close() error {
	if c == nil || !c.up.CompareAndSwap(true, false) {
		return nil
	}
	c.writes.Flush()
	c.influx.Close()
	return nil
}
