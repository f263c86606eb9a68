package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/terrarium-core/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes terrarium telemetry to one InfluxDB bucket.
//
// Readings use the blocking write API so the poller learns about failures.
// Actuator changes are best-effort and go through the batched API; their
// failures are delivered to the SetOnError callback.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	influx   influxdb2.Client
	batched  api.WriteAPI
	blocking api.WriteAPIBlocking
	closed   atomic.Bool

	onErrorMu sync.RWMutex
	onError   func(err error)
}

// Connect creates the client and pings the server once.
//
// Parameters:
//   - cfg: the influxdb config section
//   - siteID: value of the "site" tag added to every point; empty for none
//
// Returns:
//   - error: ErrDisabled when cfg.Enabled is false, ErrConnectionFailed when
//     the ping fails
func Connect(cfg config.InfluxDBConfig, siteID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg, siteID))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx:   influx,
		batched:  influx.WriteAPI(cfg.Org, cfg.Bucket),
		blocking: influx.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
	go c.forwardErrors(c.batched.Errors())
	return c, nil
}

// clientOptions applies batch settings, falling back to 100 points and
// 10 seconds for unset values.
func clientOptions(cfg config.InfluxDBConfig, siteID string) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
	if siteID != "" {
		opts.AddDefaultTag("site", siteID)
	}
	return opts
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("server not ready")
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.onErrorMu.RLock()
		fn := c.onError
		c.onErrorMu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError registers fn for failed batched writes.
func (c *Client) SetOnError(fn func(err error)) {
	c.onErrorMu.Lock()
	c.onError = fn
	c.onErrorMu.Unlock()
}

// IsConnected reports whether the client is open. It does not contact the
// server; HealthCheck does.
func (c *Client) IsConnected() bool {
	return c.influx != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends buffered actuator points now. It is a no-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.batched.Flush()
	}
}

// Close flushes buffered points and releases the client. Later calls do
// nothing.
func (c *Client) Close() error {
	if c.influx == nil || c.closed.Swap(true) {
		return nil
	}
	c.batched.Flush()
	c.influx.Close()
	return nil
}
