package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/esphive/esphive-core/internal/infrastructure/config"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
)

const msPerSecond = 1000

// Client wraps the non-blocking InfluxDB write API. Points are
// batched in the background; write errors are logged, never returned,
// since the mirror is best-effort by design.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger
}

// Connect creates the client and starts the background error drain.
// The connection itself is lazy; a wrong URL surfaces as logged write
// errors, not here.
func Connect(cfg config.InfluxDBConfig, logger *logging.Logger) *Client {
	log := logger.With("component", "influxdb")

	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(uint(cfg.BatchSize))
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval * msPerSecond))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	go func() {
		for err := range writeAPI.Errors() {
			log.Error("influxdb write failed", "error", err)
		}
	}()

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		logger:   log,
	}
}

// WritePoint queues one point for batched delivery. Never blocks.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	c.writeAPI.WritePoint(influxdb2.NewPoint(measurement, tags, fields, ts))
}

// Close flushes pending points and shuts the client down.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
	c.logger.Info("influxdb client closed")
}
