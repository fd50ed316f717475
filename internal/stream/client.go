package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/esphive/esphive-core/internal/infrastructure/logging"
	"github.com/esphive/esphive-core/internal/telemetry"
)

const (
	// eventStateMarker arms the next data line for decoding.
	// Compared case-insensitively against the full line.
	eventStateMarker = "event: state"

	// dataJSONPrefix identifies a decodable data line. The JSON payload
	// starts at dataPayloadOffset, immediately after "data: ".
	dataJSONPrefix    = "data: {"
	dataPayloadOffset = 6
)

// Sink receives everything a Client produces. Implementations must be
// safe for concurrent use; a Manager runs one Client per endpoint and
// all of them deliver into the same Sink.
type Sink interface {
	// HandleEvent delivers a decoded state event.
	HandleEvent(endpoint string, ev telemetry.Event)

	// HandleRawLine delivers every received line verbatim, including
	// lines that also decoded into an event.
	HandleRawLine(endpoint string, line string)

	// HandleError delivers transient stream failures. The client has
	// already scheduled its own retry; the sink only observes.
	HandleError(endpoint string, err error)
}

// Prober checks endpoint reachability before a connection attempt.
// It returns whether the host answered, and a non-nil error only for
// failures worth reporting (not for a plain unreachable host).
type Prober func(ctx context.Context, host string, timeout time.Duration) (bool, error)

// Options tunes a Client. Zero-value fields fall back to defaults.
type Options struct {
	// ProbeTimeout bounds a single reachability probe.
	ProbeTimeout time.Duration

	// RetryDelay is the fixed pause between retry cycles. Constant by
	// design; there is no backoff.
	RetryDelay time.Duration

	// IdleDeadline aborts a connection that received no line for this
	// long. Re-armed on every line.
	IdleDeadline time.Duration

	// HTTPClient overrides the transport. Defaults to a client with no
	// overall request timeout, since the stream is long-lived.
	HTTPClient *http.Client

	// Probe overrides the reachability check. Defaults to an ICMP ping.
	Probe Prober

	// Clock drives retry delays and receive timestamps.
	Clock clockwork.Clock

	// Logger receives lifecycle logging. Required.
	Logger *logging.Logger
}

func (o *Options) fillDefaults() {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.IdleDeadline <= 0 {
		o.IdleDeadline = 2 * time.Minute
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Probe == nil {
		o.Probe = pingProbe
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Client maintains one endpoint's stream: probe, connect, parse lines,
// and reconnect on any failure after a fixed delay, until stopped.
//
// Thread Safety:
//   - Start and Stop are safe for concurrent use. A second Start while
//     the loop is running is a no-op; Stop blocks until the loop has
//     fully exited and is a no-op when nothing runs.
type Client struct {
	endpoint string
	host     string
	sink     Sink
	opts     Options
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient creates a Client for one endpoint URL.
//
// Parameters:
//   - endpoint: Full stream URL, e.g. "http://esp-garage.local/events"
//   - sink: Receiver for events, raw lines, and errors
//   - opts: Tuning; zero-value fields use defaults
//
// Returns:
//   - *Client: Ready to Start
//   - error: If the endpoint URL cannot be parsed
func NewClient(endpoint string, sink Sink, opts Options) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}

	opts.fillDefaults()

	return &Client{
		endpoint: endpoint,
		host:     u.Hostname(),
		sink:     sink,
		opts:     opts,
		logger:   opts.Logger.With("component", "stream", "endpoint", endpoint),
	}, nil
}

// Endpoint returns the stream URL this client monitors.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Start launches the monitoring loop. No-op if already running.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx, c.done)
}

// Stop terminates the loop and blocks until it has fully exited.
// After Stop returns, the client delivers nothing more to its sink.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// run is the reconnect loop. Every exit path from one cycle leads back
// to the probe after a fixed delay, until the context is cancelled.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.logger.Info("stream monitoring started")

	for ctx.Err() == nil {
		ok, err := c.opts.Probe(ctx, c.host, c.opts.ProbeTimeout)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			c.sink.HandleError(c.endpoint, fmt.Errorf("probing %s: %w", c.host, err))
		}
		if !ok {
			c.logger.Debug("endpoint unreachable, waiting")
			if !c.sleep(ctx) {
				break
			}
			continue
		}

		if err := c.monitor(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.sink.HandleError(c.endpoint, err)
			c.logger.Warn("stream interrupted", "error", err)
			if !c.sleep(ctx) {
				break
			}
		}
	}

	c.logger.Info("stream monitoring stopped")
}

// sleep waits one retry delay. Returns false when the context ended.
func (c *Client) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.opts.Clock.After(c.opts.RetryDelay):
		return true
	}
}

// monitor holds one connection open and parses its lines until the
// stream fails, the idle deadline elapses, or the context is cancelled.
// A nil return means cancellation; anything else is a transient error
// the caller reports and retries.
func (c *Client) monitor(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The idle timer cancels the in-flight read via the request
	// context; timedOut lets us tell that apart from a Stop.
	var timedOut atomic.Bool
	idle := time.AfterFunc(c.opts.IdleDeadline, func() {
		timedOut.Store(true)
		cancel()
	})
	defer idle.Stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("building stream request: %w", err)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if timedOut.Load() {
			return fmt.Errorf("%w while connecting", ErrIdleTimeout)
		}
		return fmt.Errorf("connecting to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	c.logger.Info("stream connected")

	reader := bufio.NewReader(resp.Body)
	armed := false

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			switch {
			case ctx.Err() != nil && !timedOut.Load():
				return nil
			case timedOut.Load():
				return ErrIdleTimeout
			default:
				// EOF and transport errors both mean the remote side
				// went away mid-stream.
				return fmt.Errorf("%w: %v", ErrRemoteClosed, err)
			}
		}

		idle.Reset(c.opts.IdleDeadline)
		line = strings.TrimRight(line, "\r\n")

		c.sink.HandleRawLine(c.endpoint, line)

		if armed && isDataLine(line) {
			c.decode(line)
		}
		armed = strings.EqualFold(line, eventStateMarker)
	}
}

// decode parses the JSON payload of an armed data line and delivers
// the event. Decode failures drop the frame and keep the stream alive.
func (c *Client) decode(line string) {
	var ev telemetry.Event
	if err := json.Unmarshal([]byte(line[dataPayloadOffset:]), &ev); err != nil {
		c.sink.HandleError(c.endpoint, fmt.Errorf("%w: %v", ErrDecode, err))
		return
	}
	ev.ReceivedAt = c.opts.Clock.Now().Unix()
	c.sink.HandleEvent(c.endpoint, ev)
}

// isDataLine reports whether the line carries a JSON payload,
// matched case-insensitively on the "data: {" prefix.
func isDataLine(line string) bool {
	return len(line) > dataPayloadOffset &&
		strings.EqualFold(line[:len(dataJSONPrefix)], dataJSONPrefix)
}
