package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/esphive/esphive-core/internal/infrastructure/config"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
	"github.com/esphive/esphive-core/internal/telemetry"
)

// ─── Test Helpers ───────────────────────────────────────────────────────────

type captureSink struct {
	mu     sync.Mutex
	events []telemetry.Event
	lines  []string
	errs   []error
}

func (s *captureSink) HandleEvent(_ string, ev telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) HandleRawLine(_ string, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *captureSink) HandleError(_ string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *captureSink) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) event(i int) telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[i]
}

func (s *captureSink) lineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

func (s *captureSink) hasError(target error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, err := range s.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func alwaysReachable(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

// streamHandler writes each scripted line, flushes, then either holds
// the connection open until the client goes away or closes it.
func streamHandler(lines []string, hold bool, connCount *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if connCount != nil {
			connCount.Add(1)
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for _, line := range lines {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
			flusher.Flush()
		}

		if hold {
			<-r.Context().Done()
		}
	}
}

func testOptions(probe Prober) Options {
	return Options{
		ProbeTimeout: 100 * time.Millisecond,
		RetryDelay:   10 * time.Millisecond,
		IdleDeadline: 5 * time.Second,
		Probe:        probe,
		Logger:       testLogger(),
	}
}

// ─── Framing and Decoding ───────────────────────────────────────────────────

func TestClientDecodesArmedDataLine(t *testing.T) {
	lines := []string{
		"event: state",
		`data: {"id":"sensor-esp-garage_power","value":"3.14159","name":"Power","state":"3.14 W","event_type":""}`,
	}
	srv := httptest.NewServer(streamHandler(lines, true, nil))
	defer srv.Close()

	sink := &captureSink{}
	client, err := NewClient(srv.URL, sink, testOptions(alwaysReachable))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.Start()
	defer client.Stop()

	waitFor(t, 2*time.Second, func() bool { return sink.eventCount() == 1 }, "no event decoded")

	ev := sink.event(0)
	if ev.ID != "sensor-esp-garage_power" {
		t.Errorf("event ID = %q", ev.ID)
	}
	if ev.Value != "3.14159" {
		t.Errorf("event Value = %v, want raw string", ev.Value)
	}
	if ev.Explicit() {
		t.Error("empty event_type must not be explicit")
	}
	if ev.ReceivedAt == 0 {
		t.Error("ReceivedAt not stamped")
	}

	// Both lines forwarded raw as well.
	waitFor(t, 2*time.Second, func() bool { return sink.lineCount() >= 2 }, "raw lines not forwarded")
}

func TestClientMarkerIsCaseInsensitive(t *testing.T) {
	lines := []string{
		"EVENT: STATE",
		`DATA: {"id":"k1","value":1}`,
	}
	srv := httptest.NewServer(streamHandler(lines, true, nil))
	defer srv.Close()

	sink := &captureSink{}
	client, _ := NewClient(srv.URL, sink, testOptions(alwaysReachable))
	client.Start()
	defer client.Stop()

	waitFor(t, 2*time.Second, func() bool { return sink.eventCount() == 1 }, "case-insensitive marker not honored")
}

func TestClientIgnoresUnarmedDataLine(t *testing.T) {
	lines := []string{
		`data: {"id":"k1","value":1}`,
		"event: state",
		`data: {"id":"k2","value":2}`,
		`data: {"id":"k3","value":3}`,
	}
	srv := httptest.NewServer(streamHandler(lines, true, nil))
	defer srv.Close()

	sink := &captureSink{}
	client, _ := NewClient(srv.URL, sink, testOptions(alwaysReachable))
	client.Start()
	defer client.Stop()

	waitFor(t, 2*time.Second, func() bool { return sink.lineCount() >= 4 }, "lines not forwarded")

	// Only k2 follows a marker; k1 precedes it and k3 finds the arm
	// already consumed.
	if sink.eventCount() != 1 {
		t.Fatalf("event count = %d, want 1", sink.eventCount())
	}
	if sink.event(0).ID != "k2" {
		t.Errorf("decoded event = %q, want k2", sink.event(0).ID)
	}
}

func TestClientSurvivesDecodeFailure(t *testing.T) {
	lines := []string{
		"event: state",
		"data: {this is not json",
		"event: state",
		`data: {"id":"k-good","value":7}`,
	}
	srv := httptest.NewServer(streamHandler(lines, true, nil))
	defer srv.Close()

	sink := &captureSink{}
	client, _ := NewClient(srv.URL, sink, testOptions(alwaysReachable))
	client.Start()
	defer client.Stop()

	waitFor(t, 2*time.Second, func() bool { return sink.eventCount() == 1 }, "stream did not survive decode failure")

	if !sink.hasError(ErrDecode) {
		t.Error("decode failure not reported")
	}
	if sink.event(0).ID != "k-good" {
		t.Errorf("decoded event = %q, want k-good", sink.event(0).ID)
	}
}

// ─── Reconnection ───────────────────────────────────────────────────────────

func TestClientReconnectsAfterRemoteClose(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(streamHandler([]string{"event: ping"}, false, &conns))
	defer srv.Close()

	sink := &captureSink{}
	client, _ := NewClient(srv.URL, sink, testOptions(alwaysReachable))
	client.Start()
	defer client.Stop()

	waitFor(t, 3*time.Second, func() bool { return conns.Load() >= 2 }, "client did not reconnect after remote close")

	if !sink.hasError(ErrRemoteClosed) {
		t.Error("remote close not reported")
	}
}

func TestClientReconnectsAfterIdleTimeout(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(streamHandler(nil, true, &conns))
	defer srv.Close()

	sink := &captureSink{}
	opts := testOptions(alwaysReachable)
	opts.IdleDeadline = 50 * time.Millisecond
	client, _ := NewClient(srv.URL, sink, opts)
	client.Start()
	defer client.Stop()

	waitFor(t, 3*time.Second, func() bool { return conns.Load() >= 2 }, "client did not reconnect after idle timeout")

	if !sink.hasError(ErrIdleTimeout) {
		t.Error("idle timeout not reported")
	}
}

func TestClientRetriesWhenUnreachable(t *testing.T) {
	var probes atomic.Int32
	unreachable := func(context.Context, string, time.Duration) (bool, error) {
		probes.Add(1)
		return false, nil
	}

	sink := &captureSink{}
	client, _ := NewClient("http://192.0.2.1/events", sink, testOptions(unreachable))
	client.Start()
	defer client.Stop()

	waitFor(t, 2*time.Second, func() bool { return probes.Load() >= 3 }, "client did not keep probing")

	// Plain unreachable is not an error condition.
	if sink.hasError(ErrRemoteClosed) || sink.hasError(ErrIdleTimeout) {
		t.Error("unexpected error reported for unreachable host")
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestClientStopIsABarrier(t *testing.T) {
	var probes atomic.Int32
	unreachable := func(context.Context, string, time.Duration) (bool, error) {
		probes.Add(1)
		return false, nil
	}

	opts := testOptions(unreachable)
	opts.RetryDelay = time.Hour // Stop must not wait this out

	client, _ := NewClient("http://192.0.2.1/events", &captureSink{}, opts)
	client.Start()
	client.Start() // second Start is a no-op

	waitFor(t, 2*time.Second, func() bool { return probes.Load() >= 1 }, "loop never ran")

	done := make(chan struct{})
	go func() {
		client.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while loop slept")
	}

	// After Stop, the loop is gone.
	count := probes.Load()
	time.Sleep(50 * time.Millisecond)
	if probes.Load() != count {
		t.Error("loop still probing after Stop")
	}

	// Stop again is a no-op; restart works.
	client.Stop()
	client.Start()
	waitFor(t, 2*time.Second, func() bool { return probes.Load() > count }, "restart after Stop failed")
	client.Stop()
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	if _, err := NewClient("http://", &captureSink{}, Options{}); err == nil {
		t.Fatal("expected error for endpoint without host")
	}
	if _, err := NewClient("://bad", &captureSink{}, Options{}); err == nil {
		t.Fatal("expected error for unparseable endpoint")
	}
}
