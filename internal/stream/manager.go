package stream

import (
	"sort"
	"sync"

	"github.com/esphive/esphive-core/internal/infrastructure/config"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
)

// Manager owns one Client per configured endpoint and reconciles the
// running set against configuration snapshots.
//
// Thread Safety:
//   - Apply and StopAll are safe for concurrent use.
type Manager struct {
	sink   Sink
	base   Options
	logger *logging.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager creates a Manager. The base options carry transport and
// test overrides; timing fields are refreshed from each configuration
// snapshot in Apply.
func NewManager(sink Sink, base Options, logger *logging.Logger) *Manager {
	return &Manager{
		sink:    sink,
		base:    base,
		logger:  logger.With("component", "stream-manager"),
		clients: make(map[string]*Client),
	}
}

// Apply reconciles running clients against a configuration snapshot:
// new endpoints get a client started, removed endpoints get theirs
// stopped. Clients for unchanged endpoints keep running undisturbed
// with the options they were started with.
func (m *Manager) Apply(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		wanted[ep] = true
	}

	for ep, client := range m.clients {
		if !wanted[ep] {
			m.logger.Info("stopping removed endpoint", "endpoint", ep)
			client.Stop()
			delete(m.clients, ep)
		}
	}

	for ep := range wanted {
		if _, ok := m.clients[ep]; ok {
			continue
		}

		opts := m.base
		opts.ProbeTimeout = cfg.Stream.ProbeTimeout()
		opts.RetryDelay = cfg.Stream.RetryDelay()
		opts.IdleDeadline = cfg.Stream.IdleDeadline()

		client, err := NewClient(ep, m.sink, opts)
		if err != nil {
			m.logger.Error("skipping invalid endpoint", "endpoint", ep, "error", err)
			continue
		}

		m.logger.Info("starting endpoint", "endpoint", ep)
		m.clients[ep] = client
		client.Start()
	}
}

// Endpoints returns the endpoints with a running client, sorted.
func (m *Manager) Endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.clients))
	for ep := range m.clients {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// StopAll stops every client and blocks until all loops have exited.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ep, client := range m.clients {
		client.Stop()
		delete(m.clients, ep)
	}
}
