// EspHive Core - ESPHome Telemetry Hub
//
// This is the main entry point for the EspHive Core application.
// EspHive ingests server-push telemetry from ESPHome devices, keeps a
// live value cache, records samples worth keeping in SQLite, and
// optionally republishes to MQTT, mirrors to InfluxDB, and serves a
// read-only HTTP/WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	_ "github.com/esphive/esphive-core/migrations"

	"github.com/esphive/esphive-core/internal/api"
	"github.com/esphive/esphive-core/internal/bridges/mqttpub"
	"github.com/esphive/esphive-core/internal/dispatch"
	"github.com/esphive/esphive-core/internal/infrastructure/config"
	"github.com/esphive/esphive-core/internal/infrastructure/database"
	"github.com/esphive/esphive-core/internal/infrastructure/influxdb"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
	"github.com/esphive/esphive-core/internal/infrastructure/mqtt"
	"github.com/esphive/esphive-core/internal/ingest"
	"github.com/esphive/esphive-core/internal/mirror"
	"github.com/esphive/esphive-core/internal/persist"
	"github.com/esphive/esphive-core/internal/recording"
	"github.com/esphive/esphive-core/internal/routing"
	"github.com/esphive/esphive-core/internal/stream"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting EspHive Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	store := config.NewStore(cfg)

	// Open database and migrate
	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Core pipeline: routing table, dispatcher, policy, queue, processor
	clock := clockwork.NewRealClock()
	table := routing.Build(cfg)
	holder := routing.NewHolder(table)
	log.Info("routing table built", "routes", table.Len(), "groups", len(table.Groups()))

	disp := dispatch.New()
	policy := recording.NewPolicy(clock)

	queue := persist.NewQueue(
		persist.NewSQLiteStore(db),
		time.Duration(cfg.Persist.RetryDelay)*time.Second,
		time.Duration(cfg.Persist.CheckpointInterval)*time.Hour,
		clock,
		log,
	)
	if provisionErr := queue.ProvisionRows(ctx, table); provisionErr != nil {
		return fmt.Errorf("provisioning rows: %w", provisionErr)
	}
	queue.Start()

	processor := ingest.NewProcessor(holder, disp, policy, queue, clock, log)

	// Optional MQTT republish bridge
	var mqttClient *mqtt.Client
	var bridge *mqttpub.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer mqttClient.Close()

		bridge = mqttpub.Attach(disp, table, mqttClient, cfg.MQTT.TopicPrefix, log)
		log.Info("mqtt republish bridge attached",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", cfg.MQTT.TopicPrefix,
		)
	} else {
		log.Info("mqtt republish bridge disabled")
	}

	// Optional InfluxDB mirror
	var influxClient *influxdb.Client
	var influxMirror *mirror.Mirror
	if cfg.InfluxDB.Enabled {
		influxClient = influxdb.Connect(cfg.InfluxDB, log)
		defer influxClient.Close()

		influxMirror = mirror.Attach(disp, table, influxClient, clock)
		log.Info("influxdb mirror attached", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("influxdb mirror disabled")
	}

	// Optional read-only API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Dispatcher: disp,
			Holder:     holder,
			DB:         db,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating api server: %w", err)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting api server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing api server", "error", closeErr)
			}
		}()
	} else {
		log.Info("api server disabled")
	}

	// Stream clients, one per endpoint
	streams := stream.NewManager(processor, stream.Options{Logger: log}, log)
	streams.Apply(cfg)
	log.Info("stream clients started", "endpoints", len(cfg.Endpoints))

	// Hot reload on SIGHUP
	go watchReload(ctx, configPath, store, log)
	go func() {
		updates := store.Watch()
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg := <-updates:
				applyReload(newCfg, holder, policy, streams, disp, mqttClient, influxClient, &bridge, &influxMirror, clock, log)
			}
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Stop producers before draining the queue, so nothing enqueues
	// after the drain begins.
	streams.StopAll()
	log.Info("stream clients stopped")

	queue.Stop()
	log.Info("persistence queue drained")

	// Deferred closes then run in reverse order: API, InfluxDB, MQTT,
	// database.
	log.Info("EspHive Core stopped")
	return nil
}

// watchReload reloads the configuration file on SIGHUP and publishes
// valid snapshots to the store. Invalid files are logged and skipped;
// the running configuration stays in effect.
func watchReload(ctx context.Context, path string, store *config.Store, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(path)
			if err != nil {
				log.Error("config reload failed, keeping current configuration", "error", err)
				continue
			}
			store.Swap(cfg)
			log.Info("configuration reloaded", "path", path)
		}
	}
}

// applyReload swaps the routing snapshot, resets recording state,
// reconciles stream clients, and re-attaches dispatcher consumers that
// bind per-route handlers. Rows for new routes are created lazily by
// the persistence consumer.
func applyReload(
	cfg *config.Config,
	holder *routing.Holder,
	policy *recording.Policy,
	streams *stream.Manager,
	disp *dispatch.Dispatcher,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	bridge **mqttpub.Bridge,
	influxMirror **mirror.Mirror,
	clock clockwork.Clock,
	log *logging.Logger,
) {
	table := routing.Build(cfg)
	holder.Swap(table)
	policy.Reset()
	streams.Apply(cfg)

	if *bridge != nil && mqttClient != nil {
		(*bridge).Detach(disp)
		*bridge = mqttpub.Attach(disp, table, mqttClient, cfg.MQTT.TopicPrefix, log)
	}
	if *influxMirror != nil && influxClient != nil {
		(*influxMirror).Detach(disp)
		*influxMirror = mirror.Attach(disp, table, influxClient, clock)
	}

	log.Info("reload applied", "routes", table.Len(), "endpoints", len(cfg.Endpoints))
}

// getConfigPath returns the configuration file path.
// Uses the ESPHIVE_CONFIG environment variable if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("ESPHIVE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
