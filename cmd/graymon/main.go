// Gray Logic Monitor - plant monitoring core
//
// This is the main entry point for the Gray Logic Monitor service. It loads
// the tag, supervision and command configuration from SQLite into the
// in-memory caches, ingests acquisition values over MQTT, evaluates rule
// tags, supervises processes and equipment, and serves the REST and
// WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-monitor/internal/api"
	"github.com/nerrad567/gray-logic-monitor/internal/audit"
	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/history"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/fallback"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-monitor/internal/ingest"
	"github.com/nerrad567/gray-logic-monitor/internal/monitor"
	"github.com/nerrad567/gray-logic-monitor/internal/persistence"
	"github.com/nerrad567/gray-logic-monitor/internal/rule"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
	"github.com/nerrad567/gray-logic-monitor/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// healthCheckTimeout bounds the start-up health check.
const healthCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Components are started bottom-up and stopped in reverse through the
// deferred closes: the API and publishers detach from the caches before the
// monitor closes them, and the update log drains before the database closes.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Monitor",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	reg := metrics.New()

	// Database and schema
	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	if mode, modeErr := db.JournalMode(ctx); modeErr == nil {
		log.Info("database migrations complete", "path", db.Path(), "journal_mode", mode)
	} else {
		log.Warn("database migrations complete, journal mode unknown", "error", modeErr)
	}

	// Caches and core components
	repo := persistence.NewSQLiteRepository(db.DB)
	mon := monitor.New(monitorConfig(cfg),
		monitor.WithLogger(log.Component("monitor")),
		monitor.WithRegisterer(reg.Registerer()),
	)
	if loadErr := mon.LoadAll(ctx, repo); loadErr != nil {
		mon.Stop()
		return fmt.Errorf("loading configuration into caches: %w", loadErr)
	}
	defer mon.Stop()
	log.Info("caches loaded",
		"tags", mon.Tags().Len(),
		"commands", mon.Commands().Len(),
		"processes", mon.Entities().Processes.Len(),
		"equipment", mon.Entities().Equipment.Len(),
		"subequipment", mon.Entities().SubEquipment.Len(),
	)

	buffer := bufferOptions(cfg.Cache)

	// Update log with its local fallback
	var updateLog *persistence.UpdateLog
	if cfg.Persistence.UpdateLog {
		var store *fallback.Store
		updateLog, store, err = startUpdateLog(ctx, cfg, db, mon, buffer, reg, log)
		if err != nil {
			return err
		}
		defer closeFallback(store, log)
		defer updateLog.Stop()
	} else {
		log.Info("update log disabled")
	}

	// InfluxDB history (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		recorder := history.New(influxClient,
			history.WithLogger(log.Component("history")),
			history.WithRegisterer(reg.Registerer()),
			history.WithBuffer(named(buffer, "history")),
		)
		recorder.Start(mon.Tags())
		defer recorder.Stop()
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT acquisition and mirroring
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	ingestOpts := []ingest.Option{
		ingest.WithLogger(log.Component("ingest")),
		ingest.WithRegisterer(reg.Registerer()),
		ingest.WithQoS(byte(cfg.MQTT.QoS)), //nolint:gosec // validated to 0..2
	}
	mon.CommandService().SetSender(ingest.NewSender(mqttClient, mon.Entities().Processes))

	if cfg.Ingest.PublishTags || cfg.Ingest.PublishSupervision {
		publisher := ingest.NewPublisher(mqttClient, ingest.PublisherConfig{
			Tags:        cfg.Ingest.PublishTags,
			Supervision: cfg.Ingest.PublishSupervision,
			Buffer:      named(buffer, "publisher"),
		}, ingestOpts...)
		publisher.Start(mon.Tags(), mon.Entities())
		defer publisher.Stop()
	}

	if startErr := mon.Start(ctx); startErr != nil {
		return fmt.Errorf("starting monitor: %w", startErr)
	}

	if cfg.Ingest.Enabled {
		adapter := ingest.NewAdapter(mqttClient, mon, mon.CommandService(), ingestOpts...)
		if startErr := adapter.Start(ctx); startErr != nil {
			return fmt.Errorf("starting acquisition ingest: %w", startErr)
		}
		defer adapter.Stop()
	} else {
		log.Info("acquisition ingest disabled")
	}

	// REST and WebSocket API
	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Monitor:    mon,
		Buffer:     buffer,
		Repository: repo,
		Broker:     mqttClient,
		DB:         db.DB,
		Audit:      audit.NewSQLiteRepository(db.DB),
		Registerer: reg.Registerer(),
		Version:    version,
	}
	if updateLog != nil {
		deps.History = updateLog
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = reg.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if healthErr := healthCheck(ctx, db, mqttClient); healthErr != nil {
		log.Warn("health check reported problems", "error", healthErr)
	}

	log.Info("Gray Logic Monitor started", "site", cfg.Site.ID, "site_name", cfg.Site.Name)

	<-ctx.Done()
	log.Info("shutdown signal received")

	return nil
}

// startUpdateLog opens the fallback store and starts the update log on the
// tag cache. The returned store is nil when no fallback path is configured;
// close it only after the update log has stopped.
func startUpdateLog(ctx context.Context, cfg *config.Config, db *database.DB, mon *monitor.Monitor,
	buffer cache.BufferOptions, reg *metrics.Registry, log *logging.Logger) (*persistence.UpdateLog, *fallback.Store, error) {
	opts := []persistence.UpdateLogOption{
		persistence.WithLogger(log.Component("update_log")),
		persistence.WithRegisterer(reg.Registerer()),
	}

	var store *fallback.Store
	if cfg.Fallback.Path != "" {
		var err error
		store, err = fallback.Open(cfg.Fallback.Path, cfg.Fallback.MaxEntries)
		if err != nil {
			return nil, nil, fmt.Errorf("opening fallback store: %w", err)
		}
		opts = append(opts, persistence.WithFallback(store))
		log.Info("fallback store opened", "path", store.Path())
	}

	updateLog, err := persistence.NewUpdateLog(db.DB, persistence.UpdateLogConfig{
		Buffer:         named(buffer, "update_log"),
		Retention:      cfg.Persistence.Retention(),
		PurgeSchedule:  cfg.Persistence.PurgeSchedule,
		ReplayInterval: cfg.Fallback.ReplayDuration(),
	}, opts...)
	if err != nil {
		closeFallback(store, log)
		return nil, nil, fmt.Errorf("creating update log: %w", err)
	}

	updateLog.Start(ctx, mon.Tags())
	log.Info("update log started", "retention_days", cfg.Persistence.RetentionDays)
	return updateLog, store, nil
}

func closeFallback(store *fallback.Store, log *logging.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Error("error closing fallback store", "error", err)
	}
}

// monitorConfig maps the tuning sections of config.yaml.
func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Rules: rule.Config{
			Tick:      cfg.Rules.TickDuration(),
			MaxCycles: cfg.Rules.MaxCycles,
			MaxDepth:  cfg.Rules.MaxDepth,
			Workers:   cfg.Rules.Workers,
			QueueSize: cfg.Rules.QueueSize,
			Timeout:   cfg.Rules.TimeoutDuration(),
		},
		Supervision: supervision.Config{
			SweepInterval:     cfg.Supervision.SweepDuration(),
			Tolerance:         cfg.Supervision.Tolerance,
			AliveRejectFactor: cfg.Supervision.AliveRejectFactor,
			SignalQueueSize:   cfg.Supervision.SignalQueueSize,
		},
		CommandCheckInterval: cfg.Commands.CheckDuration(),
	}
}

func bufferOptions(c config.CacheConfig) cache.BufferOptions {
	minDelay, maxDelay := c.BufferDelays()
	return cache.BufferOptions{
		MinDelay:      minDelay,
		MaxDelay:      maxDelay,
		GrowThreshold: c.GrowThreshold,
		QueueSize:     c.QueueSize,
	}
}

func named(opts cache.BufferOptions, name string) cache.BufferOptions {
	opts.Name = name
	return opts
}

// getConfigPath returns the configuration file path.
// Checks GRAYMON_CONFIG environment variable first, falls back to default.
func getConfigPath() string {
	if path := os.Getenv("GRAYMON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the database and broker respond.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
