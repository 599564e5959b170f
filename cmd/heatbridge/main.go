// Heatbridge - cloud heater to MQTT bridge
//
// This is the main entry point for the heatbridge application. It
// polls a vendor cloud API for electric heater state, mirrors each
// heater onto the local MQTT bus as child entities, and accepts
// setpoint and power commands over MQTT and a local HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/heatbridge/migrations"

	"github.com/nerrad567/heatbridge/internal/api"
	"github.com/nerrad567/heatbridge/internal/bridge"
	"github.com/nerrad567/heatbridge/internal/entities"
	"github.com/nerrad567/heatbridge/internal/infrastructure/config"
	"github.com/nerrad567/heatbridge/internal/infrastructure/database"
	"github.com/nerrad567/heatbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/heatbridge/internal/infrastructure/logging"
	"github.com/nerrad567/heatbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/heatbridge/internal/scheduler"
	"github.com/nerrad567/heatbridge/internal/state"
	"github.com/nerrad567/heatbridge/internal/telemetry"
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

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting heatbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := state.NewSQLiteStore(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)

	// Child-entity publisher
	entitySvc := entities.New(mqttClient)
	entitySvc.SetLogger(log)

	// Connect to InfluxDB (optional)
	var poll bridge.PollRecorder
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		poll = telemetry.NewRecorder(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Scheduler owns every bridge timer
	sched := scheduler.New()
	sched.SetLogger(log)
	defer func() {
		log.Info("stopping scheduler")
		sched.Close()
	}()

	// Assemble and start the bridge
	br, err := bridge.New(ctx, bridge.Config{
		Cfg:       cfg,
		Store:     store,
		Entities:  entitySvc,
		Bus:       mqttClient,
		Scheduler: sched,
		Telemetry: poll,
		Logger:    log,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		br.Stop()
	}()
	log.Info("bridge started",
		"devices", len(br.Devices()),
		"poll_interval_minutes", cfg.Polling.IntervalMinutes,
	)

	// Start the local HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  br,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Bridge (cancels all scheduled jobs)
	// 3. Scheduler
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	log.Info("heatbridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEATBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEATBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Cloud reachability is verified by the bridge itself: the first
	// scheduled refresh authenticates and polls, and failures feed the
	// circuit breaker rather than aborting startup.

	return nil
}
