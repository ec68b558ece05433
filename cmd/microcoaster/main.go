// MicroCoaster Core - module presence and live event service
//
// This is the main entry point for the MicroCoaster server. It accepts
// WebSocket connections from coaster modules on the devices path, tracks
// their presence, and fans events out to dashboard clients over the REST
// and WebSocket API. MQTT and InfluxDB mirrors are optional.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/microcoaster-core/migrations"

	"github.com/nerrad567/microcoaster-core/internal/api"
	"github.com/nerrad567/microcoaster-core/internal/audit"
	"github.com/nerrad567/microcoaster-core/internal/auth"
	"github.com/nerrad567/microcoaster-core/internal/command"
	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/events"
	"github.com/nerrad567/microcoaster-core/internal/gateway"
	"github.com/nerrad567/microcoaster-core/internal/hub"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/config"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/database"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/microcoaster-core/internal/presence"
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

// shutdownTimeout bounds how long module connections get to close.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting MicroCoaster Core",
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

	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, users,
		cfg.Security.BootstrapAdmin.Username,
		cfg.Security.BootstrapAdmin.Password,
		log.Logger,
	); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}
	modules := device.NewSQLiteRepository(db.DB)

	mqttClient, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Assemble the runtime. The mirror sinks stay nil interfaces when
	// their client is disabled.
	eventOpts := events.OptionsFromConfig(cfg.Events)
	if mqttClient != nil {
		eventOpts.MQTT = mqttClient
	}
	if influxClient != nil {
		eventOpts.Influx = influxClient
	}

	tracker := presence.NewTracker(modules, log.Component("presence"))
	clients := hub.New(log.Component("hub"))
	router := events.New(clients, tracker, eventOpts, log.Component("events"))
	tracker.SetNotifier(router)

	gw := gateway.New(gateway.OptionsFromConfig(cfg.Devices), modules, tracker, log.Component("gateway"))
	gw.SetAckSink(router)

	health := []api.HealthCheck{{Name: "database", Check: db.HealthCheck}}
	if mqttClient != nil {
		health = append(health, api.HealthCheck{Name: "mqtt", Check: mqttClient.HealthCheck})
	}
	if influxClient != nil {
		health = append(health, api.HealthCheck{Name: "influxdb", Check: influxClient.HealthCheck})
	}

	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Devices:    cfg.Devices,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Users:      users,
		Modules:    modules,
		Hub:        clients,
		Presence:   tracker,
		Events:     router,
		Dispatcher: command.New(tracker, modules, log.Component("command")),
		Gateway:    gw,
		Audit:      audit.NewSQLiteRepository(db.DB),
		DBStats: func() api.DatabaseMetrics {
			st := db.Stats()
			return api.DatabaseMetrics{
				OpenConnections: st.OpenConnections,
				InUse:           st.InUse,
				Idle:            st.Idle,
				WaitCount:       st.WaitCount,
			}
		},
		Health:  health,
		Version: version,
	}
	if mqttClient != nil {
		deps.MQTTConnected = mqttClient.IsConnected
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Background workers outlive the signal context so that the offline
	// edges produced while closing module connections still reach the
	// mirrors.
	workCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	g, gctx := errgroup.WithContext(workCtx)
	g.Go(func() error {
		clients.Run(gctx)
		return nil
	})
	g.Go(func() error {
		router.Run(gctx)
		return nil
	})

	if err := srv.Start(ctx); err != nil {
		stopWorkers()
		_ = g.Wait()
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"devices_path", cfg.Devices.Path,
		"websocket_path", cfg.WebSocket.Path,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return shutdown(srv, gw, tracker, stopWorkers, g, log)
}

// shutdown stops accepting requests, disconnects every module, flushes
// presence status and finally stops the hub and event router.
func shutdown(srv *api.Server, gw *gateway.Gateway, tracker *presence.Tracker, stopWorkers context.CancelFunc, g *errgroup.Group, log *logging.Logger) error {
	var errs []error

	if err := srv.Close(); err != nil {
		errs = append(errs, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing module connections: %w", err))
	}

	tracker.Close()
	stopWorkers()
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	log.Info("MicroCoaster Core stopped")
	return errors.Join(errs...)
}

// getConfigPath returns the configuration file path.
// Uses MICROCOASTER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MICROCOASTER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT returns nil when the mirror is disabled.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT mirror disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// connectInfluxDB returns nil when telemetry history is disabled.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}
