// Gray Logic Shades - Window Shade Gateway Bridge
//
// This is the main entry point for the shade bridge. It synchronises a
// household of motorised window shades behind one or more vendor
// gateways onto the Gray Logic MQTT bus:
//   - Elects a primary among the configured gateways
//   - Mirrors shades and scenes into a local registry
//   - Forwards MQTT commands to the primary gateway
//   - Publishes retained state, discovery and health messages
//
// For architecture details, see: docs/architecture/system-overview.md
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	_ "github.com/nerrad567/gray-logic-shades/migrations"

	"github.com/nerrad567/gray-logic-shades/internal/bridges/shades"
	"github.com/nerrad567/gray-logic-shades/internal/device"
	"github.com/nerrad567/gray-logic-shades/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-shades/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-shades/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-shades/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-shades/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-shades/internal/journal"
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
	log.Info("starting Gray Logic Shades",
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry from the persisted mirror
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)

	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry initialised",
		"shades", registry.ShadeCount(),
		"scenes", registry.SceneCount(),
	)

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

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
	} else {
		log.Info("InfluxDB disabled")
	}

	// Command journal shares the bridge database
	journalRepo := journal.NewSQLiteRepository(db.DB)

	// Start the shade bridge
	bridge, scheduler, err := startShadeBridge(ctx, cfg, registry, journalRepo, mqttClient, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting shade bridge: %w", err)
	}
	defer func() {
		log.Info("stopping shade bridge")
		bridge.Stop()
	}()

	// Scheduled rediscovery (optional)
	if cfg.Sync.RediscoverCron != "" {
		cronRunner := cron.New()
		if _, cronErr := cronRunner.AddFunc(cfg.Sync.RediscoverCron, func() {
			log.Info("scheduled rediscovery triggered", "schedule", cfg.Sync.RediscoverCron)
			scheduler.RequestRediscovery()
		}); cronErr != nil {
			return fmt.Errorf("scheduling rediscovery: %w", cronErr)
		}
		cronRunner.Start()
		defer cronRunner.Stop()
		log.Info("rediscovery schedule active", "schedule", cfg.Sync.RediscoverCron)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Rediscovery cron (if scheduled)
	// 2. Shade bridge
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Gray Logic Shades stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Gateway health is reported continuously by the bridge's health
	// reporter - a gateway outage degrades status rather than failing
	// startup, since the bridge reconnects on its own.

	return nil
}

// startShadeBridge assembles and starts the shade bridge.
//
// The collaborators are layered bottom-up: gateway client, locator,
// reconciler, stream (push generation only), scheduler, health
// reporter, then the bridge that owns the MQTT boundary. The returned
// scheduler is exposed so the caller can wire scheduled rediscovery.
func startShadeBridge(
	ctx context.Context,
	cfg *config.Config,
	registry *device.Registry,
	journalRepo journal.Repository,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*shades.Bridge, *shades.Scheduler, error) {
	// Generation-specific gateway client
	gateway, err := shades.NewGatewayClient(
		cfg.Gateway.Generation,
		cfg.GetRequestTimeout(),
		cfg.GetProbeTimeout(),
		log,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating gateway client: %w", err)
	}

	// mDNS resolution for .local gateway addresses (optional)
	var resolver shades.Resolver
	if cfg.Gateway.MDNS.Enabled {
		resolver = shades.NewMDNSResolver(cfg.GetMDNSTimeout())
	}

	locator := shades.NewLocator(gateway, cfg.Gateway.Addresses, resolver, log)
	reconciler := shades.NewReconciler(registry, device.NewClassifier(log), log)

	// Event stream exists only on the push generation; the poll
	// generation relies on full syncs alone.
	var stream *shades.StreamClient
	if cfg.Gateway.Generation == shades.GenerationPush {
		stream = shades.NewStreamClient(locator, cfg.GetShortCycle(), log)
	}

	scheduler, err := shades.NewScheduler(shades.SchedulerOptions{
		Locator:    locator,
		Gateway:    gateway,
		Engine:     reconciler,
		Stream:     stream,
		LongCycle:  cfg.GetLongCycle(),
		ShortCycle: cfg.GetShortCycle(),
		Heartbeat:  cfg.GetHeartbeat(),
		Logger:     log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating scheduler: %w", err)
	}

	// MQTT adapter to satisfy the bridge interface
	mqttAdapter := &mqttBridgeAdapter{client: mqttClient}

	health := shades.NewHealthReporter(shades.HealthReporterConfig{
		BridgeID:  cfg.Bridge.ID,
		Version:   version,
		Interval:  cfg.GetHealthInterval(),
		Publisher: mqttAdapter,
		Locator:   locator,
		Scheduler: scheduler,
		Stream:    stream,
		Gateway:   gateway,
	})
	health.SetLogger(log)

	bridge, err := shades.NewBridge(shades.BridgeOptions{
		BridgeID:   cfg.Bridge.ID,
		Version:    version,
		MQTT:       mqttAdapter,
		Registry:   registry,
		Gateway:    gateway,
		Locator:    locator,
		Scheduler:  scheduler,
		Reconciler: reconciler,
		Stream:     stream,
		Health:     health,
		Journal:    journalRepo,
		Telemetry:  influxClient,
		LogLevel:   log,
		Logger:     log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("shade bridge started",
		"generation", cfg.Gateway.Generation,
		"gateways", len(cfg.Gateway.Addresses),
	)

	return bridge, scheduler, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the shade
// bridge's MQTTClient interface. The infrastructure Subscribe takes the
// named mqtt.MessageHandler type; the bridge declares a plain function
// parameter, so the method sets don't match without this shim.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements shades.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements shades.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, handler)
}

// IsConnected implements shades.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
