// DALI Center - lighting gateway discovery and reconciliation core
//
// This is the main entry point for the DALI Center service. It discovers
// DALI gateways over MQTT, lets an operator choose which devices, groups
// and scenes to manage, keeps that selection reconciled with the gateway's
// inventory and publishes the managed entities to the home-automation host.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/dali-center/migrations"

	"github.com/nerrad567/dali-center/internal/api"
	"github.com/nerrad567/dali-center/internal/audit"
	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/gateway"
	"github.com/nerrad567/dali-center/internal/host"
	"github.com/nerrad567/dali-center/internal/infrastructure/config"
	"github.com/nerrad567/dali-center/internal/infrastructure/database"
	"github.com/nerrad567/dali-center/internal/infrastructure/influxdb"
	"github.com/nerrad567/dali-center/internal/infrastructure/logging"
	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt"
	"github.com/nerrad567/dali-center/internal/runtime"
	"github.com/nerrad567/dali-center/internal/selection"
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

// housekeepingInterval is how often expired flow sessions and audit
// entries are pruned. An audit retention of zero keeps entries forever.
const housekeepingInterval = 15 * time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting DALI Center",
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

	// Storage
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := selection.NewSQLiteStore(db)
	sessions := flow.NewSessionStore(db)
	sessions.SetLogger(log)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo)
	recorder.SetLogger(log)

	// MQTT
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
	mqttClient.SetLogger(log)
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

	gw := gateway.New(mqttClient, gateway.Config{
		QoS:            mqttClient.QoS(),
		RequestTimeout: cfg.Gateway.RequestTimeout,
	})
	gw.SetLogger(log)
	if startErr := gw.Start(); startErr != nil {
		return fmt.Errorf("starting gateway client: %w", startErr)
	}
	defer gw.Stop()

	// InfluxDB (optional)
	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	var telemetry runtime.Telemetry
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	flowMetrics := flow.NewMetrics()
	runtimeMetrics := runtime.NewMetrics()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(flowMetrics.Collectors()...)
	registry.MustRegister(runtimeMetrics.Collectors()...)

	// The hub exists before the API server so flows and notifications can
	// broadcast from the moment they start.
	hub := api.NewHub(cfg.WebSocket, log)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	publisher := host.New(mqttClient, mqttClient.QoS(), hub)
	publisher.SetLogger(log)

	bridge := runtime.New(mqttClient, store, runtime.Options{
		QoS:         mqttClient.QoS(),
		Telemetry:   telemetry,
		Broadcaster: hub,
		Metrics:     runtimeMetrics,
	})
	bridge.SetLogger(log)
	defer bridge.Stop()

	// Flows
	manager := flow.NewManager(flow.ConfigFrom(cfg), flow.Deps{
		Scanner:      gw,
		Connector:    gw,
		Store:        store,
		Materializer: flow.Materializers{publisher, bridge},
		Metrics:      flowMetrics,
	})
	manager.SetLogger(log)
	manager.AddObserver(sessions)
	manager.AddObserver(recorder)
	manager.AddObserver(hub)
	defer manager.CancelAll()

	if err := restoreFlows(ctx, manager, sessions, log); err != nil {
		return err
	}

	// The host may have missed updates while the service was down.
	if err := publisher.Republish(ctx, store); err != nil {
		log.Warn("republishing host manifests failed", "error", err)
	}
	if err := bridge.ActivateAll(ctx); err != nil {
		log.Warn("activating gateway notifications failed", "error", err)
	}
	log.Info("runtime bridge started", "gateways", len(bridge.Active()))

	go housekeeping(ctx, manager, sessions, auditRepo, flow.ConfigFrom(cfg).Retention, cfg.Audit.Retention, log)

	// API
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Flows:       manager,
		Store:       store,
		AuditRepo:   auditRepo,
		Recorder:    recorder,
		Gatherer:    registry,
		Health:      health,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, flows, bridge, hub,
	// InfluxDB, gateway client, MQTT, database.
	log.Info("DALI Center stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DALICENTER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DALICENTER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// restoreFlows brings back flows that were waiting for the operator when the
// service stopped.
func restoreFlows(ctx context.Context, manager *flow.Manager, sessions *flow.SessionStore, log *logging.Logger) error {
	snaps, err := sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading flow sessions: %w", err)
	}
	manager.Restore(ctx, snaps)
	if len(snaps) > 0 {
		log.Info("flow sessions restored", "count", len(snaps))
	}
	return nil
}

// housekeeping expires idle flows and prunes old flow sessions and audit
// entries until ctx is cancelled.
func housekeeping(ctx context.Context, flows *flow.Manager, sessions *flow.SessionStore, auditRepo audit.Repository, sessionRetention, auditRetention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := flows.ExpireIdle(); n > 0 {
				log.Info("idle flows expired", "count", n)
			}
			now := time.Now()
			if n, err := sessions.Prune(ctx, now.Add(-sessionRetention)); err != nil {
				log.Warn("pruning flow sessions failed", "error", err)
			} else if n > 0 {
				log.Debug("flow sessions pruned", "count", n)
			}
			if auditRetention <= 0 {
				continue
			}
			if n, err := auditRepo.Prune(ctx, now.Add(-auditRetention)); err != nil {
				log.Warn("pruning audit entries failed", "error", err)
			} else if n > 0 {
				log.Debug("audit entries pruned", "count", n)
			}
		}
	}
}

// healthCheck verifies every infrastructure connection. It returns the
// first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		hc, ok := checks[name]
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
