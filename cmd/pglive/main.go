// pglive streams database change events to WebSocket subscribers.
//
// Change events arrive on a message broker (MQTT or NATS) as topics of the
// form <prefix>/<operation>/<table>/<column>/<value>. Each subscriber gets
// the events matching its topics and filter, throttled, and only for rows
// its database role can read.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/pglive/migrations"

	"github.com/nerrad567/pglive/internal/access"
	"github.com/nerrad567/pglive/internal/api"
	"github.com/nerrad567/pglive/internal/audit"
	"github.com/nerrad567/pglive/internal/broker"
	"github.com/nerrad567/pglive/internal/changeevent"
	"github.com/nerrad567/pglive/internal/identity"
	"github.com/nerrad567/pglive/internal/infrastructure/config"
	"github.com/nerrad567/pglive/internal/infrastructure/database"
	"github.com/nerrad567/pglive/internal/infrastructure/influxdb"
	"github.com/nerrad567/pglive/internal/infrastructure/logging"
	"github.com/nerrad567/pglive/internal/infrastructure/mqtt"
	"github.com/nerrad567/pglive/internal/infrastructure/nats"
	"github.com/nerrad567/pglive/internal/infrastructure/postgres"
	"github.com/nerrad567/pglive/internal/live"
	"github.com/nerrad567/pglive/internal/metrics"
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

// brokerTransport is the broker client behind the bridge.
type brokerTransport interface {
	broker.Transport
	api.HealthChecker
	Close() error
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting pglive",
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

	// The SQLite database holds the audit log and, with the sqlite storage
	// driver, the tables access checks run against.
	db, err := database.Open(cfg.Database)
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
	log.Info("database ready", "path", db.Path())

	health := map[string]api.HealthChecker{"database": db}

	// A broker that cannot be reached at startup is fatal.
	transport, err := connectBroker(cfg, log)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer func() {
		log.Info("disconnecting from broker")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing broker", "error", closeErr)
		}
	}()
	health["broker"] = transport

	sessions, closeStorage, err := openStorage(ctx, cfg, db, health)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeStorage()

	var telemetry live.Telemetry
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	checker, err := access.NewChecker(cfg.Storage.IDColumn, cfg.Storage.Schema)
	if err != nil {
		return fmt.Errorf("configuring access checks: %w", err)
	}

	codec := changeevent.NewCodec(cfg.Broker.ChannelPrefix)
	bridge := broker.New(transport)
	defer func() {
		if closeErr := bridge.Close(); closeErr != nil {
			log.Error("error closing broker bridge", "error", closeErr)
		}
	}()

	auditRepo := audit.NewSQLiteRepository(db.DB)
	manager, err := live.NewManager(bridge, live.Config{
		Codec:           codec,
		Checker:         checker,
		DefaultQoS:      byte(cfg.Broker.DefaultQoS), //nolint:gosec // validated to 0-2
		DefaultThrottle: cfg.ThrottleDefault(),
		SendBuffer:      cfg.Live.SendBuffer,
		Logger:          log,
		Metrics:         collector,
		Telemetry:       telemetry,
		Audit:           auditRepo,
		Source:          "websocket",
	})
	if err != nil {
		return fmt.Errorf("creating subscription manager: %w", err)
	}
	defer func() {
		log.Info("closing live subscriptions", "open", manager.Count())
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing subscriptions", "error", closeErr)
		}
	}()

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Manager:  manager,
		Bridge:   bridge,
		Codec:    codec,
		Identity: identity.NewResolver(cfg.Security),
		Sessions: sessions,
		Audit:    auditRepo,
		Gatherer: registry,
		Health:   health,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"transport", cfg.Broker.Transport,
		"storage", cfg.Storage.Driver,
		"prefix", codec.Prefix,
	)

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API server, live
	// subscriptions, bridge, InfluxDB, storage, broker, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PGLIVE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PGLIVE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectBroker dials the configured transport.
func connectBroker(cfg *config.Config, log *logging.Logger) (brokerTransport, error) {
	switch cfg.Broker.Transport {
	case config.TransportNATS:
		client, err := nats.Connect(cfg.NATS)
		if err != nil {
			return nil, err
		}
		client.SetLogger(log)
		log.Info("NATS connected", "url", cfg.NATS.URL)
		return client, nil
	default:
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		client.SetLogger(log)
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		return client, nil
	}
}

// openStorage returns the session factory access checks run through. The
// postgres driver enforces row-level security per role; the sqlite driver
// runs checks against the local database.
func openStorage(ctx context.Context, cfg *config.Config, db *database.DB, health map[string]api.HealthChecker) (api.SessionFactory, func(), error) {
	if cfg.Storage.Driver == config.DriverSQLite {
		return sqliteSessions(db), func() {}, nil
	}

	pool, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	health["storage"] = pool
	return postgresSessions(pool), pool.Close, nil
}

func sqliteSessions(db *database.DB) api.SessionFactory {
	return func(id identity.Identity) (access.Session, error) {
		return db.Session(id.Role), nil
	}
}

func postgresSessions(pool *postgres.Pool) api.SessionFactory {
	return func(id identity.Identity) (access.Session, error) {
		s, err := pool.Session(id.Role, id.Claims)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// healthCheck verifies every registered component before serving.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	var errs []error
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
