// CRM Core - authentication, authorisation and resilient persistence.
//
// This is the main entry point for the CRM Core service. It wires:
//   - A durable SQL store (SQLite or Postgres) with an in-memory fallback
//   - Per-request backend selection with a liveness check and cooldown
//   - JWT access/refresh authentication and the role permission matrix
//   - An audit trail fanned out to SQL, MQTT and InfluxDB
//   - The HTTP API with Prometheus metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/crm-core/migrations"

	"github.com/nerrad567/crm-core/internal/api"
	"github.com/nerrad567/crm-core/internal/audit"
	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/infrastructure/config"
	"github.com/nerrad567/crm-core/internal/infrastructure/database"
	"github.com/nerrad567/crm-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/crm-core/internal/infrastructure/logging"
	"github.com/nerrad567/crm-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/crm-core/internal/store"
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

// auditDrainTimeout bounds how long shutdown waits for queued audit entries.
const auditDrainTimeout = 10 * time.Second

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

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting CRM Core",
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

	// Durable store. Migrations and admin seeding run on the first
	// successful liveness check, so an unreachable server does not block
	// startup.
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database handle opened", "driver", db.Driver(), "path", db.Path())

	durable := store.NewSQL(db,
		store.WithSQLLogger(log.With("component", "store").Logger),
		store.WithOnReady(func(ctx context.Context, s *store.SQL) error {
			_, seedErr := auth.SeedAdmin(ctx, s.Identities(), cfg.Security.BootstrapAdminEmail, log.Logger)
			return seedErr
		}),
	)

	fallback, err := newFallback(cfg.Store)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db.DB, "crm"),
	)

	// Optional telemetry outputs.
	tel := connectTelemetry(ctx, cfg, log)
	defer tel.close(log)

	selector := store.NewSelector(durable, fallback,
		store.WithPingTimeout(cfg.GetPingTimeout()),
		store.WithCooldown(cfg.GetCooldown()),
		store.WithSelectorLogger(log.With("component", "selector").Logger),
		store.WithSelectorMetrics(registry),
		store.WithModeObserver(tel.publishMode),
	)

	// Authentication
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Security.JWT.AccessSecret,
		RefreshSecret: cfg.Security.JWT.RefreshSecret,
		AccessTTL:     cfg.GetAccessTokenTTL(),
		RefreshTTL:    cfg.GetRefreshTokenTTL(),
		Issuer:        cfg.Security.JWT.Issuer,
	})
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	authOpts := []auth.ServiceOption{auth.WithLogger(log.With("component", "auth").Logger)}
	if cfg.Security.Revocation.Enabled {
		revocations := auth.NewRevocationCache(nil)
		go revocations.Run(ctx)
		authOpts = append(authOpts, auth.WithRevocationCache(revocations))
		log.Info("access token revocation enabled")
	}
	authService := auth.NewService(tokens, authOpts...)

	// Audit trail. Entries are delivered by a single goroutine that
	// outlives the HTTP server so the queue can drain on shutdown.
	auditRepo := audit.NewSQLRepository(db)
	var recorder *audit.Recorder
	auditDone := make(chan struct{})
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()
	if cfg.Audit.Enabled {
		recorder = audit.NewRecorder(cfg.Audit.BufferSize, tel.auditSinks(auditRepo),
			audit.WithRecorderLogger(log.With("component", "audit").Logger),
		)
		go func() {
			defer close(auditDone)
			recorder.Run(auditCtx)
		}()
	} else {
		close(auditDone)
		log.Info("audit trail disabled")
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		Security:  cfg.Security,
		Logger:    log,
		Auth:      authService,
		Selector:  selector,
		Audit:     recorder,
		AuditRepo: auditRepo,
		Registry:  registry,
		Checks:    tel.checks(),
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	// Report the starting backend. An unreachable durable store is not
	// fatal; requests are served from the fallback until it returns.
	_, mode := selector.Acquire(ctx)
	log.Info("initialisation complete, waiting for shutdown signal",
		"address", server.Addr(),
		"store_mode", mode,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	if err := server.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}

	stopAudit()
	select {
	case <-auditDone:
		if recorder != nil && recorder.Dropped() > 0 {
			log.Warn("audit entries dropped during run", "count", recorder.Dropped())
		}
	case <-time.After(auditDrainTimeout):
		log.Warn("audit drain timed out")
	}

	// Deferred Close() calls run in reverse order:
	// 1. InfluxDB and MQTT (if enabled)
	// 2. Database

	log.Info("CRM Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CRM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CRM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the durable store handle described by cfg. It does
// not contact the server.
func openDatabase(cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Driver:      cfg.Driver,
		Path:        cfg.Path,
		DSN:         cfg.DSN,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// runMigrate handles "crmcore migrate [up|status|down]" against the
// configured durable store and exits. With no action it applies pending
// migrations.
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	if len(args) > 1 || !slices.Contains([]string{"up", "status", "down"}, action) {
		return fmt.Errorf("usage: crmcore migrate [up|status|down]")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // process exits next

	switch action {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Fprintln(out, "migrations applied")
	case "down":
		m, err := db.MigrateDown(ctx)
		if err != nil {
			return fmt.Errorf("reverting: %w", err)
		}
		fmt.Fprintf(out, "reverted %s_%s\n", m.Version, m.Name)
	case "status":
		states, err := db.MigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("reading migration status: %w", err)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED AT")
		for _, st := range states {
			state, at := "pending", "-"
			if st.Applied {
				state, at = "applied", st.AppliedAt.Format(time.RFC3339)
			}
			name := st.Name
			if st.Up == "" {
				name = "(no file)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Version, name, state, at)
		}
		return tw.Flush()
	}
	return nil
}

// newFallback builds the in-memory store, seeded from fixtures when enabled.
func newFallback(cfg config.StoreConfig) (*store.Memory, error) {
	fallback := store.NewMemory()
	if !cfg.SeedFixtures {
		return fallback, nil
	}

	fx, err := store.LoadFixtures(cfg.FixturesFile)
	if err != nil {
		return nil, fmt.Errorf("loading fixtures: %w", err)
	}
	if err := fallback.Seed(fx); err != nil {
		return nil, fmt.Errorf("seeding fallback store: %w", err)
	}
	return fallback, nil
}

// telemetry holds the optional MQTT and InfluxDB outputs. Either may be nil.
type telemetry struct {
	mqtt   *mqtt.Client
	influx *influxdb.Client
	log    *logging.Logger
}

// connectTelemetry connects the enabled outputs. Connection failures are
// logged and the output is skipped; neither is required to serve requests.
func connectTelemetry(ctx context.Context, cfg *config.Config, log *logging.Logger) *telemetry {
	tel := &telemetry{log: log}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT unavailable, audit events will not be published", "error", err)
		} else {
			client.SetLogger(log)
			client.SetOnConnect(func() {
				log.Info("MQTT reconnected")
			})
			client.SetOnDisconnect(func(err error) {
				log.Warn("MQTT disconnected", "error", err)
			})
			tel.mqtt = client
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)
		}
	} else {
		log.Info("MQTT disabled")
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		log.Warn("InfluxDB unavailable, auth telemetry will not be written", "error", err)
	default:
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		tel.influx = client
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	return tel
}

// checks returns a reachability check per connected output for /health.
func (t *telemetry) checks() map[string]func(context.Context) error {
	out := make(map[string]func(context.Context) error)
	if t.mqtt != nil {
		out["mqtt"] = t.mqtt.HealthCheck
	}
	if t.influx != nil {
		out["influxdb"] = t.influx.HealthCheck
	}
	return out
}

// auditSinks returns the SQL sink plus one sink per connected output.
func (t *telemetry) auditSinks(repo audit.Repository) []audit.Sink {
	sinks := []audit.Sink{audit.RepositorySink{Repo: repo}}
	if t.mqtt != nil {
		sinks = append(sinks, audit.MQTTSink{Client: t.mqtt})
	}
	if t.influx != nil {
		sinks = append(sinks, audit.InfluxSink{Client: t.influx})
	}
	return sinks
}

// storeModeMessage is the retained payload on <prefix>/system/store_mode.
type storeModeMessage struct {
	Mode      store.Mode `json:"mode"`
	ChangedAt time.Time  `json:"changedAt"`
}

// publishMode reports a backend switch. It runs on the request path, so
// the MQTT publish is handed to a goroutine.
func (t *telemetry) publishMode(mode store.Mode) {
	now := store.Stamp(time.Now())
	if t.influx != nil {
		t.influx.WriteStoreMode(string(mode), now)
	}
	if t.mqtt != nil {
		client := t.mqtt
		go func() {
			msg := storeModeMessage{Mode: mode, ChangedAt: now}
			if err := client.PublishJSON(client.Topics().StoreMode(), msg, true); err != nil {
				t.log.Warn("publishing store mode failed", "mode", mode, "error", err)
			}
		}()
	}
}

// close flushes and disconnects the outputs.
func (t *telemetry) close(log *logging.Logger) {
	if t.influx != nil {
		log.Info("closing InfluxDB connection")
		if err := t.influx.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
		if n := t.influx.Failures(); n > 0 {
			log.Warn("InfluxDB batches failed during run", "count", n)
		}
	}
	if t.mqtt != nil {
		log.Info("disconnecting from MQTT")
		if err := t.mqtt.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}
}
