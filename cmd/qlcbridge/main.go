// QLC+ Bridge
//
// This is the main entry point for the QLC+ bridge. It keeps a live mirror
// of a QLC+ lighting controller's functions and virtual console widgets and
// exposes them over MQTT and an HTTP API.
//
// Usage:
//
//	qlcbridge                                  # run the bridge
//	qlcbridge token -subject desk -role operator  # mint an API token
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/qlc-bridge/internal/api"
	"github.com/nerrad567/qlc-bridge/internal/audit"
	"github.com/nerrad567/qlc-bridge/internal/auth"
	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
	"github.com/nerrad567/qlc-bridge/internal/catalog"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/config"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/database"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/qlc-bridge/internal/process"
	"github.com/nerrad567/qlc-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Background maintenance intervals.
const (
	historyPruneInterval = time.Hour
	startupCheckTimeout  = 10 * time.Second
)

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:], os.Stdout)
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting QLC+ bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database: classification cache and status history
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	history := catalog.NewHistoryRepository(db.DB)
	auditLog := audit.NewSQLiteRepository(db.DB)
	classifications, err := catalog.NewPersistentCache(ctx,
		catalog.NewClassificationRepository(db.DB), log.Component("catalog"))
	if err != nil {
		return fmt.Errorf("loading classification cache: %w", err)
	}
	log.Info("classification cache loaded", "entries", classifications.Len())

	// MQTT: the will marks the bridge offline in the health topic
	lwt, err := json.Marshal(qlc.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding last will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithWill(qlc.HealthTopic(), lwt),
		mqtt.WithLogger(log.Component("mqtt")),
	)
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
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// InfluxDB (optional)
	influxClient, err := connectInflux(ctx, cfg, log)
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

	// QLC+ client
	qlcCfg := qlcConfig(cfg.QLC)
	client := qlc.NewClient(qlcCfg,
		qlc.WithLogger(log.Component("qlc")),
		qlc.WithClassificationCache(classifications),
	)

	// Local QLC+ process, stopped after the client closes
	var supervisor *process.Supervisor
	if cfg.QLC.Enabled && cfg.QLC.Launch.Enabled {
		supervisor = newSupervisor(cfg.QLC.Launch, client, log.Component("process"))
		if startErr := supervisor.Start(ctx); startErr != nil {
			return fmt.Errorf("launching QLC+: %w", startErr)
		}
		defer func() {
			log.Info("stopping QLC+ process")
			if stopErr := supervisor.Stop(); stopErr != nil {
				log.Error("error stopping QLC+", "error", stopErr)
			}
		}()
	}

	defer func() {
		log.Info("closing QLC+ client")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing QLC+ client", "error", closeErr)
		}
	}()

	// MQTT bridge
	bridgeOpts := qlc.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		Endpoint:       qlcCfg.Endpoint(),
		HealthInterval: cfg.Bridge.HealthInterval,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Controller:     client,
		Recorder:       history,
		Logger:         log.Component("bridge"),
	}
	if influxClient != nil {
		bridgeOpts.Metrics = influxClient
	}
	bridge, err := qlc.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing state")
		bridge.Republish()
	})

	if cfg.QLC.Enabled {
		if startErr := client.Start(); startErr != nil {
			return fmt.Errorf("starting QLC+ client: %w", startErr)
		}
		log.Info("QLC+ client started", "endpoint", client.Endpoint())
	} else {
		log.Info("QLC+ client disabled")
	}

	// HTTP API
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:          cfg.API,
			WS:              cfg.WebSocket,
			Security:        cfg.Security,
			Logger:          log.Component("api"),
			Controller:      client,
			History:         history,
			Classifications: classifications,
			Bridge:          bridge,
			MQTT:            mqttClient,
			Audit:           auditLog,
			Version:         version,
		}
		if supervisor != nil {
			deps.Process = supervisor
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	go pruneHistoryLoop(ctx, history, cfg.Database.HistoryRetention, log)
	if influxClient != nil {
		go statsLoop(ctx, client, influxClient, cfg.Bridge.HealthInterval)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, bridge, QLC+ client, InfluxDB,
	// MQTT, database.
	return nil
}

// qlcConfig maps the file configuration onto the client's.
func qlcConfig(c config.QLCConfig) qlc.Config {
	return qlc.Config{
		Host:              c.Host,
		Port:              c.Port,
		Path:              c.Path,
		ReconnectInterval: c.ReconnectInterval,
		ReconnectJitter:   c.ReconnectJitter,
		RequestTimeout:    c.RequestTimeout,
		HandshakeTimeout:  c.HandshakeTimeout,
		SkipStatusQuery:   !c.RefreshStatus,
	}
}

// newSupervisor builds the supervisor for a local QLC+ process. The
// watchdog treats a lost WebSocket session as a hung controller.
func newSupervisor(c config.QLCLaunchConfig, controller interface{ State() qlc.State }, log *logging.Logger) *process.Supervisor {
	sup := process.NewSupervisor(process.Config{
		Name:               "qlcplus",
		Binary:             c.Binary,
		Args:               c.Args,
		WorkDir:            c.WorkDir,
		RestartDelay:       c.RestartDelay,
		MaxRestartAttempts: c.MaxRestartAttempts,
		HealthCheck: func(context.Context) error {
			if state := controller.State(); state != qlc.StateConnected {
				return fmt.Errorf("controller %s", state)
			}
			return nil
		},
	})
	sup.SetLogger(log)
	return sup
}

// connectInflux returns nil without error when InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB, map[string]string{
		"site":   cfg.Site.ID,
		"bridge": cfg.Bridge.ID,
	})
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// The QLC+ controller is not checked: the client reconnects on its own and
// the bridge reports its state in the health topic.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// historyPruner is the part of the history repository the prune loop uses.
type historyPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneHistoryLoop deletes status history older than retention every hour.
// A zero retention keeps everything.
func pruneHistoryLoop(ctx context.Context, repo historyPruner, retention time.Duration, log *logging.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		pruneHistory(ctx, repo, retention, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneHistory(ctx context.Context, repo historyPruner, retention time.Duration, log *logging.Logger) {
	n, err := repo.PruneHistory(ctx, retention)
	if err != nil {
		log.Warn("pruning status history failed", "error", err)
		return
	}
	if n > 0 {
		log.Info("pruned status history", "removed", n, "retention", retention.String())
	}
}

// statsWriter is the part of the InfluxDB client the stats loop uses.
type statsWriter interface {
	WriteBridgeStats(fields map[string]any)
}

// statsLoop writes client statistics to InfluxDB at each health interval.
func statsLoop(ctx context.Context, source interface{ Stats() qlc.Stats }, w statsWriter, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WriteBridgeStats(statsFields(source.Stats()))
		}
	}
}

// statsFields flattens client statistics into InfluxDB fields.
func statsFields(st qlc.Stats) map[string]any {
	return map[string]any{
		"connected":        st.Connected,
		"frames_tx":        st.FramesTx,
		"frames_rx":        st.FramesRx,
		"request_timeouts": st.RequestTimeouts,
		"late_replies":     st.LateRepliesDropped,
		"pushes_applied":   st.PushesApplied,
		"errors":           st.ErrorsTotal,
		"reconnects":       st.ReconnectsScheduled,
		"pending_requests": st.PendingRequests,
		"functions":        st.Functions,
		"widgets":          st.Widgets,
	}
}

// runToken implements "qlcbridge token": it signs an API token with the
// configured secret and prints it.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "token subject, e.g. the client's name")
	role := fs.String("role", string(auth.RoleViewer), "viewer or operator")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("token: -subject is required")
	}

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, *ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic string, payload []byte) error
//   - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements qlc.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements qlc.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements qlc.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
