// Terrarium Core - terrarium device control and automation engine
//
// This is the main entry point. It talks to the terrarium's microcontroller
// over USB serial, polls the sensors, runs the auto-control rules and
// exposes the actuators over REST, WebSocket and MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/terrarium-core/internal/api"
	"github.com/nerrad567/terrarium-core/internal/auth"
	"github.com/nerrad567/terrarium-core/internal/automation"
	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/config"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/database"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/logging"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/metrics"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/terrarium-core/internal/link"
	"github.com/nerrad567/terrarium-core/internal/remote"
	"github.com/nerrad567/terrarium-core/internal/sensor"
	"github.com/nerrad567/terrarium-core/internal/storage"
	"github.com/nerrad567/terrarium-core/migrations"
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

// pruneInterval is how often history older than database.retention_days
// is deleted.
const pruneInterval = 24 * time.Hour

// shutdownTimeout bounds the controller's pump-off on shutdown.
const shutdownTimeout = 10 * time.Second

// options are the command-line settings.
type options struct {
	configPath     string
	configExplicit bool
	forceAuto      bool
	noSensor       bool
	issueToken     string
	stdout         io.Writer
}

func main() {
	// A missing .env is normal in production; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path falls back to
// TERRARIUM_CONFIG, then to configs/config.yaml.
func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("terrarium", flag.ContinueOnError)
	opts := options{stdout: os.Stdout}

	fs.StringVar(&opts.configPath, "config", "", "path to config.yaml (env TERRARIUM_CONFIG)")
	fs.BoolVar(&opts.forceAuto, "auto", false, "enable auto control regardless of saved settings")
	fs.BoolVar(&opts.noSensor, "no-sensor", false, "do not poll the sensors")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print a signed API token for `subject` and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch {
	case opts.configPath != "":
		opts.configExplicit = true
	case os.Getenv("TERRARIUM_CONFIG") != "":
		opts.configPath = os.Getenv("TERRARIUM_CONFIG")
		opts.configExplicit = true
	default:
		opts.configPath = defaultConfigPath
	}
	return opts, nil
}

// loadConfig reads the config file. Without an explicit path a missing
// default file means built-in defaults.
func loadConfig(opts options) (*config.Config, error) {
	if !opts.configExplicit {
		if _, err := os.Stat(opts.configPath); errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
	}
	return config.Load(opts.configPath)
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Command-line options
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.issueToken != "" {
		return issueToken(cfg, opts)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting Terrarium Core",
		"version", version,
		"commit", commit,
		"build_date", date,
		"site", cfg.Site.ID,
		"config", opts.configPath,
	)

	m := metrics.New()

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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	readings := storage.NewSQLiteReadingRepository(db.DB)
	events := storage.NewSQLiteEventRepository(db.DB)
	settings := storage.NewSQLiteSettingsRepository(db.DB)

	// State store, seeded with the persisted auto-control settings
	autoCfg := initialAutoControl(ctx, cfg, settings, log)
	if opts.forceAuto {
		autoCfg.Enabled = true
	}
	store, err := device.NewStore(autoCfg)
	if err != nil {
		return fmt.Errorf("creating state store: %w", err)
	}
	log.Info("auto control configured", "enabled", autoCfg.Enabled, "config", autoCfg)

	recorder := storage.NewRecorder(events, settings, log.With("component", "recorder"))
	recorder.Start()
	store.Subscribe(recorder.Handle)
	defer func() {
		recorder.Stop()
		if n := recorder.Dropped(); n > 0 {
			log.Warn("history recorder dropped changes", "dropped", n)
		}
	}()
	store.Subscribe(metricsListener(m))

	// Serial link; a board that is not plugged in yet is retried by the poller
	linkCfg := linkConfig(cfg)
	transport := link.New(linkCfg, link.SerialOpener(linkCfg))
	transport.SetLogger(log.With("component", "link"))
	transport.SetObserver(func(command string, outcome link.Outcome, elapsed time.Duration) {
		m.ObserveExchange(command, string(outcome), elapsed)
	})
	if connErr := transport.Reconnect(ctx); connErr != nil {
		log.Warn("serial link not available at startup", "port", linkCfg.PortName, "error", connErr)
		if ports, listErr := link.AvailablePorts(); listErr == nil {
			log.Info("serial ports present", "ports", ports)
		}
	}

	controller := device.NewController(transport, store, device.ControllerConfig{
		CommandTimeout:  cfg.CommandTimeout(),
		CommandSettle:   cfg.Serial.CommandSettle,
		PumpMaxDuration: cfg.Pump.MaxDuration,
		PumpSupersede:   cfg.Pump.Supersede,
	})
	controller.SetLogger(log.With("component", "controller"))
	controller.SetObserver(func(a device.Actuator, err error) {
		m.ObserveCommand(string(a), err)
	})

	engine := automation.NewEngine(controller, log.With("component", "auto"))
	engine.SetObserver(func(r automation.Result) {
		m.ObserveIntent(string(r.Intent.Action), r.Err)
	})

	sinks := sensor.MultiSink{{Name: "sqlite", Sink: readings}}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if influxErr != nil {
			log.Error("InfluxDB unavailable, continuing without it", "url", cfg.InfluxDB.URL, "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			sinks = append(sinks, sensor.NamedSink{Name: "influxdb", Sink: influxSink(influxClient)})
			store.Subscribe(influxActuatorListener(influxClient))
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Error("MQTT unavailable, continuing without it",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"error", err,
			)
			mqttClient = nil
		} else {
			mqttClient.SetLogger(log.With("component", "mqtt"))
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()

			publisher := remote.NewPublisher(mqttClient, cfg.Site.ID, byte(cfg.MQTT.QoS), log.With("component", "publisher"))
			publisher.Start()
			defer publisher.Stop()
			store.Subscribe(publisher.Handle)
			sinks = append(sinks, sensor.NamedSink{Name: "mqtt", Sink: publisher})

			publishSnapshot := func() {
				if pubErr := publisher.PublishSnapshot(store.Actuators(), store.AutoControl()); pubErr != nil {
					log.Warn("publishing state snapshot failed", "error", pubErr)
				}
			}
			publishSnapshot()
			mqttClient.SetOnConnect(func() {
				log.Info("MQTT reconnected")
				publishSnapshot()
			})
			mqttClient.SetOnDisconnect(func(err error) {
				log.Warn("MQTT disconnected", "error", err)
			})
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Sensor poller; it owns the transport and closes it on Stop
	var poller *sensor.Poller
	if cfg.Poller.Enabled && !opts.noSensor {
		poller = sensor.NewPoller(transport, store, sinks, engine, sensor.Config{
			Interval:    cfg.Poller.Interval,
			ReadSettle:  cfg.Serial.ReadSettle,
			ReadTimeout: cfg.ReadTimeout(),
			SinkTimeout: cfg.Poller.SinkTimeout,
		})
		poller.SetLogger(log.With("component", "poller"))
		poller.SetObserver(pollerMetrics{m: m})
		if startErr := poller.Start(ctx); startErr != nil {
			return fmt.Errorf("starting sensor poller: %w", startErr)
		}
		defer poller.Stop()
	} else {
		log.Info("sensor polling disabled")
		defer func() {
			if closeErr := transport.Close(); closeErr != nil {
				log.Warn("closing serial link", "error", closeErr)
			}
		}()
	}

	defer func() {
		log.Info("stopping device controller")
		shutdownCtx, cancel := context.WithTimeout(device.WithSource(context.Background(), device.SourceSystem), shutdownTimeout)
		defer cancel()
		if shutdownErr := controller.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("controller shutdown failed", "error", shutdownErr)
		}
	}()

	// MQTT commands are accepted only once everything they touch is up
	if mqttClient != nil {
		bridge := remote.NewCommandBridge(mqttClient, controller, store, remote.BridgeConfig{
			Site:           cfg.Site.ID,
			QoS:            byte(cfg.MQTT.QoS),
			PumpPulse:      cfg.Pump.PulseDuration,
			CommandTimeout: cfg.CommandTimeout(),
		}, log.With("component", "bridge"))
		if startErr := bridge.Start(ctx); startErr != nil {
			log.Error("MQTT command bridge not started", "error", startErr)
		} else {
			defer bridge.Stop()
		}
	}

	// REST API
	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.With("component", "api"),
		Store:      store,
		Controller: controller,
		Link:       transport,
		Readings:   readings,
		Events:     events,
		Metrics:    m.Handler(),
		PumpPulse:  cfg.Pump.PulseDuration,
		Version:    version,
	}
	if poller != nil {
		deps.Poller = poller
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	m.CountWebSocketClients(server.Hub().ClientCount)
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if cfg.Security.JWT.Secret == "" {
		log.Warn("API authentication disabled: security.jwt.secret is not set")
	}

	go pruneLoop(ctx, cfg.Database.RetentionDays, log, readings, events)

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: database: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, MQTT bridge, controller (pump off), poller (closes the link),
	// MQTT publisher and client, InfluxDB, recorder, database.
	return nil
}

// issueToken prints a signed API token and returns.
func issueToken(cfg *config.Config, opts options) error {
	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := auth.IssueToken(cfg.Security.JWT.Secret, opts.issueToken, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(opts.stdout, token)
	return nil
}

// initialAutoControl returns the persisted auto-control settings, falling
// back to the config file's control section.
func initialAutoControl(ctx context.Context, cfg *config.Config, settings storage.SettingsRepository, log *logging.Logger) device.AutoControlConfig {
	fromFile := device.AutoControlConfig{
		Enabled:        cfg.Control.Enabled,
		TargetLight:    cfg.Control.TargetLight,
		TargetTemp:     cfg.Control.TargetTemp,
		TargetHumid:    cfg.Control.TargetHumid,
		TempTolerance:  cfg.Control.TempTolerance,
		HumidTolerance: cfg.Control.HumidTolerance,
	}

	saved, err := settings.LoadAutoControl(ctx)
	switch {
	case err == nil:
		log.Info("using saved auto-control settings")
		return saved
	case errors.Is(err, storage.ErrNotFound):
		return fromFile
	default:
		log.Warn("saved auto-control settings unusable, using config file", "error", err)
		return fromFile
	}
}

// linkConfig maps the serial section onto the transport's settings.
func linkConfig(cfg *config.Config) link.Config {
	return link.Config{
		PortName:      cfg.Serial.Port,
		BaudRate:      cfg.Serial.BaudRate,
		BootDelay:     cfg.Serial.BootDelay,
		SettleDelay:   cfg.Serial.CommandSettle,
		ReadTimeout:   cfg.Serial.Timeout,
		MaxLineLength: cfg.Serial.MaxLineLength,
	}
}

// pruner deletes history older than a cutoff.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneLoop trims history once at startup and then daily. A retention of
// zero keeps everything.
func pruneLoop(ctx context.Context, retentionDays int, log *logging.Logger, repos ...pruner) {
	if retentionDays <= 0 {
		return
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	prune := func() {
		for _, repo := range repos {
			n, err := repo.Prune(ctx, retention)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("pruning history failed", "error", err)
				}
				continue
			}
			if n > 0 {
				log.Info("pruned history", "rows", n, "retention_days", retentionDays)
			}
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
