package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/config"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/logging"
	"github.com/nerrad567/terrarium-core/internal/link"
	"github.com/nerrad567/terrarium-core/internal/sensor"
	"github.com/nerrad567/terrarium-core/internal/storage"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultPumpPulse is used when no pump pulse is configured.
const defaultPumpPulse = 3 * time.Second

// Controller is the actuator surface the API drives. *device.Controller
// satisfies it.
type Controller interface {
	SetMatrix(ctx context.Context, on bool, rgb *device.RGB) error
	SetMatrixColorPreset(ctx context.Context, name string) error
	SetBrightness(ctx context.Context, level int) (uint8, error)
	SetFan(ctx context.Context, on bool) error
	SetPump(ctx context.Context, on bool) error
	TriggerPump(ctx context.Context, d time.Duration) error
	PumpOffPending() (time.Time, bool)
}

// Poller is the sensor surface the API reads. *sensor.Poller satisfies it.
type Poller interface {
	Status() sensor.Status
	Latest() (device.Reading, bool)
	Upload(ctx context.Context) (device.Reading, error)
}

// LinkStats reports serial link counters. *link.Transport satisfies it.
type LinkStats interface {
	Stats() link.Stats
}

var (
	_ Controller = (*device.Controller)(nil)
	_ Poller     = (*sensor.Poller)(nil)
	_ LinkStats  = (*link.Transport)(nil)
)

// Deps holds the dependencies required by the API server.
//
// Poller, Link, Readings, Events and Metrics are optional; the routes that
// need a missing dependency answer 503.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Store      *device.Store
	Controller Controller
	Poller     Poller
	Link       LinkStats
	Readings   storage.ReadingRepository
	Events     storage.EventRepository
	Metrics    http.Handler
	PumpPulse  time.Duration
	Version    string
}

// Server is the HTTP API server for the terrarium.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	store      *device.Store
	controller Controller
	poller     Poller
	link       LinkStats
	readings   storage.ReadingRepository
	events     storage.EventRepository
	metrics    http.Handler
	pumpPulse  time.Duration
	version    string
	started    time.Time

	server      *http.Server
	hub         *Hub
	unsubscribe func()
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub
// exists from New so callers can wire its client count into metrics.
//
// Parameters:
//   - deps: Required dependencies (config, logger, store, controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("device controller is required")
	}

	pulse := deps.PumpPulse
	if pulse <= 0 {
		pulse = defaultPumpPulse
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		store:      deps.Store,
		controller: deps.Controller,
		poller:     deps.Poller,
		link:       deps.Link,
		readings:   deps.Readings,
		events:     deps.Events,
		metrics:    deps.Metrics,
		pumpPulse:  pulse,
		version:    deps.Version,
		started:    time.Now(),
		hub:        NewHub(deps.WS, deps.Logger),
	}, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes the hub to store changes, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines (not the listener)
//
// Returns:
//   - error: Currently always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.unsubscribe = s.store.Subscribe(s.broadcastChange)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// broadcastChange relays committed store changes to WebSocket subscribers.
func (s *Server) broadcastChange(change device.Change) {
	switch change.Kind {
	case device.ChangeMatrix, device.ChangeFan, device.ChangePump:
		actuator, _ := change.Actuator()
		s.hub.Broadcast(ChannelActuators, map[string]any{
			"actuator": actuator,
			"state":    change.Value,
			"source":   change.Source,
			"at":       change.At,
		})
	case device.ChangeAutoControl:
		s.hub.Broadcast(ChannelAutoControl, map[string]any{
			"config": change.Value,
			"source": change.Source,
			"at":     change.At,
		})
	case device.ChangeSensorFrame:
		s.hub.Broadcast(ChannelSensor, change.Value)
	}
}
