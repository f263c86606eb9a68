package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/terrarium-core/internal/link"
)

// Logger defines the logging interface used by the device package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Acknowledgments the firmware sends for each command.
const (
	AckMatrixOn         = "OK:MATRIX_ON"
	AckMatrixOff        = "OK:MATRIX_OFF"
	AckMatrixBrightness = "OK:MATRIX_BRIGHTNESS"
	AckFanOn            = "OK:FAN_ON"
	AckFanOff           = "OK:FAN_OFF"
	AckPumpOn           = "OK:PUMP_ON"
	AckPumpOff          = "OK:PUMP_OFF"
)

// pumpTimerKey is the scheduler key for pump auto-off.
const pumpTimerKey = string(ActuatorPump)

// Pump-off retry after a timer-initiated failure.
const (
	pumpOffAttempts   = 3
	pumpOffRetryDelay = 5 * time.Second
)

// Default controller settings.
const (
	DefaultCommandTimeout  = 3 * time.Second
	DefaultCommandSettle   = 100 * time.Millisecond
	DefaultPumpMaxDuration = 60 * time.Second
)

// ControllerConfig holds controller settings.
type ControllerConfig struct {
	// CommandTimeout bounds one command exchange, including waiting for
	// the link.
	CommandTimeout time.Duration

	// CommandSettle is the delay between writing a command and reading
	// its acknowledgment.
	CommandSettle time.Duration

	// PumpMaxDuration caps TriggerPump durations.
	PumpMaxDuration time.Duration

	// PumpSupersede makes a new TriggerPump cancel the pending auto-off
	// instead of adding a second independent timer.
	PumpSupersede bool
}

// Controller turns actuator intents into link commands and commits the
// result to the Store once the board has acknowledged it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Link access is serialized by the Exchanger; the controller holds no
//     lock across an exchange.
type Controller struct {
	link      link.Exchanger
	store     *Store
	cfg       ControllerConfig
	scheduler *Scheduler

	hooksMu  sync.RWMutex
	logger   Logger
	observer func(actuator Actuator, err error)
}

// NewController creates a controller. Zero config fields take defaults.
func NewController(ex link.Exchanger, store *Store, cfg ControllerConfig) *Controller {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.CommandSettle <= 0 {
		cfg.CommandSettle = DefaultCommandSettle
	}
	if cfg.PumpMaxDuration <= 0 {
		cfg.PumpMaxDuration = DefaultPumpMaxDuration
	}
	return &Controller{
		link:      ex,
		store:     store,
		cfg:       cfg,
		scheduler: NewScheduler(),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.logger = logger
}

// SetObserver registers a callback invoked after every actuator command
// with its result. Used for metrics.
func (c *Controller) SetObserver(fn func(actuator Actuator, err error)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.observer = fn
}

// Store returns the state store the controller commits to.
func (c *Controller) Store() *Store {
	return c.store
}

// SetMatrix switches the matrix. Switching on sends the given colour, or
// the stored one when rgb is nil.
func (c *Controller) SetMatrix(ctx context.Context, on bool, rgb *RGB) error {
	if !on {
		if err := c.send(ctx, ActuatorMatrix, "MATRIX:OFF", AckMatrixOff); err != nil {
			return err
		}
		c.store.updateMatrix(ctx, func(m *MatrixState) { m.On = false })
		return nil
	}

	color := c.store.Matrix().Color
	if rgb != nil {
		color = *rgb
	}
	if err := c.send(ctx, ActuatorMatrix, "MATRIX:COLOR:"+color.String(), AckMatrixOn); err != nil {
		return err
	}
	c.store.updateMatrix(ctx, func(m *MatrixState) {
		m.On = true
		m.Color = color
	})
	return nil
}

// SetMatrixColorPreset switches the matrix on with a firmware preset.
//
// Returns:
//   - error: ErrUnknownPreset before anything is sent for an unknown name
func (c *Controller) SetMatrixColorPreset(ctx context.Context, name string) error {
	key, color, err := LookupPreset(name)
	if err != nil {
		return err
	}
	if err := c.send(ctx, ActuatorMatrix, "MATRIX:"+strings.ToUpper(key), AckMatrixOn); err != nil {
		return err
	}
	c.store.updateMatrix(ctx, func(m *MatrixState) {
		m.On = true
		m.Color = color
	})
	return nil
}

// SetBrightness sets the matrix brightness. The level is clamped to 0..255.
//
// Returns:
//   - uint8: The level actually sent
//   - error: Command failure
func (c *Controller) SetBrightness(ctx context.Context, level int) (uint8, error) {
	clamped := ClampBrightness(level)
	cmd := "MATRIX:BRIGHT:" + strconv.Itoa(int(clamped))
	if err := c.send(ctx, ActuatorMatrix, cmd, AckMatrixBrightness); err != nil {
		return clamped, err
	}
	c.store.updateMatrix(ctx, func(m *MatrixState) { m.Brightness = clamped })
	return clamped, nil
}

// SetFan switches the fan.
func (c *Controller) SetFan(ctx context.Context, on bool) error {
	cmd, ack := "FAN:OFF", AckFanOff
	if on {
		cmd, ack = "FAN:ON", AckFanOn
	}
	if err := c.send(ctx, ActuatorFan, cmd, ack); err != nil {
		return err
	}
	c.store.commitFan(ctx, on)
	return nil
}

// SetPump switches the pump. A successful off also drops any pending
// auto-off, since there is nothing left for it to do. Switching on after
// Shutdown returns ErrShutdown and leaves the pump off.
func (c *Controller) SetPump(ctx context.Context, on bool) error {
	cmd, ack := "PUMP:OFF", AckPumpOff
	if on {
		cmd, ack = "PUMP:ON", AckPumpOn
	}
	if on && c.scheduler.Stopped() {
		return ErrShutdown
	}
	if err := c.send(ctx, ActuatorPump, cmd, ack); err != nil {
		return err
	}
	if !on {
		if n := c.scheduler.Cancel(pumpTimerKey); n > 0 {
			c.log().Debug("pump auto-off cancelled", "pending", n)
		}
	}
	c.store.commitPump(ctx, on)

	// Shutdown may have checked the pump while PUMP:ON was in flight.
	if on && c.scheduler.Stopped() {
		c.pumpOffAfterShutdown(ctx)
		return ErrShutdown
	}
	return nil
}

// TriggerPump runs the pump for d and then switches it off.
//
// With PumpSupersede a new trigger replaces the pending auto-off, so the
// pump runs for d from the latest trigger. Without it each trigger keeps
// its own timer and the earliest one wins.
//
// Parameters:
//   - ctx: Context for the pump-on command
//   - d: Run time, in (0, PumpMaxDuration]
//
// Returns:
//   - error: ErrInvalidArgument, ErrShutdown or a command failure. On
//     failure no timer is scheduled.
func (c *Controller) TriggerPump(ctx context.Context, d time.Duration) error {
	if d <= 0 || d > c.cfg.PumpMaxDuration {
		return fmt.Errorf("%w: pump duration %s outside (0, %s]", ErrInvalidArgument, d, c.cfg.PumpMaxDuration)
	}
	if c.scheduler.Stopped() {
		return ErrShutdown
	}

	if err := c.send(ctx, ActuatorPump, "PUMP:ON", AckPumpOn); err != nil {
		return err
	}
	c.store.commitPump(ctx, true)

	off := func() { c.pumpOff(1) }
	var err error
	if c.cfg.PumpSupersede {
		err = c.scheduler.Schedule(pumpTimerKey, d, off)
	} else {
		err = c.scheduler.Add(pumpTimerKey, d, off)
	}
	if err != nil {
		// Shutdown stopped the scheduler while PUMP:ON was in flight and
		// may already have seen the pump as off.
		c.pumpOffAfterShutdown(ctx)
		return ErrShutdown
	}

	c.log().Info("pump triggered", "duration", d, "source", SourceFrom(ctx))
	return nil
}

// PumpOffPending returns when the pump is next due to switch off.
func (c *Controller) PumpOffPending() (time.Time, bool) {
	return c.scheduler.Pending(pumpTimerKey)
}

// Shutdown stops the scheduler and switches the pump off if it is running.
// Later TriggerPump calls return ErrShutdown.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.scheduler.Stop()

	if !c.store.PumpOn() {
		return nil
	}
	if err := c.SetPump(WithSource(ctx, SourceSystem), false); err != nil {
		c.log().Error("failed to switch pump off on shutdown", "error", err)
		return err
	}
	return nil
}

// pumpOffAfterShutdown switches off a pump that was started after Shutdown
// stopped the scheduler. The caller's context may already be cancelled.
func (c *Controller) pumpOffAfterShutdown(ctx context.Context) {
	ctx = WithSource(context.WithoutCancel(ctx), SourceSystem)
	if err := c.SetPump(ctx, false); err != nil {
		c.log().Error("failed to switch pump off after shutdown", "error", err)
	}
}

// pumpOff is the auto-off callback. A failed off is retried a few times,
// because nothing else will stop the pump.
func (c *Controller) pumpOff(attempt int) {
	ctx := WithSource(context.Background(), SourceTimer)
	err := c.SetPump(ctx, false)
	if err == nil {
		c.log().Info("pump auto-off complete")
		return
	}

	if attempt >= pumpOffAttempts {
		c.log().Error("pump auto-off failed, giving up", "attempts", attempt, "error", err)
		return
	}
	c.log().Warn("pump auto-off failed, retrying", "attempt", attempt, "retry_in", pumpOffRetryDelay, "error", err)
	if addErr := c.scheduler.Add(pumpTimerKey, pumpOffRetryDelay, func() { c.pumpOff(attempt + 1) }); addErr != nil {
		c.log().Error("pump auto-off retry not scheduled", "error", addErr)
	}
}

// send performs one command exchange and checks the acknowledgment.
func (c *Controller) send(ctx context.Context, actuator Actuator, command, ack string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	resp, err := c.link.Exchange(ctx, link.Request{
		Command:     command,
		Settle:      c.cfg.CommandSettle,
		ExpectReply: true,
	})
	switch {
	case err != nil:
		err = fmt.Errorf("%w: %s: %w", ErrCommandFailed, command, err)
	case !acknowledged(resp.Line, ack):
		err = fmt.Errorf("%w: %s: got %q, want %q", ErrUnexpectedAck, command, resp.Line, ack)
	}

	c.observe(actuator, err)
	if err != nil {
		c.log().Warn("actuator command failed", "command", command, "source", SourceFrom(ctx), "error", err)
		return err
	}
	c.log().Debug("actuator command acknowledged", "command", command, "ack", resp.Line)
	return nil
}

func (c *Controller) log() Logger {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.logger
}

func (c *Controller) observe(actuator Actuator, err error) {
	c.hooksMu.RLock()
	fn := c.observer
	c.hooksMu.RUnlock()
	if fn != nil {
		fn(actuator, err)
	}
}

// acknowledged reports whether line is the expected ack. Matrix on and
// brightness acks may carry trailing detail; the rest must match exactly.
func acknowledged(line, ack string) bool {
	switch ack {
	case AckMatrixOn, AckMatrixBrightness:
		return strings.HasPrefix(line, ack)
	}
	return line == ack
}

// ClampBrightness limits a level to what the matrix accepts.
func ClampBrightness(level int) uint8 {
	switch {
	case level < 0:
		return 0
	case level > 255:
		return 255
	}
	return uint8(level)
}

