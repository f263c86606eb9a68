package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// Logger defines the logging interface used by the automation package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Executor carries out intents. *device.Controller satisfies it.
type Executor interface {
	SetMatrix(ctx context.Context, on bool, rgb *device.RGB) error
	SetBrightness(ctx context.Context, level int) (uint8, error)
	SetFan(ctx context.Context, on bool) error
	TriggerPump(ctx context.Context, d time.Duration) error
}

var _ Executor = (*device.Controller)(nil)

// Engine runs the auto-control rules against a frame and executes the
// resulting intents in order.
//
// Thread Safety: Run is safe for concurrent use, though the poller only
// calls it from its own loop.
type Engine struct {
	exec   Executor
	logger Logger

	observerMu sync.RWMutex
	observer   func(Result)
}

// NewEngine creates an engine executing through exec.
//
// Parameters:
//   - exec: Executes intents (normally the device controller)
//   - logger: Logger instance (may be nil)
func NewEngine(exec Executor, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{exec: exec, logger: logger}
}

// SetObserver registers a callback invoked for every executed intent.
func (e *Engine) SetObserver(fn func(Result)) {
	e.observerMu.Lock()
	defer e.observerMu.Unlock()
	e.observer = fn
}

// Run decides and executes the intents for one frame.
//
// Every intent is attempted even when an earlier one fails; failures are
// logged and returned in the results. Commands are tagged with the "auto"
// source.
//
// Returns:
//   - []Result: One result per intent, in execution order (nil when the
//     rules produce nothing)
func (e *Engine) Run(ctx context.Context, frame device.SensorFrame, cfg device.AutoControlConfig, state device.ActuatorState) []Result {
	intents := Decide(frame, cfg, state)
	if len(intents) == 0 {
		return nil
	}

	ctx = device.WithSource(ctx, device.SourceAuto)
	results := make([]Result, 0, len(intents))
	for _, intent := range intents {
		err := e.execute(ctx, intent)
		result := Result{Intent: intent, Err: err}
		results = append(results, result)

		if err != nil {
			e.logger.Warn("auto-control intent failed", "intent", intent.String(), "reason", intent.Reason, "error", err)
		} else {
			e.logger.Info("auto-control intent applied", "intent", intent.String(), "reason", intent.Reason)
		}
		e.observe(result)
	}
	return results
}

func (e *Engine) execute(ctx context.Context, intent Intent) error {
	switch intent.Action {
	case ActionSetBrightness:
		_, err := e.exec.SetBrightness(ctx, intent.Level)
		return err
	case ActionSetMatrix:
		return e.exec.SetMatrix(ctx, intent.On, intent.Color)
	case ActionSetFan:
		return e.exec.SetFan(ctx, intent.On)
	case ActionTriggerPump:
		return e.exec.TriggerPump(ctx, intent.Duration)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, intent.Action)
}

func (e *Engine) observe(r Result) {
	e.observerMu.RLock()
	fn := e.observer
	e.observerMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}
