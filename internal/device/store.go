package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ChangeKind identifies which part of the store changed.
type ChangeKind string

// Change kinds.
const (
	ChangeMatrix      ChangeKind = "matrix"
	ChangeFan         ChangeKind = "fan"
	ChangePump        ChangeKind = "pump"
	ChangeAutoControl ChangeKind = "auto_control"
	ChangeSensorFrame ChangeKind = "sensor_frame"
)

// Change describes one committed update.
//
// Value holds the new state: MatrixState, FanState, PumpState,
// AutoControlConfig or SensorFrame, matching Kind.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Value  any        `json:"value"`
	Source Source     `json:"source"`
	At     time.Time  `json:"at"`
}

// Actuator returns the actuator a change refers to, if any.
func (c Change) Actuator() (Actuator, bool) {
	switch c.Kind {
	case ChangeMatrix:
		return ActuatorMatrix, true
	case ChangeFan:
		return ActuatorFan, true
	case ChangePump:
		return ActuatorPump, true
	}
	return "", false
}

// Store is the in-memory truth for actuator state, the auto-control
// targets and the latest sensor frame.
//
// Each partition has its own lock, held only to copy a value in or out.
// Actuator state can only be committed from inside this package, after the
// Controller has received the board's acknowledgment.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscribers are called synchronously after the lock is released,
//     on the goroutine that made the change. They must not block.
type Store struct {
	matrixMu sync.RWMutex
	matrix   MatrixState

	fanMu sync.RWMutex
	fan   FanState

	pumpMu sync.RWMutex
	pump   PumpState

	configMu sync.RWMutex
	config   AutoControlConfig

	frameMu  sync.RWMutex
	frame    SensorFrame
	hasFrame bool

	listenersMu sync.RWMutex
	listeners   map[int]func(Change)
	nextID      int
}

// NewStore creates a store with the board's reset state and the given
// auto-control targets.
//
// Returns:
//   - error: ErrInvalidConfig if cfg fails validation
func NewStore(cfg AutoControlConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initial := InitialActuatorState()
	return &Store{
		matrix:    initial.Matrix,
		fan:       initial.Fan,
		pump:      initial.Pump,
		config:    cfg,
		listeners: make(map[int]func(Change)),
	}, nil
}

// Actuators returns a snapshot of every actuator.
func (s *Store) Actuators() ActuatorState {
	return ActuatorState{
		Matrix: s.Matrix(),
		Fan:    FanState{On: s.FanOn()},
		Pump:   PumpState{On: s.PumpOn()},
	}
}

// Matrix returns the matrix state.
func (s *Store) Matrix() MatrixState {
	s.matrixMu.RLock()
	defer s.matrixMu.RUnlock()
	return s.matrix
}

// FanOn reports whether the fan is running.
func (s *Store) FanOn() bool {
	s.fanMu.RLock()
	defer s.fanMu.RUnlock()
	return s.fan.On
}

// PumpOn reports whether the pump is running.
func (s *Store) PumpOn() bool {
	s.pumpMu.RLock()
	defer s.pumpMu.RUnlock()
	return s.pump.On
}

// AutoControl returns a consistent copy of the control targets.
func (s *Store) AutoControl() AutoControlConfig {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

// LatestFrame returns the most recent sensor frame, if one has been recorded.
func (s *Store) LatestFrame() (SensorFrame, bool) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame, s.hasFrame
}

// SetAutoControl replaces the whole control configuration.
func (s *Store) SetAutoControl(ctx context.Context, cfg AutoControlConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.configMu.Lock()
	changed := s.config != cfg
	s.config = cfg
	s.configMu.Unlock()

	if changed {
		s.notify(ctx, ChangeAutoControl, cfg)
	}
	return nil
}

// UpdateTargets applies a partial target update atomically. The enabled
// flag is left alone.
//
// Returns:
//   - AutoControlConfig: The configuration now in effect
//   - error: ErrInvalidConfig if the result fails validation (nothing changes)
func (s *Store) UpdateTargets(ctx context.Context, patch TargetsPatch) (AutoControlConfig, error) {
	s.configMu.Lock()
	next := patch.Apply(s.config)
	if err := next.Validate(); err != nil {
		current := s.config
		s.configMu.Unlock()
		return current, err
	}
	changed := s.config != next
	s.config = next
	s.configMu.Unlock()

	if changed {
		s.notify(ctx, ChangeAutoControl, next)
	}
	return next, nil
}

// SetAutoEnabled switches the control loop on or off.
func (s *Store) SetAutoEnabled(ctx context.Context, enabled bool) AutoControlConfig {
	s.configMu.Lock()
	changed := s.config.Enabled != enabled
	s.config.Enabled = enabled
	cfg := s.config
	s.configMu.Unlock()

	if changed {
		s.notify(ctx, ChangeAutoControl, cfg)
	}
	return cfg
}

// RecordFrame stores the latest sensor frame.
func (s *Store) RecordFrame(ctx context.Context, frame SensorFrame) {
	s.frameMu.Lock()
	s.frame = frame
	s.hasFrame = true
	s.frameMu.Unlock()

	s.notify(ctx, ChangeSensorFrame, frame)
}

// Subscribe registers fn for every committed change.
//
// Returns:
//   - func(): Removes the subscription
func (s *Store) Subscribe(fn func(Change)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// updateMatrix applies fn to the current matrix state under the lock.
func (s *Store) updateMatrix(ctx context.Context, fn func(*MatrixState)) MatrixState {
	s.matrixMu.Lock()
	before := s.matrix
	fn(&s.matrix)
	after := s.matrix
	s.matrixMu.Unlock()

	if before != after {
		s.notify(ctx, ChangeMatrix, after)
	}
	return after
}

func (s *Store) commitFan(ctx context.Context, on bool) {
	s.fanMu.Lock()
	changed := s.fan.On != on
	s.fan.On = on
	s.fanMu.Unlock()

	if changed {
		s.notify(ctx, ChangeFan, FanState{On: on})
	}
}

func (s *Store) commitPump(ctx context.Context, on bool) {
	s.pumpMu.Lock()
	changed := s.pump.On != on
	s.pump.On = on
	s.pumpMu.Unlock()

	if changed {
		s.notify(ctx, ChangePump, PumpState{On: on})
	}
}

func (s *Store) notify(ctx context.Context, kind ChangeKind, value any) {
	s.listenersMu.RLock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()

	if len(fns) == 0 {
		return
	}

	change := Change{Kind: kind, Value: value, Source: SourceFrom(ctx), At: time.Now().UTC()}
	for _, fn := range fns {
		fn(change)
	}
}

// String renders the actuator state for logs.
func (a ActuatorState) String() string {
	return fmt.Sprintf("matrix(on=%t color=%s brightness=%d) fan(on=%t) pump(on=%t)",
		a.Matrix.On, a.Matrix.Color, a.Matrix.Brightness, a.Fan.On, a.Pump.On)
}
