package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// Logger defines the logging interface used by the storage package.
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

const (
	recorderQueueSize    = 256
	recorderWriteTimeout = 5 * time.Second
)

// Recorder writes store changes to SQLite: actuator changes become events
// and control-target changes are saved as settings.
//
// Store listeners run on the committing goroutine, so Handle only queues
// the change; a single worker does the writes in order. When the queue is
// full the change is dropped and counted.
type Recorder struct {
	events   EventRepository
	settings SettingsRepository
	logger   Logger

	queue   chan device.Change
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// NewRecorder creates a recorder. Either repository may be nil.
func NewRecorder(events EventRepository, settings SettingsRepository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		events:   events,
		settings: settings,
		logger:   logger,
		queue:    make(chan device.Change, recorderQueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the write worker.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Handle queues a change. It never blocks. Pass it to Store.Subscribe.
func (r *Recorder) Handle(change device.Change) {
	if change.Kind == device.ChangeSensorFrame {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.queue <- change:
	default:
		r.dropped.Add(1)
		r.logger.Warn("history queue full, dropping change", "kind", change.Kind)
	}
}

// Dropped returns how many changes were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Stop writes what is already queued and stops the worker.
func (r *Recorder) Stop() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case change := <-r.queue:
			r.write(change)
		case <-r.done:
			for {
				select {
				case change := <-r.queue:
					r.write(change)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(change device.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	if actuator, ok := change.Actuator(); ok {
		if r.events == nil {
			return
		}
		if err := r.events.RecordEvent(ctx, actuator, change.Value, change.Source, change.At); err != nil {
			r.logger.Error("failed to record actuator event", "actuator", actuator, "error", err)
		}
		return
	}

	if change.Kind == device.ChangeAutoControl && r.settings != nil {
		cfg, ok := change.Value.(device.AutoControlConfig)
		if !ok {
			return
		}
		if err := r.settings.SaveAutoControl(ctx, cfg); err != nil {
			r.logger.Error("failed to save auto-control settings", "error", err)
		}
	}
}
