package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/terrarium-core/internal/automation"
	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/link"
)

// Logger defines the logging interface used by the sensor package.
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

// ReadCommand asks the board for a sensor frame.
const ReadCommand = "READ"

// Default poller settings.
const (
	DefaultInterval    = 180 * time.Second
	DefaultReadSettle  = 500 * time.Millisecond
	DefaultReadTimeout = 3 * time.Second
	DefaultSinkTimeout = 10 * time.Second
)

// Link is the part of the transport the poller needs. The poller owns the
// link's lifetime: it reconnects a broken link and closes it on Stop.
type Link interface {
	link.Exchanger
	IsConnected() bool
	Reconnect(ctx context.Context) error
	Close() error
}

// AutoControl runs the control rules for a frame. *automation.Engine
// satisfies it.
type AutoControl interface {
	Run(ctx context.Context, frame device.SensorFrame, cfg device.AutoControlConfig, state device.ActuatorState) []automation.Result
}

var _ AutoControl = (*automation.Engine)(nil)

// Observer receives poller events, e.g. for metrics.
type Observer interface {
	ObserveCycle(result CycleResult, elapsed time.Duration)
	ObserveSink(err error, elapsed time.Duration)
}

// State is the poller lifecycle state.
type State string

// Poller states.
const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// CycleResult is the outcome of one poll cycle.
type CycleResult string

// Cycle results.
const (
	CycleOK            CycleResult = "ok"
	CycleLinkDown      CycleResult = "link_down"
	CycleTimeout       CycleResult = "timeout"
	CycleProtocolError CycleResult = "protocol_error"
	CycleInvalidFrame  CycleResult = "invalid_frame"
)

// Config holds poller settings.
type Config struct {
	// Interval between cycle starts. The first cycle runs immediately.
	Interval time.Duration

	// ReadSettle is the wait between sending READ and reading the reply.
	ReadSettle time.Duration

	// ReadTimeout bounds one READ exchange, including waiting for the link.
	ReadTimeout time.Duration

	// SinkTimeout bounds one sink write.
	SinkTimeout time.Duration
}

// Status is a snapshot of the poller for the API.
type Status struct {
	State      State       `json:"state"`
	Interval   string      `json:"interval"`
	Cycles     uint64      `json:"cycles"`
	LastCycle  *time.Time  `json:"last_cycle,omitempty"`
	LastResult CycleResult `json:"last_result,omitempty"`
	SinkErrors uint64      `json:"sink_errors"`
}

// Poller reads the sensors on a fixed interval, records each frame in the
// store, hands the reading to the sink and runs auto control.
//
// A failed cycle is logged and skipped; the schedule is not reset and the
// loop never exits on an error.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Sink writes run on their own goroutines so a slow sink never delays
//     the next cycle.
type Poller struct {
	link  Link
	store *device.Store
	sink  Sink
	auto  AutoControl
	cfg   Config

	mu      sync.Mutex
	state   State
	done    chan struct{}
	cancel  context.CancelFunc
	loopWg  sync.WaitGroup
	sinkWg  sync.WaitGroup
	linkEnd sync.Once

	statsMu    sync.RWMutex
	cycles     uint64
	lastCycle  time.Time
	lastResult CycleResult
	sinkErrors uint64
	latest     *device.Reading

	hooksMu  sync.RWMutex
	logger   Logger
	observer Observer
}

// NewPoller creates an idle poller.
//
// Parameters:
//   - l: The board link (the poller closes it on Stop)
//   - store: Receives every parsed frame
//   - sink: Persistence for readings (may be nil)
//   - auto: Control rules (may be nil to only record readings)
//   - cfg: Timing; zero fields take defaults
func NewPoller(l Link, store *device.Store, sink Sink, auto AutoControl, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReadSettle <= 0 {
		cfg.ReadSettle = DefaultReadSettle
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	return &Poller{
		link:   l,
		store:  store,
		sink:   sink,
		auto:   auto,
		cfg:    cfg,
		state:  StateIdle,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.logger = logger
}

// SetObserver registers an observer for cycle and sink events.
func (p *Poller) SetObserver(o Observer) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.observer = o
}

// Start begins polling. The first cycle runs immediately.
//
// Returns:
//   - error: ErrAlreadyRunning if the poller is running
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = StateRunning

	p.loopWg.Add(1)
	go p.loop(runCtx, p.done)

	p.log().Info("sensor poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop ends polling, waits for pending sink writes and closes the link.
// A cycle already exchanging with the board finishes first; the stop is
// seen at the top of the next cycle. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.state == StateRunning {
		close(p.done)
		p.cancel()
		p.state = StateIdle
	}
	p.mu.Unlock()

	p.loopWg.Wait()
	p.sinkWg.Wait()

	p.linkEnd.Do(func() {
		if err := p.link.Close(); err != nil {
			p.log().Warn("closing sensor link", "error", err)
		}
	})
	p.log().Info("sensor poller stopped")
}

// State returns the lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns a snapshot for the API.
func (p *Poller) Status() Status {
	st := Status{State: p.State(), Interval: p.cfg.Interval.String()}

	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	st.Cycles = p.cycles
	st.LastResult = p.lastResult
	st.SinkErrors = p.sinkErrors
	if !p.lastCycle.IsZero() {
		t := p.lastCycle
		st.LastCycle = &t
	}
	return st
}

// Latest returns the most recent reading.
func (p *Poller) Latest() (device.Reading, bool) {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	if p.latest == nil {
		return device.Reading{}, false
	}
	return *p.latest, true
}

// Upload re-sends the latest reading to the sink and waits for the result.
//
// Returns:
//   - error: ErrNoReading before the first reading, or the sink's error
func (p *Poller) Upload(ctx context.Context) (device.Reading, error) {
	reading, ok := p.Latest()
	if !ok {
		return device.Reading{}, ErrNoReading
	}
	if p.sink == nil {
		return reading, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SinkTimeout)
	defer cancel()
	start := time.Now()
	err := p.sink.SaveReading(ctx, reading)
	p.observeSink(err, time.Since(start))
	return reading, err
}

func (p *Poller) loop(ctx context.Context, done <-chan struct{}) {
	defer p.loopWg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.runCycle(ctx)

		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	start := time.Now()
	result := p.cycle(ctx)
	elapsed := time.Since(start)

	p.statsMu.Lock()
	p.cycles++
	p.lastCycle = start
	p.lastResult = result
	p.statsMu.Unlock()

	p.hooksMu.RLock()
	obs := p.observer
	p.hooksMu.RUnlock()
	if obs != nil {
		obs.ObserveCycle(result, elapsed)
	}
}

// cycle performs one read. The exchange and the control commands run on a
// context that ignores cancellation so a stop never cuts one off midway;
// each is bounded by its own timeout.
func (p *Poller) cycle(ctx context.Context) CycleResult {
	if !p.link.IsConnected() {
		if err := p.link.Reconnect(ctx); err != nil {
			p.log().Warn("sensor link down, skipping cycle", "error", err)
			return CycleLinkDown
		}
		p.log().Info("sensor link reconnected")
	}

	work := device.WithSource(context.WithoutCancel(ctx), device.SourceSystem)

	readCtx, cancel := context.WithTimeout(work, p.cfg.ReadTimeout)
	resp, err := p.link.Exchange(readCtx, link.Request{
		Command:     ReadCommand,
		Settle:      p.cfg.ReadSettle,
		ExpectReply: true,
	})
	cancel()
	if err != nil {
		result := classify(err)
		p.log().Warn("sensor read failed", "result", result, "error", err)
		return result
	}

	frame, err := ParseFrame(resp.Line, resp.ReceivedAt)
	if err != nil {
		p.log().Warn("discarding sensor frame", "error", err)
		return CycleInvalidFrame
	}

	p.store.RecordFrame(work, frame)
	reading := device.NewReading(frame)
	p.statsMu.Lock()
	p.latest = &reading
	p.statsMu.Unlock()

	p.log().Debug("sensor frame recorded",
		"moisture", frame.Moisture, "light", frame.Light,
		"temperature", frame.Temperature, "humidity", frame.Humidity)

	p.dispatch(reading)

	if p.auto != nil {
		if cfg := p.store.AutoControl(); cfg.Enabled {
			p.auto.Run(work, frame, cfg, p.store.Actuators())
		}
	}
	return CycleOK
}

// dispatch writes the reading to the sink in the background.
func (p *Poller) dispatch(reading device.Reading) {
	if p.sink == nil {
		return
	}

	p.sinkWg.Add(1)
	go func() {
		defer p.sinkWg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SinkTimeout)
		defer cancel()

		start := time.Now()
		err := p.sink.SaveReading(ctx, reading)
		if err != nil {
			p.log().Error("failed to persist reading", "reading_id", reading.ID, "error", err)
		}
		p.observeSink(err, time.Since(start))
	}()
}

func (p *Poller) observeSink(err error, elapsed time.Duration) {
	if err != nil {
		p.statsMu.Lock()
		p.sinkErrors++
		p.statsMu.Unlock()
	}

	p.hooksMu.RLock()
	obs := p.observer
	p.hooksMu.RUnlock()
	if obs != nil {
		obs.ObserveSink(err, elapsed)
	}
}

func (p *Poller) log() Logger {
	p.hooksMu.RLock()
	defer p.hooksMu.RUnlock()
	return p.logger
}

func classify(err error) CycleResult {
	switch {
	case errors.Is(err, link.ErrTimeout):
		return CycleTimeout
	case errors.Is(err, link.ErrProtocol):
		return CycleProtocolError
	}
	return CycleLinkDown
}
