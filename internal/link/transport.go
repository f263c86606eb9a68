package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

const (
	defaultBaudRate      = 9600
	defaultReadTimeout   = time.Second
	defaultMaxLineLength = 4096

	// readPollInterval caps a single Read so a cancelled context is noticed
	// while the reply window is still open.
	readPollInterval = 100 * time.Millisecond

	readChunkSize = 256
)

// Outcome labels an exchange for observers.
type Outcome string

// Exchange outcomes.
const (
	OutcomeOK            Outcome = "ok"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeProtocolError Outcome = "protocol_error"
	OutcomeLinkError     Outcome = "link_error"
)

// Config holds serial link settings.
type Config struct {
	// PortName is the device path, e.g. /dev/ttyACM0.
	PortName string

	// BaudRate defaults to 9600.
	BaudRate int

	// BootDelay is waited after opening the port; the microcontroller
	// resets when its port is opened and ignores input while it boots.
	BootDelay time.Duration

	// SettleDelay is used for requests that do not set their own.
	// Zero means no pause between write and read.
	SettleDelay time.Duration

	// ReadTimeout is the default reply window. Default: 1s.
	ReadTimeout time.Duration

	// MaxLineLength bounds a reply line in bytes. Default: 4096.
	MaxLineLength int
}

// Request is a single command sent to the microcontroller.
type Request struct {
	// Command is sent followed by a newline. It must not contain one.
	Command string

	// Settle overrides Config.SettleDelay when non-zero.
	Settle time.Duration

	// Timeout overrides Config.ReadTimeout when non-zero.
	Timeout time.Duration

	// ExpectReply makes an empty reply window an ErrTimeout. Without it
	// the exchange succeeds with an empty Response.
	ExpectReply bool
}

// Response is the reply line with surrounding whitespace removed.
type Response struct {
	Line       string
	ReceivedAt time.Time
}

// Stats holds operational statistics.
type Stats struct {
	Port           string    `json:"port"`
	Connected      bool      `json:"connected"`
	Exchanges      uint64    `json:"exchanges"`
	Timeouts       uint64    `json:"timeouts"`
	ProtocolErrors uint64    `json:"protocol_errors"`
	LinkErrors     uint64    `json:"link_errors"`
	Reconnects     uint64    `json:"reconnects"`
	LastActivity   time.Time `json:"last_activity"`
}

// Logger interface for optional logging.
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

// Exchanger performs one request/response round trip.
type Exchanger interface {
	Exchange(ctx context.Context, req Request) (Response, error)
}

// Ensure Transport implements Exchanger.
var _ Exchanger = (*Transport)(nil)

// Transport serializes request/response exchanges over one serial port.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Exactly one exchange is on the wire at a time; other callers wait for
//     the exchange lock, bounded by their context.
//
// Failure handling:
//   - A read or write error marks the link broken. Every later exchange
//     fails with ErrLink until Reconnect opens the port again.
//   - Timeouts and protocol errors leave the link open.
type Transport struct {
	cfg    Config
	opener Opener

	// lock is a one-slot semaphore held for a whole exchange, for port
	// swaps in Reconnect and for Close. A channel lets waiters give up when
	// their context ends.
	lock chan struct{}
	port Port // guarded by lock

	connMu    sync.RWMutex
	connected bool

	done *closeOnce

	logger   Logger
	observer func(command string, outcome Outcome, elapsed time.Duration)
	hooksMu  sync.RWMutex

	exchanges      atomic.Uint64
	timeouts       atomic.Uint64
	protocolErrors atomic.Uint64
	linkErrors     atomic.Uint64
	reconnects     atomic.Uint64
	lastActivity   atomic.Int64 // Unix milliseconds
}

// New creates a disconnected Transport. Call Reconnect to open the port.
//
// Parameters:
//   - cfg: Link configuration; zero values take defaults
//   - opener: Opens the physical port (SerialOpener in production)
//
// Returns:
//   - *Transport: Transport ready for Reconnect
func New(cfg Config, opener Opener) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.MaxLineLength == 0 {
		cfg.MaxLineLength = defaultMaxLineLength
	}

	return &Transport{
		cfg:    cfg,
		opener: opener,
		lock:   make(chan struct{}, 1),
		done:   newCloseOnce(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for this transport.
func (t *Transport) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.hooksMu.Lock()
	t.logger = logger
	t.hooksMu.Unlock()
}

// SetObserver registers a callback invoked after every exchange with the
// command name (see CommandName), its outcome and its duration.
func (t *Transport) SetObserver(fn func(command string, outcome Outcome, elapsed time.Duration)) {
	t.hooksMu.Lock()
	t.observer = fn
	t.hooksMu.Unlock()
}

func (t *Transport) log() Logger {
	t.hooksMu.RLock()
	defer t.hooksMu.RUnlock()
	return t.logger
}

// Reconnect closes the current port, if any, and opens it again, waiting
// the boot delay before the link is marked connected.
//
// It waits for an in-flight exchange to finish first, so it never cuts a
// reply in half.
//
// Returns:
//   - error: ErrClosed after Close, ErrTimeout if ctx ends first,
//     ErrLink if the port cannot be opened
func (t *Transport) Reconnect(ctx context.Context) error {
	if t.isClosed() {
		return ErrClosed
	}
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if t.isClosed() {
		return ErrClosed
	}

	t.setConnected(false)
	if t.port != nil {
		t.port.Close() //nolint:errcheck // replacing a broken port
		t.port = nil
	}

	port, err := t.opener()
	if err != nil {
		t.linkErrors.Add(1)
		return fmt.Errorf("%w: opening %s: %w", ErrLink, t.cfg.PortName, err)
	}

	if err := t.sleep(ctx, t.cfg.BootDelay); err != nil {
		port.Close() //nolint:errcheck // abandoned before use
		return err
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close() //nolint:errcheck // abandoned before use
		t.linkErrors.Add(1)
		return fmt.Errorf("%w: flushing boot output: %w", ErrLink, err)
	}

	t.port = port
	t.setConnected(true)
	t.reconnects.Add(1)
	t.touch()

	t.log().Info("serial link connected", "port", t.cfg.PortName, "baud", t.cfg.BaudRate)
	return nil
}

// Exchange sends one command and reads its reply line.
//
// The sequence is: discard stale input, write Command plus newline, wait the
// settle delay, then read until a newline or until the reply window (or the
// context deadline, whichever is sooner) elapses. A partial line received
// before the window closes is returned as the reply.
//
// Returns:
//   - Response: The trimmed reply (empty when none was expected or sent)
//   - error: ErrLink, ErrTimeout, ErrProtocol or ErrClosed
func (t *Transport) Exchange(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := t.exchange(ctx, req)
	t.record(req.Command, err, time.Since(start))
	return resp, err
}

func (t *Transport) exchange(ctx context.Context, req Request) (Response, error) {
	if req.Command == "" || strings.ContainsAny(req.Command, "\r\n") {
		return Response{}, fmt.Errorf("%w: command %q cannot be framed", ErrProtocol, req.Command)
	}
	if t.isClosed() {
		return Response{}, ErrClosed
	}
	if err := t.acquire(ctx); err != nil {
		return Response{}, err
	}
	defer t.release()

	if t.isClosed() {
		return Response{}, ErrClosed
	}
	if !t.IsConnected() || t.port == nil {
		return Response{}, fmt.Errorf("%w: not connected", ErrLink)
	}

	if err := t.port.ResetInputBuffer(); err != nil {
		return Response{}, t.markBroken("flush input", err)
	}

	// Nothing has been sent yet, so an expired context costs nothing.
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	default:
	}

	if _, err := t.port.Write([]byte(req.Command + "\n")); err != nil {
		return Response{}, t.markBroken("write", err)
	}
	t.touch()

	settle := req.Settle
	if settle == 0 {
		settle = t.cfg.SettleDelay
	}
	if err := t.sleep(ctx, settle); err != nil {
		return Response{}, err
	}

	window := req.Timeout
	if window == 0 {
		window = t.cfg.ReadTimeout
	}
	return t.readLine(ctx, window, req.ExpectReply)
}

// readLine reads until a newline or until the window closes.
// Must be called with the lock held.
func (t *Transport) readLine(ctx context.Context, window time.Duration, expectReply bool) (Response, error) {
	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var line []byte
	chunk := make([]byte, readChunkSize)
	complete := false

	for !complete && ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := t.port.SetReadTimeout(min(remaining, readPollInterval)); err != nil {
			return Response{}, t.markBroken("set read timeout", err)
		}

		n, err := t.port.Read(chunk)
		if n > 0 {
			line = append(line, chunk[:n]...)
			if i := bytes.IndexByte(line, '\n'); i >= 0 {
				line = line[:i]
				complete = true
			}
			if len(line) > t.cfg.MaxLineLength {
				return Response{}, fmt.Errorf("%w: reply exceeds %d bytes", ErrProtocol, t.cfg.MaxLineLength)
			}
		}
		if err != nil {
			return Response{}, t.markBroken("read", err)
		}
	}

	if len(line) == 0 && !complete {
		if !expectReply {
			return Response{}, nil
		}
		if err := ctx.Err(); err != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Response{}, fmt.Errorf("%w: no reply within %s", ErrTimeout, window)
	}

	t.touch()

	if !utf8.Valid(line) {
		return Response{}, fmt.Errorf("%w: reply is not valid UTF-8", ErrProtocol)
	}
	text := strings.TrimSpace(string(line))
	if text == "" && expectReply {
		return Response{}, fmt.Errorf("%w: blank reply", ErrProtocol)
	}

	return Response{Line: text, ReceivedAt: time.Now()}, nil
}

// IsConnected reports whether the port is open and has not failed.
func (t *Transport) IsConnected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.connected
}

// Stats returns current operational statistics.
func (t *Transport) Stats() Stats {
	var last time.Time
	if ms := t.lastActivity.Load(); ms > 0 {
		last = time.UnixMilli(ms)
	}
	return Stats{
		Port:           t.cfg.PortName,
		Connected:      t.IsConnected(),
		Exchanges:      t.exchanges.Load(),
		Timeouts:       t.timeouts.Load(),
		ProtocolErrors: t.protocolErrors.Load(),
		LinkErrors:     t.linkErrors.Load(),
		Reconnects:     t.reconnects.Load(),
		LastActivity:   last,
	}
}

// HealthCheck reports the connection state without touching the wire;
// a probe command would queue behind real traffic.
func (t *Transport) HealthCheck(_ context.Context) error {
	if t.isClosed() {
		return ErrClosed
	}
	if !t.IsConnected() {
		return fmt.Errorf("%w: not connected", ErrLink)
	}
	return nil
}

// Close waits for an in-flight exchange, then releases the port.
// Safe to call multiple times.
func (t *Transport) Close() error {
	t.done.Close()

	t.lock <- struct{}{}
	defer t.release()

	t.setConnected(false)
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("closing %s: %w", t.cfg.PortName, err)
	}
	t.log().Info("serial link closed", "port", t.cfg.PortName)
	return nil
}

// CommandName reduces a command to a low-cardinality label:
// "MATRIX:COLOR:255,0,0" becomes "MATRIX:COLOR", "FAN:ON" stays as is.
func CommandName(command string) string {
	parts := strings.SplitN(command, ":", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ":")
}

func (t *Transport) acquire(ctx context.Context) error {
	select {
	case t.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for link: %w", ErrTimeout, ctx.Err())
	}
}

func (t *Transport) release() {
	<-t.lock
}

// sleep waits d, returning early with ErrTimeout if ctx ends or ErrClosed
// if the transport is closed.
func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-t.done.Done():
		return ErrClosed
	}
}

func (t *Transport) markBroken(op string, err error) error {
	t.setConnected(false)
	t.log().Error("serial link failed", "port", t.cfg.PortName, "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrLink, op, err)
}

func (t *Transport) setConnected(v bool) {
	t.connMu.Lock()
	t.connected = v
	t.connMu.Unlock()
}

func (t *Transport) touch() {
	t.lastActivity.Store(time.Now().UnixMilli())
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done.Done():
		return true
	default:
		return false
	}
}

// record updates counters and notifies the observer.
func (t *Transport) record(command string, err error, elapsed time.Duration) {
	t.exchanges.Add(1)

	outcome := OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		t.timeouts.Add(1)
		outcome = OutcomeTimeout
	case errors.Is(err, ErrProtocol):
		t.protocolErrors.Add(1)
		outcome = OutcomeProtocolError
	default:
		t.linkErrors.Add(1)
		outcome = OutcomeLinkError
	}

	name := CommandName(command)
	if err != nil {
		t.log().Debug("exchange failed", "command", name, "outcome", outcome, "error", err)
	}

	t.hooksMu.RLock()
	observer := t.observer
	t.hooksMu.RUnlock()
	if observer != nil {
		observer(name, outcome, elapsed)
	}
}
