package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePort is a scripted serial port. Every written command is answered
// with respond(cmd), made readable after replyDelay.
type fakePort struct {
	mu         sync.Mutex
	respond    func(cmd string) string
	replyDelay time.Duration
	maxChunk   int

	pending  []byte
	readyAt  time.Time
	writes   []string
	inFlight bool
	overlaps int
	resets   int
	closed   bool

	writeErr error
	readErr  error
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}
	cmd := strings.TrimSuffix(string(b), "\n")
	if p.inFlight {
		p.overlaps++
	}
	p.writes = append(p.writes, cmd)
	if p.respond != nil {
		if reply := p.respond(cmd); reply != "" {
			p.pending = append(p.pending, reply...)
			p.inFlight = true
		}
	}
	p.readyAt = time.Now().Add(p.replyDelay)
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		p.mu.Unlock()
		return 0, p.readErr
	}
	if len(p.pending) == 0 || time.Now().Before(p.readyAt) {
		p.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	defer p.mu.Unlock()

	n := len(p.pending)
	if p.maxChunk > 0 && n > p.maxChunk {
		n = p.maxChunk
	}
	n = copy(b, p.pending[:n])
	p.pending = p.pending[n:]
	if len(p.pending) == 0 {
		p.inFlight = false
	}
	return n, nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.pending = nil
	p.inFlight = false
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ackResponder answers actuator commands the way the firmware does.
func ackResponder(cmd string) string {
	switch cmd {
	case "FAN:ON":
		return "OK:FAN_ON\r\n"
	case "FAN:OFF":
		return "OK:FAN_OFF\r\n"
	case "PUMP:ON":
		return "OK:PUMP_ON\r\n"
	case "PUMP:OFF":
		return "OK:PUMP_OFF\r\n"
	case "READ":
		return `{"HW038":512,"LIGHT":200,"TEMP":24.5,"HUMID":55.0}` + "\r\n"
	}
	return ""
}

func testConfig() Config {
	return Config{PortName: "/dev/ttyFAKE0", ReadTimeout: 100 * time.Millisecond}
}

func newConnected(t *testing.T, port *fakePort, cfg Config) *Transport {
	t.Helper()
	tr := New(cfg, func() (Port, error) { return port, nil })
	if err := tr.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() }) //nolint:errcheck // Test cleanup
	return tr
}

func TestExchange_Acknowledgment(t *testing.T) {
	port := &fakePort{respond: ackResponder}
	tr := newConnected(t, port, testConfig())

	resp, err := tr.Exchange(context.Background(), Request{Command: "FAN:ON", ExpectReply: true})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if resp.Line != "OK:FAN_ON" {
		t.Errorf("Line = %q, want OK:FAN_ON", resp.Line)
	}
	if resp.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should be set")
	}
	if got := port.written(); len(got) != 1 || got[0] != "FAN:ON" {
		t.Errorf("written = %v, want [FAN:ON]", got)
	}

	stats := tr.Stats()
	if stats.Exchanges != 1 || !stats.Connected || stats.Reconnects != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.LastActivity.IsZero() {
		t.Error("LastActivity should be set")
	}
}

func TestExchange_ChunkedReply(t *testing.T) {
	port := &fakePort{respond: ackResponder, maxChunk: 7}
	tr := newConnected(t, port, testConfig())

	resp, err := tr.Exchange(context.Background(), Request{Command: "READ", ExpectReply: true})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	want := `{"HW038":512,"LIGHT":200,"TEMP":24.5,"HUMID":55.0}`
	if resp.Line != want {
		t.Errorf("Line = %q, want %q", resp.Line, want)
	}
}

func TestExchange_NoReply(t *testing.T) {
	tests := []struct {
		name        string
		expectReply bool
		wantErr     error
	}{
		{"expected reply times out", true, ErrTimeout},
		{"silence is fine when no reply expected", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{}
			tr := newConnected(t, port, testConfig())

			resp, err := tr.Exchange(context.Background(), Request{Command: "MATRIX:OFF", ExpectReply: tt.expectReply})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Exchange() error = %v, want %v", err, tt.wantErr)
			}
			if resp.Line != "" {
				t.Errorf("Line = %q, want empty", resp.Line)
			}
			if !tr.IsConnected() {
				t.Error("a timeout must not break the link")
			}
		})
	}
}

func TestExchange_PartialLineAccepted(t *testing.T) {
	port := &fakePort{respond: func(string) string { return "OK:PUMP_ON" }}
	tr := newConnected(t, port, testConfig())

	resp, err := tr.Exchange(context.Background(), Request{Command: "PUMP:ON", ExpectReply: true})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if resp.Line != "OK:PUMP_ON" {
		t.Errorf("Line = %q, want OK:PUMP_ON", resp.Line)
	}
}

func TestExchange_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		reply   string
	}{
		{"invalid utf-8", "FAN:ON", "OK:\xff\xfe\n"},
		{"blank reply", "FAN:ON", "  \r\n"},
		{"over-long line", "READ", strings.Repeat("x", 100) + "\n"},
		{"embedded newline in command", "FAN:ON\nPUMP:ON", ""},
		{"empty command", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{respond: func(string) string { return tt.reply }}
			cfg := testConfig()
			cfg.MaxLineLength = 64
			tr := newConnected(t, port, cfg)

			_, err := tr.Exchange(context.Background(), Request{Command: tt.command, ExpectReply: true})
			if !errors.Is(err, ErrProtocol) {
				t.Fatalf("Exchange() error = %v, want ErrProtocol", err)
			}
			if !tr.IsConnected() {
				t.Error("a protocol error must not break the link")
			}
		})
	}
}

func TestExchange_DiscardsStaleInput(t *testing.T) {
	port := &fakePort{respond: ackResponder}
	tr := newConnected(t, port, testConfig())

	port.mu.Lock()
	port.pending = []byte("OK:FAN_OFF\r\n")
	port.mu.Unlock()

	resp, err := tr.Exchange(context.Background(), Request{Command: "FAN:ON", ExpectReply: true})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if resp.Line != "OK:FAN_ON" {
		t.Errorf("Line = %q, want the reply to this command", resp.Line)
	}
}

func TestExchange_NotConnected(t *testing.T) {
	tr := New(testConfig(), func() (Port, error) { return &fakePort{}, nil })

	_, err := tr.Exchange(context.Background(), Request{Command: "READ", ExpectReply: true})
	if !errors.Is(err, ErrLink) {
		t.Errorf("Exchange() before Reconnect error = %v, want ErrLink", err)
	}
}

func TestExchange_FailureBreaksLinkUntilReconnect(t *testing.T) {
	broken := &fakePort{respond: ackResponder, writeErr: errors.New("device unplugged")}
	healthy := &fakePort{respond: ackResponder}

	ports := []*fakePort{broken, healthy}
	tr := New(testConfig(), func() (Port, error) {
		p := ports[0]
		ports = ports[1:]
		return p, nil
	})
	ctx := context.Background()
	if err := tr.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	defer tr.Close() //nolint:errcheck // Test cleanup

	if _, err := tr.Exchange(ctx, Request{Command: "FAN:ON", ExpectReply: true}); !errors.Is(err, ErrLink) {
		t.Fatalf("Exchange() error = %v, want ErrLink", err)
	}
	if tr.IsConnected() {
		t.Fatal("link should be marked broken")
	}

	// Later exchanges fail without touching the port.
	if _, err := tr.Exchange(ctx, Request{Command: "PUMP:ON", ExpectReply: true}); !errors.Is(err, ErrLink) {
		t.Fatalf("second Exchange() error = %v, want ErrLink", err)
	}
	if err := tr.HealthCheck(ctx); !errors.Is(err, ErrLink) {
		t.Errorf("HealthCheck() error = %v, want ErrLink", err)
	}

	if err := tr.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if !broken.isClosed() {
		t.Error("the broken port should be closed on reconnect")
	}

	resp, err := tr.Exchange(ctx, Request{Command: "PUMP:ON", ExpectReply: true})
	if err != nil {
		t.Fatalf("Exchange() after reconnect error = %v", err)
	}
	if resp.Line != "OK:PUMP_ON" {
		t.Errorf("Line = %q, want OK:PUMP_ON", resp.Line)
	}
	if got := tr.Stats().Reconnects; got != 2 {
		t.Errorf("Reconnects = %d, want 2", got)
	}
}

func TestExchange_ReadFailureBreaksLink(t *testing.T) {
	port := &fakePort{respond: ackResponder, readErr: errors.New("i/o error")}
	tr := newConnected(t, port, testConfig())

	if _, err := tr.Exchange(context.Background(), Request{Command: "READ", ExpectReply: true}); !errors.Is(err, ErrLink) {
		t.Fatalf("Exchange() error = %v, want ErrLink", err)
	}
	if tr.IsConnected() {
		t.Error("link should be marked broken after a read failure")
	}
}

func TestExchange_ConcurrentCallersNeverInterleave(t *testing.T) {
	port := &fakePort{respond: ackResponder, replyDelay: time.Millisecond, maxChunk: 3}
	tr := newConnected(t, port, testConfig())

	const perCaller = 15
	var wg sync.WaitGroup
	errs := make(chan error, 2*perCaller)

	for _, pair := range [][2]string{{"FAN:ON", "OK:FAN_ON"}, {"PUMP:ON", "OK:PUMP_ON"}} {
		wg.Add(1)
		go func(cmd, want string) {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				resp, err := tr.Exchange(context.Background(), Request{Command: cmd, ExpectReply: true})
				if err != nil {
					errs <- err
					continue
				}
				if resp.Line != want {
					errs <- fmt.Errorf("%s got reply %q", cmd, resp.Line)
				}
			}
		}(pair[0], pair[1])
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	port.mu.Lock()
	overlaps := port.overlaps
	port.mu.Unlock()
	if overlaps != 0 {
		t.Errorf("%d commands were written while a reply was outstanding", overlaps)
	}
	if got := len(port.written()); got != 2*perCaller {
		t.Errorf("writes = %d, want %d", got, 2*perCaller)
	}
}

func TestExchange_WaiterGivesUp(t *testing.T) {
	port := &fakePort{}
	cfg := testConfig()
	cfg.ReadTimeout = 300 * time.Millisecond
	tr := newConnected(t, port, cfg)

	started := make(chan struct{})
	go func() {
		close(started)
		tr.Exchange(context.Background(), Request{Command: "READ", ExpectReply: true}) //nolint:errcheck // only holds the lock
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := tr.Exchange(ctx, Request{Command: "FAN:ON", ExpectReply: true})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Exchange() error = %v, want ErrTimeout", err)
	}
	for _, cmd := range port.written() {
		if cmd == "FAN:ON" {
			t.Error("a caller that gave up must not write its command")
		}
	}
}

func TestReconnect(t *testing.T) {
	t.Run("open failure", func(t *testing.T) {
		tr := New(testConfig(), func() (Port, error) { return nil, errors.New("no such device") })

		err := tr.Reconnect(context.Background())
		if !errors.Is(err, ErrLink) {
			t.Fatalf("Reconnect() error = %v, want ErrLink", err)
		}
		if tr.IsConnected() {
			t.Error("IsConnected() = true after failed open")
		}
		if got := tr.Stats().LinkErrors; got != 1 {
			t.Errorf("LinkErrors = %d, want 1", got)
		}
	})

	t.Run("waits boot delay", func(t *testing.T) {
		cfg := testConfig()
		cfg.BootDelay = 40 * time.Millisecond
		port := &fakePort{}
		tr := New(cfg, func() (Port, error) { return port, nil })
		defer tr.Close() //nolint:errcheck // Test cleanup

		start := time.Now()
		if err := tr.Reconnect(context.Background()); err != nil {
			t.Fatalf("Reconnect() error = %v", err)
		}
		if elapsed := time.Since(start); elapsed < cfg.BootDelay {
			t.Errorf("Reconnect() returned after %v, want at least %v", elapsed, cfg.BootDelay)
		}
		if port.resets == 0 {
			t.Error("boot output should be flushed")
		}
	})

	t.Run("cancelled during boot", func(t *testing.T) {
		cfg := testConfig()
		cfg.BootDelay = time.Second
		port := &fakePort{}
		tr := New(cfg, func() (Port, error) { return port, nil })

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if err := tr.Reconnect(ctx); !errors.Is(err, ErrTimeout) {
			t.Fatalf("Reconnect() error = %v, want ErrTimeout", err)
		}
		if !port.isClosed() {
			t.Error("port should be closed when boot is abandoned")
		}
		if tr.IsConnected() {
			t.Error("IsConnected() = true after abandoned boot")
		}
	})
}

func TestClose(t *testing.T) {
	port := &fakePort{respond: ackResponder}
	tr := New(testConfig(), func() (Port, error) { return port, nil })
	ctx := context.Background()
	if err := tr.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !port.isClosed() {
		t.Error("port not closed")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := tr.Exchange(ctx, Request{Command: "FAN:ON"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Exchange() after Close error = %v, want ErrClosed", err)
	}
	if err := tr.Reconnect(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Reconnect() after Close error = %v, want ErrClosed", err)
	}
	if err := tr.HealthCheck(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrClosed", err)
	}
}

func TestClose_WaitsForInFlightExchange(t *testing.T) {
	port := &fakePort{respond: ackResponder, replyDelay: 50 * time.Millisecond}
	tr := newConnected(t, port, testConfig())

	result := make(chan error, 1)
	go func() {
		_, err := tr.Exchange(context.Background(), Request{Command: "FAN:ON", ExpectReply: true})
		result <- err
	}()
	time.Sleep(10 * time.Millisecond)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := <-result; err != nil {
		t.Errorf("in-flight Exchange() error = %v, want it to complete", err)
	}
}

func TestObserver(t *testing.T) {
	port := &fakePort{respond: func(cmd string) string {
		if cmd == "MATRIX:COLOR:255,0,0" {
			return "OK:MATRIX_ON\n"
		}
		return ""
	}}
	tr := newConnected(t, port, testConfig())

	type call struct {
		command string
		outcome Outcome
	}
	var mu sync.Mutex
	var calls []call
	tr.SetObserver(func(command string, outcome Outcome, _ time.Duration) {
		mu.Lock()
		calls = append(calls, call{command, outcome})
		mu.Unlock()
	})

	ctx := context.Background()
	tr.Exchange(ctx, Request{Command: "MATRIX:COLOR:255,0,0", ExpectReply: true}) //nolint:errcheck // observed below
	tr.Exchange(ctx, Request{Command: "READ", ExpectReply: true})                 //nolint:errcheck // observed below

	want := []call{{"MATRIX:COLOR", OutcomeOK}, {"READ", OutcomeTimeout}}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != len(want) {
		t.Fatalf("observer calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call[%d] = %v, want %v", i, calls[i], want[i])
		}
	}
	if got := tr.Stats().Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"READ", "READ"},
		{"FAN:ON", "FAN:ON"},
		{"MATRIX:COLOR:0,128,255", "MATRIX:COLOR"},
		{"MATRIX:BRIGHT:75", "MATRIX:BRIGHT"},
		{"MATRIX:PURPLE", "MATRIX:PURPLE"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := CommandName(tt.command); got != tt.want {
				t.Errorf("CommandName(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}
