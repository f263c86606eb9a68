package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/terrarium-core/internal/link"
)

// fakeLink answers commands with the firmware's acknowledgments unless a
// reply or error has been scripted for the command.
type fakeLink struct {
	mu       sync.Mutex
	replies  map[string]string
	errs     map[string]error
	commands []string
}

func newFakeLink() *fakeLink {
	return &fakeLink{replies: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeLink) Exchange(_ context.Context, req link.Request) (link.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, req.Command)
	if err, ok := f.errs[req.Command]; ok {
		return link.Response{}, err
	}
	if reply, ok := f.replies[req.Command]; ok {
		return link.Response{Line: reply, ReceivedAt: time.Now()}, nil
	}
	return link.Response{Line: firmwareAck(req.Command), ReceivedAt: time.Now()}, nil
}

func (f *fakeLink) fail(command string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[command] = err
}

func (f *fakeLink) heal(command string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, command)
}

func (f *fakeLink) reply(command, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[command] = line
}

func (f *fakeLink) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeLink) count(command string) int {
	n := 0
	for _, c := range f.sent() {
		if c == command {
			n++
		}
	}
	return n
}

func firmwareAck(cmd string) string {
	switch {
	case cmd == "MATRIX:OFF":
		return AckMatrixOff
	case strings.HasPrefix(cmd, "MATRIX:BRIGHT:"):
		return AckMatrixBrightness
	case strings.HasPrefix(cmd, "MATRIX:"):
		return AckMatrixOn
	case cmd == "FAN:ON":
		return AckFanOn
	case cmd == "FAN:OFF":
		return AckFanOff
	case cmd == "PUMP:ON":
		return AckPumpOn
	case cmd == "PUMP:OFF":
		return AckPumpOff
	}
	return "ERR:UNKNOWN"
}

func newTestController(t *testing.T, cfg ControllerConfig) (*Controller, *fakeLink, *Store) {
	t.Helper()
	store, err := NewStore(DefaultAutoControlConfig())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	fl := newFakeLink()
	ctrl := NewController(fl, store, cfg)
	t.Cleanup(func() { ctrl.scheduler.Stop() })
	return ctrl, fl, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestController_SetMatrix(t *testing.T) {
	ctx := context.Background()
	ctrl, fl, store := newTestController(t, ControllerConfig{})

	purple := RGB{R: 128, G: 0, B: 128}
	if err := ctrl.SetMatrix(ctx, true, &purple); err != nil {
		t.Fatalf("SetMatrix(on, purple) error = %v", err)
	}
	if got := store.Matrix(); !got.On || got.Color != purple {
		t.Errorf("Matrix() = %+v, want on and purple", got)
	}

	if err := ctrl.SetMatrix(ctx, false, nil); err != nil {
		t.Fatalf("SetMatrix(off) error = %v", err)
	}
	if store.Matrix().On {
		t.Error("matrix still on after SetMatrix(off)")
	}

	// Nil colour reuses the stored one.
	if err := ctrl.SetMatrix(ctx, true, nil); err != nil {
		t.Fatalf("SetMatrix(on, nil) error = %v", err)
	}

	want := []string{"MATRIX:COLOR:128,0,128", "MATRIX:OFF", "MATRIX:COLOR:128,0,128"}
	got := fl.sent()
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestController_SetMatrixColorPreset(t *testing.T) {
	tests := []struct {
		name    string
		preset  string
		wantCmd string
		wantRGB RGB
		wantErr error
	}{
		{"lower case", "red", "MATRIX:RED", RGB{R: 255}, nil},
		{"mixed case", "Cyan", "MATRIX:CYAN", RGB{G: 255, B: 255}, nil},
		{"purple", "purple", "MATRIX:PURPLE", RGB{R: 128, B: 128}, nil},
		{"unknown", "magenta", "", RGB{}, ErrUnknownPreset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, fl, store := newTestController(t, ControllerConfig{})

			err := ctrl.SetMatrixColorPreset(context.Background(), tt.preset)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetMatrixColorPreset(%q) error = %v, want %v", tt.preset, err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if n := len(fl.sent()); n != 0 {
					t.Errorf("sent %d commands for unknown preset, want 0", n)
				}
				return
			}
			if got := fl.sent(); len(got) != 1 || got[0] != tt.wantCmd {
				t.Errorf("sent %v, want [%s]", got, tt.wantCmd)
			}
			if got := store.Matrix(); !got.On || got.Color != tt.wantRGB {
				t.Errorf("Matrix() = %+v, want on with %v", got, tt.wantRGB)
			}
		})
	}
}

func TestController_SetBrightnessClamps(t *testing.T) {
	tests := []struct {
		level   int
		want    uint8
		wantCmd string
	}{
		{-10, 0, "MATRIX:BRIGHT:0"},
		{0, 0, "MATRIX:BRIGHT:0"},
		{75, 75, "MATRIX:BRIGHT:75"},
		{255, 255, "MATRIX:BRIGHT:255"},
		{300, 255, "MATRIX:BRIGHT:255"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.level), func(t *testing.T) {
			ctrl, fl, store := newTestController(t, ControllerConfig{})

			got, err := ctrl.SetBrightness(context.Background(), tt.level)
			if err != nil {
				t.Fatalf("SetBrightness(%d) error = %v", tt.level, err)
			}
			if got != tt.want {
				t.Errorf("SetBrightness(%d) = %d, want %d", tt.level, got, tt.want)
			}
			if b := store.Matrix().Brightness; b != tt.want {
				t.Errorf("stored brightness = %d, want %d", b, tt.want)
			}
			if cmds := fl.sent(); cmds[0] != tt.wantCmd {
				t.Errorf("command = %q, want %q", cmds[0], tt.wantCmd)
			}
		})
	}
}

func TestController_FailureLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(fl *fakeLink)
		wantErr error
	}{
		{"timeout", func(fl *fakeLink) { fl.fail("FAN:ON", link.ErrTimeout) }, link.ErrTimeout},
		{"link down", func(fl *fakeLink) { fl.fail("FAN:ON", link.ErrLink) }, link.ErrLink},
		{"wrong ack", func(fl *fakeLink) { fl.reply("FAN:ON", "ERR:BUSY") }, ErrUnexpectedAck},
		{"empty ack", func(fl *fakeLink) { fl.reply("FAN:ON", "") }, ErrUnexpectedAck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, fl, store := newTestController(t, ControllerConfig{})
			tt.setup(fl)

			var changes int
			store.Subscribe(func(Change) { changes++ })

			err := ctrl.SetFan(context.Background(), true)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetFan() error = %v, want %v", err, tt.wantErr)
			}
			if store.FanOn() {
				t.Error("fan committed on after failed command")
			}
			if changes != 0 {
				t.Errorf("subscribers saw %d changes, want 0", changes)
			}
		})
	}
}

func TestController_LinkErrorsWrapCommandFailed(t *testing.T) {
	ctrl, fl, _ := newTestController(t, ControllerConfig{})
	fl.fail("PUMP:ON", link.ErrTimeout)

	err := ctrl.SetPump(context.Background(), true)
	if !errors.Is(err, ErrCommandFailed) || !errors.Is(err, link.ErrTimeout) {
		t.Errorf("SetPump() error = %v, want ErrCommandFailed wrapping ErrTimeout", err)
	}
}

func TestController_AckMatching(t *testing.T) {
	tests := []struct {
		name    string
		command string
		reply   string
		call    func(*Controller) error
		wantErr bool
	}{
		{"matrix on with detail", "MATRIX:COLOR:255,255,255", "OK:MATRIX_ON 255,255,255", func(c *Controller) error {
			return c.SetMatrix(context.Background(), true, nil)
		}, false},
		{"brightness with detail", "MATRIX:BRIGHT:40", "OK:MATRIX_BRIGHTNESS=40", func(c *Controller) error {
			_, err := c.SetBrightness(context.Background(), 40)
			return err
		}, false},
		{"fan on exact", "FAN:ON", "OK:FAN_ON", func(c *Controller) error {
			return c.SetFan(context.Background(), true)
		}, false},
		{"fan on with detail", "FAN:ON", "OK:FAN_ON (pin 7)", func(c *Controller) error {
			return c.SetFan(context.Background(), true)
		}, true},
		{"pump off with detail", "PUMP:OFF", "OK:PUMP_OFFLINE", func(c *Controller) error {
			return c.SetPump(context.Background(), false)
		}, true},
		{"matrix off with detail", "MATRIX:OFF", "OK:MATRIX_OFF!", func(c *Controller) error {
			return c.SetMatrix(context.Background(), false, nil)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, fl, _ := newTestController(t, ControllerConfig{})
			fl.reply(tt.command, tt.reply)

			err := tt.call(ctrl)
			if tt.wantErr && !errors.Is(err, ErrUnexpectedAck) {
				t.Errorf("error = %v, want ErrUnexpectedAck", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("error = %v, want nil", err)
			}
		})
	}
}

func TestController_TriggerPumpAutoOff(t *testing.T) {
	ctrl, fl, store := newTestController(t, ControllerConfig{PumpSupersede: true})

	if err := ctrl.TriggerPump(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("TriggerPump() error = %v", err)
	}
	if !store.PumpOn() {
		t.Fatal("pump not on immediately after acknowledged TriggerPump")
	}
	if _, ok := ctrl.PumpOffPending(); !ok {
		t.Error("PumpOffPending() = false, want pending off")
	}

	waitFor(t, time.Second, func() bool { return !store.PumpOn() })

	if n := fl.count("PUMP:OFF"); n != 1 {
		t.Errorf("PUMP:OFF sent %d times, want 1", n)
	}
	if _, ok := ctrl.PumpOffPending(); ok {
		t.Error("PumpOffPending() = true after auto-off")
	}
}

func TestController_TriggerPumpRecordsTimerSource(t *testing.T) {
	ctrl, _, store := newTestController(t, ControllerConfig{})

	var mu sync.Mutex
	var sources []Source
	store.Subscribe(func(c Change) {
		if c.Kind == ChangePump {
			mu.Lock()
			sources = append(sources, c.Source)
			mu.Unlock()
		}
	})

	ctx := WithSource(context.Background(), SourceAuto)
	if err := ctrl.TriggerPump(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("TriggerPump() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return !store.PumpOn() })

	mu.Lock()
	defer mu.Unlock()
	if len(sources) != 2 || sources[0] != SourceAuto || sources[1] != SourceTimer {
		t.Errorf("pump change sources = %v, want [auto timer]", sources)
	}
}

func TestController_TriggerPumpFailureSchedulesNothing(t *testing.T) {
	ctrl, fl, store := newTestController(t, ControllerConfig{})
	fl.fail("PUMP:ON", link.ErrTimeout)

	if err := ctrl.TriggerPump(context.Background(), 20*time.Millisecond); !errors.Is(err, link.ErrTimeout) {
		t.Fatalf("TriggerPump() error = %v, want ErrTimeout", err)
	}
	if store.PumpOn() {
		t.Error("pump committed on after timeout")
	}
	if _, ok := ctrl.PumpOffPending(); ok {
		t.Error("auto-off scheduled after failed trigger")
	}
}

func TestController_TriggerPumpDurationBounds(t *testing.T) {
	ctrl, fl, _ := newTestController(t, ControllerConfig{PumpMaxDuration: time.Second})

	for _, d := range []time.Duration{0, -time.Second, 2 * time.Second} {
		if err := ctrl.TriggerPump(context.Background(), d); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("TriggerPump(%s) error = %v, want ErrInvalidArgument", d, err)
		}
	}
	if n := len(fl.sent()); n != 0 {
		t.Errorf("sent %d commands for invalid durations, want 0", n)
	}
}

func TestController_TriggerPumpSupersede(t *testing.T) {
	ctrl, fl, store := newTestController(t, ControllerConfig{PumpSupersede: true})
	ctx := context.Background()

	if err := ctrl.TriggerPump(ctx, 60*time.Millisecond); err != nil {
		t.Fatalf("first TriggerPump() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := ctrl.TriggerPump(ctx, 150*time.Millisecond); err != nil {
		t.Fatalf("second TriggerPump() error = %v", err)
	}

	// The first timer would have fired by now.
	time.Sleep(70 * time.Millisecond)
	if !store.PumpOn() {
		t.Fatal("pump switched off by the superseded timer")
	}

	waitFor(t, time.Second, func() bool { return !store.PumpOn() })
	if n := fl.count("PUMP:OFF"); n != 1 {
		t.Errorf("PUMP:OFF sent %d times, want 1", n)
	}
}

func TestController_TriggerPumpIndependentTimers(t *testing.T) {
	ctrl, _, store := newTestController(t, ControllerConfig{PumpSupersede: false})
	ctx := context.Background()

	if err := ctrl.TriggerPump(ctx, 40*time.Millisecond); err != nil {
		t.Fatalf("first TriggerPump() error = %v", err)
	}
	if err := ctrl.TriggerPump(ctx, 500*time.Millisecond); err != nil {
		t.Fatalf("second TriggerPump() error = %v", err)
	}

	// First timer wins.
	waitFor(t, 300*time.Millisecond, func() bool { return !store.PumpOn() })
}

func TestController_SetPumpOffCancelsAutoOff(t *testing.T) {
	ctrl, fl, _ := newTestController(t, ControllerConfig{})
	ctx := context.Background()

	if err := ctrl.TriggerPump(ctx, 50*time.Millisecond); err != nil {
		t.Fatalf("TriggerPump() error = %v", err)
	}
	if err := ctrl.SetPump(ctx, false); err != nil {
		t.Fatalf("SetPump(off) error = %v", err)
	}
	if _, ok := ctrl.PumpOffPending(); ok {
		t.Error("auto-off still pending after manual off")
	}

	time.Sleep(100 * time.Millisecond)
	if n := fl.count("PUMP:OFF"); n != 1 {
		t.Errorf("PUMP:OFF sent %d times, want 1", n)
	}
}

func TestController_AutoOffRetriesFailure(t *testing.T) {
	ctrl, fl, store := newTestController(t, ControllerConfig{})

	if err := ctrl.TriggerPump(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("TriggerPump() error = %v", err)
	}
	fl.fail("PUMP:OFF", link.ErrTimeout)

	waitFor(t, time.Second, func() bool { return fl.count("PUMP:OFF") == 1 })
	if !store.PumpOn() {
		t.Fatal("pump committed off after failed auto-off")
	}
	if _, ok := ctrl.PumpOffPending(); !ok {
		t.Fatal("no retry scheduled after failed auto-off")
	}
	fl.heal("PUMP:OFF")
}

func TestController_Shutdown(t *testing.T) {
	ctrl, fl, store := newTestController(t, ControllerConfig{})
	ctx := context.Background()

	if err := ctrl.TriggerPump(ctx, time.Minute); err != nil {
		t.Fatalf("TriggerPump() error = %v", err)
	}
	if err := ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if store.PumpOn() {
		t.Error("pump left on after Shutdown")
	}
	if n := fl.count("PUMP:OFF"); n != 1 {
		t.Errorf("PUMP:OFF sent %d times, want 1", n)
	}
	if err := ctrl.TriggerPump(ctx, time.Second); !errors.Is(err, ErrShutdown) {
		t.Errorf("TriggerPump() after Shutdown error = %v, want ErrShutdown", err)
	}
}

// gatedLink holds PUMP:ON until release is closed.
type gatedLink struct {
	*fakeLink
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLink) Exchange(ctx context.Context, req link.Request) (link.Response, error) {
	if req.Command == "PUMP:ON" {
		close(g.entered)
		<-g.release
	}
	return g.fakeLink.Exchange(ctx, req)
}

func TestController_ShutdownDuringPumpOn(t *testing.T) {
	tests := []struct {
		name string
		call func(*Controller) error
	}{
		{"trigger", func(c *Controller) error { return c.TriggerPump(context.Background(), time.Second) }},
		{"set pump", func(c *Controller) error { return c.SetPump(context.Background(), true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(DefaultAutoControlConfig())
			if err != nil {
				t.Fatalf("NewStore() error = %v", err)
			}
			gl := &gatedLink{fakeLink: newFakeLink(), entered: make(chan struct{}), release: make(chan struct{})}
			ctrl := NewController(gl, store, ControllerConfig{PumpSupersede: true})

			errc := make(chan error, 1)
			go func() { errc <- tt.call(ctrl) }()

			<-gl.entered
			if err := ctrl.Shutdown(context.Background()); err != nil {
				t.Fatalf("Shutdown() error = %v", err)
			}
			close(gl.release)

			if err := <-errc; !errors.Is(err, ErrShutdown) {
				t.Errorf("error = %v, want ErrShutdown", err)
			}
			if store.PumpOn() {
				t.Error("pump left on after Shutdown")
			}
			if n := gl.count("PUMP:OFF"); n != 1 {
				t.Errorf("PUMP:OFF sent %d times, want 1", n)
			}
			if _, ok := ctrl.PumpOffPending(); ok {
				t.Error("PumpOffPending() = true after Shutdown")
			}
		})
	}
}

func TestController_Observer(t *testing.T) {
	ctrl, fl, _ := newTestController(t, ControllerConfig{})
	fl.fail("FAN:OFF", link.ErrLink)

	var mu sync.Mutex
	results := map[Actuator][]error{}
	ctrl.SetObserver(func(a Actuator, err error) {
		mu.Lock()
		defer mu.Unlock()
		results[a] = append(results[a], err)
	})

	ctx := context.Background()
	_ = ctrl.SetFan(ctx, true)
	_ = ctrl.SetFan(ctx, false)
	_, _ = ctrl.SetBrightness(ctx, 10)

	mu.Lock()
	defer mu.Unlock()
	if fan := results[ActuatorFan]; len(fan) != 2 || fan[0] != nil || !errors.Is(fan[1], link.ErrLink) {
		t.Errorf("fan results = %v, want [nil ErrLink]", fan)
	}
	if m := results[ActuatorMatrix]; len(m) != 1 || m[0] != nil {
		t.Errorf("matrix results = %v, want [nil]", m)
	}
}
