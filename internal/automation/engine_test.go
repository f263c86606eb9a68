package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// fakeExecutor records calls and fails the actions listed in failOn.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	sources []device.Source
	failOn  map[Action]error
}

func (f *fakeExecutor) record(ctx context.Context, action Action, call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.sources = append(f.sources, device.SourceFrom(ctx))
	return f.failOn[action]
}

func (f *fakeExecutor) SetMatrix(ctx context.Context, on bool, _ *device.RGB) error {
	call := "matrix(off)"
	if on {
		call = "matrix(on)"
	}
	return f.record(ctx, ActionSetMatrix, call)
}

func (f *fakeExecutor) SetBrightness(ctx context.Context, level int) (uint8, error) {
	return device.ClampBrightness(level), f.record(ctx, ActionSetBrightness, "brightness")
}

func (f *fakeExecutor) SetFan(ctx context.Context, on bool) error {
	call := "fan(off)"
	if on {
		call = "fan(on)"
	}
	return f.record(ctx, ActionSetFan, call)
}

func (f *fakeExecutor) TriggerPump(ctx context.Context, d time.Duration) error {
	return f.record(ctx, ActionTriggerPump, "pump("+d.String()+")")
}

func TestEngine_RunExecutesInOrder(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(exec, nil)

	var observed []Result
	engine.SetObserver(func(r Result) { observed = append(observed, r) })

	frame := frameWith(allFields, 100, 30, 30)
	results := engine.Run(context.Background(), frame, enabledConfig(), device.InitialActuatorState())

	want := []string{"brightness", "matrix(on)", "fan(on)", "pump(3s)"}
	if !equalStrings(exec.calls, want) {
		t.Errorf("calls = %v, want %v", exec.calls, want)
	}
	if len(results) != 4 || len(observed) != 4 {
		t.Fatalf("results = %d, observed = %d, want 4 each", len(results), len(observed))
	}
	for i, src := range exec.sources {
		if src != device.SourceAuto {
			t.Errorf("call %d source = %s, want auto", i, src)
		}
	}
}

func TestEngine_RunContinuesAfterFailure(t *testing.T) {
	failure := errors.New("link down")
	exec := &fakeExecutor{failOn: map[Action]error{ActionSetBrightness: failure}}
	engine := NewEngine(exec, nil)

	frame := frameWith(allFields, 100, 30, 60)
	results := engine.Run(context.Background(), frame, enabledConfig(), device.InitialActuatorState())

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !errors.Is(results[0].Err, failure) || results[0].OK() {
		t.Errorf("results[0] = %+v, want the brightness failure", results[0])
	}
	for _, r := range results[1:] {
		if !r.OK() {
			t.Errorf("%s failed: %v", r.Intent, r.Err)
		}
	}
}

func TestEngine_RunDisabled(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(exec, nil)

	results := engine.Run(context.Background(), frameWith(allFields, 0, 40, 0),
		device.DefaultAutoControlConfig(), device.InitialActuatorState())

	if results != nil || len(exec.calls) != 0 {
		t.Errorf("Run() with control disabled = %v, calls %v; want nothing", results, exec.calls)
	}
}

func TestEngine_UnknownAction(t *testing.T) {
	engine := NewEngine(&fakeExecutor{}, nil)
	if err := engine.execute(context.Background(), Intent{Action: "dance"}); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("execute() error = %v, want ErrUnknownAction", err)
	}
}
