package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/mqtt"
)

// Command targets.
const (
	TargetMatrix = "matrix"
	TargetFan    = "fan"
	TargetPump   = "pump"
	TargetAuto   = "auto"
)

// defaultCommandTimeout bounds one command including queueing for the link.
const defaultCommandTimeout = 10 * time.Second

// Controller is the actuator surface commands drive.
// *device.Controller satisfies it.
type Controller interface {
	SetMatrix(ctx context.Context, on bool, rgb *device.RGB) error
	SetMatrixColorPreset(ctx context.Context, name string) error
	SetBrightness(ctx context.Context, level int) (uint8, error)
	SetFan(ctx context.Context, on bool) error
	SetPump(ctx context.Context, on bool) error
	TriggerPump(ctx context.Context, d time.Duration) error
}

// Settings changes the auto-control configuration. *device.Store
// satisfies it.
type Settings interface {
	SetAutoEnabled(ctx context.Context, enabled bool) device.AutoControlConfig
	UpdateTargets(ctx context.Context, patch device.TargetsPatch) (device.AutoControlConfig, error)
}

var (
	_ Controller = (*device.Controller)(nil)
	_ Settings   = (*device.Store)(nil)
)

// BridgeConfig holds command bridge settings.
type BridgeConfig struct {
	Site string
	QoS  byte

	// PumpPulse is the run time for a pump "on" or "trigger" without a
	// duration.
	PumpPulse time.Duration

	// CommandTimeout bounds each command. Default: 10s.
	CommandTimeout time.Duration
}

// CommandBridge executes commands received over MQTT and publishes an
// acknowledgement for each one.
//
// Commands are handled one at a time in arrival order; the serial link
// serialises them anyway.
//
// Thread Safety:
//   - Start and Stop are safe to call from any goroutine.
type CommandBridge struct {
	client   Client
	topics   mqtt.Topics
	ctrl     Controller
	settings Settings
	cfg      BridgeConfig
	logger   Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewCommandBridge creates a bridge. logger may be nil.
func NewCommandBridge(client Client, ctrl Controller, settings Settings, cfg BridgeConfig, logger Logger) *CommandBridge {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &CommandBridge{
		client:   client,
		topics:   mqtt.Topics{Site: cfg.Site},
		ctrl:     ctrl,
		settings: settings,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start subscribes to the site's command topics.
//
// Parameters:
//   - ctx: Parent of every command context; cancelling it aborts commands
//     in flight
func (b *CommandBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	if err := b.client.Subscribe(b.topics.AllCommands(), b.cfg.QoS, b.handleMessage); err != nil {
		b.cancel()
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.running = true

	b.logger.Info("mqtt command bridge started", "topic", b.topics.AllCommands())
	return nil
}

// Stop unsubscribes and waits for the command in progress to finish.
func (b *CommandBridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	if err := b.client.Unsubscribe(b.topics.AllCommands()); err != nil {
		b.logger.Warn("failed to unsubscribe from commands", "error", err)
	}
	b.cancel()
	b.wg.Wait()
	b.logger.Info("mqtt command bridge stopped")
}

// handleMessage is the MQTT handler for command topics.
func (b *CommandBridge) handleMessage(topic string, payload []byte) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.wg.Add(1)
	ctx := b.ctx
	b.mu.Unlock()
	defer b.wg.Done()

	target, ok := b.topics.CommandTarget(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(target, cmd, fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return nil
	}
	if cmd.ID == "" || cmd.Command == "" {
		b.publishAck(target, cmd, fmt.Errorf("%w: id and command are required", ErrInvalidMessage))
		return nil
	}

	b.logger.Info("received mqtt command",
		"command_id", cmd.ID,
		"target", target,
		"command", cmd.Command,
		"sender", cmd.Source)

	ctx, cancel := context.WithTimeout(device.WithSource(ctx, device.SourceMQTT), b.cfg.CommandTimeout)
	defer cancel()

	err := b.execute(ctx, target, cmd)
	if err != nil {
		b.logger.Warn("mqtt command failed", "command_id", cmd.ID, "target", target, "error", err)
	}
	b.publishAck(target, cmd, err)
	return nil
}

// execute dispatches one command.
func (b *CommandBridge) execute(ctx context.Context, target string, cmd CommandMessage) error {
	command := strings.ToLower(cmd.Command)
	switch target {
	case TargetMatrix:
		return b.executeMatrix(ctx, command, cmd.Parameters)
	case TargetFan:
		on, err := onOff(command)
		if err != nil {
			return err
		}
		return b.ctrl.SetFan(ctx, on)
	case TargetPump:
		return b.executePump(ctx, command, cmd.Parameters)
	case TargetAuto:
		return b.executeAuto(ctx, command, cmd.Parameters)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
}

func (b *CommandBridge) executeMatrix(ctx context.Context, command string, params map[string]any) error {
	switch command {
	case "on":
		rgb, err := colorParam(params, false)
		if err != nil {
			return err
		}
		return b.ctrl.SetMatrix(ctx, true, rgb)
	case "off":
		return b.ctrl.SetMatrix(ctx, false, nil)
	case "color":
		rgb, err := colorParam(params, true)
		if err != nil {
			return err
		}
		return b.ctrl.SetMatrix(ctx, true, rgb)
	case "preset":
		name, ok := params["name"].(string)
		if !ok || name == "" {
			return fmt.Errorf("%w: 'name' must be a non-empty string", ErrInvalidParameters)
		}
		return b.ctrl.SetMatrixColorPreset(ctx, name)
	case "brightness":
		level, ok, err := intParam(params, "level")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: missing 'level' parameter", ErrInvalidParameters)
		}
		_, err = b.ctrl.SetBrightness(ctx, level)
		return err
	}
	return fmt.Errorf("%w: matrix %s", ErrUnknownCommand, command)
}

func (b *CommandBridge) executePump(ctx context.Context, command string, params map[string]any) error {
	switch command {
	case "off":
		return b.ctrl.SetPump(ctx, false)
	case "on", "trigger":
		// Every pump start is timed; there is no open-ended on.
		d := b.cfg.PumpPulse
		seconds, ok, err := numberParam(params, "duration")
		if err != nil {
			return err
		}
		if ok {
			d = time.Duration(seconds * float64(time.Second))
		}
		return b.ctrl.TriggerPump(ctx, d)
	}
	return fmt.Errorf("%w: pump %s", ErrUnknownCommand, command)
}

func (b *CommandBridge) executeAuto(ctx context.Context, command string, params map[string]any) error {
	switch command {
	case "enable":
		b.settings.SetAutoEnabled(ctx, true)
		return nil
	case "disable":
		b.settings.SetAutoEnabled(ctx, false)
		return nil
	case "targets":
		patch, err := targetsParam(params)
		if err != nil {
			return err
		}
		_, err = b.settings.UpdateTargets(ctx, patch)
		return err
	}
	return fmt.Errorf("%w: auto %s", ErrUnknownCommand, command)
}

func (b *CommandBridge) publishAck(target string, cmd CommandMessage, err error) {
	payload, mErr := json.Marshal(newAck(target, cmd, err))
	if mErr != nil {
		b.logger.Error("failed to marshal ack", "error", mErr)
		return
	}
	if pErr := b.client.Publish(b.topics.Ack(target), payload, b.cfg.QoS, false); pErr != nil {
		b.logger.Warn("failed to publish ack", "command_id", cmd.ID, "error", pErr)
	}
}

// =============================================================================
// Parameter helpers
// =============================================================================

func onOff(command string) (bool, error) {
	switch command {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

// numberParam reads a JSON number. ok is false when the key is absent.
func numberParam(params map[string]any, name string) (float64, bool, error) {
	raw, present := params[name]
	if !present || raw == nil {
		return 0, false, nil
	}
	v, isNum := raw.(float64)
	if !isNum || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("%w: '%s' must be a number", ErrInvalidParameters, name)
	}
	return v, true, nil
}

// intParam reads a JSON number that must be integral.
func intParam(params map[string]any, name string) (int, bool, error) {
	v, ok, err := numberParam(params, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, false, fmt.Errorf("%w: '%s' must be an integer", ErrInvalidParameters, name)
	}
	return int(v), true, nil
}

// colorParam reads r, g and b. With required false, all three absent
// yields nil.
func colorParam(params map[string]any, required bool) (*device.RGB, error) {
	var channels [3]uint8
	present := 0
	for i, name := range []string{"r", "g", "b"} {
		v, ok, err := intParam(params, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: '%s' must be 0-255, got %d", ErrInvalidParameters, name, v)
		}
		channels[i] = uint8(v)
		present++
	}

	switch {
	case present == 3:
		return &device.RGB{R: channels[0], G: channels[1], B: channels[2]}, nil
	case present == 0 && !required:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: r, g and b are all required", ErrInvalidParameters)
}

func targetsParam(params map[string]any) (device.TargetsPatch, error) {
	var patch device.TargetsPatch

	light, ok, err := intParam(params, "light")
	if err != nil {
		return patch, err
	}
	if ok {
		patch.Light = &light
	}

	floats := []struct {
		name string
		dst  **float64
	}{
		{"temp", &patch.Temp},
		{"humid", &patch.Humid},
		{"temp_tolerance", &patch.TempTolerance},
		{"humid_tolerance", &patch.HumidTolerance},
	}
	for _, f := range floats {
		v, ok, err := numberParam(params, f.name)
		if err != nil {
			return patch, err
		}
		if ok {
			*f.dst = &v
		}
	}

	if patch.Empty() {
		return patch, fmt.Errorf("%w: no targets given", ErrInvalidParameters)
	}
	return patch, nil
}
