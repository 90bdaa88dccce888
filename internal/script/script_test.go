package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/stepper-usb/internal/outbound"
	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/session"
	"github.com/taoyao-code/stepper-usb/internal/transport"
	"github.com/taoyao-code/stepper-usb/internal/transport/simulator"
)

const demo = `
name: demo
steps:
  - op: device_info
  - op: change_config
    velocity: 1200
    acceleration: 300
    deceleration: 300
    end_switch: no
  - op: read_config
  - op: enable_streaming
  - op: move_position
    position: 250
  - op: wait_target
    position: 250
    timeout: 2s
  - op: wait
    duration: 10ms
  - op: zero
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(demo))
	require.NoError(t, err)
	assert.Equal(t, "demo", s.Name)
	require.Len(t, s.Steps, 8)
	assert.Equal(t, 2*time.Second, s.Steps[5].Timeout)
	assert.Equal(t, 10*time.Millisecond, s.Steps[6].Duration)

	cmd, err := s.Steps[1].Command()
	require.NoError(t, err)
	assert.Equal(t, stepper.ChangeConfiguration{Velocity: 1200, Acceleration: 300, Deceleration: 300, Settings: 0x01}, cmd)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name, yaml, want string
	}{
		{"空脚本", "name: x\n", "no steps"},
		{"未知操作", "steps:\n  - op: fly\n", `unknown op "fly"`},
		{"缺少op", "steps:\n  - speed: 1\n", "op is required"},
		{"pwm参数个数", "steps:\n  - op: pwm\n    duty: [1, 2]\n", "duty needs 4 values"},
		{"轨迹缺参数", "steps:\n  - op: move_trajectory\n    position: 5\n", "max_speed"},
		{"方向错误", "steps:\n  - op: move_speed\n    speed: 5\n    direction: up\n", "invalid direction"},
		{"等待缺时长", "steps:\n  - op: wait\n", "duration must be positive"},
		{"到位缺位置", "steps:\n  - op: wait_target\n", "position is required"},
		{"格式错误", "steps: [\n", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(demo), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Steps, 8)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunner_Simulator(t *testing.T) {
	sim := simulator.New()
	_, bus := sim.NewHandle(transport.Descriptor{VendorID: 1, ProductID: 2})
	sess, err := session.Open(bus, session.Config{VendorID: 1, ProductID: 2},
		session.WithMotionDefaults(session.MotionDefaults{MaxSpeed: 500, MaxAccel: 50, MaxDecel: 50}))
	require.NoError(t, err)
	defer sess.Close()

	w := outbound.New(sess, outbound.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	s, err := Parse([]byte(demo))
	require.NoError(t, err)

	r := NewRunner(w, nil, nil)
	r.pollInterval = time.Millisecond
	results, err := r.Run(ctx, s)
	require.NoError(t, err)
	require.Len(t, results, 8)

	info, ok := results[0].Response.(stepper.DeviceInfo)
	require.True(t, ok)
	assert.Equal(t, stepper.StatusIdle, info.Status)

	cfg, ok := results[2].Response.(stepper.Configuration)
	require.True(t, ok)
	assert.Equal(t, uint32(1200), cfg.VelocityMax)

	require.NotNil(t, results[5].Sample)
	assert.Equal(t, int32(250), results[5].Sample.Position)
	assert.Equal(t, int32(0), sim.Position(), "zero 步骤之后")
}

type scriptedDevice struct {
	errs map[stepper.Opcode]error
	ops  []stepper.Opcode
}

func (d *scriptedDevice) Execute(_ context.Context, cmd stepper.Command) (stepper.Response, error) {
	d.ops = append(d.ops, cmd.Opcode())
	if err := d.errs[cmd.Opcode()]; err != nil {
		return nil, err
	}
	return stepper.Ack{Op: cmd.Opcode()}, nil
}

func (d *scriptedDevice) MoveToPosition(context.Context, int32) error { return nil }

func (d *scriptedDevice) ReadStream(context.Context) (stepper.StreamSample, error) {
	return stepper.StreamSample{}, errors.New("not streaming")
}

func TestRunner_StopsOnFirstError(t *testing.T) {
	noResp := &session.NoResponseError{Op: stepper.OpRunSleep, Attempts: 3}
	dev := &scriptedDevice{errs: map[stepper.Opcode]error{stepper.OpRunSleep: noResp}}
	s, err := Parse([]byte("steps:\n  - op: stop\n  - op: run\n  - op: zero\n"))
	require.NoError(t, err)

	results, err := NewRunner(dev, nil, nil).Run(context.Background(), s)
	assert.ErrorIs(t, err, session.ErrNoResponse)
	assert.Contains(t, err.Error(), "step 2 (run)")
	assert.Len(t, results, 2)
	assert.Equal(t, []stepper.Opcode{stepper.OpStopTrajectory, stepper.OpRunSleep}, dev.ops)

	s.ContinueOnError = true
	dev.ops = nil
	results, err = NewRunner(dev, nil, nil).Run(context.Background(), s)
	assert.ErrorIs(t, err, session.ErrNoResponse)
	assert.Len(t, results, 3)
	assert.Len(t, dev.ops, 3)
}

type fakeWaiter struct{ called int32 }

func (f *fakeWaiter) WaitForTarget(_ context.Context, target int32) (stepper.StreamSample, error) {
	f.called = target
	return stepper.StreamSample{Position: target, FinalPosition: target}, nil
}

func TestRunner_WaitTarget(t *testing.T) {
	s, err := Parse([]byte("steps:\n  - op: wait_target\n    position: 42\n    timeout: 20ms\n"))
	require.NoError(t, err)

	waiter := &fakeWaiter{}
	results, err := NewRunner(&scriptedDevice{}, waiter, nil).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int32(42), waiter.called)
	assert.Equal(t, int32(42), results[0].Sample.Position)

	// 无 waiter 且读不到推流时超时
	r := NewRunner(&scriptedDevice{}, nil, nil)
	r.pollInterval = time.Millisecond
	_, err = r.Run(context.Background(), s)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoad_ShippedScripts(t *testing.T) {
	paths, err := filepath.Glob("../../configs/scripts/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		_, err := Load(p)
		assert.NoError(t, err, p)
	}
}
