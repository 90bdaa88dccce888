package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/transport"
)

func roundTrip(t *testing.T, h transport.Handle, cmd stepper.Command) stepper.Response {
	t.Helper()
	f := stepper.Encode(cmd)
	_, err := h.Write(transport.EndpointOut, f[:], time.Second)
	require.NoError(t, err)
	raw, err := h.Read(transport.EndpointIn, stepper.FrameSize, time.Second)
	require.NoError(t, err)
	in, err := stepper.ParseFrame(raw)
	require.NoError(t, err)
	resp, err := stepper.Decode(in, cmd.Opcode())
	require.NoError(t, err)
	return resp
}

func TestController_CommandReplies(t *testing.T) {
	c := New()
	h, _ := c.NewHandle(transport.Descriptor{VendorID: 1, ProductID: 2})

	info := roundTrip(t, h, stepper.GetDeviceInfo{}).(stepper.DeviceInfo)
	assert.Equal(t, stepper.StatusIdle, info.Status)
	assert.InDelta(t, 23.976, info.SupplyVoltage, 1e-9)

	resp := roundTrip(t, h, stepper.ChangeConfiguration{Velocity: 5000, Acceleration: 1000, Deceleration: 900, Settings: 0x03})
	assert.Equal(t, stepper.OpChangeConfiguration, resp.Opcode())

	cfg := roundTrip(t, h, stepper.ReadConfiguration{}).(stepper.Configuration)
	assert.Equal(t, uint32(5000), cfg.VelocityMax)
	assert.Equal(t, uint32(900), cfg.Deceleration)
	assert.Equal(t, uint8(0x03), cfg.Settings)

	assert.Equal(t, stepper.Ack{Op: stepper.OpRunSleep}, roundTrip(t, h, stepper.RunSleep{Run: true}))
	assert.Equal(t, stepper.Echo{Op: stepper.OpMoveTrajectory}, roundTrip(t, h, stepper.MoveTrajectory{FinalPosition: 250}))
	assert.Equal(t, int32(250), c.Target())
}

func TestController_SystemResetIsSilent(t *testing.T) {
	c := New()
	h, _ := c.NewHandle(transport.Descriptor{})
	f := stepper.Encode(stepper.SystemReset{})
	_, err := h.Write(transport.EndpointOut, f[:], time.Second)
	require.NoError(t, err)
	_, err = h.Read(transport.EndpointIn, stepper.FrameSize, time.Second)
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestController_StreamingAdvancesToTarget(t *testing.T) {
	c := New()
	c.StepsPerSample = 100
	h, _ := c.NewHandle(transport.Descriptor{})

	roundTrip(t, h, stepper.EnableStreaming{})
	roundTrip(t, h, stepper.MoveTrajectory{FinalPosition: 250})

	var last stepper.StreamSample
	for i := 0; i < 3; i++ {
		raw, err := h.Read(transport.EndpointIn, stepper.FrameSize, time.Second)
		require.NoError(t, err)
		f, err := stepper.ParseFrame(raw)
		require.NoError(t, err)
		last = stepper.DecodeStreamSample(f)
	}
	assert.Equal(t, int32(250), last.Position)
	assert.True(t, last.AtTarget())
	assert.Equal(t, int32(250), c.Position())
}

func TestController_FaultInjection(t *testing.T) {
	c := New()
	h, _ := c.NewHandle(transport.Descriptor{})

	c.SilenceNext(1)
	f := stepper.Encode(stepper.StopTrajectory{})
	_, err := h.Write(transport.EndpointOut, f[:], time.Second)
	require.NoError(t, err)
	_, err = h.Read(transport.EndpointIn, stepper.FrameSize, time.Second)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	c.CorruptNext(1)
	_, err = h.Write(transport.EndpointOut, f[:], time.Second)
	require.NoError(t, err)
	raw, err := h.Read(transport.EndpointIn, stepper.FrameSize, time.Second)
	require.NoError(t, err)
	in, _ := stepper.ParseFrame(raw)
	_, err = stepper.Decode(in, stepper.OpStopTrajectory)
	assert.ErrorIs(t, err, stepper.ErrUnexpectedStatus)

	assert.Equal(t, stepper.Ack{Op: stepper.OpStopTrajectory}, roundTrip(t, h, stepper.StopTrajectory{}))
}

func TestDecodeCommand_RoundTrip(t *testing.T) {
	cmds := []stepper.Command{
		stepper.ChangeConfiguration{Velocity: 1, Acceleration: 2, Deceleration: 3, Settings: 4},
		stepper.MoveAtSpeed{Speed: 480, Direction: stepper.DirectionACW},
		stepper.SetPwm{Duty1CCW: 1, Duty2CCW: 2, Duty1ACW: 3, Duty2ACW: 4},
		stepper.MoveTrajectory{FinalPosition: -5, MaxSpeed: 6, MaxAccel: 7, MaxDecel: 8, EndSwitch: stepper.EndSwitchNC},
		stepper.RunSleep{Run: true},
		stepper.ResetToZero{},
	}
	for _, cmd := range cmds {
		got, err := stepper.DecodeCommand(stepper.Encode(cmd))
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}

	var f stepper.Frame
	f[1] = 0x55
	_, err := stepper.DecodeCommand(f)
	assert.ErrorIs(t, err, stepper.ErrUnknownOpcode)
}

func TestController_SetPwmFrameLayout(t *testing.T) {
	c := New()
	h, _ := c.NewHandle(transport.Descriptor{VendorID: 1, ProductID: 2})

	// 与设备驱动一致的原始帧：byte23=24，占空比在 45..48
	raw := make([]byte, stepper.FrameSize)
	raw[1] = byte(stepper.OpSetPwm)
	raw[23] = 24
	raw[45], raw[46], raw[47], raw[48] = 11, 33, 22, 44
	_, err := h.Write(transport.EndpointOut, raw, time.Second)
	require.NoError(t, err)
	_, err = h.Read(transport.EndpointIn, stepper.FrameSize, time.Second)
	require.NoError(t, err)

	assert.Equal(t, stepper.SetPwm{Duty1CCW: 11, Duty2CCW: 22, Duty1ACW: 33, Duty2ACW: 44}, c.Pwm)
	assert.Equal(t, stepper.StatusPwmMode, c.Info.Status)
}
