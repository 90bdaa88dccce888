package stepper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_AckStyle(t *testing.T) {
	for _, op := range []Opcode{OpRunSleep, OpEnableStreaming, OpStopTrajectory, OpResetToZero} {
		t.Run(op.String(), func(t *testing.T) {
			var f Frame
			f[0] = 0x02
			resp, err := Decode(f, op)
			require.NoError(t, err)
			assert.Equal(t, Ack{Op: op}, resp)

			for _, bad := range []byte{0x00, 0x01, 0x03, 0xFF} {
				f[0] = bad
				_, err := Decode(f, op)
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnexpectedStatus))

				var use *UnexpectedStatusError
				require.True(t, errors.As(err, &use))
				assert.Equal(t, byte(0x02), use.Expected)
				assert.Equal(t, bad, use.Got)
			}
		})
	}
}

func TestDecode_EchoStyle(t *testing.T) {
	var f Frame
	f[15] = 0x90
	resp, err := Decode(f, OpMoveAtSpeed)
	require.NoError(t, err)
	assert.Equal(t, Echo{Op: OpMoveAtSpeed}, resp)

	f[15] = 0xB1
	_, err = Decode(f, OpMoveAtSpeed)
	var use *UnexpectedStatusError
	require.ErrorAs(t, err, &use)
	assert.Equal(t, byte(0x90), use.Expected)
	assert.Equal(t, byte(0xB1), use.Got)

	resp, err = Decode(f, OpMoveTrajectory)
	require.NoError(t, err)
	assert.Equal(t, Echo{Op: OpMoveTrajectory}, resp)
}

func TestDecode_EchoIgnoresByteZero(t *testing.T) {
	var f Frame
	f[0] = 0x00
	f[15] = byte(OpMoveTrajectory)
	_, err := Decode(f, OpMoveTrajectory)
	assert.NoError(t, err)
}

func TestDecode_ConfigurationVelocity(t *testing.T) {
	var f Frame
	copy(f[24:28], []byte{0x10, 0x27, 0x00, 0x00})
	resp, err := Decode(f, OpReadConfiguration)
	require.NoError(t, err)
	cfg, ok := resp.(Configuration)
	require.True(t, ok)
	assert.Equal(t, uint32(10000), cfg.VelocityMax)
	assert.Equal(t, f, cfg.Raw, "原始帧作为当前设置快照保留")
}

func TestDecode_DeviceInfoSupplyVoltage(t *testing.T) {
	var f Frame
	f[8], f[9] = 0x64, 0x00
	resp, err := Decode(f, OpGetDeviceInfo)
	require.NoError(t, err)
	info := resp.(DeviceInfo)
	assert.Equal(t, uint16(25600), info.SupplyRaw)
	assert.Equal(t, 1843.2, info.SupplyVoltage)
}

func TestDecode_DeviceInfoFields(t *testing.T) {
	var f Frame
	f[1], f[2] = 0x01, 0x02 // bootloader 0x0102
	f[3], f[4] = 0x03, 0x04 // app 0x0304
	f[44], f[45] = 0x00, 0xC8
	f[46] = 4
	info := DecodeDeviceInfo(f)
	assert.Equal(t, uint16(0x0102), info.BootloaderFirmware)
	assert.Equal(t, uint16(0x0304), info.AppFirmware)
	assert.Equal(t, 25.0, info.Temperature)
	assert.Equal(t, StatusOverheated, info.Status)
	assert.Equal(t, "overheated", info.Status.String())
	assert.Equal(t, "unknown(9)", DeviceStatus(9).String())
}

func TestDecodeStreamSample(t *testing.T) {
	var f Frame
	copy(f[20:32], []byte{
		0x00, 0x00, 0x03, 0xE8, // 1000
		0xFF, 0xFF, 0xFF, 0x9C, // -100
		0x00, 0x00, 0x03, 0xE8, // 1000
	})
	f[6] = 0x40
	s := DecodeStreamSample(f)
	assert.Equal(t, int32(1000), s.Position)
	assert.Equal(t, int32(-100), s.Speed)
	assert.Equal(t, int32(1000), s.FinalPosition)
	assert.True(t, s.EndSwitchActive)
	assert.True(t, s.AtTarget())

	f[6] = 0xBF
	assert.False(t, DecodeStreamSample(f).EndSwitchActive, "只看 bit6")
}

func TestDecode_RawAndUnknown(t *testing.T) {
	var f Frame
	f[5] = 0xAA
	resp, err := Decode(f, OpChangeConfiguration)
	require.NoError(t, err)
	assert.Equal(t, Raw{Op: OpChangeConfiguration, Frame: f}, resp)

	_, err = Decode(f, Opcode(0x7F))
	assert.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestParseFrame(t *testing.T) {
	raw := make([]byte, FrameSize)
	raw[0] = 0x02
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), f[0])

	for _, n := range []int{0, 1, 63, 65} {
		_, err := ParseFrame(make([]byte, n))
		assert.ErrorIs(t, err, ErrMalformedFrame, "len=%d", n)
	}
}

// 构造已知字段的上行帧，解码后逐字段比较
func TestRoundTrip_SyntheticResponses(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		resp Response
	}{
		{"ack run", OpRunSleep, Ack{Op: OpRunSleep}},
		{"ack stream", OpEnableStreaming, Ack{Op: OpEnableStreaming}},
		{"ack stop", OpStopTrajectory, Ack{Op: OpStopTrajectory}},
		{"ack zero", OpResetToZero, Ack{Op: OpResetToZero}},
		{"echo speed", OpMoveAtSpeed, Echo{Op: OpMoveAtSpeed}},
		{"echo trajectory", OpMoveTrajectory, Echo{Op: OpMoveTrajectory}},
		{"config", OpReadConfiguration, Configuration{VelocityMax: 0xDEADBEEF, Acceleration: 1, Deceleration: 65536, Settings: 0x05}},
		{"info", OpGetDeviceInfo, DeviceInfo{BootloaderFirmware: 0x0A0B, AppFirmware: 0x0C0D, SupplyRaw: 333, TemperatureRaw: 250, Status: StatusPwmMode}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := BuildResponse(tt.resp)
			got, err := Decode(f, tt.op)
			require.NoError(t, err)
			switch want := tt.resp.(type) {
			case Configuration:
				c := got.(Configuration)
				assert.Equal(t, want.VelocityMax, c.VelocityMax)
				assert.Equal(t, want.Acceleration, c.Acceleration)
				assert.Equal(t, want.Deceleration, c.Deceleration)
				assert.Equal(t, want.Settings, c.Settings)
			case DeviceInfo:
				d := got.(DeviceInfo)
				assert.Equal(t, want.BootloaderFirmware, d.BootloaderFirmware)
				assert.Equal(t, want.AppFirmware, d.AppFirmware)
				assert.Equal(t, want.SupplyRaw, d.SupplyRaw)
				assert.InDelta(t, 23.976, d.SupplyVoltage, 1e-9)
				assert.Equal(t, 31.25, d.Temperature)
				assert.Equal(t, want.Status, d.Status)
			default:
				assert.Equal(t, tt.resp, got)
			}
		})
	}

	sample := StreamSample{Position: -123456, Speed: 789, FinalPosition: 2147483647, EndSwitchActive: true}
	assert.Equal(t, sample, DecodeStreamSample(BuildResponse(sample)))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(OpSystemReset))
	assert.Equal(t, KindRaw, KindOf(OpSetPwm))
	assert.Equal(t, KindRaw, KindOf(OpChangeConfiguration))
	assert.Equal(t, KindData, KindOf(OpGetDeviceInfo))
	assert.Equal(t, "opcode_0x7F", Opcode(0x7F).String())
}
