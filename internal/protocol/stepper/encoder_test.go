package stepper

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_OpcodeAndReservedByte(t *testing.T) {
	cmds := []Command{
		GetDeviceInfo{}, ReadConfiguration{}, ChangeConfiguration{}, EnableStreaming{},
		RunSleep{}, MoveAtSpeed{}, SetPwm{}, MoveTrajectory{}, StopTrajectory{},
		ResetToZero{}, SystemReset{},
	}
	for _, c := range cmds {
		t.Run(c.Opcode().String(), func(t *testing.T) {
			f := Encode(c)
			assert.Len(t, f, FrameSize)
			assert.Equal(t, byte(0), f[0], "byte0 保留")
			assert.Equal(t, byte(c.Opcode()), f[1])
			assert.Equal(t, c.Opcode(), f.Opcode())
		})
	}
}

func TestEncode_NoPayloadCommandsZeroFilled(t *testing.T) {
	for _, c := range []Command{GetDeviceInfo{}, ReadConfiguration{}, EnableStreaming{}, StopTrajectory{}, ResetToZero{}, SystemReset{}} {
		f := Encode(c)
		for i := 2; i < FrameSize; i++ {
			if f[i] != 0 {
				t.Fatalf("%s: byte %d = 0x%02X, want 0", c.Opcode(), i, f[i])
			}
		}
	}
}

func TestEncode_MoveAtSpeed(t *testing.T) {
	f := Encode(MoveAtSpeed{Speed: 480, Direction: DirectionCW})
	assert.Equal(t, []byte{0xE8, 0x03, 0x00, 0x00}, f[20:24])
	assert.Equal(t, uint32(1000), binary.LittleEndian.Uint32(f[20:24]))
	assert.Equal(t, byte(0), f[24])

	f = Encode(MoveAtSpeed{Speed: 480, Direction: DirectionACW})
	assert.Equal(t, byte(1), f[24])
}

func TestEncode_MoveAtSpeedZeroIsStopped(t *testing.T) {
	f := Encode(MoveAtSpeed{Speed: 0, Direction: DirectionACW})
	assert.Equal(t, uint32(480000), binary.LittleEndian.Uint32(f[20:24]))
}

func TestStepInterval_Rounding(t *testing.T) {
	tests := []struct {
		speed uint32
		want  uint32
	}{
		{0, 480000},
		{1, 480000},
		{480, 1000},
		{7, 68571},   // 68571.43
		{9, 53333},   // 53333.33
		{11, 43636},  // 43636.36
		{13, 36923},  // 36923.08
		{64, 7500},   // exact
		{960001, 0},  // 0.49999 rounds down
		{320000, 2},  // 1.5 rounds half away from zero
		{480000, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StepInterval(tt.speed), "speed=%d", tt.speed)
	}
}

func TestEncode_ChangeConfiguration(t *testing.T) {
	f := Encode(ChangeConfiguration{Velocity: 5000, Acceleration: 1000, Deceleration: 1000, Settings: 0})
	want := []byte{0x88, 0x13, 0, 0, 0xE8, 0x03, 0, 0, 0xE8, 0x03, 0, 0, 0}
	assert.Equal(t, want, f[24:37])
	assert.Equal(t, byte(OpChangeConfiguration), f[1])
}

func TestEncode_MoveTrajectory(t *testing.T) {
	f := Encode(MoveTrajectory{
		FinalPosition: -2,
		MaxSpeed:      0x01020304,
		MaxAccel:      2000,
		MaxDecel:      3000,
		EndSwitch:     EndSwitchNC,
	})
	require.Equal(t, byte(OpMoveTrajectory), f[1])
	assert.Equal(t, []byte{0xFE, 0xFF, 0xFF, 0xFF}, f[20:24])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, f[24:28])
	assert.Equal(t, uint32(2000), binary.LittleEndian.Uint32(f[28:32]))
	assert.Equal(t, uint32(3000), binary.LittleEndian.Uint32(f[32:36]))
	assert.Equal(t, byte(0x03), f[36])
}

func TestEncode_SetPwmAndRunSleep(t *testing.T) {
	f := Encode(SetPwm{Duty1CCW: 11, Duty2CCW: 22, Duty1ACW: 33, Duty2ACW: 44})
	assert.Equal(t, []byte{0, 0, 0, 24}, f[20:24], "byte23 固定 24")
	assert.Equal(t, []byte{11, 33, 22, 44}, f[45:49], "ccw1, acw1, ccw2, acw2")
	for i := 24; i < 45; i++ {
		assert.Zero(t, f[i], "byte %d", i)
	}

	assert.Equal(t, byte(1), Encode(RunSleep{Run: true})[20])
	assert.Equal(t, byte(0), Encode(RunSleep{Run: false})[20])
}

func TestEncode_HexSnapshot(t *testing.T) {
	f := Encode(MoveAtSpeed{Speed: 480, Direction: DirectionACW})
	got := hex.EncodeToString(f[:25])
	expect := "0090" + "000000000000000000000000000000000000" + "e803000001"
	if got != expect {
		t.Fatalf("frame mismatch:\n got: %s\nwant: %s", got, expect)
	}
}

func TestPackSettings(t *testing.T) {
	tests := []struct {
		name                   string
		invDir, ncSw, swEnable bool
		want                   uint8
	}{
		{"全部关闭", false, false, false, 0x00},
		{"仅启用开关", false, false, true, 0x01},
		{"常闭开关", false, true, true, 0x03},
		{"反向", true, false, false, 0x04},
		{"全部开启", true, true, true, 0x07},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := PackSettings(tt.invDir, tt.ncSw, tt.swEnable)
			assert.Equal(t, tt.want, b)
			inv, nc, en := UnpackSettings(b)
			assert.Equal(t, tt.invDir, inv)
			assert.Equal(t, tt.ncSw, nc)
			assert.Equal(t, tt.swEnable, en)
		})
	}

	assert.Equal(t, uint8(0), EndSwitchNone.Settings())
	assert.Equal(t, uint8(0x01), EndSwitchNO.Settings())
	assert.Equal(t, uint8(0x03), EndSwitchNC.Settings())
}

func TestParseDirectionAndEndSwitch(t *testing.T) {
	d, err := ParseDirection("acw")
	require.NoError(t, err)
	assert.Equal(t, DirectionACW, d)
	_, err = ParseDirection("left")
	assert.Error(t, err)

	e, err := ParseEndSwitch("nc")
	require.NoError(t, err)
	assert.Equal(t, EndSwitchNC, e)
	_, err = ParseEndSwitch("maybe")
	assert.Error(t, err)
}
