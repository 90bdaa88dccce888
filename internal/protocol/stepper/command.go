package stepper

import "fmt"

// Command 下行命令（每个 opcode 一种类型）
type Command interface {
	Opcode() Opcode
	encodePayload(f *Frame)
}

// Direction 转动方向
type Direction uint8

const (
	DirectionCW  Direction = 0 // 顺时针
	DirectionACW Direction = 1 // 逆时针
)

func (d Direction) String() string {
	if d == DirectionACW {
		return "acw"
	}
	return "cw"
}

// ParseDirection 解析 "cw"/"acw"（大小写敏感，空串视为 cw）
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "cw", "CW":
		return DirectionCW, nil
	case "acw", "ACW", "ccw", "CCW":
		return DirectionACW, nil
	}
	return DirectionCW, fmt.Errorf("invalid direction %q", s)
}

// EndSwitch 限位开关模式；EndSwitchNone 表示不启用
type EndSwitch uint8

const (
	EndSwitchNone EndSwitch = iota
	EndSwitchNO             // 常开
	EndSwitchNC             // 常闭
)

func (e EndSwitch) String() string {
	switch e {
	case EndSwitchNO:
		return "no"
	case EndSwitchNC:
		return "nc"
	default:
		return "none"
	}
}

// ParseEndSwitch 解析 "none"/"no"/"nc"
func ParseEndSwitch(s string) (EndSwitch, error) {
	switch s {
	case "", "none":
		return EndSwitchNone, nil
	case "no", "NO":
		return EndSwitchNO, nil
	case "nc", "NC":
		return EndSwitchNC, nil
	}
	return EndSwitchNone, fmt.Errorf("invalid end switch mode %q", s)
}

// 设置字节位：InvDir<<2 | NCSw<<1 | SwEn
const (
	settingSwitchEnable = 1 << 0
	settingNCSwitch     = 1 << 1
	settingInvertDir    = 1 << 2
)

// PackSettings 组装设置字节
func PackSettings(invertDir, ncSwitch, switchEnable bool) uint8 {
	var b uint8
	if invertDir {
		b |= settingInvertDir
	}
	if ncSwitch {
		b |= settingNCSwitch
	}
	if switchEnable {
		b |= settingSwitchEnable
	}
	return b
}

// UnpackSettings 拆解设置字节
func UnpackSettings(b uint8) (invertDir, ncSwitch, switchEnable bool) {
	return b&settingInvertDir != 0, b&settingNCSwitch != 0, b&settingSwitchEnable != 0
}

// Settings 由限位模式得到设置字节（不反向）
func (e EndSwitch) Settings() uint8 {
	switch e {
	case EndSwitchNO:
		return PackSettings(false, false, true)
	case EndSwitchNC:
		return PackSettings(false, true, true)
	default:
		return 0
	}
}

type GetDeviceInfo struct{}

type ReadConfiguration struct{}

type ChangeConfiguration struct {
	Velocity     uint32
	Acceleration uint32
	Deceleration uint32
	Settings     uint8
}

type EnableStreaming struct{}

type RunSleep struct {
	Run bool
}

// MoveAtSpeed Speed 为步/秒，0 表示停止
type MoveAtSpeed struct {
	Speed     uint32
	Direction Direction
}

type SetPwm struct {
	Duty1CCW uint8
	Duty2CCW uint8
	Duty1ACW uint8
	Duty2ACW uint8
}

type MoveTrajectory struct {
	FinalPosition int32
	MaxSpeed      uint32
	MaxAccel      uint32
	MaxDecel      uint32
	EndSwitch     EndSwitch
}

type StopTrajectory struct{}

type ResetToZero struct{}

type SystemReset struct{}

func (GetDeviceInfo) Opcode() Opcode       { return OpGetDeviceInfo }
func (ReadConfiguration) Opcode() Opcode   { return OpReadConfiguration }
func (ChangeConfiguration) Opcode() Opcode { return OpChangeConfiguration }
func (EnableStreaming) Opcode() Opcode     { return OpEnableStreaming }
func (RunSleep) Opcode() Opcode            { return OpRunSleep }
func (MoveAtSpeed) Opcode() Opcode         { return OpMoveAtSpeed }
func (SetPwm) Opcode() Opcode              { return OpSetPwm }
func (MoveTrajectory) Opcode() Opcode      { return OpMoveTrajectory }
func (StopTrajectory) Opcode() Opcode      { return OpStopTrajectory }
func (ResetToZero) Opcode() Opcode         { return OpResetToZero }
func (SystemReset) Opcode() Opcode         { return OpSystemReset }
