package stepper

import (
	"errors"
	"fmt"
)

// Frame 步进控制器 USB 批量传输帧（上下行均固定 64 字节，未使用字节补 0）
// 下行布局：byte0 保留(0) | byte1 opcode | 负载按命令固定偏移写入
type Frame [FrameSize]byte

const FrameSize = 64

// Opcode 命令码（下行帧 byte1）
type Opcode uint8

const (
	OpGetDeviceInfo       Opcode = 0x01
	OpSystemReset         Opcode = 0x02
	OpChangeConfiguration Opcode = 0x87
	OpReadConfiguration   Opcode = 0x88
	OpMoveAtSpeed         Opcode = 0x90
	OpEnableStreaming     Opcode = 0xA0
	OpRunSleep            Opcode = 0xA1
	OpSetPwm              Opcode = 0xB0
	OpMoveTrajectory      Opcode = 0xB1
	OpStopTrajectory      Opcode = 0xB2
	OpResetToZero         Opcode = 0xB3
)

// 固定偏移
const (
	offStatus = 0  // 上行 ACK 标记
	offOpcode = 1  // 下行命令码
	offEcho   = 15 // 上行回显命令码

	offPayload  = 20 // 运动类命令负载起始
	offVelocity = 24
	offAccel    = 28
	offDecel    = 32
	offSettings = 36

	offFwBoot      = 1
	offFwApp       = 3
	offSupply      = 8
	offTemperature = 44
	offDevStatus   = 46

	// SetPwm：byte23 固定为 24，占空比位于 45..48
	offPwmMode     = 23
	offPwmDuty1CCW = 45
	offPwmDuty1ACW = 46
	offPwmDuty2CCW = 47
	offPwmDuty2ACW = 48

	offStreamFlags    = 6
	offStreamPosition = 20
	offStreamSpeed    = 24
	offStreamFinal    = 28
)

// pwmModeMarker SetPwm 帧 byte23 的固定值
const pwmModeMarker byte = 24

// AckOK 应答类响应 byte0 的成功标记
const AckOK byte = 0x02

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrUnknownOpcode    = errors.New("unknown opcode")
)

// UnexpectedStatusError 应答/回显校验失败
type UnexpectedStatusError struct {
	Op       Opcode
	Expected byte
	Got      byte
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status: expected 0x%02X, got 0x%02X", e.Op, e.Expected, e.Got)
}

func (e *UnexpectedStatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

// ParseFrame 将一次读取的原始字节转换为帧（长度必须严格为 64）
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if len(raw) != FrameSize {
		return f, fmt.Errorf("%w: length %d, want %d", ErrMalformedFrame, len(raw), FrameSize)
	}
	copy(f[:], raw)
	return f, nil
}

// Opcode 返回下行帧中的命令码
func (f *Frame) Opcode() Opcode { return Opcode(f[offOpcode]) }

func (op Opcode) String() string {
	switch op {
	case OpGetDeviceInfo:
		return "get_device_info"
	case OpSystemReset:
		return "system_reset"
	case OpChangeConfiguration:
		return "change_configuration"
	case OpReadConfiguration:
		return "read_configuration"
	case OpMoveAtSpeed:
		return "move_at_speed"
	case OpEnableStreaming:
		return "enable_streaming"
	case OpRunSleep:
		return "run_sleep"
	case OpSetPwm:
		return "set_pwm"
	case OpMoveTrajectory:
		return "move_trajectory"
	case OpStopTrajectory:
		return "stop_trajectory"
	case OpResetToZero:
		return "reset_to_zero"
	default:
		return fmt.Sprintf("opcode_0x%02X", uint8(op))
	}
}

// Known 是否为已定义的命令码
func (op Opcode) Known() bool {
	switch op {
	case OpGetDeviceInfo, OpSystemReset, OpChangeConfiguration, OpReadConfiguration, OpMoveAtSpeed,
		OpEnableStreaming, OpRunSleep, OpSetPwm, OpMoveTrajectory, OpStopTrajectory, OpResetToZero:
		return true
	}
	return false
}
