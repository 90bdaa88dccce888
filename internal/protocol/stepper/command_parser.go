package stepper

import (
	"encoding/binary"
	"fmt"
)

// DecodeCommand 解析下行帧为命令（设备侧视角，模拟器与抓包回放使用）
// MoveAtSpeed 只能还原步间隔对应的近似速度
func DecodeCommand(f Frame) (Command, error) {
	switch op := f.Opcode(); op {
	case OpGetDeviceInfo:
		return GetDeviceInfo{}, nil
	case OpReadConfiguration:
		return ReadConfiguration{}, nil
	case OpEnableStreaming:
		return EnableStreaming{}, nil
	case OpStopTrajectory:
		return StopTrajectory{}, nil
	case OpResetToZero:
		return ResetToZero{}, nil
	case OpSystemReset:
		return SystemReset{}, nil
	case OpRunSleep:
		return RunSleep{Run: f[offPayload] != 0}, nil
	case OpChangeConfiguration:
		return ChangeConfiguration{
			Velocity:     binary.LittleEndian.Uint32(f[offVelocity : offVelocity+4]),
			Acceleration: binary.LittleEndian.Uint32(f[offAccel : offAccel+4]),
			Deceleration: binary.LittleEndian.Uint32(f[offDecel : offDecel+4]),
			Settings:     f[offSettings],
		}, nil
	case OpMoveAtSpeed:
		return MoveAtSpeed{
			Speed:     SpeedFromInterval(binary.LittleEndian.Uint32(f[offPayload : offPayload+4])),
			Direction: Direction(f[offPayload+4]),
		}, nil
	case OpSetPwm:
		return SetPwm{
			Duty1CCW: f[offPwmDuty1CCW],
			Duty2CCW: f[offPwmDuty2CCW],
			Duty1ACW: f[offPwmDuty1ACW],
			Duty2ACW: f[offPwmDuty2ACW],
		}, nil
	case OpMoveTrajectory:
		return MoveTrajectory{
			FinalPosition: int32(binary.LittleEndian.Uint32(f[offPayload : offPayload+4])),
			MaxSpeed:      binary.LittleEndian.Uint32(f[offVelocity : offVelocity+4]),
			MaxAccel:      binary.LittleEndian.Uint32(f[offAccel : offAccel+4]),
			MaxDecel:      binary.LittleEndian.Uint32(f[offDecel : offDecel+4]),
			EndSwitch:     endSwitchFromSettings(f[offSettings]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(op))
	}
}

// SpeedFromInterval StepInterval 的近似逆运算；最大间隔视为停止
func SpeedFromInterval(interval uint32) uint32 {
	if interval == 0 || interval >= StepClockHz {
		return 0
	}
	return uint32(float64(StepClockHz)/float64(interval) + 0.5)
}

func endSwitchFromSettings(b uint8) EndSwitch {
	_, nc, en := UnpackSettings(b)
	switch {
	case !en:
		return EndSwitchNone
	case nc:
		return EndSwitchNC
	default:
		return EndSwitchNO
	}
}
