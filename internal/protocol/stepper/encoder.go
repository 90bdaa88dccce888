package stepper

import (
	"encoding/binary"
	"math"
)

// StepClockHz 控制器内部节拍频率，MoveAtSpeed 的步间隔以此为基准
const StepClockHz = 480000

// Encode 构造一帧下行数据（纯函数，无错误路径）
func Encode(cmd Command) Frame {
	var f Frame
	f[offOpcode] = byte(cmd.Opcode())
	cmd.encodePayload(&f)
	return f
}

// StepInterval 速度(步/秒) -> 控制器节拍间隔；速度为 0 时取最大间隔 480000
func StepInterval(speed uint32) uint32 {
	if speed == 0 {
		return StepClockHz
	}
	return uint32(math.Round(float64(StepClockHz) / float64(speed)))
}

func (GetDeviceInfo) encodePayload(*Frame)     {}
func (ReadConfiguration) encodePayload(*Frame) {}
func (EnableStreaming) encodePayload(*Frame)   {}
func (StopTrajectory) encodePayload(*Frame)    {}
func (ResetToZero) encodePayload(*Frame)       {}
func (SystemReset) encodePayload(*Frame)       {}

func (c ChangeConfiguration) encodePayload(f *Frame) {
	binary.LittleEndian.PutUint32(f[offVelocity:offVelocity+4], c.Velocity)
	binary.LittleEndian.PutUint32(f[offAccel:offAccel+4], c.Acceleration)
	binary.LittleEndian.PutUint32(f[offDecel:offDecel+4], c.Deceleration)
	f[offSettings] = c.Settings
}

func (c RunSleep) encodePayload(f *Frame) {
	if c.Run {
		f[offPayload] = 1
	}
}

func (c MoveAtSpeed) encodePayload(f *Frame) {
	binary.LittleEndian.PutUint32(f[offPayload:offPayload+4], StepInterval(c.Speed))
	f[offPayload+4] = byte(c.Direction)
}

func (c SetPwm) encodePayload(f *Frame) {
	f[offPwmMode] = pwmModeMarker
	f[offPwmDuty1CCW] = c.Duty1CCW
	f[offPwmDuty1ACW] = c.Duty1ACW
	f[offPwmDuty2CCW] = c.Duty2CCW
	f[offPwmDuty2ACW] = c.Duty2ACW
}

// 所有多字节字段按 4 字节小端写入
func (c MoveTrajectory) encodePayload(f *Frame) {
	binary.LittleEndian.PutUint32(f[offPayload:offPayload+4], uint32(c.FinalPosition))
	binary.LittleEndian.PutUint32(f[offVelocity:offVelocity+4], c.MaxSpeed)
	binary.LittleEndian.PutUint32(f[offAccel:offAccel+4], c.MaxAccel)
	binary.LittleEndian.PutUint32(f[offDecel:offDecel+4], c.MaxDecel)
	f[offSettings] = c.EndSwitch.Settings()
}
