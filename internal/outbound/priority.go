package outbound

import "github.com/taoyao-code/stepper-usb/internal/protocol/stepper"

// 下行命令优先级，数值越小优先级越高
const (
	// PriorityEmergency 紧急指令（立即执行）
	// 场景: 停止轨迹、系统复位
	PriorityEmergency = 1

	// PriorityHigh 运动指令
	PriorityHigh = 2

	// PriorityNormal 参数设置、查询设备信息
	PriorityNormal = 3

	// PriorityLow 运行/休眠切换、PWM
	PriorityLow = 4

	// PriorityBackground 推流读取
	PriorityBackground = 5
)

// GetCommandPriority 根据命令码返回优先级
func GetCommandPriority(op stepper.Opcode) int {
	switch op {
	case stepper.OpStopTrajectory, stepper.OpSystemReset:
		return PriorityEmergency

	case stepper.OpMoveTrajectory, stepper.OpMoveAtSpeed, stepper.OpResetToZero:
		return PriorityHigh

	case stepper.OpChangeConfiguration, stepper.OpReadConfiguration, stepper.OpGetDeviceInfo,
		stepper.OpEnableStreaming:
		return PriorityNormal

	case stepper.OpRunSleep, stepper.OpSetPwm:
		return PriorityLow

	default:
		return PriorityNormal
	}
}
