package session

import "github.com/taoyao-code/stepper-usb/internal/protocol/stepper"

// Device 命令执行方接口，*Session 与测试替身均实现
type Device interface {
	// Execute 下发命令并返回解码后的响应
	Execute(cmd stepper.Command) (stepper.Response, error)

	// ReadStream 读取一帧推流样本
	ReadStream() (stepper.StreamSample, error)

	// MoveToPosition 使用运动默认参数移动到绝对位置
	MoveToPosition(position int32) error

	MotionDefaults() MotionDefaults
	SetMotionDefaults(d MotionDefaults)

	// LastConfiguration 最近一次读取到的配置快照
	LastConfiguration() (stepper.Configuration, bool)
}

var _ Device = (*Session)(nil)
