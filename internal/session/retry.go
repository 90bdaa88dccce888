package session

import "github.com/taoyao-code/stepper-usb/internal/protocol/stepper"

// 默认重试次数
const (
	DefaultReadAttempts       = 3
	DefaultTrajectoryAttempts = 3
)

// RetryPolicy 单条命令的重试参数
//   - ReadAttempts: 一次写入后最多读取次数（读错误或空读时重读，写不重试）
//   - CommandAttempts: 完整 写+读+解码 周期的次数，失败时保留最后一个错误
type RetryPolicy struct {
	ReadAttempts    int
	CommandAttempts int
}

// PolicyFor 返回命令的默认重试策略；只有 MoveTrajectory 有外层重试
func PolicyFor(op stepper.Opcode) RetryPolicy {
	p := RetryPolicy{ReadAttempts: DefaultReadAttempts, CommandAttempts: 1}
	if op == stepper.OpMoveTrajectory {
		p.CommandAttempts = DefaultTrajectoryAttempts
	}
	return p
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.ReadAttempts < 1 {
		p.ReadAttempts = 1
	}
	if p.CommandAttempts < 1 {
		p.CommandAttempts = 1
	}
	return p
}
