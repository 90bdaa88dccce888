// Package session 单台步进控制器的命令会话：设备获取/释放、一写多读重试、响应校验
//
// Session 本身不加锁，同一时刻只能有一个调用方；并发访问请经由 outbound.Worker。
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/transport"
)

// 默认超时
const (
	DefaultWriteTimeout = 500 * time.Millisecond
	DefaultReadTimeout  = 500 * time.Millisecond
)

// Config 会话参数
type Config struct {
	VendorID  uint16
	ProductID uint16
	Serial    string // 为空时取第一个匹配设备
	Interface uint8

	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	ReadAttempts       int
	TrajectoryAttempts int
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ReadAttempts <= 0 {
		c.ReadAttempts = DefaultReadAttempts
	}
	if c.TrajectoryAttempts <= 0 {
		c.TrajectoryAttempts = DefaultTrajectoryAttempts
	}
	return c
}

// Policy 结合配置覆盖后的命令重试策略
func (c Config) Policy(op stepper.Opcode) RetryPolicy {
	p := PolicyFor(op)
	if c.ReadAttempts > 0 {
		p.ReadAttempts = c.ReadAttempts
	}
	if op == stepper.OpMoveTrajectory && c.TrajectoryAttempts > 0 {
		p.CommandAttempts = c.TrajectoryAttempts
	}
	return p.normalize()
}

// MotionDefaults MoveToPosition 使用的运动参数
type MotionDefaults struct {
	MaxSpeed  uint32            `json:"max_speed"`
	MaxAccel  uint32            `json:"max_accel"`
	MaxDecel  uint32            `json:"max_decel"`
	EndSwitch stepper.EndSwitch `json:"end_switch"`
}

// Observer 命令执行观测（metrics 实现）
type Observer interface {
	CommandDone(op stepper.Opcode, err error, elapsed time.Duration)
	ReadRetry(op stepper.Opcode)
	CommandRetry(op stepper.Opcode)
}

type nopObserver struct{}

func (nopObserver) CommandDone(stepper.Opcode, error, time.Duration) {}
func (nopObserver) ReadRetry(stepper.Opcode)                         {}
func (nopObserver) CommandRetry(stepper.Opcode)                      {}

// Option 会话选项
type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithMotionDefaults(d MotionDefaults) Option {
	return func(s *Session) { s.motion = d }
}

// Session 已获取设备上的命令会话
type Session struct {
	cfg      Config
	desc     transport.Descriptor
	handle   transport.Handle
	logger   *zap.Logger
	observer Observer

	kernelDriverDetached bool
	interfaceClaimed     bool
	closeOnce            sync.Once
	closed               atomic.Bool

	motion     MotionDefaults
	lastConfig *stepper.Configuration
}

// Descriptor 当前设备
func (s *Session) Descriptor() transport.Descriptor { return s.desc }

// KernelDriverDetached 是否由本会话卸载了内核驱动
func (s *Session) KernelDriverDetached() bool { return s.kernelDriverDetached }

// Execute 下发一条命令并返回解码后的响应
// SystemReset 只写不读，成功时返回 (nil, nil)
func (s *Session) Execute(cmd stepper.Command) (stepper.Response, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	op := cmd.Opcode()
	policy := s.cfg.Policy(op)
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= policy.CommandAttempts; attempt++ {
		resp, err := s.exchange(cmd, policy.ReadAttempts)
		if err == nil {
			if c, ok := resp.(stepper.Configuration); ok {
				s.lastConfig = &c
			}
			s.observer.CommandDone(op, nil, time.Since(start))
			return resp, nil
		}
		lastErr = err
		if attempt < policy.CommandAttempts {
			s.observer.CommandRetry(op)
			s.logger.Debug("command failed, retrying",
				zap.String("cmd", op.String()),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.CommandAttempts),
				zap.Error(err))
		}
	}
	s.observer.CommandDone(op, lastErr, time.Since(start))
	if policy.CommandAttempts > 1 {
		s.logger.Warn("command retries exhausted",
			zap.String("cmd", op.String()),
			zap.Int("attempts", policy.CommandAttempts),
			zap.Error(lastErr))
	}
	return nil, lastErr
}

// exchange 一个完整周期：写一次（不重试）、读至多 readAttempts 次、解码
func (s *Session) exchange(cmd stepper.Command, readAttempts int) (stepper.Response, error) {
	op := cmd.Opcode()
	frame := stepper.Encode(cmd)

	n, err := s.handle.Write(transport.EndpointOut, frame[:], s.cfg.WriteTimeout)
	if err != nil {
		return nil, &UsbError{Op: "write", Endpoint: transport.EndpointOut, Err: err}
	}
	if n != stepper.FrameSize {
		return nil, &UsbError{Op: "write", Endpoint: transport.EndpointOut,
			Err: fmt.Errorf("short write %d/%d bytes", n, stepper.FrameSize)}
	}
	if stepper.KindOf(op) == stepper.KindNone {
		return nil, nil
	}

	in, err := s.readFrame(op, readAttempts)
	if err != nil {
		return nil, err
	}
	return stepper.Decode(in, op)
}

// readFrame 读取第一帧非空数据；非空但长度不足 64 字节时直接返回 ErrMalformedFrame
func (s *Session) readFrame(op stepper.Opcode, attempts int) (stepper.Frame, error) {
	var last error
	for i := 1; i <= attempts; i++ {
		data, err := s.handle.Read(transport.EndpointIn, stepper.FrameSize, s.cfg.ReadTimeout)
		switch {
		case err != nil:
			last = &UsbError{Op: "read", Endpoint: transport.EndpointIn, Err: err}
		case len(data) == 0:
			last = errEmptyRead
		default:
			return stepper.ParseFrame(data)
		}
		if i < attempts {
			s.observer.ReadRetry(op)
			s.logger.Debug("read failed, retrying",
				zap.String("cmd", op.String()),
				zap.Int("attempt", i),
				zap.Error(last))
		}
	}
	return stepper.Frame{}, &NoResponseError{Op: op, Attempts: attempts, Last: last}
}

// ReadStream 读取一帧推流样本（需先 EnableStreaming），不写任何数据
func (s *Session) ReadStream() (stepper.StreamSample, error) {
	if s.closed.Load() {
		return stepper.StreamSample{}, ErrClosed
	}
	f, err := s.readFrame(stepper.OpEnableStreaming, s.cfg.Policy(stepper.OpEnableStreaming).ReadAttempts)
	if err != nil {
		return stepper.StreamSample{}, err
	}
	return stepper.DecodeStreamSample(f), nil
}

// LastConfiguration 最近一次成功读取的配置快照
func (s *Session) LastConfiguration() (stepper.Configuration, bool) {
	if s.lastConfig == nil {
		return stepper.Configuration{}, false
	}
	return *s.lastConfig, true
}

func (s *Session) MotionDefaults() MotionDefaults { return s.motion }

func (s *Session) SetMotionDefaults(d MotionDefaults) { s.motion = d }

func expect[T stepper.Response](resp stepper.Response, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type %T", resp)
	}
	return v, nil
}

func (s *Session) GetDeviceInfo() (stepper.DeviceInfo, error) {
	return expect[stepper.DeviceInfo](s.Execute(stepper.GetDeviceInfo{}))
}

// ReadConfiguration 读取配置并更新快照
func (s *Session) ReadConfiguration() (stepper.Configuration, error) {
	return expect[stepper.Configuration](s.Execute(stepper.ReadConfiguration{}))
}

func (s *Session) ChangeConfiguration(velocity, acceleration, deceleration uint32, settings uint8) error {
	_, err := s.Execute(stepper.ChangeConfiguration{
		Velocity:     velocity,
		Acceleration: acceleration,
		Deceleration: deceleration,
		Settings:     settings,
	})
	return err
}

func (s *Session) EnableStreaming() error {
	_, err := s.Execute(stepper.EnableStreaming{})
	return err
}

// RunSleep true 进入运行，false 进入休眠
func (s *Session) RunSleep(run bool) error {
	_, err := s.Execute(stepper.RunSleep{Run: run})
	return err
}

func (s *Session) MoveAtSpeed(speed uint32, dir stepper.Direction) error {
	_, err := s.Execute(stepper.MoveAtSpeed{Speed: speed, Direction: dir})
	return err
}

func (s *Session) SetPwm(duty1CCW, duty2CCW, duty1ACW, duty2ACW uint8) error {
	_, err := s.Execute(stepper.SetPwm{Duty1CCW: duty1CCW, Duty2CCW: duty2CCW, Duty1ACW: duty1ACW, Duty2ACW: duty2ACW})
	return err
}

func (s *Session) MoveTrajectory(m stepper.MoveTrajectory) error {
	_, err := s.Execute(m)
	return err
}

// MoveToPosition 使用当前运动默认参数移动到绝对位置
func (s *Session) MoveToPosition(position int32) error {
	d := s.motion
	return s.MoveTrajectory(stepper.MoveTrajectory{
		FinalPosition: position,
		MaxSpeed:      d.MaxSpeed,
		MaxAccel:      d.MaxAccel,
		MaxDecel:      d.MaxDecel,
		EndSwitch:     d.EndSwitch,
	})
}

func (s *Session) StopTrajectory() error {
	_, err := s.Execute(stepper.StopTrajectory{})
	return err
}

func (s *Session) ResetToZero() error {
	_, err := s.Execute(stepper.ResetToZero{})
	return err
}

// SystemReset 设备复位后会从总线上掉线，调用方应随后 Close 并重新 Open
func (s *Session) SystemReset() error {
	_, err := s.Execute(stepper.SystemReset{})
	return err
}
