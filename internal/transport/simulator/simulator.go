// Package simulator 软件模拟的步进控制器，挂在 transport.MockHandle 上使用
// 用于无硬件联调（stepperctl -simulate）与上层组件测试
package simulator

import (
	"sync"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/transport"
)

// Controller 模拟设备状态
type Controller struct {
	mu sync.Mutex

	Info   stepper.DeviceInfo
	Config stepper.Configuration
	// 最近一次 SetPwm 的占空比
	Pwm stepper.SetPwm

	position  int32
	target    int32
	speed     int32
	streaming bool
	endSwitch bool

	// 每次推流读取最多前进的步数
	StepsPerSample int32

	corruptNext int
	silentNext  int
}

// New 创建处于 Idle 状态、位置为 0 的模拟控制器
func New() *Controller {
	return &Controller{
		Info: stepper.DeviceInfo{
			BootloaderFirmware: 0x0102,
			AppFirmware:        0x0203,
			SupplyRaw:          333, // 23.976 V
			TemperatureRaw:     240, // 30 °C
			Status:             stepper.StatusIdle,
		},
		Config: stepper.Configuration{
			VelocityMax:  2000,
			Acceleration: 500,
			Deceleration: 500,
		},
		StepsPerSample: 100,
	}
}

// NewHandle 返回挂载本模拟器的句柄与总线
func (c *Controller) NewHandle(desc transport.Descriptor) (*transport.MockHandle, *transport.MockBus) {
	h := transport.NewMockHandle(false)
	h.SetEmulator(c)
	return h, transport.NewMockBus(h, desc)
}

// CorruptNext 之后 n 个响应替换为全零帧
func (c *Controller) CorruptNext(n int) {
	c.mu.Lock()
	c.corruptNext = n
	c.mu.Unlock()
}

// SilenceNext 之后 n 个命令不回包
func (c *Controller) SilenceNext(n int) {
	c.mu.Lock()
	c.silentNext = n
	c.mu.Unlock()
}

// SetEndSwitch 模拟限位开关触发
func (c *Controller) SetEndSwitch(active bool) {
	c.mu.Lock()
	c.endSwitch = active
	c.mu.Unlock()
}

// Position 当前位置
func (c *Controller) Position() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Target 当前目标位置
func (c *Controller) Target() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// HandleWrite 实现 transport.Emulator
func (c *Controller) HandleWrite(raw []byte) []transport.ReadResult {
	f, err := stepper.ParseFrame(raw)
	if err != nil {
		return nil
	}
	cmd, err := stepper.DecodeCommand(f)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp := c.apply(cmd)
	if resp == nil {
		return nil
	}
	if c.silentNext > 0 {
		c.silentNext--
		return nil
	}
	out := stepper.BuildResponse(resp)
	if c.corruptNext > 0 {
		c.corruptNext--
		out = stepper.Frame{}
	}
	return []transport.ReadResult{{Data: out[:]}}
}

func (c *Controller) apply(cmd stepper.Command) stepper.Response {
	op := cmd.Opcode()
	switch v := cmd.(type) {
	case stepper.GetDeviceInfo:
		return c.Info
	case stepper.ReadConfiguration:
		return c.Config
	case stepper.ChangeConfiguration:
		c.Config.VelocityMax = v.Velocity
		c.Config.Acceleration = v.Acceleration
		c.Config.Deceleration = v.Deceleration
		c.Config.Settings = v.Settings
		return stepper.Raw{Op: op}
	case stepper.EnableStreaming:
		c.streaming = true
		return stepper.Ack{Op: op}
	case stepper.RunSleep:
		if v.Run {
			c.Info.Status = stepper.StatusActive
		} else {
			c.Info.Status = stepper.StatusSleep
			c.speed = 0
		}
		return stepper.Ack{Op: op}
	case stepper.MoveAtSpeed:
		c.speed = int32(v.Speed)
		if v.Direction == stepper.DirectionACW {
			c.speed = -c.speed
		}
		c.Info.Status = stepper.StatusActive
		return stepper.Echo{Op: op}
	case stepper.SetPwm:
		c.Pwm = v
		c.Info.Status = stepper.StatusPwmMode
		return stepper.Raw{Op: op}
	case stepper.MoveTrajectory:
		c.target = v.FinalPosition
		c.speed = 0
		c.Info.Status = stepper.StatusActive
		return stepper.Echo{Op: op}
	case stepper.StopTrajectory:
		c.target = c.position
		c.speed = 0
		c.Info.Status = stepper.StatusIdle
		return stepper.Ack{Op: op}
	case stepper.ResetToZero:
		c.position, c.target = 0, 0
		return stepper.Ack{Op: op}
	case stepper.SystemReset:
		c.streaming = false
		c.position, c.target, c.speed = 0, 0, 0
		c.Info.Status = stepper.StatusIdle
		return nil
	}
	return nil
}

// IdleRead 推流模式下每次读取前进一步并返回样本
func (c *Controller) IdleRead() (transport.ReadResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return transport.ReadResult{}, false
	}
	c.advance()
	s := stepper.StreamSample{
		Position:        c.position,
		Speed:           c.speed,
		FinalPosition:   c.target,
		EndSwitchActive: c.endSwitch,
	}
	f := stepper.BuildResponse(s)
	return transport.ReadResult{Data: f[:]}, true
}

func (c *Controller) advance() {
	if c.speed != 0 {
		c.position += c.speed / 10
		c.target = c.position
		return
	}
	diff := c.target - c.position
	step := c.StepsPerSample
	switch {
	case diff > step:
		c.position += step
	case diff < -step:
		c.position -= step
	default:
		c.position = c.target
		if c.Info.Status == stepper.StatusActive {
			c.Info.Status = stepper.StatusIdle
		}
	}
}
