package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/stepper-usb/internal/config"
	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/session"
	"github.com/taoyao-code/stepper-usb/internal/transport"
	"github.com/taoyao-code/stepper-usb/internal/transport/simulator"
	"github.com/taoyao-code/stepper-usb/internal/transport/usbfs"
)

// 模拟控制器的标识，只在模拟模式下使用
const (
	SimulatorVendorID  uint16 = 0x1209
	SimulatorProductID uint16 = 0x5354
)

// SessionConfig 由设备配置生成会话参数
func SessionConfig(d cfgpkg.DeviceConfig) session.Config {
	return session.Config{
		VendorID:           d.VendorID,
		ProductID:          d.ProductID,
		Serial:             d.Serial,
		Interface:          d.Interface,
		WriteTimeout:       d.WriteTimeout,
		ReadTimeout:        d.ReadTimeout,
		ReadAttempts:       d.ReadAttempts,
		TrajectoryAttempts: d.TrajectoryAttempts,
	}
}

// MotionDefaults 由运动配置生成 MoveToPosition 默认参数
func MotionDefaults(m cfgpkg.MotionConfig) (session.MotionDefaults, error) {
	es, err := stepper.ParseEndSwitch(strings.ToLower(m.EndSwitch))
	if err != nil {
		return session.MotionDefaults{}, err
	}
	return session.MotionDefaults{MaxSpeed: m.MaxSpeed, MaxAccel: m.MaxAccel, MaxDecel: m.MaxDecel, EndSwitch: es}, nil
}

// NewBus 选择设备总线；模拟模式返回挂载模拟控制器的总线
func NewBus(d cfgpkg.DeviceConfig) (transport.Bus, *simulator.Controller) {
	if !d.Simulate {
		return usbfs.New(d.SysfsRoot, d.DevfsRoot), nil
	}
	sim := simulator.New()
	_, bus := sim.NewHandle(transport.Descriptor{
		VendorID:  d.VendorID,
		ProductID: d.ProductID,
		Serial:    d.Serial,
		Product:   "stepper simulator",
	})
	return bus, sim
}

// ResolveDevice 模拟模式下把未配置或仍为出厂值的 VID/PID 换成模拟控制器标识；
// 真实设备模式原样返回
func ResolveDevice(d cfgpkg.DeviceConfig) cfgpkg.DeviceConfig {
	if !d.Simulate {
		return d
	}
	if d.VendorID == 0 || d.VendorID == cfgpkg.DefaultVendorID {
		d.VendorID = SimulatorVendorID
	}
	if d.ProductID == 0 || d.ProductID == cfgpkg.DefaultProductID {
		d.ProductID = SimulatorProductID
	}
	return d
}

// OpenSession 获取设备并建立会话
func OpenSession(cfg *cfgpkg.Config, observer session.Observer, logger *zap.Logger) (*session.Session, *simulator.Controller, error) {
	dev := ResolveDevice(cfg.Device)
	motion, err := MotionDefaults(cfg.Motion)
	if err != nil {
		return nil, nil, fmt.Errorf("motion defaults: %w", err)
	}

	bus, sim := NewBus(dev)
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithMotionDefaults(motion),
	}
	if observer != nil {
		opts = append(opts, session.WithObserver(observer))
	}
	s, err := session.Open(bus, SessionConfig(dev), opts...)
	if err != nil {
		return nil, nil, err
	}
	if sim != nil {
		logger.Warn("using simulated controller, no hardware is driven")
	}
	return s, sim, nil
}
