package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/transport"
)

// Open 发现并独占设备：
// discover -> open -> (内核驱动占用时) detach -> reset -> set configuration -> claim interface
// 任一步失败都会撤销已完成的步骤（重新挂载驱动、关闭句柄）并返回 *AcquisitionError
func Open(bus transport.Bus, cfg Config, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}

	devs, err := bus.Discover(s.cfg.VendorID, s.cfg.ProductID, s.cfg.Serial)
	if err != nil {
		return nil, &AcquisitionError{Stage: StageDiscover, Err: err}
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("%w: %04x:%04x serial=%q", ErrDeviceNotFound, s.cfg.VendorID, s.cfg.ProductID, s.cfg.Serial)
	}
	if len(devs) > 1 {
		s.logger.Warn("multiple devices matched, using first",
			zap.Int("count", len(devs)), zap.String("device", devs[0].String()))
	}
	s.desc = devs[0]

	h, err := bus.Open(s.desc)
	if err != nil {
		return nil, &AcquisitionError{Stage: StageOpen, Err: err}
	}
	s.handle = h

	if err := s.acquire(); err != nil {
		s.rollback()
		return nil, err
	}
	s.logger.Info("device acquired",
		zap.String("device", s.desc.String()),
		zap.Bool("kernel_driver_detached", s.kernelDriverDetached))
	return s, nil
}

func (s *Session) acquire() error {
	iface := s.cfg.Interface
	active, err := s.handle.KernelDriverActive(iface)
	if err != nil {
		return &AcquisitionError{Stage: StageKernelDriver, Err: err}
	}
	if active {
		if err := s.handle.DetachKernelDriver(iface); err != nil {
			return &AcquisitionError{Stage: StageDetach, Err: err}
		}
		s.kernelDriverDetached = true
	}
	if err := s.handle.Reset(); err != nil {
		return &AcquisitionError{Stage: StageReset, Err: err}
	}
	if err := s.handle.SetDefaultConfiguration(); err != nil {
		return &AcquisitionError{Stage: StageConfigure, Err: err}
	}
	if err := s.handle.ClaimInterface(iface); err != nil {
		return &AcquisitionError{Stage: StageClaim, Err: err}
	}
	s.interfaceClaimed = true
	return nil
}

func (s *Session) rollback() {
	s.closeOnce.Do(s.teardown)
}

// Close 释放接口、恢复本会话卸载的内核驱动并关闭句柄
// 只执行一次；失败只记录日志
func (s *Session) Close() {
	s.closeOnce.Do(s.teardown)
}

func (s *Session) teardown() {
	s.closed.Store(true)
	if s.handle == nil {
		return
	}
	iface := s.cfg.Interface
	if s.interfaceClaimed {
		if err := s.handle.ReleaseInterface(iface); err != nil {
			s.logger.Warn("release interface failed", zap.Uint8("interface", iface), zap.Error(err))
		}
		s.interfaceClaimed = false
	}
	if s.kernelDriverDetached {
		if err := s.handle.AttachKernelDriver(iface); err != nil {
			s.logger.Warn("reattach kernel driver failed", zap.Uint8("interface", iface), zap.Error(err))
		}
		s.kernelDriverDetached = false
	}
	if err := s.handle.Close(); err != nil {
		s.logger.Warn("close device failed", zap.Error(err))
	}
}
