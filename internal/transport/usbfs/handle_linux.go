//go:build linux && (amd64 || arm64 || arm || 386 || riscv64 || loong64)

package usbfs

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/taoyao-code/stepper-usb/internal/transport"
)

// 与内核 include/uapi/linux/usbdevice_fs.h 保持一致的结构体布局
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32 // 毫秒
	data     uintptr
}

type getDriver struct {
	iface  uint32
	driver [256]byte
}

type usbIoctl struct {
	ifno int32
	code int32
	data uintptr
}

// 通用 _IOC 编码（x86/arm/riscv/loong）
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('U')<<8 | nr
}

var (
	ioctlSetConfiguration = ioc(iocRead, 5, 4)
	ioctlBulk             = ioc(iocRead|iocWrite, 2, unsafe.Sizeof(bulkTransfer{}))
	ioctlGetDriver        = ioc(iocWrite, 8, unsafe.Sizeof(getDriver{}))
	ioctlClaimInterface   = ioc(iocRead, 15, 4)
	ioctlReleaseInterface = ioc(iocRead, 16, 4)
	ioctlIoctl            = ioc(iocRead|iocWrite, 18, unsafe.Sizeof(usbIoctl{}))
	ioctlReset            = ioc(iocNone, 20, 0)
	ioctlDisconnect       = ioc(iocNone, 22, 0)
	ioctlConnect          = ioc(iocNone, 23, 0)
)

type handle struct {
	mu     sync.Mutex
	fd     int
	closed bool
	config uint32
	path   string
}

func openHandle(path string, config uint32) (transport.Handle, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, mapErrno(err))
	}
	return &handle{fd: fd, config: config, path: path}, nil
}

// ioctl arg 以 unsafe.Pointer 传入，到 Syscall 调用表达式内才转成 uintptr
func ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), mapErrno(errno)
	}
	return int(r), nil
}

// mapErrno 把常见 errno 归并到 transport 错误，同时保留原始 errno
func mapErrno(err error) error {
	switch {
	case errors.Is(err, unix.ETIMEDOUT):
		return fmt.Errorf("%w (%w)", transport.ErrTimeout, err)
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENOENT):
		return fmt.Errorf("%w (%w)", transport.ErrNoDevice, err)
	default:
		return err
	}
}

func (h *handle) withFD(fn func(fd int) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return transport.ErrClosed
	}
	return fn(h.fd)
}

func (h *handle) KernelDriverActive(iface uint8) (bool, error) {
	var active bool
	err := h.withFD(func(fd int) error {
		gd := getDriver{iface: uint32(iface)}
		_, err := ioctl(fd, ioctlGetDriver, unsafe.Pointer(&gd))
		if errors.Is(err, unix.ENODATA) {
			return nil
		}
		if err != nil {
			return err
		}
		// 被其他 usbfs 用户占用时不算内核驱动
		name := string(bytes.TrimRight(gd.driver[:], "\x00"))
		active = name != "usbfs"
		return nil
	})
	return active, err
}

func (h *handle) driverCtl(iface uint8, code uintptr) error {
	return h.withFD(func(fd int) error {
		cmd := usbIoctl{ifno: int32(iface), code: int32(code)}
		_, err := ioctl(fd, ioctlIoctl, unsafe.Pointer(&cmd))
		return err
	})
}

func (h *handle) DetachKernelDriver(iface uint8) error {
	return h.driverCtl(iface, ioctlDisconnect)
}

func (h *handle) AttachKernelDriver(iface uint8) error {
	return h.driverCtl(iface, ioctlConnect)
}

func (h *handle) Reset() error {
	return h.withFD(func(fd int) error {
		_, err := ioctl(fd, ioctlReset, nil)
		return err
	})
}

func (h *handle) SetDefaultConfiguration() error {
	return h.withFD(func(fd int) error {
		v := h.config
		_, err := ioctl(fd, ioctlSetConfiguration, unsafe.Pointer(&v))
		return err
	})
}

func (h *handle) ClaimInterface(iface uint8) error {
	return h.withFD(func(fd int) error {
		n := uint32(iface)
		_, err := ioctl(fd, ioctlClaimInterface, unsafe.Pointer(&n))
		return err
	})
}

func (h *handle) ReleaseInterface(iface uint8) error {
	return h.withFD(func(fd int) error {
		n := uint32(iface)
		_, err := ioctl(fd, ioctlReleaseInterface, unsafe.Pointer(&n))
		return err
	})
}

func (h *handle) bulk(endpoint uint8, buf []byte, timeout time.Duration) (int, error) {
	var n int
	err := h.withFD(func(fd int) error {
		bt := bulkTransfer{
			endpoint: uint32(endpoint),
			length:   uint32(len(buf)),
			timeout:  uint32(timeout / time.Millisecond),
		}
		if len(buf) > 0 {
			bt.data = uintptr(unsafe.Pointer(&buf[0]))
		}
		r, err := ioctl(fd, ioctlBulk, unsafe.Pointer(&bt))
		// bt.data 只是 uintptr，传输期间须保持 buf 存活
		runtime.KeepAlive(buf)
		if err != nil {
			return err
		}
		n = r
		return nil
	})
	return n, err
}

func (h *handle) Write(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	buf := append([]byte(nil), data...)
	return h.bulk(endpoint, buf, timeout)
}

func (h *handle) Read(endpoint uint8, length int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, length)
	n, err := h.bulk(endpoint, buf, timeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := unix.Close(h.fd); err != nil {
		return fmt.Errorf("close %s: %w", h.path, err)
	}
	return nil
}
