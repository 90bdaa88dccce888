// Package transport 定义步进控制器会话所消费的 USB 传输能力
package transport

import (
	"errors"
	"fmt"
	"time"
)

// 控制器固定使用接口 0 与一对批量端点
const (
	DefaultInterface uint8 = 0
	EndpointOut      uint8 = 0x01
	EndpointIn       uint8 = 0x81
)

var (
	ErrTimeout             = errors.New("usb: transfer timed out")
	ErrNoDevice            = errors.New("usb: no such device")
	ErrClosed              = errors.New("usb: handle closed")
	ErrUnsupportedPlatform = errors.New("usb: platform not supported")
)

// Descriptor 枚举到的候选设备
type Descriptor struct {
	Bus          uint8  `json:"bus"`
	Address      uint8  `json:"address"`
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	Serial       string `json:"serial,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Path         string `json:"path"`     // 设备节点，如 /dev/bus/usb/001/004
	SysPath      string `json:"sys_path"` // sysfs 目录
}

func (d Descriptor) String() string {
	s := fmt.Sprintf("%03d:%03d %04x:%04x", d.Bus, d.Address, d.VendorID, d.ProductID)
	if d.Serial != "" {
		s += " serial=" + d.Serial
	}
	return s
}

// Bus 设备发现与打开
type Bus interface {
	// Discover 按 VID/PID 枚举，serial 非空时按序列号过滤
	Discover(vendorID, productID uint16, serial string) ([]Descriptor, error)
	Open(d Descriptor) (Handle, error)
}

// Handle 已打开设备的原始操作
type Handle interface {
	KernelDriverActive(iface uint8) (bool, error)
	DetachKernelDriver(iface uint8) error
	AttachKernelDriver(iface uint8) error
	Reset() error
	SetDefaultConfiguration() error
	ClaimInterface(iface uint8) error
	ReleaseInterface(iface uint8) error
	// Write 批量写，返回实际写入字节数
	Write(endpoint uint8, data []byte, timeout time.Duration) (int, error)
	// Read 批量读，返回实际读到的字节（可能为空）
	Read(endpoint uint8, length int, timeout time.Duration) ([]byte, error)
	Close() error
}
