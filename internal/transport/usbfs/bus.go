// Package usbfs 基于 Linux usbfs（/dev/bus/usb + sysfs）的 transport 实现
//
// 不依赖 libusb：设备发现读取 sysfs 属性文件，数据传输与接口管理直接使用 usbdevfs ioctl。
package usbfs

import (
	"strings"

	"github.com/taoyao-code/stepper-usb/internal/transport"
)

// Bus 实现 transport.Bus
type Bus struct {
	SysfsRoot string
	DevfsRoot string
}

// New 创建总线；空路径使用系统默认值
func New(sysfsRoot, devfsRoot string) *Bus {
	if sysfsRoot == "" {
		sysfsRoot = DefaultSysfsRoot
	}
	if devfsRoot == "" {
		devfsRoot = DefaultDevfsRoot
	}
	return &Bus{SysfsRoot: sysfsRoot, DevfsRoot: devfsRoot}
}

// Discover 按 VID/PID 过滤，serial 非空时要求序列号一致（忽略大小写）
func (b *Bus) Discover(vendorID, productID uint16, serial string) ([]transport.Descriptor, error) {
	all, err := scan(b.SysfsRoot, b.DevfsRoot)
	if err != nil {
		return nil, err
	}
	var out []transport.Descriptor
	for _, d := range all {
		if d.VendorID != vendorID || d.ProductID != productID {
			continue
		}
		if serial != "" && !strings.EqualFold(d.Serial, serial) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// List 返回全部设备（stepperctl list 使用）
func (b *Bus) List() ([]transport.Descriptor, error) {
	return scan(b.SysfsRoot, b.DevfsRoot)
}

// Open 打开设备节点
func (b *Bus) Open(d transport.Descriptor) (transport.Handle, error) {
	return openHandle(d.Path, configurationValue(d.SysPath))
}
