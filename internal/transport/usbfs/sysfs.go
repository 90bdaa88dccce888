package usbfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/taoyao-code/stepper-usb/internal/transport"
)

// 默认路径
const (
	DefaultSysfsRoot = "/sys/bus/usb/devices"
	DefaultDevfsRoot = "/dev/bus/usb"
)

// scan 枚举 sysfs 下的 USB 设备（跳过 usbN 根集线器与接口目录）
func scan(sysfsRoot, devfsRoot string) ([]transport.Descriptor, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sysfsRoot, err)
	}
	out := make([]transport.Descriptor, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}
		d, err := parseDevice(filepath.Join(sysfsRoot, name), devfsRoot)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func parseDevice(dir, devfsRoot string) (transport.Descriptor, error) {
	d := transport.Descriptor{SysPath: dir}

	bus, err := readDecUint8(filepath.Join(dir, "busnum"))
	if err != nil {
		return d, err
	}
	dev, err := readDecUint8(filepath.Join(dir, "devnum"))
	if err != nil {
		return d, err
	}
	vid, err := readHexUint16(filepath.Join(dir, "idVendor"))
	if err != nil {
		return d, err
	}
	pid, err := readHexUint16(filepath.Join(dir, "idProduct"))
	if err != nil {
		return d, err
	}

	d.Bus, d.Address = bus, dev
	d.VendorID, d.ProductID = vid, pid
	d.Path = filepath.Join(devfsRoot, fmt.Sprintf("%03d", bus), fmt.Sprintf("%03d", dev))
	// 字符串描述符可能缺失
	d.Serial, _ = readString(filepath.Join(dir, "serial"))
	d.Manufacturer, _ = readString(filepath.Join(dir, "manufacturer"))
	d.Product, _ = readString(filepath.Join(dir, "product"))
	return d, nil
}

// configurationValue 读取设备的配置值；未配置（0）或读取失败时为 1
func configurationValue(sysPath string) uint32 {
	if sysPath == "" {
		return 1
	}
	v, err := readDecUint8(filepath.Join(sysPath, "bConfigurationValue"))
	if err != nil || v == 0 {
		return 1
	}
	return uint32(v)
}

func readString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readDecUint8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return uint8(v), nil
}

func readHexUint16(path string) (uint16, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return uint16(v), nil
}
