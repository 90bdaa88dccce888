//go:build !linux || !(amd64 || arm64 || arm || 386 || riscv64 || loong64)

package usbfs

import "github.com/taoyao-code/stepper-usb/internal/transport"

func openHandle(string, uint32) (transport.Handle, error) {
	return nil, transport.ErrUnsupportedPlatform
}
