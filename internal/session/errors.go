package session

import (
	"errors"
	"fmt"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
)

var (
	// ErrDeviceNotFound 没有匹配 VID/PID（及序列号）的设备
	ErrDeviceNotFound = errors.New("stepper device not found")
	// ErrNoResponse 所有读尝试都失败或为空
	ErrNoResponse = errors.New("no response from device")
	// ErrClosed 会话已关闭
	ErrClosed = errors.New("session closed")

	errEmptyRead = errors.New("zero-length read")
)

// Stage 设备获取阶段
type Stage string

const (
	StageDiscover     Stage = "discover"
	StageOpen         Stage = "open"
	StageKernelDriver Stage = "query_kernel_driver"
	StageDetach       Stage = "detach_kernel_driver"
	StageReset        Stage = "reset"
	StageConfigure    Stage = "set_configuration"
	StageClaim        Stage = "claim_interface"
)

// AcquisitionError 获取设备过程中某一步失败（已回滚）
type AcquisitionError struct {
	Stage Stage
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire device: %s: %v", e.Stage, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// UsbError 单次 USB 传输失败
type UsbError struct {
	Op       string // "write" / "read"
	Endpoint uint8
	Err      error
}

func (e *UsbError) Error() string {
	return fmt.Sprintf("usb %s ep 0x%02X: %v", e.Op, e.Endpoint, e.Err)
}

func (e *UsbError) Unwrap() error { return e.Err }

// NoResponseError 读重试耗尽；Last 为最后一次失败原因
type NoResponseError struct {
	Op       stepper.Opcode
	Attempts int
	Last     error
}

func (e *NoResponseError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: no response after %d reads", e.Op, e.Attempts)
	}
	return fmt.Sprintf("%s: no response after %d reads: %v", e.Op, e.Attempts, e.Last)
}

func (e *NoResponseError) Is(target error) bool { return target == ErrNoResponse }

func (e *NoResponseError) Unwrap() error { return e.Last }
