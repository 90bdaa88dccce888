package health

import (
	"context"
	"time"

	"github.com/taoyao-code/stepper-usb/internal/outbound"
)

// CommandQueue DeviceChecker 所需的命令队列能力
type CommandQueue interface {
	Stats() outbound.Stats
	LastFailure() (time.Time, error)
}

// DeviceChecker 设备健康检查：熔断打开为不健康，最近命令失败为降级
type DeviceChecker struct {
	queue CommandQueue
}

func NewDeviceChecker(q CommandQueue) *DeviceChecker {
	return &DeviceChecker{queue: q}
}

func (c *DeviceChecker) Name() string { return "device" }

func (c *DeviceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	st := c.queue.Stats()
	details := map[string]any{
		"queue_depth":      st.QueueDepth,
		"submitted":        st.Submitted,
		"failed":           st.Failed,
		"rejected":         st.Rejected,
		"breaker_state":    st.Breaker.State,
		"breaker_failures": st.Breaker.FailureCount,
	}

	status, message := StatusHealthy, "ok"
	if at, err := c.queue.LastFailure(); err != nil {
		status, message = StatusDegraded, "last command failed"
		details["last_error"] = err.Error()
		details["last_error_at"] = at
	}
	switch st.Breaker.State {
	case outbound.StateOpen.String():
		status, message = StatusUnhealthy, "device not responding (circuit open)"
	case outbound.StateHalfOpen.String():
		status, message = StatusDegraded, "probing device"
	}

	return CheckResult{Status: status, Message: message, Details: details, Latency: time.Since(start)}
}
