package health

import (
	"context"
	"time"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
)

// SampleSource 最新推流样本
type SampleSource interface {
	Latest() (stepper.StreamSample, time.Time, error)
}

// StreamChecker 推流新鲜度检查，样本过旧为降级
type StreamChecker struct {
	src    SampleSource
	maxAge time.Duration
}

func NewStreamChecker(src SampleSource, maxAge time.Duration) *StreamChecker {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &StreamChecker{src: src, maxAge: maxAge}
}

func (c *StreamChecker) Name() string { return "stream" }

func (c *StreamChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	s, at, err := c.src.Latest()
	if err != nil {
		return CheckResult{Status: StatusDegraded, Message: err.Error(), Latency: time.Since(start)}
	}
	age := time.Since(at)
	details := map[string]any{
		"position":          s.Position,
		"final_position":    s.FinalPosition,
		"end_switch_active": s.EndSwitchActive,
		"age_ms":            age.Milliseconds(),
	}
	if age > c.maxAge {
		return CheckResult{Status: StatusDegraded, Message: "stream stale", Details: details, Latency: time.Since(start)}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Details: details, Latency: time.Since(start)}
}
