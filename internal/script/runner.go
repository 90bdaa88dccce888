package script

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
)

// Device 脚本执行所需的控制器能力（outbound.Worker 实现）
type Device interface {
	Execute(ctx context.Context, cmd stepper.Command) (stepper.Response, error)
	MoveToPosition(ctx context.Context, position int32) error
	ReadStream(ctx context.Context) (stepper.StreamSample, error)
}

// TargetWaiter 已在后台轮询推流时用于等待到位（monitor.Monitor 实现）
type TargetWaiter interface {
	WaitForTarget(ctx context.Context, target int32) (stepper.StreamSample, error)
}

// StepResult 单步执行结果
type StepResult struct {
	Index    int
	Op       string
	Response stepper.Response
	Sample   *stepper.StreamSample
	Err      error
	Elapsed  time.Duration
}

// Runner 顺序执行脚本
type Runner struct {
	dev    Device
	waiter TargetWaiter
	logger *zap.Logger
	// 无 waiter 时 wait_target 直接读推流的间隔
	pollInterval time.Duration
}

// NewRunner waiter 可为 nil，此时 wait_target 直接读取推流帧
func NewRunner(dev Device, waiter TargetWaiter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{dev: dev, waiter: waiter, logger: logger, pollInterval: 20 * time.Millisecond}
}

// Run 执行全部步骤；除非 ContinueOnError，遇到第一个失败即停止并返回该错误
func (r *Runner) Run(ctx context.Context, s *Script) ([]StepResult, error) {
	log := r.logger.With(zap.String("script", s.Name))
	log.Info("script started", zap.Int("steps", len(s.Steps)))

	results := make([]StepResult, 0, len(s.Steps))
	var firstErr error
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		res := r.runStep(ctx, i+1, st)
		res.Elapsed = time.Since(start)
		results = append(results, res)

		fields := []zap.Field{
			zap.Int("step", res.Index),
			zap.String("op", res.Op),
			zap.Duration("elapsed", res.Elapsed),
		}
		if res.Err != nil {
			log.Warn("script step failed", append(fields, zap.Error(res.Err))...)
			if firstErr == nil {
				firstErr = fmt.Errorf("step %d (%s): %w", res.Index, res.Op, res.Err)
			}
			if !s.ContinueOnError {
				return results, firstErr
			}
			continue
		}
		log.Info("script step done", append(fields, stepFields(res)...)...)
	}
	log.Info("script finished", zap.Bool("ok", firstErr == nil))
	return results, firstErr
}

func (r *Runner) runStep(ctx context.Context, index int, st Step) StepResult {
	res := StepResult{Index: index, Op: st.Op}
	switch st.Op {
	case OpWait:
		t := time.NewTimer(st.Duration)
		defer t.Stop()
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
		case <-t.C:
		}
	case OpMovePosition:
		res.Err = r.dev.MoveToPosition(ctx, *st.Position)
	case OpWaitTarget:
		timeout := st.Timeout
		if timeout == 0 {
			timeout = DefaultWaitTargetTimeout
		}
		wctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		s, err := r.waitTarget(wctx, *st.Position)
		res.Sample, res.Err = &s, err
	default:
		cmd, err := st.Command()
		if err != nil {
			res.Err = err
			break
		}
		res.Response, res.Err = r.dev.Execute(ctx, cmd)
	}
	return res
}

func (r *Runner) waitTarget(ctx context.Context, target int32) (stepper.StreamSample, error) {
	if r.waiter != nil {
		return r.waiter.WaitForTarget(ctx, target)
	}
	var last stepper.StreamSample
	for {
		s, err := r.dev.ReadStream(ctx)
		if err == nil {
			last = s
			if s.AtTarget() && s.FinalPosition == target {
				return s, nil
			}
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("wait for position %d (last %d): %w", target, last.Position, ctx.Err())
		case <-time.After(r.pollInterval):
		}
	}
}

func stepFields(res StepResult) []zap.Field {
	if res.Sample != nil {
		return []zap.Field{zap.Int32("position", res.Sample.Position)}
	}
	switch v := res.Response.(type) {
	case stepper.DeviceInfo:
		return []zap.Field{
			zap.Stringer("status", v.Status),
			zap.Float64("supply_voltage", v.SupplyVoltage),
			zap.Float64("temperature", v.Temperature),
		}
	case stepper.Configuration:
		return []zap.Field{
			zap.Uint32("velocity_max", v.VelocityMax),
			zap.Uint32("acceleration", v.Acceleration),
			zap.Uint32("deceleration", v.Deceleration),
			zap.Uint8("settings", v.Settings),
		}
	}
	return nil
}
