package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/metrics"
	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
)

// Executor 命令下发（outbound.Worker 实现）
type Executor interface {
	Execute(ctx context.Context, cmd stepper.Command) (stepper.Response, error)
}

// ReadDeviceInfo 读取一次 DeviceInfo 并更新指标
func ReadDeviceInfo(ctx context.Context, ex Executor, appm *metrics.AppMetrics) (stepper.DeviceInfo, error) {
	resp, err := ex.Execute(ctx, stepper.GetDeviceInfo{})
	if err != nil {
		return stepper.DeviceInfo{}, err
	}
	info, ok := resp.(stepper.DeviceInfo)
	if !ok {
		return stepper.DeviceInfo{}, fmt.Errorf("unexpected response %T", resp)
	}
	if appm != nil {
		appm.ObserveDeviceInfo(info)
	}
	return info, nil
}

// ReadConfiguration 读取一次配置，会话快照随之更新
func ReadConfiguration(ctx context.Context, ex Executor) (stepper.Configuration, error) {
	resp, err := ex.Execute(ctx, stepper.ReadConfiguration{})
	if err != nil {
		return stepper.Configuration{}, err
	}
	cfg, ok := resp.(stepper.Configuration)
	if !ok {
		return stepper.Configuration{}, fmt.Errorf("unexpected response %T", resp)
	}
	return cfg, nil
}

// PollDeviceInfo 每 interval 读取一次 DeviceInfo，直到 ctx 结束；interval<=0 时直接返回
func PollDeviceInfo(ctx context.Context, ex Executor, interval time.Duration, appm *metrics.AppMetrics, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		info, err := ReadDeviceInfo(ctx, ex, appm)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("device info poll failed", zap.Error(err))
			}
			continue
		}
		logger.Debug("device info",
			zap.Stringer("status", info.Status),
			zap.Float64("supply_voltage", info.SupplyVoltage),
			zap.Float64("temperature", info.Temperature))
	}
}
