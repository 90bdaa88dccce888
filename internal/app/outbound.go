package app

import (
	"context"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/stepper-usb/internal/config"
	"github.com/taoyao-code/stepper-usb/internal/metrics"
	"github.com/taoyao-code/stepper-usb/internal/outbound"
	"github.com/taoyao-code/stepper-usb/internal/session"
)

// StartWorker 启动命令队列 Worker；返回的 stop 会等待 Worker 退出
func StartWorker(dev session.Device, cfg cfgpkg.WorkerConfig, appm *metrics.AppMetrics, logger *zap.Logger) (*outbound.Worker, func()) {
	w := outbound.New(dev, outbound.Options{
		QueueSize:        cfg.QueueSize,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
		Logger:           logger,
		Metrics:          appm,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return w, func() {
		cancel()
		<-done
	}
}
