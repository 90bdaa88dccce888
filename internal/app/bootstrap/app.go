package bootstrap

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/api"
	"github.com/taoyao-code/stepper-usb/internal/app"
	cfgpkg "github.com/taoyao-code/stepper-usb/internal/config"
	"github.com/taoyao-code/stepper-usb/internal/health"
	"github.com/taoyao-code/stepper-usb/internal/metrics"
	"github.com/taoyao-code/stepper-usb/internal/monitor"
)

// ShutdownTimeout HTTP 优雅关闭等待上限
const ShutdownTimeout = 10 * time.Second

// Run 统一启动流程，阻塞直到收到 SIGINT/SIGTERM
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, cfg, log)
}

// RunContext 启动顺序：指标 -> 设备会话 -> 命令队列 -> 推流监视 -> HTTP；
// ctx 结束后按相反顺序关闭，会话只关闭一次
func RunContext(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger) error {
	log = log.With(zap.String("instance", app.GenerateInstanceID(cfg.App.Name)))
	log.Info("starting stepper daemon", zap.String("env", cfg.App.Env))

	// ========== 阶段1: 基础组件 ==========
	_, appm, metricsHandler := app.NewMetrics(cfg.Metrics)
	ready := health.New()

	// ========== 阶段2: 获取设备（失败直接返回）==========
	sess, sim, err := app.OpenSession(cfg, appm, log)
	if err != nil {
		log.Error("device acquisition failed", zap.Error(err))
		return fmt.Errorf("open device: %w", err)
	}
	defer sess.Close()
	ready.SetDeviceReady(true)
	log.Info("device ready",
		zap.String("device", sess.Descriptor().String()),
		zap.Bool("simulated", sim != nil))

	// ========== 阶段3: 命令队列 ==========
	worker, stopWorker := app.StartWorker(sess, cfg.Worker, appm, log)
	defer stopWorker()
	ready.SetWorkerReady(true)

	primeDevice(ctx, worker, appm, log)

	// ========== 阶段4: 后台任务（推流监视、设备信息轮询）==========
	bgCtx, bgCancel := context.WithCancel(ctx)
	var bg sync.WaitGroup
	defer func() {
		bgCancel()
		bg.Wait()
	}()

	var samples api.SampleSource
	var healthSamples health.SampleSource
	if cfg.Monitor.Enable {
		mon := monitor.New(worker, cfg.Monitor.Interval, cfg.Monitor.Burst, log, appm)
		samples, healthSamples = mon, mon
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := mon.Run(bgCtx); err != nil {
				log.Error("stream monitor failed to start", zap.Error(err))
			}
		}()
	}
	bg.Add(1)
	go func() {
		defer bg.Done()
		app.PollDeviceInfo(bgCtx, worker, cfg.Monitor.InfoInterval, appm, log)
	}()

	// ========== 阶段5: HTTP ==========
	agg := app.NewHealthAggregator(worker, healthSamples, cfg.Monitor.MaxSampleAge)
	httpSrv := app.NewHTTPServer(cfg, metricsHandler, ready.Ready, worker, samples, agg, log)
	httpErr := make(chan error, 1)
	go func() { httpErr <- httpSrv.Start() }()
	log.Info("all services ready", zap.String("http_addr", cfg.HTTP.Addr))

	// ========== 阶段6: 等待退出 ==========
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, gracefully shutting down...")
	case err := <-httpErr:
		if err != nil {
			log.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("http server stopped")
	// 其余组件由 defer 依次关闭：后台任务 -> 命令队列 -> 会话
	return runErr
}

// primeDevice 启动后读取设备信息与当前配置（填充会话配置快照）；失败只告警
func primeDevice(ctx context.Context, ex app.Executor, appm *metrics.AppMetrics, log *zap.Logger) {
	if info, err := app.ReadDeviceInfo(ctx, ex, appm); err != nil {
		log.Warn("initial device info failed", zap.Error(err))
	} else {
		log.Info("controller info",
			zap.String("bootloader_fw", fmt.Sprintf("0x%04X", info.BootloaderFirmware)),
			zap.String("app_fw", fmt.Sprintf("0x%04X", info.AppFirmware)),
			zap.Stringer("status", info.Status),
			zap.Float64("supply_voltage", info.SupplyVoltage),
			zap.Float64("temperature", info.Temperature))
	}

	if c, err := app.ReadConfiguration(ctx, ex); err != nil {
		log.Warn("initial configuration read failed", zap.Error(err))
	} else {
		log.Info("controller configuration",
			zap.Uint32("velocity_max", c.VelocityMax),
			zap.Uint32("acceleration", c.Acceleration),
			zap.Uint32("deceleration", c.Deceleration),
			zap.Uint8("settings", c.Settings))
	}
}
