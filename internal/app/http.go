package app

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/api"
	"github.com/taoyao-code/stepper-usb/internal/api/middleware"
	cfgpkg "github.com/taoyao-code/stepper-usb/internal/config"
	"github.com/taoyao-code/stepper-usb/internal/health"
	"github.com/taoyao-code/stepper-usb/internal/httpserver"
)

// NewHTTPServer 创建 HTTP 服务器并注册健康检查与 /api/v1 控制路由
func NewHTTPServer(
	cfg *cfgpkg.Config,
	metricsHandler http.Handler,
	readyFn func() bool,
	ctl api.Controller,
	samples api.SampleSource,
	agg *health.Aggregator,
	logger *zap.Logger,
) *httpserver.Server {
	srv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, readyFn, logger)
	r := srv.Engine()
	RegisterHealthRoutes(r, agg)
	api.RegisterRoutes(r,
		api.NewDeviceHandler(ctl, samples, logger),
		middleware.AuthConfig{APIKeys: cfg.API.Auth.APIKeys, Enabled: cfg.API.Auth.Enabled},
		middleware.RateLimitConfig{Enabled: cfg.API.RateLimit.Enabled, RPS: cfg.API.RateLimit.RPS, Burst: cfg.API.RateLimit.Burst},
		logger,
	)
	return srv
}
