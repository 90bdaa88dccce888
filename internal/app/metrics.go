package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfgpkg "github.com/taoyao-code/stepper-usb/internal/config"
	"github.com/taoyao-code/stepper-usb/internal/metrics"
)

// NewMetrics 初始化注册表与应用指标；未启用时 handler 为 nil（不注册 /metrics）
func NewMetrics(cfg cfgpkg.MetricsConfig) (*prometheus.Registry, *metrics.AppMetrics, http.Handler) {
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)
	if !cfg.Enable {
		return reg, appm, nil
	}
	return reg, appm, metrics.Handler(reg)
}
