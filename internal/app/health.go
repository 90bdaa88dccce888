package app

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/stepper-usb/internal/health"
)

// NewHealthAggregator 设备检查器始终存在；推流检查器仅在启用监视时添加
func NewHealthAggregator(queue health.CommandQueue, samples health.SampleSource, maxSampleAge time.Duration) *health.Aggregator {
	agg := health.NewAggregator(health.NewDeviceChecker(queue))
	if samples != nil {
		agg.AddChecker(health.NewStreamChecker(samples, maxSampleAge))
	}
	return agg
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}
