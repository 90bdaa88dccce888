package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/api/middleware"
)

// RegisterRoutes 注册 /api/v1 设备控制路由
func RegisterRoutes(
	r *gin.Engine,
	handler *DeviceHandler,
	authCfg middleware.AuthConfig,
	rlCfg middleware.RateLimitConfig,
	logger *zap.Logger,
) {
	if r == nil || handler == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RequestTracing(), middleware.RateLimit(rlCfg))
	if authCfg.Enabled {
		v1.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	device := v1.Group("/device")
	{
		device.GET("/info", handler.GetInfo)
		device.GET("/config", handler.GetConfig)
		device.PUT("/config", handler.PutConfig)
		device.POST("/run", handler.Run)
		device.POST("/pwm", handler.Pwm)
		device.POST("/reset", handler.Reset)
	}

	motion := v1.Group("/motion")
	{
		motion.POST("/speed", handler.Speed)
		motion.POST("/position", handler.Position)
		motion.POST("/trajectory", handler.Trajectory)
		motion.POST("/stop", handler.Stop)
		motion.POST("/zero", handler.Zero)
		motion.GET("/defaults", handler.GetMotionDefaults)
		motion.PUT("/defaults", handler.PutMotionDefaults)
	}

	v1.GET("/stream/latest", handler.LatestSample)
}
