package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/stepper-usb/internal/outbound"
	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/session"
)

// StandardResponse 标准响应格式
type StandardResponse struct {
	Code      int    `json:"code"`           // 0=成功, >0=错误码
	Message   string `json:"message"`        // 消息
	Data      any    `json:"data,omitempty"` // 业务数据
	RequestID string `json:"request_id"`     // 请求追踪ID
	Timestamp int64  `json:"timestamp"`      // 时间戳
}

// statusFor 命令错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoResponse), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, stepper.ErrMalformedFrame),
		errors.Is(err, stepper.ErrUnexpectedStatus),
		errors.Is(err, stepper.ErrUnknownOpcode):
		return http.StatusBadGateway
	case errors.Is(err, outbound.ErrCircuitOpen),
		errors.Is(err, outbound.ErrQueueFull),
		errors.Is(err, outbound.ErrWorkerStopped),
		errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	}
	var usbErr *session.UsbError
	if errors.As(err, &usbErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, StandardResponse{
		Code:      0,
		Message:   message,
		Data:      data,
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().Unix(),
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, StandardResponse{
		Code:      status,
		Message:   message,
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().Unix(),
	})
}
