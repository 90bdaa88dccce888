// Package api 设备控制 REST 接口
package api

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/session"
)

// Controller 命令下发能力（outbound.Worker 实现）
type Controller interface {
	Execute(ctx context.Context, cmd stepper.Command) (stepper.Response, error)
	MoveToPosition(ctx context.Context, position int32) error
	LastConfiguration(ctx context.Context) (stepper.Configuration, bool, error)
	MotionDefaults(ctx context.Context) (session.MotionDefaults, error)
	SetMotionDefaults(ctx context.Context, m session.MotionDefaults) error
}

// SampleSource 最新推流样本（monitor.Monitor 实现）
type SampleSource interface {
	Latest() (stepper.StreamSample, time.Time, error)
}

// DefaultCommandTimeout 单个接口调用等待设备的上限
const DefaultCommandTimeout = 5 * time.Second

// DeviceHandler 设备与运动控制接口
type DeviceHandler struct {
	ctl     Controller
	samples SampleSource
	logger  *zap.Logger
	timeout time.Duration
}

// NewDeviceHandler samples 可为 nil（未启用推流监视）
func NewDeviceHandler(ctl Controller, samples SampleSource, logger *zap.Logger) *DeviceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceHandler{ctl: ctl, samples: samples, logger: logger, timeout: DefaultCommandTimeout}
}

// ConfigurationView 配置快照的展开视图
type ConfigurationView struct {
	VelocityMax     uint32 `json:"velocity_max"`
	Acceleration    uint32 `json:"acceleration"`
	Deceleration    uint32 `json:"deceleration"`
	Settings        uint8  `json:"settings"`
	InvertDirection bool   `json:"invert_direction"`
	NCSwitch        bool   `json:"nc_switch"`
	SwitchEnable    bool   `json:"switch_enable"`
	Raw             string `json:"raw,omitempty"`
}

func configurationView(c stepper.Configuration) ConfigurationView {
	inv, nc, en := stepper.UnpackSettings(c.Settings)
	return ConfigurationView{
		VelocityMax:     c.VelocityMax,
		Acceleration:    c.Acceleration,
		Deceleration:    c.Deceleration,
		Settings:        c.Settings,
		InvertDirection: inv,
		NCSwitch:        nc,
		SwitchEnable:    en,
		Raw:             hex.EncodeToString(c.Raw[:]),
	}
}

// ChangeConfigRequest 修改配置；Settings 非空时直接使用，否则由布尔位组装
type ChangeConfigRequest struct {
	Velocity        uint32 `json:"velocity" binding:"required,min=1"`
	Acceleration    uint32 `json:"acceleration" binding:"required,min=1"`
	Deceleration    uint32 `json:"deceleration" binding:"required,min=1"`
	Settings        *uint8 `json:"settings"`
	InvertDirection bool   `json:"invert_direction"`
	EndSwitch       string `json:"end_switch" binding:"omitempty,oneof=none no nc"`
}

func (r ChangeConfigRequest) command() (stepper.ChangeConfiguration, error) {
	cmd := stepper.ChangeConfiguration{Velocity: r.Velocity, Acceleration: r.Acceleration, Deceleration: r.Deceleration}
	if r.Settings != nil {
		cmd.Settings = *r.Settings
		return cmd, nil
	}
	es, err := stepper.ParseEndSwitch(r.EndSwitch)
	if err != nil {
		return cmd, err
	}
	cmd.Settings = stepper.PackSettings(r.InvertDirection, es == stepper.EndSwitchNC, es != stepper.EndSwitchNone)
	return cmd, nil
}

// RunRequest 运行/休眠切换
type RunRequest struct {
	Run *bool `json:"run" binding:"required"`
}

// PwmRequest 四路占空比
type PwmRequest struct {
	Duty1CCW uint8 `json:"duty1_ccw"`
	Duty2CCW uint8 `json:"duty2_ccw"`
	Duty1ACW uint8 `json:"duty1_acw"`
	Duty2ACW uint8 `json:"duty2_acw"`
}

// SpeedRequest 恒速运动；speed=0 停止
type SpeedRequest struct {
	Speed     uint32 `json:"speed"`
	Direction string `json:"direction" binding:"omitempty,oneof=cw acw ccw"`
}

// PositionRequest 使用运动默认参数移动到绝对位置
type PositionRequest struct {
	Position *int32 `json:"position" binding:"required"`
}

// TrajectoryRequest 完整参数的梯形轨迹
type TrajectoryRequest struct {
	FinalPosition *int32 `json:"final_position" binding:"required"`
	MaxSpeed      uint32 `json:"max_speed" binding:"required,min=1"`
	MaxAccel      uint32 `json:"max_accel" binding:"required,min=1"`
	MaxDecel      uint32 `json:"max_decel" binding:"required,min=1"`
	EndSwitch     string `json:"end_switch" binding:"omitempty,oneof=none no nc"`
}

// MotionDefaultsBody 运动默认参数
type MotionDefaultsBody struct {
	MaxSpeed  uint32 `json:"max_speed" binding:"required,min=1"`
	MaxAccel  uint32 `json:"max_accel" binding:"required,min=1"`
	MaxDecel  uint32 `json:"max_decel" binding:"required,min=1"`
	EndSwitch string `json:"end_switch" binding:"omitempty,oneof=none no nc"`
}

func motionBody(m session.MotionDefaults) MotionDefaultsBody {
	return MotionDefaultsBody{MaxSpeed: m.MaxSpeed, MaxAccel: m.MaxAccel, MaxDecel: m.MaxDecel, EndSwitch: m.EndSwitch.String()}
}

func (h *DeviceHandler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// fail 记录并返回命令错误
func (h *DeviceHandler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	h.logger.Warn("device command failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("request_id", c.GetString("request_id")),
		zap.Error(err))
	respondError(c, status, err.Error())
}

func (h *DeviceHandler) badRequest(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, fmt.Sprintf("无效的请求: %v", err))
}

// exec 下发命令，成功时返回 Ack/Echo 的统一结果
func (h *DeviceHandler) exec(c *gin.Context, cmd stepper.Command) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	op := cmd.Opcode()
	resp, err := h.ctl.Execute(ctx, cmd)
	if err != nil {
		h.fail(c, op.String(), err)
		return
	}
	data := gin.H{"opcode": op.String()}
	if raw, ok := resp.(stepper.Raw); ok {
		data["raw"] = hex.EncodeToString(raw.Frame[:])
	}
	respondOK(c, "ok", data)
}

// GetInfo GET /device/info
func (h *DeviceHandler) GetInfo(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	resp, err := h.ctl.Execute(ctx, stepper.GetDeviceInfo{})
	if err != nil {
		h.fail(c, stepper.OpGetDeviceInfo.String(), err)
		return
	}
	info, ok := resp.(stepper.DeviceInfo)
	if !ok {
		h.fail(c, stepper.OpGetDeviceInfo.String(), fmt.Errorf("unexpected response %T", resp))
		return
	}
	respondOK(c, "ok", gin.H{
		"bootloader_fw_version": info.BootloaderFirmware,
		"app_fw_version":        info.AppFirmware,
		"supply_voltage_volts":  info.SupplyVoltage,
		"temperature_celsius":   info.Temperature,
		"status":                info.Status.String(),
	})
}

// GetConfig GET /device/config；?cached=true 返回最近一次读取的快照
func (h *DeviceHandler) GetConfig(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if c.Query("cached") == "true" {
		cfg, ok, err := h.ctl.LastConfiguration(ctx)
		if err != nil {
			h.fail(c, "last_configuration", err)
			return
		}
		if !ok {
			respondError(c, http.StatusNotFound, "configuration not read yet")
			return
		}
		respondOK(c, "ok", configurationView(cfg))
		return
	}
	resp, err := h.ctl.Execute(ctx, stepper.ReadConfiguration{})
	if err != nil {
		h.fail(c, stepper.OpReadConfiguration.String(), err)
		return
	}
	cfg, ok := resp.(stepper.Configuration)
	if !ok {
		h.fail(c, stepper.OpReadConfiguration.String(), fmt.Errorf("unexpected response %T", resp))
		return
	}
	respondOK(c, "ok", configurationView(cfg))
}

// PutConfig PUT /device/config
func (h *DeviceHandler) PutConfig(c *gin.Context) {
	var req ChangeConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	cmd, err := req.command()
	if err != nil {
		h.badRequest(c, err)
		return
	}
	h.exec(c, cmd)
}

// Run POST /device/run
func (h *DeviceHandler) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.exec(c, stepper.RunSleep{Run: *req.Run})
}

// Pwm POST /device/pwm
func (h *DeviceHandler) Pwm(c *gin.Context) {
	var req PwmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.exec(c, stepper.SetPwm{Duty1CCW: req.Duty1CCW, Duty2CCW: req.Duty2CCW, Duty1ACW: req.Duty1ACW, Duty2ACW: req.Duty2ACW})
}

// Reset POST /device/reset；设备随后从总线掉线
func (h *DeviceHandler) Reset(c *gin.Context) {
	h.logger.Warn("system reset requested", zap.String("request_id", c.GetString("request_id")))
	h.exec(c, stepper.SystemReset{})
}

// Speed POST /motion/speed
func (h *DeviceHandler) Speed(c *gin.Context) {
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	dir, err := stepper.ParseDirection(req.Direction)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	h.exec(c, stepper.MoveAtSpeed{Speed: req.Speed, Direction: dir})
}

// Position POST /motion/position
func (h *DeviceHandler) Position(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.ctl.MoveToPosition(ctx, *req.Position); err != nil {
		h.fail(c, "move_to_position", err)
		return
	}
	respondOK(c, "ok", gin.H{"final_position": *req.Position})
}

// Trajectory POST /motion/trajectory
func (h *DeviceHandler) Trajectory(c *gin.Context) {
	var req TrajectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	es, err := stepper.ParseEndSwitch(req.EndSwitch)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	h.exec(c, stepper.MoveTrajectory{
		FinalPosition: *req.FinalPosition,
		MaxSpeed:      req.MaxSpeed,
		MaxAccel:      req.MaxAccel,
		MaxDecel:      req.MaxDecel,
		EndSwitch:     es,
	})
}

// Stop POST /motion/stop
func (h *DeviceHandler) Stop(c *gin.Context) { h.exec(c, stepper.StopTrajectory{}) }

// Zero POST /motion/zero
func (h *DeviceHandler) Zero(c *gin.Context) { h.exec(c, stepper.ResetToZero{}) }

// GetMotionDefaults GET /motion/defaults
func (h *DeviceHandler) GetMotionDefaults(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	m, err := h.ctl.MotionDefaults(ctx)
	if err != nil {
		h.fail(c, "motion_defaults", err)
		return
	}
	respondOK(c, "ok", motionBody(m))
}

// PutMotionDefaults PUT /motion/defaults
func (h *DeviceHandler) PutMotionDefaults(c *gin.Context) {
	var req MotionDefaultsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	es, err := stepper.ParseEndSwitch(req.EndSwitch)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	m := session.MotionDefaults{MaxSpeed: req.MaxSpeed, MaxAccel: req.MaxAccel, MaxDecel: req.MaxDecel, EndSwitch: es}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.ctl.SetMotionDefaults(ctx, m); err != nil {
		h.fail(c, "set_motion_defaults", err)
		return
	}
	h.logger.Info("motion defaults updated",
		zap.Uint32("max_speed", m.MaxSpeed),
		zap.Uint32("max_accel", m.MaxAccel),
		zap.Uint32("max_decel", m.MaxDecel),
		zap.Stringer("end_switch", m.EndSwitch))
	respondOK(c, "ok", motionBody(m))
}

// errNoMonitor 未启用推流监视
var errNoMonitor = errors.New("stream monitor disabled")

// LatestSample GET /stream/latest
func (h *DeviceHandler) LatestSample(c *gin.Context) {
	if h.samples == nil {
		respondError(c, http.StatusNotFound, errNoMonitor.Error())
		return
	}
	s, at, err := h.samples.Latest()
	if err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}
	respondOK(c, "ok", gin.H{
		"position":          s.Position,
		"speed":             s.Speed,
		"final_position":    s.FinalPosition,
		"end_switch_active": s.EndSwitchActive,
		"at_target":         s.AtTarget(),
		"received_at":       at,
	})
}
