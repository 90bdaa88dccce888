package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/session"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 控制器相关指标
type AppMetrics struct {
	CommandTotal      *prometheus.CounterVec   // labels: cmd, result
	CommandDuration   *prometheus.HistogramVec // labels: cmd
	ReadRetryTotal    *prometheus.CounterVec   // labels: cmd
	CommandRetryTotal *prometheus.CounterVec   // labels: cmd

	QueueDepth   prometheus.Gauge
	BreakerState prometheus.Gauge // 0=closed 1=half-open 2=open

	StreamSamplesTotal prometheus.Counter
	StreamPosition     prometheus.Gauge
	StreamSpeed        prometheus.Gauge
	StreamTarget       prometheus.Gauge
	EndSwitchActive    prometheus.Gauge

	SupplyVoltage prometheus.Gauge
	Temperature   prometheus.Gauge
}

// NewAppMetrics 注册并返回指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepper_command_total",
			Help: "Commands executed by opcode and result.",
		}, []string{"cmd", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepper_command_duration_seconds",
			Help:    "Command round-trip latency including retries.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"cmd"}),
		ReadRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepper_read_retry_total",
			Help: "Bulk reads retried after an error or empty read.",
		}, []string{"cmd"}),
		CommandRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepper_command_retry_total",
			Help: "Full write/read cycles retried.",
		}, []string{"cmd"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepper_queue_depth",
			Help: "Requests waiting in the command queue.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepper_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		StreamSamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stepper_stream_samples_total",
			Help: "Stream samples received.",
		}),
		StreamPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepper_position_steps",
			Help: "Last streamed position.",
		}),
		StreamSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepper_speed_steps_per_second",
			Help: "Last streamed speed.",
		}),
		StreamTarget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepper_target_position_steps",
			Help: "Last streamed final position.",
		}),
		EndSwitchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepper_end_switch_active",
			Help: "End switch state from the last stream sample.",
		}),
		SupplyVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepper_supply_voltage_volts",
			Help: "Supply voltage from the last device info.",
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepper_temperature_celsius",
			Help: "Controller temperature from the last device info.",
		}),
	}
	reg.MustRegister(
		m.CommandTotal, m.CommandDuration, m.ReadRetryTotal, m.CommandRetryTotal,
		m.QueueDepth, m.BreakerState,
		m.StreamSamplesTotal, m.StreamPosition, m.StreamSpeed, m.StreamTarget, m.EndSwitchActive,
		m.SupplyVoltage, m.Temperature,
	)
	return m
}

// Result 错误分类标签
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrNoResponse):
		return "no_response"
	case errors.Is(err, stepper.ErrUnexpectedStatus):
		return "unexpected_status"
	case errors.Is(err, stepper.ErrMalformedFrame):
		return "malformed"
	}
	var ue *session.UsbError
	if errors.As(err, &ue) {
		return "usb_error"
	}
	return "error"
}

// CommandDone 实现 session.Observer
func (m *AppMetrics) CommandDone(op stepper.Opcode, err error, elapsed time.Duration) {
	m.CommandTotal.WithLabelValues(op.String(), Result(err)).Inc()
	m.CommandDuration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

func (m *AppMetrics) ReadRetry(op stepper.Opcode) {
	m.ReadRetryTotal.WithLabelValues(op.String()).Inc()
}

func (m *AppMetrics) CommandRetry(op stepper.Opcode) {
	m.CommandRetryTotal.WithLabelValues(op.String()).Inc()
}

// ObserveSample 记录推流样本
func (m *AppMetrics) ObserveSample(s stepper.StreamSample) {
	m.StreamSamplesTotal.Inc()
	m.StreamPosition.Set(float64(s.Position))
	m.StreamSpeed.Set(float64(s.Speed))
	m.StreamTarget.Set(float64(s.FinalPosition))
	if s.EndSwitchActive {
		m.EndSwitchActive.Set(1)
	} else {
		m.EndSwitchActive.Set(0)
	}
}

// ObserveDeviceInfo 记录电压与温度
func (m *AppMetrics) ObserveDeviceInfo(info stepper.DeviceInfo) {
	m.SupplyVoltage.Set(info.SupplyVoltage)
	m.Temperature.Set(info.Temperature)
}

var _ session.Observer = (*AppMetrics)(nil)
