// Package monitor 推流监视：开启推流后按固定节奏读取样本，维护最新状态
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taoyao-code/stepper-usb/internal/metrics"
	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
)

// Source 样本来源（outbound.Worker 实现）
type Source interface {
	Execute(ctx context.Context, cmd stepper.Command) (stepper.Response, error)
	ReadStream(ctx context.Context) (stepper.StreamSample, error)
}

// ErrNoSample 尚未收到任何样本
var ErrNoSample = errors.New("no stream sample yet")

// Monitor 推流轮询器
type Monitor struct {
	src     Source
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.AppMetrics

	mu       sync.RWMutex
	latest   stepper.StreamSample
	at       time.Time
	has      bool
	atTarget bool
	errCount int64
	notify   chan struct{} // 每次新样本关闭并替换
}

// New interval 为两次读取的最小间隔，burst 为允许的突发读取数
func New(src Source, interval time.Duration, burst int, logger *zap.Logger, m *metrics.AppMetrics) *Monitor {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		src:     src,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		logger:  logger,
		metrics: m,
		notify:  make(chan struct{}),
	}
}

// Run 开启推流（必须收到应答）后持续轮询，直到 ctx 结束
func (m *Monitor) Run(ctx context.Context) error {
	if _, err := m.src.Execute(ctx, stepper.EnableStreaming{}); err != nil {
		return err
	}
	m.logger.Info("stream monitor started", zap.Float64("rate_hz", float64(m.limiter.Limit())))
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			m.logger.Info("stream monitor stopped")
			return nil
		}
		s, err := m.src.ReadStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.mu.Lock()
			m.errCount++
			n := m.errCount
			m.mu.Unlock()
			m.logger.Debug("stream read failed", zap.Int64("errors", n), zap.Error(err))
			continue
		}
		m.update(s)
	}
}

func (m *Monitor) update(s stepper.StreamSample) {
	m.mu.Lock()
	reached := s.AtTarget() && (!m.has || !m.atTarget)
	m.latest, m.at, m.has = s, time.Now(), true
	m.atTarget = s.AtTarget()
	ch := m.notify
	m.notify = make(chan struct{})
	m.mu.Unlock()
	close(ch)

	if m.metrics != nil {
		m.metrics.ObserveSample(s)
	}
	if reached {
		m.logger.Info("target reached", zap.Int32("position", s.Position))
	}
}

// Latest 最新样本及其接收时间
func (m *Monitor) Latest() (stepper.StreamSample, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.has {
		return stepper.StreamSample{}, time.Time{}, ErrNoSample
	}
	return m.latest, m.at, nil
}

// Errors 累计读取失败次数
func (m *Monitor) Errors() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errCount
}

// WaitForTarget 等待样本满足 position == final_position（且目标为 target）
func (m *Monitor) WaitForTarget(ctx context.Context, target int32) (stepper.StreamSample, error) {
	for {
		m.mu.RLock()
		s, has, ch := m.latest, m.has, m.notify
		m.mu.RUnlock()
		if has && s.AtTarget() && s.FinalPosition == target {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ch:
		}
	}
}
