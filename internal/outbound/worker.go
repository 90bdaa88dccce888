// Package outbound 下行命令队列：单 goroutine 独占设备会话，按优先级串行执行请求
package outbound

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/metrics"
	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/session"
)

var (
	ErrQueueFull     = errors.New("command queue is full")
	ErrWorkerStopped = errors.New("command worker stopped")
)

// result 请求结果；value 只经 done 通道交给调用方
type result struct {
	value any
	err   error
}

type request struct {
	id       string
	name     string
	priority int
	seq      uint64
	guarded  bool // 受熔断器保护
	enqueued time.Time
	run      func(session.Device) (any, error)
	done     chan result
	canceled atomic.Bool
}

// Options Worker 参数
type Options struct {
	QueueSize        int
	BreakerThreshold int
	BreakerTimeout   time.Duration
	Logger           *zap.Logger
	Metrics          *metrics.AppMetrics
}

// Worker 命令执行器
type Worker struct {
	dev     session.Device
	logger  *zap.Logger
	metrics *metrics.AppMetrics
	breaker *CircuitBreaker

	mu       sync.Mutex
	queue    requestQueue
	capacity int
	seq      uint64
	stopped  bool
	wake     chan struct{}

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	canceled  atomic.Int64

	lastMu    sync.RWMutex
	lastErr   error
	lastErrAt time.Time
}

// New 创建 Worker；需调用 Run 启动
func New(dev session.Device, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	w := &Worker{
		dev:      dev,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		breaker:  NewCircuitBreaker(opts.BreakerThreshold, opts.BreakerTimeout),
		capacity: opts.QueueSize,
		wake:     make(chan struct{}, 1),
	}
	w.breaker.SetStateChangeCallback(func(from, to BreakerState) {
		w.logger.Warn("circuit breaker state changed",
			zap.String("from", from.String()), zap.String("to", to.String()))
		if w.metrics != nil {
			w.metrics.BreakerState.Set(float64(to))
		}
	})
	return w
}

// Breaker 返回熔断器（健康检查使用）
func (w *Worker) Breaker() *CircuitBreaker { return w.breaker }

// Run 处理队列直到 ctx 结束；结束时未执行的请求返回 ErrWorkerStopped
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("command worker started", zap.Int("queue_size", w.capacity))
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			w.logger.Info("command worker stopped")
			return
		case <-w.wake:
		}
		for {
			if ctx.Err() != nil {
				break
			}
			r := w.next()
			if r == nil {
				break
			}
			w.process(r)
		}
	}
}

func (w *Worker) next() *request {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.queue.pop()
	w.setDepth()
	return r
}

func (w *Worker) setDepth() {
	if w.metrics != nil {
		w.metrics.QueueDepth.Set(float64(w.queue.Len()))
	}
}

func (w *Worker) shutdown() {
	w.mu.Lock()
	w.stopped = true
	pending := w.queue
	w.queue = nil
	w.setDepth()
	w.mu.Unlock()
	for _, r := range pending {
		r.done <- result{err: ErrWorkerStopped}
	}
}

func (w *Worker) process(r *request) {
	if r.canceled.Load() {
		return
	}
	var value any
	call := func() error {
		var err error
		value, err = r.run(w.dev)
		return err
	}

	var err error
	if r.guarded {
		err = w.breaker.Call(call)
	} else {
		err = call()
	}

	fields := []zap.Field{
		zap.String("request_id", r.id),
		zap.String("cmd", r.name),
		zap.Duration("queued", time.Since(r.enqueued)),
	}
	switch {
	case errors.Is(err, ErrCircuitOpen):
		w.rejected.Add(1)
		w.logger.Warn("command rejected", append(fields, zap.Error(err))...)
	case err != nil:
		w.failed.Add(1)
		w.recordError(err)
		w.logger.Warn("command failed", append(fields, zap.Error(err))...)
	default:
		w.completed.Add(1)
		if r.guarded {
			w.recordError(nil)
		}
		w.logger.Debug("command done", fields...)
	}
	r.done <- result{value: value, err: err}
}

func (w *Worker) recordError(err error) {
	w.lastMu.Lock()
	w.lastErr = err
	if err != nil {
		w.lastErrAt = time.Now()
	}
	w.lastMu.Unlock()
}

// LastFailure 最近一条受保护命令的失败；之后有命令成功则 err 为 nil
func (w *Worker) LastFailure() (time.Time, error) {
	w.lastMu.RLock()
	defer w.lastMu.RUnlock()
	return w.lastErrAt, w.lastErr
}

// Submit 入队并等待结果；ctx 取消只影响排队等待，不会中断正在进行的传输
func (w *Worker) Submit(ctx context.Context, name string, priority int, guarded bool,
	run func(session.Device) (stepper.Response, error)) (stepper.Response, error) {
	v, err := w.submit(ctx, name, priority, guarded, func(d session.Device) (any, error) {
		return run(d)
	})
	resp, _ := v.(stepper.Response)
	return resp, err
}

// submit 调用方提前返回时不再读取 run 的结果
func (w *Worker) submit(ctx context.Context, name string, priority int, guarded bool,
	run func(session.Device) (any, error)) (any, error) {
	r := &request{
		id:       uuid.NewString(),
		name:     name,
		priority: priority,
		guarded:  guarded,
		enqueued: time.Now(),
		run:      run,
		done:     make(chan result, 1),
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil, ErrWorkerStopped
	}
	if w.queue.Len() >= w.capacity {
		w.mu.Unlock()
		w.rejected.Add(1)
		return nil, ErrQueueFull
	}
	w.seq++
	r.seq = w.seq
	w.queue.push(r)
	w.setDepth()
	w.mu.Unlock()
	w.submitted.Add(1)

	select {
	case w.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-r.done:
		return res.value, res.err
	case <-ctx.Done():
		r.canceled.Store(true)
		w.canceled.Add(1)
		return nil, ctx.Err()
	}
}

// Execute 下发一条命令
func (w *Worker) Execute(ctx context.Context, cmd stepper.Command) (stepper.Response, error) {
	op := cmd.Opcode()
	return w.Submit(ctx, op.String(), GetCommandPriority(op), true, func(d session.Device) (stepper.Response, error) {
		return d.Execute(cmd)
	})
}

// MoveToPosition 使用会话的运动默认参数移动
func (w *Worker) MoveToPosition(ctx context.Context, position int32) error {
	_, err := w.Submit(ctx, "move_to_position", PriorityHigh, true, func(d session.Device) (stepper.Response, error) {
		return nil, d.MoveToPosition(position)
	})
	return err
}

// ReadStream 读取一帧推流样本；不受熔断器保护
func (w *Worker) ReadStream(ctx context.Context) (stepper.StreamSample, error) {
	resp, err := w.Submit(ctx, "read_stream", PriorityBackground, false, func(d session.Device) (stepper.Response, error) {
		return d.ReadStream()
	})
	if err != nil {
		return stepper.StreamSample{}, err
	}
	return resp.(stepper.StreamSample), nil
}

type snapshot struct {
	cfg stepper.Configuration
	ok  bool
}

// LastConfiguration 会话中的配置快照
func (w *Worker) LastConfiguration(ctx context.Context) (stepper.Configuration, bool, error) {
	v, err := w.submit(ctx, "last_configuration", PriorityNormal, false, func(d session.Device) (any, error) {
		c, ok := d.LastConfiguration()
		return snapshot{cfg: c, ok: ok}, nil
	})
	if err != nil {
		return stepper.Configuration{}, false, err
	}
	s := v.(snapshot)
	return s.cfg, s.ok, nil
}

// MotionDefaults 读取运动默认参数
func (w *Worker) MotionDefaults(ctx context.Context) (session.MotionDefaults, error) {
	v, err := w.submit(ctx, "motion_defaults", PriorityNormal, false, func(d session.Device) (any, error) {
		return d.MotionDefaults(), nil
	})
	if err != nil {
		return session.MotionDefaults{}, err
	}
	return v.(session.MotionDefaults), nil
}

// SetMotionDefaults 更新运动默认参数
func (w *Worker) SetMotionDefaults(ctx context.Context, m session.MotionDefaults) error {
	_, err := w.submit(ctx, "set_motion_defaults", PriorityNormal, false, func(d session.Device) (any, error) {
		d.SetMotionDefaults(m)
		return nil, nil
	})
	return err
}

// Stats 队列统计
type Stats struct {
	Submitted  int64               `json:"submitted"`
	Completed  int64               `json:"completed"`
	Failed     int64               `json:"failed"`
	Rejected   int64               `json:"rejected"`
	Canceled   int64               `json:"canceled"`
	QueueDepth int                 `json:"queue_depth"`
	LastError  string              `json:"last_error,omitempty"`
	Breaker    CircuitBreakerStats `json:"breaker"`
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	depth := w.queue.Len()
	w.mu.Unlock()
	s := Stats{
		Submitted:  w.submitted.Load(),
		Completed:  w.completed.Load(),
		Failed:     w.failed.Load(),
		Rejected:   w.rejected.Load(),
		Canceled:   w.canceled.Load(),
		QueueDepth: depth,
		Breaker:    w.breaker.Stats(),
	}
	if _, err := w.LastFailure(); err != nil {
		s.LastError = err.Error()
	}
	return s
}
