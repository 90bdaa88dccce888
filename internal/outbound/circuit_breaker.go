package outbound

import (
	"errors"
	"sync"
	"time"

	"github.com/taoyao-code/stepper-usb/internal/session"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	StateClosed   BreakerState = iota // 正常状态，允许请求通过
	StateHalfOpen                     // 半开状态，放行一个试探请求
	StateOpen                         // 熔断状态，拒绝所有命令
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 熔断器打开，拒绝请求
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker 设备级熔断：连续 threshold 次设备无响应/USB 错误后打开
// 协议层校验失败（状态字节不符）说明设备在线，不计入失败
type CircuitBreaker struct {
	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	lastFailTime  time.Time
	lastStateTime time.Time
	tripCount     int64
	probing       bool

	threshold int
	timeout   time.Duration
	now       func() time.Time

	onStateChange func(from, to BreakerState)
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CircuitBreaker{
		state:         StateClosed,
		threshold:     threshold,
		timeout:       timeout,
		now:           time.Now,
		lastStateTime: time.Now(),
	}
}

// IsDeviceFailure 是否属于设备级失败
func IsDeviceFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, session.ErrNoResponse) {
		return true
	}
	var ue *session.UsbError
	return errors.As(err, &ue)
}

// Call 执行函数，受熔断器保护
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.lastFailTime) < cb.timeout {
			return ErrCircuitOpen
		}
		cb.transitionTo(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if !IsDeviceFailure(err) {
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.transitionTo(StateClosed)
		}
		return
	}

	cb.failureCount++
	cb.lastFailTime = cb.now()
	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.threshold {
			cb.transitionTo(StateOpen)
			cb.tripCount++
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
		cb.tripCount++
	}
}

func (cb *CircuitBreaker) transitionTo(newState BreakerState) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.lastStateTime = cb.now()
	if cb.onStateChange != nil {
		go cb.onStateChange(old, newState)
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// SetStateChangeCallback 设置状态变化回调（异步调用）
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(from, to BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Reset 手动恢复
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.probing = false
}

// Stats 获取统计信息
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		TripCount:       cb.tripCount,
		LastStateChange: cb.lastStateTime,
	}
}

// CircuitBreakerStats 熔断器统计信息
type CircuitBreakerStats struct {
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	TripCount       int64     `json:"trip_count"`
	LastStateChange time.Time `json:"last_state_change"`
}
