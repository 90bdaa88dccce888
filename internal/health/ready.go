package health

import "sync/atomic"

// Readiness 启动阶段就绪标记：设备已获取、命令队列已启动
type Readiness struct {
	deviceReady atomic.Bool
	workerReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetDeviceReady(v bool) { r.deviceReady.Store(v) }
func (r *Readiness) SetWorkerReady(v bool) { r.workerReady.Store(v) }

// Ready 各子系统均为 true
func (r *Readiness) Ready() bool {
	return r.deviceReady.Load() && r.workerReady.Load()
}
