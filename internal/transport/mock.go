package transport

import (
	"sync"
	"time"
)

// ReadResult 预置的一次读取结果
type ReadResult struct {
	Data []byte
	Err  error
}

// Emulator 模拟设备：对每次写入给出待读响应，队列为空时可提供推流数据
type Emulator interface {
	HandleWrite(frame []byte) []ReadResult
	IdleRead() (ReadResult, bool)
}

// MockHandle 用于测试的可编排设备句柄
type MockHandle struct {
	mu sync.Mutex

	kernelDriver bool
	errs         map[string]error
	reads        []ReadResult
	writes       [][]byte
	calls        map[string]int
	emulator     Emulator
}

// 可注入错误的操作名
const (
	OpKernelDriverActive = "kernel_driver_active"
	OpDetach             = "detach"
	OpAttach             = "attach"
	OpReset              = "reset"
	OpSetConfiguration   = "set_configuration"
	OpClaim              = "claim"
	OpRelease            = "release"
	OpWrite              = "write"
	OpRead               = "read"
	OpClose              = "close"
)

func NewMockHandle(kernelDriverActive bool) *MockHandle {
	return &MockHandle{
		kernelDriver: kernelDriverActive,
		errs:         make(map[string]error),
		calls:        make(map[string]int),
	}
}

// SetEmulator 安装模拟设备
func (m *MockHandle) SetEmulator(e Emulator) {
	m.mu.Lock()
	m.emulator = e
	m.mu.Unlock()
}

// FailOn 指定操作返回错误（nil 清除）
func (m *MockHandle) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// QueueRead 追加一次读取结果
func (m *MockHandle) QueueRead(data []byte, err error) {
	m.mu.Lock()
	m.reads = append(m.reads, ReadResult{Data: data, Err: err})
	m.mu.Unlock()
}

// QueueEmpty 追加 n 次零长度读取
func (m *MockHandle) QueueEmpty(n int) {
	for i := 0; i < n; i++ {
		m.QueueRead(nil, nil)
	}
}

// Calls 返回某操作被调用次数
func (m *MockHandle) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Writes 返回所有写入的数据副本
func (m *MockHandle) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// LastWrite 返回最后一次写入
func (m *MockHandle) LastWrite() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return nil
	}
	return m.writes[len(m.writes)-1]
}

func (m *MockHandle) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.errs[op]
}

func (m *MockHandle) KernelDriverActive(uint8) (bool, error) {
	if err := m.record(OpKernelDriverActive); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kernelDriver, nil
}

func (m *MockHandle) DetachKernelDriver(uint8) error {
	if err := m.record(OpDetach); err != nil {
		return err
	}
	m.mu.Lock()
	m.kernelDriver = false
	m.mu.Unlock()
	return nil
}

func (m *MockHandle) AttachKernelDriver(uint8) error {
	if err := m.record(OpAttach); err != nil {
		return err
	}
	m.mu.Lock()
	m.kernelDriver = true
	m.mu.Unlock()
	return nil
}

func (m *MockHandle) Reset() error                   { return m.record(OpReset) }
func (m *MockHandle) SetDefaultConfiguration() error { return m.record(OpSetConfiguration) }
func (m *MockHandle) ClaimInterface(uint8) error     { return m.record(OpClaim) }
func (m *MockHandle) ReleaseInterface(uint8) error   { return m.record(OpRelease) }
func (m *MockHandle) Close() error                   { return m.record(OpClose) }

func (m *MockHandle) Write(_ uint8, data []byte, _ time.Duration) (int, error) {
	if err := m.record(OpWrite); err != nil {
		return 0, err
	}
	buf := append([]byte(nil), data...)
	m.mu.Lock()
	m.writes = append(m.writes, buf)
	emu := m.emulator
	m.mu.Unlock()

	if emu != nil {
		results := emu.HandleWrite(buf)
		m.mu.Lock()
		m.reads = append(m.reads, results...)
		m.mu.Unlock()
	}
	return len(data), nil
}

// Read 依次消费预置结果；队列为空时交给模拟设备，否则视为超时
func (m *MockHandle) Read(_ uint8, length int, _ time.Duration) ([]byte, error) {
	if err := m.record(OpRead); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if len(m.reads) > 0 {
		r := m.reads[0]
		m.reads = m.reads[1:]
		m.mu.Unlock()
		return truncate(r.Data, length), r.Err
	}
	emu := m.emulator
	m.mu.Unlock()

	if emu != nil {
		if r, ok := emu.IdleRead(); ok {
			return truncate(r.Data, length), r.Err
		}
	}
	return nil, ErrTimeout
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// MockBus 用于测试的设备总线
type MockBus struct {
	mu      sync.Mutex
	Devices []Descriptor
	Handle  *MockHandle
	OpenErr error
	opened  int
}

func NewMockBus(h *MockHandle, devices ...Descriptor) *MockBus {
	return &MockBus{Devices: devices, Handle: h}
}

func (b *MockBus) Discover(vendorID, productID uint16, serial string) ([]Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Descriptor
	for _, d := range b.Devices {
		if d.VendorID != vendorID || d.ProductID != productID {
			continue
		}
		if serial != "" && d.Serial != serial {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (b *MockBus) Open(Descriptor) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.opened++
	return b.Handle, nil
}

// Opened 返回 Open 成功次数
func (b *MockBus) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}
