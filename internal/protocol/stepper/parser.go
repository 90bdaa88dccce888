package stepper

import (
	"encoding/binary"
	"fmt"
)

// Response 上行帧解码结果
type Response interface {
	Opcode() Opcode
}

// ResponseKind 各命令族的响应校验方式
type ResponseKind uint8

const (
	KindNone ResponseKind = iota // 设备不回包（SystemReset 后设备直接掉线）
	KindAck                      // byte0 == 0x02
	KindEcho                     // byte15 == 下发的 opcode
	KindData                     // 固定偏移取值，无校验字节
	KindRaw                      // 固件未定义校验字节，原样返回
)

// KindOf 返回命令码对应的响应类型
func KindOf(op Opcode) ResponseKind {
	switch op {
	case OpRunSleep, OpEnableStreaming, OpStopTrajectory, OpResetToZero:
		return KindAck
	case OpMoveAtSpeed, OpMoveTrajectory:
		return KindEcho
	case OpGetDeviceInfo, OpReadConfiguration:
		return KindData
	case OpSystemReset:
		return KindNone
	default:
		return KindRaw
	}
}

// Ack 应答类响应
type Ack struct {
	Op Opcode
}

func (a Ack) Opcode() Opcode { return a.Op }

// Echo 回显类响应
type Echo struct {
	Op Opcode
}

func (e Echo) Opcode() Opcode { return e.Op }

// Raw 无校验字节的响应，保留原始帧
type Raw struct {
	Op    Opcode
	Frame Frame
}

func (r Raw) Opcode() Opcode { return r.Op }

// DeviceStatus 设备运行状态（DeviceInfo byte46）
type DeviceStatus uint8

const (
	StatusUnknown    DeviceStatus = 0
	StatusSleep      DeviceStatus = 1
	StatusActive     DeviceStatus = 2
	StatusIdle       DeviceStatus = 3
	StatusOverheated DeviceStatus = 4
	StatusPwmMode    DeviceStatus = 5
)

func (s DeviceStatus) String() string {
	switch s {
	case StatusSleep:
		return "sleep"
	case StatusActive:
		return "active"
	case StatusIdle:
		return "idle"
	case StatusOverheated:
		return "overheated"
	case StatusPwmMode:
		return "pwm_mode"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DeviceInfo GetDeviceInfo 响应
type DeviceInfo struct {
	BootloaderFirmware uint16       `json:"bootloader_fw_version"`
	AppFirmware        uint16       `json:"app_fw_version"`
	SupplyRaw          uint16       `json:"supply_raw"`
	SupplyVoltage      float64      `json:"supply_voltage_volts"`
	TemperatureRaw     uint16       `json:"temperature_raw"`
	Temperature        float64      `json:"temperature_celsius"`
	Status             DeviceStatus `json:"status"`
}

func (DeviceInfo) Opcode() Opcode { return OpGetDeviceInfo }

// Configuration ReadConfiguration 响应；Raw 为完整原始帧（当前设置快照）
type Configuration struct {
	VelocityMax  uint32 `json:"velocity_max"`
	Acceleration uint32 `json:"acceleration"`
	Deceleration uint32 `json:"deceleration"`
	Settings     uint8  `json:"settings"`
	Raw          Frame  `json:"-"`
}

func (Configuration) Opcode() Opcode { return OpReadConfiguration }

// StreamSample 推流模式下的周期状态
type StreamSample struct {
	Position        int32 `json:"position"`
	Speed           int32 `json:"speed"`
	FinalPosition   int32 `json:"final_position"`
	EndSwitchActive bool  `json:"end_switch_active"`
}

func (StreamSample) Opcode() Opcode { return OpEnableStreaming }

// AtTarget 当前位置是否已到达目标位置
func (s StreamSample) AtTarget() bool { return s.Position == s.FinalPosition }

// 电压/温度换算系数
const (
	supplyMilliVoltsPerLSB = 72    // 0.072 V
	temperatureScale       = 0.125 // °C
)

// Decode 按下发命令解码上行帧
// 响应本身不带类型信息，必须由调用方提供下发的 opcode
func Decode(f Frame, op Opcode) (Response, error) {
	switch KindOf(op) {
	case KindAck:
		if f[offStatus] != AckOK {
			return nil, &UnexpectedStatusError{Op: op, Expected: AckOK, Got: f[offStatus]}
		}
		return Ack{Op: op}, nil
	case KindEcho:
		if f[offEcho] != byte(op) {
			return nil, &UnexpectedStatusError{Op: op, Expected: byte(op), Got: f[offEcho]}
		}
		return Echo{Op: op}, nil
	case KindData:
		if op == OpGetDeviceInfo {
			return DecodeDeviceInfo(f), nil
		}
		return DecodeConfiguration(f), nil
	case KindRaw:
		if !op.Known() {
			return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(op))
		}
		return Raw{Op: op, Frame: f}, nil
	default:
		return Raw{Op: op, Frame: f}, nil
	}
}

// DecodeDeviceInfo 解析设备信息（状态字段为大端 16 位）
func DecodeDeviceInfo(f Frame) DeviceInfo {
	supply := binary.BigEndian.Uint16(f[offSupply : offSupply+2])
	temp := binary.BigEndian.Uint16(f[offTemperature : offTemperature+2])
	return DeviceInfo{
		BootloaderFirmware: binary.BigEndian.Uint16(f[offFwBoot : offFwBoot+2]),
		AppFirmware:        binary.BigEndian.Uint16(f[offFwApp : offFwApp+2]),
		SupplyRaw:          supply,
		SupplyVoltage:      float64(supply) * supplyMilliVoltsPerLSB / 1000,
		TemperatureRaw:     temp,
		Temperature:        float64(temp) * temperatureScale,
		Status:             DeviceStatus(f[offDevStatus]),
	}
}

// DecodeConfiguration 解析当前配置（小端）
func DecodeConfiguration(f Frame) Configuration {
	return Configuration{
		VelocityMax:  binary.LittleEndian.Uint32(f[offVelocity : offVelocity+4]),
		Acceleration: binary.LittleEndian.Uint32(f[offAccel : offAccel+4]),
		Deceleration: binary.LittleEndian.Uint32(f[offDecel : offDecel+4]),
		Settings:     f[offSettings],
		Raw:          f,
	}
}

// DecodeStreamSample 解析推流样本（大端，20..32 连续排列）
func DecodeStreamSample(f Frame) StreamSample {
	return StreamSample{
		Position:        int32(binary.BigEndian.Uint32(f[offStreamPosition : offStreamPosition+4])),
		Speed:           int32(binary.BigEndian.Uint32(f[offStreamSpeed : offStreamSpeed+4])),
		FinalPosition:   int32(binary.BigEndian.Uint32(f[offStreamFinal : offStreamFinal+4])),
		EndSwitchActive: f[offStreamFlags]&(1<<6) != 0,
	}
}
