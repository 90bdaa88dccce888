package stepper

import "encoding/binary"

// BuildResponse 构造与 Decode 对应的上行帧（模拟设备、回放与测试使用）
func BuildResponse(r Response) Frame {
	var f Frame
	switch v := r.(type) {
	case Ack:
		f[offStatus] = AckOK
	case Echo:
		f[offEcho] = byte(v.Op)
	case Raw:
		f = v.Frame
	case DeviceInfo:
		binary.BigEndian.PutUint16(f[offFwBoot:offFwBoot+2], v.BootloaderFirmware)
		binary.BigEndian.PutUint16(f[offFwApp:offFwApp+2], v.AppFirmware)
		binary.BigEndian.PutUint16(f[offSupply:offSupply+2], v.SupplyRaw)
		binary.BigEndian.PutUint16(f[offTemperature:offTemperature+2], v.TemperatureRaw)
		f[offDevStatus] = byte(v.Status)
	case Configuration:
		binary.LittleEndian.PutUint32(f[offVelocity:offVelocity+4], v.VelocityMax)
		binary.LittleEndian.PutUint32(f[offAccel:offAccel+4], v.Acceleration)
		binary.LittleEndian.PutUint32(f[offDecel:offDecel+4], v.Deceleration)
		f[offSettings] = v.Settings
	case StreamSample:
		binary.BigEndian.PutUint32(f[offStreamPosition:offStreamPosition+4], uint32(v.Position))
		binary.BigEndian.PutUint32(f[offStreamSpeed:offStreamSpeed+4], uint32(v.Speed))
		binary.BigEndian.PutUint32(f[offStreamFinal:offStreamFinal+4], uint32(v.FinalPosition))
		if v.EndSwitchActive {
			f[offStreamFlags] |= 1 << 6
		}
	}
	return f
}
