package pgn

const (
	SteerDataLen  = 8
	SensorDataLen = 8
)

// Switch byte bits of the 0xFD steer data message.
const (
	switchWorkInactive = 0x01 // set when the work switch is open
	switchSteerEnabled = 0x02
	switchRemote       = 0x04
	switchFusion       = 0x08
)

// Values the module reports in place of IMU readings it does not have.
const (
	NoIMUHeading = 9999
	NoIMURoll    = 8888
)

// SteerData is the 0xFD status report from the steering module.
type SteerData struct {
	ActualAngleX100 int16
	IMUHeadingX10   int16 // NoIMUHeading when no IMU is fitted
	IMURollX10      int16 // NoIMURoll when no IMU is fitted
	Switches        byte
	PWMDisplay      byte
}

func (d SteerData) ActualAngleDeg() float64 { return float64(d.ActualAngleX100) / 100 }

// IMUHeadingDeg is the module IMU heading; ok is false when none is fitted.
func (d SteerData) IMUHeadingDeg() (deg float64, ok bool) {
	if d.IMUHeadingX10 == NoIMUHeading {
		return 0, false
	}
	return float64(d.IMUHeadingX10) / 10, true
}

func (d SteerData) IMURollDeg() (deg float64, ok bool) {
	if d.IMURollX10 == NoIMURoll {
		return 0, false
	}
	return float64(d.IMURollX10) / 10, true
}

// WorkSwitch reports the work switch as active. The wire bit is inverted.
func (d SteerData) WorkSwitch() bool   { return d.Switches&switchWorkInactive == 0 }
func (d SteerData) SteerEnabled() bool { return d.Switches&switchSteerEnabled != 0 }
func (d SteerData) RemoteButton() bool { return d.Switches&switchRemote != 0 }
func (d SteerData) FusionActive() bool { return d.Switches&switchFusion != 0 }

// SwitchByte packs switch states the way the module reports them.
func SwitchByte(work, steer, remote, fusion bool) byte {
	return bit(!work, switchWorkInactive) |
		bit(steer, switchSteerEnabled) |
		bit(remote, switchRemote) |
		bit(fusion, switchFusion)
}

// Encode is used by simulators and tests; the steering module is the real
// producer of this message.
func (d SteerData) Encode(b *Builder) []byte {
	p := b.Payload()
	putU16(p[0:], uint16(d.ActualAngleX100))
	putU16(p[2:], uint16(d.IMUHeadingX10))
	putU16(p[4:], uint16(d.IMURollX10))
	p[6] = d.Switches
	p[7] = d.PWMDisplay
	return b.Seal()
}

func (d SteerData) Frame() []byte {
	return d.Encode(NewBuilder(IDSteerData, SteerDataLen))
}

func ParseSteerData(frame []byte) (SteerData, error) {
	p, err := unframeLen(frame, IDSteerData, SteerDataLen)
	if err != nil {
		return SteerData{}, err
	}
	return SteerData{
		ActualAngleX100: int16(getU16(p[0:])),
		IMUHeadingX10:   int16(getU16(p[2:])),
		IMURollX10:      int16(getU16(p[4:])),
		Switches:        p[6],
		PWMDisplay:      p[7],
	}, nil
}

// SensorData is the 0xFA raw sensor report (pressure or current, depending
// on the module hardware).
type SensorData struct {
	Value byte
}

func (s SensorData) Encode(b *Builder) []byte {
	p := b.Payload()
	for i := range p {
		p[i] = 0
	}
	p[0] = s.Value
	return b.Seal()
}

func (s SensorData) Frame() []byte {
	return s.Encode(NewBuilder(IDSensorData, SensorDataLen))
}

func ParseSensorData(frame []byte) (SensorData, error) {
	p, err := unframeLen(frame, IDSensorData, 1)
	if err != nil {
		return SensorData{}, err
	}
	return SensorData{Value: p[0]}, nil
}
