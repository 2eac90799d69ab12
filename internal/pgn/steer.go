package pgn

import "math"

// Status bits of the steering command.
const (
	StatusSteerSwitch byte = 1 << iota
	StatusWorkSwitch
	StatusEngaged
	StatusGPSValid
	StatusGuidanceValid
)

const (
	SteerCommandLen = 8
	MachineStateLen = 8

	// FreeDriveSpeedKmh is the synthetic speed reported while free drive is
	// active so the module does not cut out on its low-speed limit.
	FreeDriveSpeedKmh = 5.0

	// FreeDriveMaxDeg bounds the operator-supplied free-drive angle.
	FreeDriveMaxDeg = 40.0
)

// SteerCommand is the 0xFE steering message. Fields hold wire units so that
// decode(encode(c)) == c exactly.
type SteerCommand struct {
	SpeedX10  uint16 // km/h x10
	Status    byte
	AngleX100 int16 // degrees x100, positive = right
	XTECm     int8  // clamped to +-127
	Sections  uint16
}

// NewSteerCommand converts engineering units into wire units.
func NewSteerCommand(speedKmh float64, status byte, angleDeg, xteM float64, sections uint16) SteerCommand {
	return SteerCommand{
		SpeedX10:  uint16(clampFloat(math.Round(math.Abs(speedKmh)*10), 0, math.MaxUint16)),
		Status:    status,
		AngleX100: int16(clampFloat(math.Round(angleDeg*100), math.MinInt16, math.MaxInt16)),
		XTECm:     int8(clampFloat(math.Round(xteM*100), -127, 127)),
		Sections:  sections,
	}
}

// WithFreeDrive replaces the guidance-derived fields with a synthetic speed
// and the operator angle.
func (c SteerCommand) WithFreeDrive(angleDeg float64) SteerCommand {
	angleDeg = clampFloat(angleDeg, -FreeDriveMaxDeg, FreeDriveMaxDeg)
	c.SpeedX10 = uint16(FreeDriveSpeedKmh * 10)
	c.Status = StatusEngaged | StatusGPSValid
	c.AngleX100 = int16(math.Round(angleDeg * 100))
	c.XTECm = 0
	return c
}

func (c SteerCommand) SpeedKmh() float64  { return float64(c.SpeedX10) / 10 }
func (c SteerCommand) AngleDeg() float64  { return float64(c.AngleX100) / 100 }
func (c SteerCommand) Has(flag byte) bool { return c.Status&flag != 0 }

func (c SteerCommand) Encode(b *Builder) []byte {
	p := b.Payload()
	putU16(p[0:], c.SpeedX10)
	p[2] = c.Status
	putU16(p[3:], uint16(c.AngleX100))
	p[5] = byte(c.XTECm)
	putU16(p[6:], c.Sections)
	return b.Seal()
}

func (c SteerCommand) Frame() []byte {
	return c.Encode(NewBuilder(IDSteerCommand, SteerCommandLen))
}

func ParseSteerCommand(frame []byte) (SteerCommand, error) {
	p, err := unframeLen(frame, IDSteerCommand, SteerCommandLen)
	if err != nil {
		return SteerCommand{}, err
	}
	return SteerCommand{
		SpeedX10:  getU16(p[0:]),
		Status:    p[2],
		AngleX100: int16(getU16(p[3:])),
		XTECm:     int8(p[5]),
		Sections:  getU16(p[6:]),
	}, nil
}

// MachineState is the 0xEF machine/section message.
type MachineState struct {
	UTurn    byte
	SpeedX10 byte // km/h x10, saturated at 255
	HydLift  byte
	Tram     byte
	GeoStop  bool
	Sections uint16
}

// MachineSpeed converts km/h into the saturating single-byte speed field.
func MachineSpeed(kmh float64) byte {
	return byte(clampFloat(math.Round(kmh*10), 0, 255))
}

func (m MachineState) Encode(b *Builder) []byte {
	p := b.Payload()
	p[0] = m.UTurn
	p[1] = m.SpeedX10
	p[2] = m.HydLift
	p[3] = m.Tram
	p[4] = bit(m.GeoStop, 1)
	p[5] = 0
	putU16(p[6:], m.Sections)
	return b.Seal()
}

func (m MachineState) Frame() []byte {
	return m.Encode(NewBuilder(IDMachineState, MachineStateLen))
}

func ParseMachineState(frame []byte) (MachineState, error) {
	p, err := unframeLen(frame, IDMachineState, MachineStateLen)
	if err != nil {
		return MachineState{}, err
	}
	return MachineState{
		UTurn:    p[0],
		SpeedX10: p[1],
		HydLift:  p[2],
		Tram:     p[3],
		GeoStop:  p[4] != 0,
		Sections: getU16(p[6:]),
	}, nil
}
