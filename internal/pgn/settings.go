package pgn

const (
	SteerSettingsLen = 8
	SteerConfigLen   = 5
)

// SteerSettings is the 0xFC controller tuning message. Encode clamps every
// field into the range the module accepts.
type SteerSettings struct {
	Kp             int // 1-100
	MaxPWM         int // 50-255
	MinPWM         int // 1-50
	CountsPerDeg   int // 1-255
	WASOffset      int16
	AckermannRatio int // 0-200, percent
}

func DefaultSteerSettings() SteerSettings {
	return SteerSettings{
		Kp:             50,
		MaxPWM:         235,
		MinPWM:         10,
		CountsPerDeg:   110,
		AckermannRatio: 100,
	}
}

// LowPWM is derived from MaxPWM.
func (s SteerSettings) LowPWM() int {
	return clampInt(s.MaxPWM, 50, 255) / 3
}

func (s SteerSettings) Encode(b *Builder) []byte {
	p := b.Payload()
	p[0] = byte(clampInt(s.Kp, 1, 100))
	p[1] = byte(clampInt(s.MaxPWM, 50, 255))
	p[2] = byte(s.LowPWM())
	p[3] = byte(clampInt(s.MinPWM, 1, 50))
	p[4] = byte(clampInt(s.CountsPerDeg, 1, 255))
	putU16(p[5:], uint16(s.WASOffset))
	p[7] = byte(clampInt(s.AckermannRatio, 0, 200))
	return b.Seal()
}

func (s SteerSettings) Frame() []byte {
	return s.Encode(NewBuilder(IDSteerSettings, SteerSettingsLen))
}

func ParseSteerSettings(frame []byte) (SteerSettings, error) {
	p, err := unframeLen(frame, IDSteerSettings, SteerSettingsLen)
	if err != nil {
		return SteerSettings{}, err
	}
	return SteerSettings{
		Kp:             int(p[0]),
		MaxPWM:         int(p[1]),
		MinPWM:         int(p[3]),
		CountsPerDeg:   int(p[4]),
		WASOffset:      int16(getU16(p[5:])),
		AckermannRatio: int(p[7]),
	}, nil
}

// SteerConfig is the 0xFB hardware configuration message.
type SteerConfig struct {
	InvertWAS       bool
	RelayActiveHigh bool
	MotorDirInvert  bool
	SingleInputADC  bool
	CytronDriver    bool
	SteerSwitch     bool
	SteerButton     bool
	ShaftEncoder    bool

	Danfoss        bool
	PressureSensor bool
	CurrentSensor  bool
	IMUAxisSwap    bool

	PulseCount       byte
	MinSteerSpeedKmh float64 // sent as km/h x10
	AngularVelocity  byte
}

func (c SteerConfig) set0() byte {
	return bit(c.InvertWAS, 0x01) |
		bit(c.RelayActiveHigh, 0x02) |
		bit(c.MotorDirInvert, 0x04) |
		bit(c.SingleInputADC, 0x08) |
		bit(c.CytronDriver, 0x10) |
		bit(c.SteerSwitch, 0x20) |
		bit(c.SteerButton, 0x40) |
		bit(c.ShaftEncoder, 0x80)
}

func (c SteerConfig) set1() byte {
	return bit(c.Danfoss, 0x01) |
		bit(c.PressureSensor, 0x02) |
		bit(c.CurrentSensor, 0x04) |
		bit(c.IMUAxisSwap, 0x08)
}

func (c SteerConfig) Encode(b *Builder) []byte {
	p := b.Payload()
	p[0] = c.set0()
	p[1] = c.set1()
	p[2] = c.PulseCount
	p[3] = MachineSpeed(c.MinSteerSpeedKmh)
	p[4] = c.AngularVelocity
	return b.Seal()
}

func (c SteerConfig) Frame() []byte {
	return c.Encode(NewBuilder(IDSteerConfig, SteerConfigLen))
}

func ParseSteerConfig(frame []byte) (SteerConfig, error) {
	p, err := unframeLen(frame, IDSteerConfig, SteerConfigLen)
	if err != nil {
		return SteerConfig{}, err
	}
	return SteerConfig{
		InvertWAS:        p[0]&0x01 != 0,
		RelayActiveHigh:  p[0]&0x02 != 0,
		MotorDirInvert:   p[0]&0x04 != 0,
		SingleInputADC:   p[0]&0x08 != 0,
		CytronDriver:     p[0]&0x10 != 0,
		SteerSwitch:      p[0]&0x20 != 0,
		SteerButton:      p[0]&0x40 != 0,
		ShaftEncoder:     p[0]&0x80 != 0,
		Danfoss:          p[1]&0x01 != 0,
		PressureSensor:   p[1]&0x02 != 0,
		CurrentSensor:    p[1]&0x04 != 0,
		IMUAxisSwap:      p[1]&0x08 != 0,
		PulseCount:       p[2],
		MinSteerSpeedKmh: float64(p[3]) / 10,
		AngularVelocity:  p[4],
	}, nil
}
