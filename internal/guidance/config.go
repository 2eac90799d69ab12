package guidance

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Law selects the steering control law.
type Law int

const (
	PurePursuit Law = iota
	Stanley
)

func (l Law) String() string {
	switch l {
	case PurePursuit:
		return "pure_pursuit"
	case Stanley:
		return "stanley"
	default:
		return fmt.Sprintf("Law(%d)", int(l))
	}
}

// ParseLaw converts a config name into a Law.
func ParseLaw(value string) (Law, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "pure_pursuit", "purepursuit", "pp":
		return PurePursuit, nil
	case "stanley":
		return Stanley, nil
	default:
		return PurePursuit, errors.Errorf("unknown guidance law %q", value)
	}
}

// Config bundles vehicle geometry and controller gains.
type Config struct {
	Law Law

	WheelbaseM  float64
	MaxSteerDeg float64

	// Pure Pursuit lookahead: max(LookaheadMinM, LookaheadGain * speed[m/s]).
	LookaheadMinM float64
	LookaheadGain float64

	StanleyGain float64
	// MinSpeedMps floors the Stanley speed term near standstill.
	MinSpeedMps float64

	// IntegralGain adds degrees of steer per meter of steady cross-track
	// error per cycle. Zero disables the integral term.
	IntegralGain   float64
	IntegralMaxDeg float64

	OnTrackM float64
}

func DefaultConfig() Config {
	return Config{
		Law:            PurePursuit,
		WheelbaseM:     2.5,
		MaxSteerDeg:    35,
		LookaheadMinM:  2.5,
		LookaheadGain:  1.2,
		StanleyGain:    0.8,
		MinSpeedMps:    1.0,
		IntegralMaxDeg: 5,
		OnTrackM:       0.3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WheelbaseM <= 0 {
		c.WheelbaseM = d.WheelbaseM
	}
	if c.MaxSteerDeg <= 0 {
		c.MaxSteerDeg = d.MaxSteerDeg
	}
	if c.LookaheadMinM <= 0 {
		c.LookaheadMinM = d.LookaheadMinM
	}
	if c.LookaheadGain < 0 {
		c.LookaheadGain = 0
	}
	if c.StanleyGain <= 0 {
		c.StanleyGain = d.StanleyGain
	}
	if c.MinSpeedMps <= 0 {
		c.MinSpeedMps = d.MinSpeedMps
	}
	if c.IntegralMaxDeg <= 0 {
		c.IntegralMaxDeg = d.IntegralMaxDeg
	}
	if c.OnTrackM <= 0 {
		c.OnTrackM = d.OnTrackM
	}
	return c
}
