package gps

import "time"

// Fix is one decoded GNSS epoch.
//
// Position, HasHeading and HasIMU describe what the last parsed packet
// carried; the values themselves are left as they were when a packet omits
// them.
type Fix struct {
	TimeOfDay time.Duration

	Lat  float64 // degrees, north positive
	Lon  float64 // degrees, east positive
	AltM float64

	SpeedKmh   float64
	HeadingDeg float64 // course over ground, true

	Quality    int // GGA fix quality, 0 = invalid
	Satellites int
	HDOP       float64
	DiffAge    float64 // seconds since last correction

	IMUHeadingDeg float64
	RollDeg       float64
	PitchDeg      float64
	YawRate       float64 // degrees/s

	Position   bool
	HasHeading bool
	HasIMU     bool
}

// Valid reports whether the fix has a usable position.
func (f *Fix) Valid() bool {
	return f.Position && f.Quality > 0
}

// Fix quality values from GGA.
const (
	QualityInvalid = 0
	QualityGPS     = 1
	QualityDGPS    = 2
	QualityRTKFix  = 4
	QualityRTKFlt  = 5
)

const knotsToKmh = 1.852
