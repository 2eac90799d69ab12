package sim

import (
	"math"
	"time"

	"agsteer/internal/geo"
	"agsteer/internal/gps"
)

type VehicleParams struct {
	WheelbaseM  float64 `yaml:"wheelbase_m"`
	MaxSteerDeg float64 `yaml:"max_steer_deg"`

	// SteerRateDegS limits how fast the wheels follow the command. Zero
	// means the wheels jump to the commanded angle.
	SteerRateDegS float64 `yaml:"steer_rate_deg_s"`

	// AntennaPivotM is the antenna position ahead of the rear axle.
	AntennaPivotM float64 `yaml:"antenna_pivot_m"`
}

func (p VehicleParams) withDefaults() VehicleParams {
	if p.WheelbaseM <= 0 {
		p.WheelbaseM = 2.5
	}
	if p.MaxSteerDeg <= 0 {
		p.MaxSteerDeg = 35
	}
	return p
}

// Vehicle is a kinematic bicycle model referenced at the rear axle.
type Vehicle struct {
	params VehicleParams

	Pivot    geo.Coord
	Heading  float64 // radians clockwise from north
	SpeedKmh float64
	SteerDeg float64 // actual wheel angle, positive right
}

func NewVehicle(params VehicleParams, start StartPose) *Vehicle {
	return &Vehicle{
		params:  params.withDefaults(),
		Pivot:   geo.Coord{Northing: start.Northing, Easting: start.Easting},
		Heading: geo.NormalizeHeading(geo.Radians(start.HeadingDeg)),
	}
}

// Step moves the vehicle forward by dt at speedKmh while the wheels chase
// commandDeg.
func (v *Vehicle) Step(dt time.Duration, speedKmh, commandDeg float64) {
	sec := dt.Seconds()
	if sec <= 0 {
		return
	}
	lim := v.params.MaxSteerDeg
	target := math.Max(-lim, math.Min(lim, commandDeg))
	if rate := v.params.SteerRateDegS; rate > 0 {
		step := rate * sec
		target = v.SteerDeg + math.Max(-step, math.Min(step, target-v.SteerDeg))
	}
	v.SteerDeg = target
	v.SpeedKmh = speedKmh

	ms := speedKmh / 3.6
	dist := ms * sec
	// Integrate at the midpoint heading to keep arcs tight at coarse steps.
	yaw := ms / v.params.WheelbaseM * math.Tan(geo.Radians(v.SteerDeg)) * sec
	mid := v.Heading + yaw/2
	v.Pivot = v.Pivot.Add(geo.FromHeading(mid).Scale(dist))
	v.Heading = geo.NormalizeHeading(v.Heading + yaw)
}

// Antenna is the antenna position on the local plane.
func (v *Vehicle) Antenna() geo.Coord {
	return v.Pivot.Add(geo.FromHeading(v.Heading).Scale(v.params.AntennaPivotM))
}

// Fix renders the vehicle as a receiver fix in the frame of plane.
func (v *Vehicle) Fix(plane *geo.LocalPlane, rx ReceiverSettings, tod time.Duration) gps.Fix {
	pt := plane.ToGlobal(v.Antenna())
	return gps.Fix{
		TimeOfDay:  tod,
		Lat:        pt.Lat,
		Lon:        pt.Lon,
		SpeedKmh:   v.SpeedKmh,
		HeadingDeg: geo.Degrees(v.Heading),
		Quality:    rx.Quality,
		Satellites: rx.Satellites,
		HDOP:       rx.HDOP,
		Position:   true,
		HasHeading: true,
	}
}
