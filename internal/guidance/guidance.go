// Package guidance turns a vehicle pose and a target track into a
// cross-track error and a steering-angle command.
//
// The engine is stateless; per-cycle memory lives in a Scratch value that the
// caller keeps between cycles.
package guidance

import (
	"math"

	"agsteer/internal/geo"
	"agsteer/internal/track"

	"github.com/pkg/errors"
)

// ErrGuidanceUndefined is returned for a nil track, a track with fewer than
// two points, or a track without any non-zero segment.
var ErrGuidanceUndefined = errors.New("guidance undefined for track")

const (
	integralBandM    = 0.5
	integralMinSpeed = 1.0 // m/s
	integralSettle   = 5   // cycles
)

// Pose is a position with heading in radians clockwise from grid north.
type Pose struct {
	Pos     geo.Coord
	Heading float64
}

type Input struct {
	Track *track.Track
	// Pivot is the guidance reference point, usually the rear axle.
	Pivot Pose
	// Steer is the steer-axle reference, offset from Pivot by the antenna and
	// wheelbase geometry. Stanley localizes against it.
	Steer    Pose
	SpeedKmh float64
}

// Scratch is carried across cycles by the caller.
type Scratch struct {
	Integral               float64
	PrevPivotDistanceError float64
	StableCount            int
}

func (s *Scratch) Reset() { *s = Scratch{} }

type Output struct {
	// CrossTrackM is positive when the pivot is right of the path in the
	// direction of travel.
	CrossTrackM     float64
	HeadingErrorRad float64
	SteerAngleDeg   float64
	SameWay         bool
	OnTrack         bool
	Segment         int

	Lookahead float64
	Goal      geo.Coord
	// PursuitRadius is the signed turn radius toward the goal; 0 means straight.
	PursuitRadius float64

	AngleX100  int16
	DistanceMM int32
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

func (e *Engine) Config() Config { return e.cfg }

// Compute runs one guidance step. s may be nil when no cross-cycle memory is
// wanted.
func (e *Engine) Compute(in Input, s *Scratch) (Output, error) {
	if !in.Track.Valid() {
		return Output{}, ErrGuidanceUndefined
	}
	loc, ok := localize(in.Track, in.Pivot)
	if !ok {
		return Output{}, ErrGuidanceUndefined
	}
	speed := math.Abs(in.SpeedKmh) / 3.6

	out := Output{
		CrossTrackM:     loc.xte,
		HeadingErrorRad: geo.AngleDiff(in.Pivot.Heading, loc.heading),
		SameWay:         loc.sameWay,
		OnTrack:         math.Abs(loc.xte) <= e.cfg.OnTrackM,
		Segment:         loc.segment,
	}

	var angle float64
	switch e.cfg.Law {
	case Stanley:
		angle, ok = e.stanley(in, speed)
		if !ok {
			return Output{}, ErrGuidanceUndefined
		}
	default:
		angle = e.purePursuit(in, loc, speed, &out)
	}

	if s != nil {
		angle += e.integrate(s, loc.xte, speed)
	}

	out.SteerAngleDeg = clamp(angle, -e.cfg.MaxSteerDeg, e.cfg.MaxSteerDeg)
	out.AngleX100 = saturate16(out.SteerAngleDeg * 100)
	out.DistanceMM = saturate32(out.CrossTrackM * 1000)
	return out, nil
}

// integrate updates the integral term and returns its steer contribution in
// degrees.
func (e *Engine) integrate(s *Scratch, xte, speed float64) float64 {
	defer func() { s.PrevPivotDistanceError = xte }()
	if e.cfg.IntegralGain <= 0 {
		s.Integral = 0
		s.StableCount = 0
		return 0
	}
	if s.PrevPivotDistanceError*xte < 0 {
		// Crossed the line.
		s.Integral *= 0.5
	}
	if math.Abs(xte) < integralBandM && speed > integralMinSpeed {
		s.StableCount++
	} else {
		s.StableCount = 0
	}
	if s.StableCount > integralSettle {
		s.Integral = clamp(s.Integral-xte*e.cfg.IntegralGain, -e.cfg.IntegralMaxDeg, e.cfg.IntegralMaxDeg)
	}
	return s.Integral
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func saturate16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func saturate32(v float64) int32 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
