package guidance

import (
	"math"
	"testing"

	"agsteer/internal/geo"
	"agsteer/internal/track"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func northLine(t *testing.T) *track.Track {
	t.Helper()
	tr, err := track.NewLine("ab", geo.Coord{}, geo.Coord{Northing: 100})
	require.NoError(t, err)
	return tr
}

func pose(n, e, heading float64) Pose {
	return Pose{Pos: geo.Coord{Northing: n, Easting: e}, Heading: heading}
}

func TestCompute_OnLineIsZero(t *testing.T) {
	tr := northLine(t)
	for _, law := range []Law{PurePursuit, Stanley} {
		cfg := DefaultConfig()
		cfg.Law = law
		out, err := New(cfg).Compute(Input{
			Track:    tr,
			Pivot:    pose(10, 0, 0),
			Steer:    pose(12.5, 0, 0),
			SpeedKmh: 10,
		}, nil)
		require.NoError(t, err, law.String())
		assert.InDelta(t, 0.0, out.CrossTrackM, 1e-9, law.String())
		assert.InDelta(t, 0.0, out.SteerAngleDeg, 1e-9, law.String())
		assert.True(t, out.SameWay)
		assert.True(t, out.OnTrack)
		assert.Equal(t, int16(0), out.AngleX100)
	}
}

func TestCompute_PurePursuitRightOffsetSteersBack(t *testing.T) {
	tr := northLine(t)
	e := New(DefaultConfig())
	in := Input{Track: tr, Pivot: pose(10, 1, 0), SpeedKmh: 10}

	out, err := e.Compute(in, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.CrossTrackM, 1e-9)
	assert.Less(t, out.SteerAngleDeg, 0.0)
	assert.Less(t, out.PursuitRadius, 0.0)
	assert.Equal(t, int32(1000), out.DistanceMM)
	assert.InDelta(t, 10.0+out.Lookahead, out.Goal.Northing, 1e-9)
	assert.InDelta(t, 0.0, out.Goal.Easting, 1e-9)

	// One kinematic bicycle step must reduce the offset.
	v := in.SpeedKmh / 3.6
	dt := 0.1
	h := in.Pivot.Heading + v/e.Config().WheelbaseM*math.Tan(geo.Radians(out.SteerAngleDeg))*dt
	next := in.Pivot.Pos.Add(geo.FromHeading(h).Scale(v * dt))
	in.Pivot = Pose{Pos: next, Heading: h}

	out2, err := e.Compute(in, nil)
	require.NoError(t, err)
	assert.Less(t, math.Abs(out2.CrossTrackM), math.Abs(out.CrossTrackM))
}

func TestCompute_LeftOffsetSteersRight(t *testing.T) {
	out, err := New(DefaultConfig()).Compute(Input{Track: northLine(t), Pivot: pose(10, -0.5, 0), SpeedKmh: 8}, nil)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, out.CrossTrackM, 1e-9)
	assert.Greater(t, out.SteerAngleDeg, 0.0)
}

func TestCompute_ReversePolarity(t *testing.T) {
	// Driving the northbound line southwards, east of it: that is left of travel.
	out, err := New(DefaultConfig()).Compute(Input{Track: northLine(t), Pivot: pose(50, 1, math.Pi), SpeedKmh: 10}, nil)
	require.NoError(t, err)
	assert.False(t, out.SameWay)
	assert.InDelta(t, -1.0, out.CrossTrackM, 1e-9)
	assert.Greater(t, out.SteerAngleDeg, 0.0)
	assert.Less(t, out.Goal.Northing, 50.0)
}

func TestCompute_StanleyRightOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Law = Stanley
	out, err := New(cfg).Compute(Input{
		Track:    northLine(t),
		Pivot:    pose(10, 1, 0),
		Steer:    pose(12.5, 1, 0),
		SpeedKmh: 7.2,
	}, nil)
	require.NoError(t, err)
	want := geo.Degrees(math.Atan(cfg.StanleyGain * -1 / 2.0))
	assert.InDelta(t, want, out.SteerAngleDeg, 1e-9)
}

func TestCompute_StanleyHeadingError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Law = Stanley
	// On the line but yawed 10 degrees right: steer left by the same amount.
	out, err := New(cfg).Compute(Input{
		Track:    northLine(t),
		Pivot:    pose(10, 0, geo.Radians(10)),
		Steer:    pose(12.5, 0, geo.Radians(10)),
		SpeedKmh: 5,
	}, nil)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, out.SteerAngleDeg, 1e-9)
	assert.InDelta(t, geo.Radians(-10), out.HeadingErrorRad, 1e-9)
}

func TestCompute_LookaheadFollowsSpeed(t *testing.T) {
	e := New(DefaultConfig())
	slow, err := e.Compute(Input{Track: northLine(t), Pivot: pose(0, 0, 0), SpeedKmh: 1}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, slow.Lookahead, 1e-9)

	fast, err := e.Compute(Input{Track: northLine(t), Pivot: pose(0, 0, 0), SpeedKmh: 36}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, fast.Lookahead, 1e-9)
}

func TestCompute_CurveTurnsIntoCorner(t *testing.T) {
	tr, err := track.NewCurve("l", []geo.Coord{
		{Northing: 0, Easting: 0},
		{Northing: 10, Easting: 0},
		{Northing: 10, Easting: 0},
		{Northing: 10, Easting: 10},
	})
	require.NoError(t, err)

	out, err := New(DefaultConfig()).Compute(Input{Track: tr, Pivot: pose(8, 0, 0), SpeedKmh: 1}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.CrossTrackM, 1e-9)
	assert.Equal(t, 0, out.Segment)
	assert.InDelta(t, 10.0, out.Goal.Northing, 1e-9)
	assert.InDelta(t, 0.5, out.Goal.Easting, 1e-9)
	assert.Greater(t, out.SteerAngleDeg, 0.0)
}

func TestCompute_CurveWalkExtrapolatesPastEnd(t *testing.T) {
	tr, err := track.NewCurve("c", []geo.Coord{
		{Northing: 0}, {Northing: 5}, {Northing: 10},
	})
	require.NoError(t, err)
	out, err := New(DefaultConfig()).Compute(Input{Track: tr, Pivot: pose(9, 0, 0), SpeedKmh: 1}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 11.5, out.Goal.Northing, 1e-9)
	assert.InDelta(t, 0.0, out.SteerAngleDeg, 1e-9)
}

func TestCompute_ClampsToMaxSteer(t *testing.T) {
	out, err := New(DefaultConfig()).Compute(Input{Track: northLine(t), Pivot: pose(10, 50, 0), SpeedKmh: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, -35.0, out.SteerAngleDeg)
	assert.Equal(t, int16(-3500), out.AngleX100)
}

func TestCompute_UndefinedTrack(t *testing.T) {
	e := New(DefaultConfig())
	cases := map[string]*track.Track{
		"nil":       nil,
		"one point": {Points: []track.Point{{}}},
		"zero":      {Points: []track.Point{{Northing: 1}, {Northing: 1}, {Northing: 1}}},
		"zero line": {Points: []track.Point{{Easting: 3}, {Easting: 3}}},
	}
	for name, tr := range cases {
		_, err := e.Compute(Input{Track: tr, Pivot: pose(0, 0, 0)}, nil)
		assert.True(t, errors.Is(err, ErrGuidanceUndefined), name)
	}
}

func TestCompute_IntegralSettlesAndHalvesOnCrossing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntegralGain = 0.1
	e := New(cfg)
	var s Scratch

	in := Input{Track: northLine(t), Pivot: pose(10, 0.2, 0), SpeedKmh: 10}
	for i := 0; i < 10; i++ {
		_, err := e.Compute(in, &s)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, s.StableCount)
	assert.InDelta(t, -0.1, s.Integral, 1e-9)

	in.Pivot = pose(10, -0.2, 0)
	_, err := e.Compute(in, &s)
	require.NoError(t, err)
	assert.InDelta(t, -0.03, s.Integral, 1e-9)
	assert.InDelta(t, -0.2, s.PrevPivotDistanceError, 1e-9)

	s.Reset()
	assert.Equal(t, Scratch{}, s)
}

func TestCompute_IntegralIdleAtLowSpeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntegralGain = 0.1
	e := New(cfg)
	var s Scratch
	for i := 0; i < 20; i++ {
		_, err := e.Compute(Input{Track: northLine(t), Pivot: pose(10, 0.2, 0), SpeedKmh: 2}, &s)
		require.NoError(t, err)
	}
	assert.Zero(t, s.Integral)
	assert.Zero(t, s.StableCount)
}

func TestSaturatingEncodings(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), saturate16(1e9))
	assert.Equal(t, int16(math.MinInt16), saturate16(-1e9))
	assert.Equal(t, int16(1234), saturate16(1234.4))
	assert.Equal(t, int32(math.MaxInt32), saturate32(1e12))
	assert.Equal(t, int32(math.MinInt32), saturate32(-1e12))
	assert.Equal(t, int16(0), saturate16(math.NaN()))
	assert.Equal(t, int32(0), saturate32(math.NaN()))
}

func TestParseLaw(t *testing.T) {
	l, err := ParseLaw("Stanley")
	require.NoError(t, err)
	assert.Equal(t, Stanley, l)

	l, err = ParseLaw("")
	require.NoError(t, err)
	assert.Equal(t, PurePursuit, l)

	_, err = ParseLaw("mpc")
	assert.Error(t, err)
}
