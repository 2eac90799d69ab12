package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPlane_OriginMapsToZero(t *testing.T) {
	p := NewLocalPlane(LatLon{Lat: 52.1, Lon: 5.3})
	c := p.ToLocal(LatLon{Lat: 52.1, Lon: 5.3})
	assert.Equal(t, 0.0, c.Northing)
	assert.Equal(t, 0.0, c.Easting)
}

func TestLocalPlane_RoundTripWithin50km(t *testing.T) {
	origins := []LatLon{
		{Lat: 0, Lon: 0},
		{Lat: 45.5, Lon: -122.7},
		{Lat: -33.9, Lon: 151.2},
		{Lat: 60.2, Lon: 24.9},
		{Lat: 79.5, Lon: 10},
		{Lat: -75, Lon: -60},
	}
	offsets := []Coord{
		{Northing: 0, Easting: 0},
		{Northing: 50000, Easting: 0},
		{Northing: -50000, Easting: 0},
		{Northing: 0, Easting: 50000},
		{Northing: 0, Easting: -50000},
		{Northing: 35355, Easting: -35355},
		{Northing: 12.345, Easting: 6789.01},
	}
	for _, o := range origins {
		plane := NewLocalPlane(o)
		for _, off := range offsets {
			pt := plane.ToGlobal(off)
			back := ToGlobal(o, ToLocal(o, pt))

			dNorth := (back.Lat - pt.Lat) * plane.MetersPerDegreeLat()
			dEast := (back.Lon - pt.Lon) * metersPerDegreeLon(pt.Lat)
			require.Less(t, math.Hypot(dNorth, dEast), 0.001, "origin=%+v offset=%+v", o, off)
		}
	}
}

func TestLocalPlane_ScaleFollowsPointLatitude(t *testing.T) {
	p := NewLocalPlane(LatLon{Lat: 45, Lon: 0})
	near := p.ToLocal(LatLon{Lat: 45, Lon: 0.01})
	north := p.ToLocal(LatLon{Lat: 45.3, Lon: 0.01})
	// Same longitude offset covers less ground further north.
	assert.Less(t, north.Easting, near.Easting)
	assert.InDelta(t, 788.5, near.Easting, 1.0)
}

func TestLocalPlane_SetOriginRederivesScale(t *testing.T) {
	p := NewLocalPlane(LatLon{Lat: 0, Lon: 0})
	equator := p.MetersPerDegreeLat()
	p.SetOrigin(LatLon{Lat: 60, Lon: 0})
	assert.Greater(t, p.MetersPerDegreeLat(), equator)
	assert.Equal(t, LatLon{Lat: 60, Lon: 0}, p.Origin())
}

func TestLocalPlane_PolesDoNotPanic(t *testing.T) {
	for _, lat := range []float64{-90, 90} {
		p := NewLocalPlane(LatLon{Lat: lat, Lon: 0})
		assert.NotPanics(t, func() {
			_ = p.ToGlobal(p.ToLocal(LatLon{Lat: lat, Lon: 1}))
		})
	}
}

func TestDirection_Algebra(t *testing.T) {
	north := FromHeading(0)
	assert.InDelta(t, 1.0, north.Northing, 1e-12)

	right := north.Right()
	assert.InDelta(t, 1.0, right.Easting, 1e-12)
	assert.InDelta(t, math.Pi/2, right.Heading(), 1e-12)

	left := north.Left()
	assert.InDelta(t, -1.0, left.Easting, 1e-12)

	back := north.Inverse()
	assert.InDelta(t, math.Pi, back.Heading(), 1e-12)

	start := Coord{Northing: 10, Easting: 20}
	moved := start.Add(FromHeading(math.Pi / 2).Scale(5))
	assert.InDelta(t, 25.0, moved.Easting, 1e-9)
	assert.InDelta(t, 5.0, moved.Distance(start), 1e-9)

	u, ok := moved.Sub(start).Direction()
	require.True(t, ok)
	assert.InDelta(t, math.Pi/2, u.Heading(), 1e-12)

	_, ok = Delta{}.Direction()
	assert.False(t, ok)
}

func TestAngleDiff_Wraps(t *testing.T) {
	assert.InDelta(t, Radians(20), AngleDiff(Radians(350), Radians(10)), 1e-12)
	assert.InDelta(t, Radians(-20), AngleDiff(Radians(10), Radians(350)), 1e-12)
	assert.InDelta(t, Radians(5), NormalizeHeading(Radians(365)), 1e-12)
	assert.InDelta(t, Radians(355), NormalizeHeading(Radians(-5)), 1e-12)
}

func TestWebMercator_AgreesWithLocalPlane(t *testing.T) {
	x0, y0 := WebMercator(LatLon{Lat: 0, Lon: 0})
	assert.InDelta(t, 0.0, x0, 1e-6)
	assert.InDelta(t, 0.0, y0, 1e-6)

	x1, _ := WebMercator(LatLon{Lat: 0, Lon: 1})
	assert.InDelta(t, 111319.49, x1, 1.0)

	// Mercator stretches east-west distances by 1/cos(lat).
	origin := LatLon{Lat: 48, Lon: 11}
	pt := LatLon{Lat: 48, Lon: 11.05}
	xa, _ := WebMercator(origin)
	xb, _ := WebMercator(pt)
	local := ToLocal(origin, pt)
	assert.InEpsilon(t, local.Easting, (xb-xa)*math.Cos(Radians(48)), 0.005)
}
