package geo

import (
	"math"

	"github.com/wroge/wgs84"
)

// LatLon is a global angular position in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocalPlane converts between global coordinates and a flat meters frame
// anchored at a field origin.
//
// The latitude scale is fixed per origin. The longitude scale depends on the
// latitude of the point being converted and is recomputed on every call.
// Not safe for concurrent mutation; treat a plane as immutable once shared.
type LocalPlane struct {
	origin        LatLon
	mPerDegreeLat float64
}

func NewLocalPlane(origin LatLon) *LocalPlane {
	p := &LocalPlane{}
	p.SetOrigin(origin)
	return p
}

// SetOrigin moves the plane and re-derives its scale factors.
func (p *LocalPlane) SetOrigin(origin LatLon) {
	p.origin = origin
	p.mPerDegreeLat = metersPerDegreeLat(origin.Lat)
}

func (p *LocalPlane) Origin() LatLon { return p.origin }

func (p *LocalPlane) MetersPerDegreeLat() float64 { return p.mPerDegreeLat }

func (p *LocalPlane) ToLocal(pt LatLon) Coord {
	return Coord{
		Northing: (pt.Lat - p.origin.Lat) * p.mPerDegreeLat,
		Easting:  (pt.Lon - p.origin.Lon) * metersPerDegreeLon(pt.Lat),
	}
}

func (p *LocalPlane) ToGlobal(c Coord) LatLon {
	lat := c.Northing/p.mPerDegreeLat + p.origin.Lat
	return LatLon{
		Lat: lat,
		Lon: c.Easting/metersPerDegreeLon(lat) + p.origin.Lon,
	}
}

// ToLocal converts pt into the plane anchored at origin.
func ToLocal(origin LatLon, pt LatLon) Coord {
	return NewLocalPlane(origin).ToLocal(pt)
}

// ToGlobal converts a local point of the plane anchored at origin back to
// global coordinates.
func ToGlobal(origin LatLon, c Coord) LatLon {
	return NewLocalPlane(origin).ToGlobal(c)
}

// WGS84 series approximations.
func metersPerDegreeLat(latDeg float64) float64 {
	phi := Radians(latDeg)
	return 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi) - 0.0023*math.Cos(6*phi)
}

func metersPerDegreeLon(latDeg float64) float64 {
	phi := Radians(latDeg)
	return 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi) + 0.118*math.Cos(5*phi)
}

var toWebMercator = wgs84.EPSG().Transform(4326, 3857)

// WebMercator projects pt into EPSG:3857 meters.
func WebMercator(pt LatLon) (x, y float64) {
	x, y, _ = toWebMercator(pt.Lon, pt.Lat, 0)
	return x, y
}
