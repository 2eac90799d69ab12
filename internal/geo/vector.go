package geo

import "math"

// Coord is a point on the local plane, in meters from the field origin.
type Coord struct {
	Northing float64 `json:"northing"`
	Easting  float64 `json:"easting"`
}

// Delta is the vector between two local points.
type Delta struct {
	Northing float64 `json:"northing"`
	Easting  float64 `json:"easting"`
}

// Direction is a unit bearing on the local plane.
//
// Headings are radians clockwise from grid north, so heading 0 points along
// +Northing and pi/2 along +Easting.
type Direction struct {
	Northing float64
	Easting  float64
}

func (c Coord) Sub(o Coord) Delta {
	return Delta{Northing: c.Northing - o.Northing, Easting: c.Easting - o.Easting}
}

func (c Coord) Add(d Delta) Coord {
	return Coord{Northing: c.Northing + d.Northing, Easting: c.Easting + d.Easting}
}

func (c Coord) Distance(o Coord) float64 {
	return c.Sub(o).Length()
}

func (d Delta) Add(o Delta) Delta {
	return Delta{Northing: d.Northing + o.Northing, Easting: d.Easting + o.Easting}
}

func (d Delta) Scale(k float64) Delta {
	return Delta{Northing: d.Northing * k, Easting: d.Easting * k}
}

func (d Delta) Length() float64 {
	return math.Hypot(d.Northing, d.Easting)
}

// Dot returns the projection length of d onto the unit direction u.
func (d Delta) Dot(u Direction) float64 {
	return d.Northing*u.Northing + d.Easting*u.Easting
}

// Direction normalizes d. A zero-length delta has no direction; ok is false.
func (d Delta) Direction() (u Direction, ok bool) {
	l := d.Length()
	if l == 0 {
		return Direction{}, false
	}
	return Direction{Northing: d.Northing / l, Easting: d.Easting / l}, true
}

// FromHeading returns the unit bearing for heading h (radians).
func FromHeading(h float64) Direction {
	s, c := math.Sincos(h)
	return Direction{Northing: c, Easting: s}
}

// Heading returns the bearing in [0, 2pi).
func (u Direction) Heading() float64 {
	return NormalizeHeading(math.Atan2(u.Easting, u.Northing))
}

// Scale turns a direction into a delta of length m.
func (u Direction) Scale(m float64) Delta {
	return Delta{Northing: u.Northing * m, Easting: u.Easting * m}
}

// Right is the perpendicular pointing to the right of travel.
func (u Direction) Right() Direction {
	return Direction{Northing: -u.Easting, Easting: u.Northing}
}

// Left is the perpendicular pointing to the left of travel.
func (u Direction) Left() Direction {
	return Direction{Northing: u.Easting, Easting: -u.Northing}
}

func (u Direction) Inverse() Direction {
	return Direction{Northing: -u.Northing, Easting: -u.Easting}
}

// NormalizeHeading wraps h into [0, 2pi).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 2*math.Pi)
	if h < 0 {
		h += 2 * math.Pi
	}
	return h
}

// AngleDiff returns the signed smallest rotation from a to b, in (-pi, pi].
func AngleDiff(a, b float64) float64 {
	d := math.Mod(b-a, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return d
}

func Radians(deg float64) float64 { return deg * math.Pi / 180 }

func Degrees(rad float64) float64 { return rad * 180 / math.Pi }
