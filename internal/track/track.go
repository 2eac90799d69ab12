// Package track holds the guidance path representation shared between the
// field subsystem and the guidance engine.
//
// A track with exactly two points is an infinite straight (AB) line; three or
// more points form a curve. There is no separate line type.
package track

import (
	"math"

	"agsteer/internal/geo"

	"github.com/pkg/errors"
	geom "github.com/peterstace/simplefeatures/geom"
)

var ErrTooFewPoints = errors.New("track needs at least 2 points")

// Point is a path vertex on the local plane. Heading is radians clockwise
// from grid north and describes the local path direction at the vertex.
type Point struct {
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`
	Heading  float64 `json:"heading"`
}

func (p Point) Coord() geo.Coord {
	return geo.Coord{Northing: p.Northing, Easting: p.Easting}
}

type Track struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// NewLine builds a straight track through a and b.
func NewLine(name string, a, b geo.Coord) (*Track, error) {
	return NewCurve(name, []geo.Coord{a, b})
}

// NewCurve builds a track through pts and derives each vertex heading from
// the neighbouring segments. Zero-length segments are ignored.
func NewCurve(name string, pts []geo.Coord) (*Track, error) {
	if len(pts) < 2 {
		return nil, errors.Wrapf(ErrTooFewPoints, "track %q has %d", name, len(pts))
	}
	t := &Track{Name: name, Points: make([]Point, len(pts))}
	for i, c := range pts {
		t.Points[i] = Point{Easting: c.Easting, Northing: c.Northing}
	}
	if !t.assignHeadings() {
		return nil, errors.Errorf("track %q has no non-zero segment", name)
	}
	return t, nil
}

func (t *Track) assignHeadings() bool {
	n := len(t.Points)
	seg := make([]geo.Direction, n-1)
	segOK := make([]bool, n-1)
	found := false
	for i := 0; i < n-1; i++ {
		seg[i], segOK[i] = t.Points[i+1].Coord().Sub(t.Points[i].Coord()).Direction()
		found = found || segOK[i]
	}
	if !found {
		return false
	}
	for i := 0; i < n; i++ {
		var sum geo.Delta
		if prev, ok := nearestSegment(segOK, i-1, -1); ok {
			sum = sum.Add(seg[prev].Scale(1))
		}
		if next, ok := nearestSegment(segOK, i, 1); ok {
			sum = sum.Add(seg[next].Scale(1))
		}
		if u, ok := sum.Direction(); ok {
			t.Points[i].Heading = u.Heading()
		} else if next, ok := nearestSegment(segOK, i, 1); ok {
			// Hairpin: adjacent segments cancel out.
			t.Points[i].Heading = seg[next].Heading()
		}
	}
	return true
}

// nearestSegment walks from segment i in step direction until a usable
// segment is found.
func nearestSegment(ok []bool, i, step int) (int, bool) {
	for ; i >= 0 && i < len(ok); i += step {
		if ok[i] {
			return i, true
		}
	}
	return 0, false
}

func (t *Track) Valid() bool { return t != nil && len(t.Points) >= 2 }

func (t *Track) IsLine() bool { return t != nil && len(t.Points) == 2 }

func (t *Track) IsCurve() bool { return t != nil && len(t.Points) >= 3 }

func (t *Track) Coord(i int) geo.Coord { return t.Points[i].Coord() }

// Length is the polyline length in meters. For a line this is the distance
// between the two defining points.
func (t *Track) Length() float64 {
	if !t.Valid() {
		return 0
	}
	flat := make([]float64, 0, 2*len(t.Points))
	for _, p := range t.Points {
		flat = append(flat, p.Easting, p.Northing)
	}
	ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return 0
	}
	return ls.Length()
}

// LineHeading is the A->B heading of a straight track.
func (t *Track) LineHeading() float64 {
	d := t.Coord(1).Sub(t.Coord(0))
	return geo.NormalizeHeading(math.Atan2(d.Easting, d.Northing))
}
