package guidance

import (
	"math"

	"agsteer/internal/geo"
	"agsteer/internal/track"
)

// location is a pose resolved against a path, expressed in the direction the
// vehicle is travelling along it.
type location struct {
	proj    geo.Coord
	heading float64
	xte     float64
	sameWay bool
	segment int
}

func localize(t *track.Track, p Pose) (location, bool) {
	if t.IsLine() {
		return localizeLine(t, p)
	}
	return localizeCurve(t, p)
}

func localizeLine(t *track.Track, p Pose) (location, bool) {
	a := t.Coord(0)
	u, ok := t.Coord(1).Sub(a).Direction()
	if !ok {
		return location{}, false
	}
	loc := location{
		proj:    a.Add(u.Scale(p.Pos.Sub(a).Dot(u))),
		heading: u.Heading(),
	}
	loc.orient(p.Heading)
	loc.xte = p.Pos.Sub(a).Dot(geo.FromHeading(loc.heading).Right())
	return loc, true
}

func localizeCurve(t *track.Track, p Pose) (location, bool) {
	best := math.Inf(1)
	var loc location
	var bestA geo.Coord
	found := false
	for i := 0; i+1 < len(t.Points); i++ {
		a, b := t.Coord(i), t.Coord(i+1)
		d := b.Sub(a)
		l2 := d.Northing*d.Northing + d.Easting*d.Easting
		if l2 == 0 {
			continue
		}
		ap := p.Pos.Sub(a)
		frac := (ap.Northing*d.Northing + ap.Easting*d.Easting) / l2
		frac = math.Max(0, math.Min(1, frac))
		q := a.Add(d.Scale(frac))
		if dist := p.Pos.Distance(q); dist < best {
			best = dist
			ha, hb := t.Points[i].Heading, t.Points[i+1].Heading
			loc = location{
				proj:    q,
				heading: geo.NormalizeHeading(ha + frac*geo.AngleDiff(ha, hb)),
				segment: i,
			}
			bestA = a
			found = true
		}
	}
	if !found {
		return location{}, false
	}
	loc.orient(p.Heading)
	seg, _ := t.Coord(loc.segment + 1).Sub(t.Coord(loc.segment)).Direction()
	if !loc.sameWay {
		seg = seg.Inverse()
	}
	loc.xte = p.Pos.Sub(bestA).Dot(seg.Right())
	return loc, true
}

// orient flips the path heading when the vehicle drives the path backwards
// so that cross-track sign always refers to the direction of travel.
func (l *location) orient(vehicleHeading float64) {
	l.sameWay = math.Abs(geo.AngleDiff(vehicleHeading, l.heading)) <= math.Pi/2
	if !l.sameWay {
		l.heading = geo.NormalizeHeading(l.heading + math.Pi)
	}
}

// walk returns the point dist meters ahead of the projection along the path
// in the direction of travel, extrapolating past the path ends.
func walk(t *track.Track, loc location, dist float64) geo.Coord {
	dir := geo.FromHeading(loc.heading)
	if t.IsLine() {
		return loc.proj.Add(dir.Scale(dist))
	}
	pos := loc.proj
	idx, step := loc.segment+1, 1
	if !loc.sameWay {
		idx, step = loc.segment, -1
	}
	for ; idx >= 0 && idx < len(t.Points); idx += step {
		next := t.Coord(idx)
		d := next.Sub(pos)
		u, ok := d.Direction()
		if !ok {
			continue
		}
		if l := d.Length(); l < dist {
			dist -= l
			pos = next
			dir = u
			continue
		}
		return pos.Add(u.Scale(dist))
	}
	return pos.Add(dir.Scale(dist))
}
