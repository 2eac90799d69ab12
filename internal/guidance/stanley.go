package guidance

import (
	"math"

	"agsteer/internal/geo"
)

// stanley combines the steer-axle heading error with a cross-track term
// damped by speed.
func (e *Engine) stanley(in Input, speed float64) (float64, bool) {
	loc, ok := localize(in.Track, in.Steer)
	if !ok {
		return 0, false
	}
	headingErr := geo.AngleDiff(in.Steer.Heading, loc.heading)
	v := math.Max(speed, e.cfg.MinSpeedMps)
	return geo.Degrees(headingErr + math.Atan(e.cfg.StanleyGain*(-loc.xte)/v)), true
}
