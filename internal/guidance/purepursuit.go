package guidance

import (
	"math"

	"agsteer/internal/geo"
)

// purePursuit steers toward a goal point one lookahead distance down the path.
func (e *Engine) purePursuit(in Input, loc location, speed float64, out *Output) float64 {
	l := math.Max(e.cfg.LookaheadMinM, e.cfg.LookaheadGain*speed)
	goal := walk(in.Track, loc, l)

	lateral := goal.Sub(in.Pivot.Pos).Dot(geo.FromHeading(in.Pivot.Heading).Right())
	curvature := 2 * lateral / (l * l)

	out.Lookahead = l
	out.Goal = goal
	if curvature != 0 {
		out.PursuitRadius = 1 / curvature
	}
	return geo.Degrees(math.Atan(e.cfg.WheelbaseM * curvature))
}
