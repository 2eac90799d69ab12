package sim

import (
	"context"
	"time"

	"agsteer/internal/geo"
	"agsteer/internal/gps"
	"agsteer/internal/pipeline"
	"agsteer/internal/track"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Target is the part of the pipeline the simulator drives.
type Target interface {
	SetOrigin(origin geo.LatLon)
	SetTrack(t *track.Track)
	SetSections(mask uint16)
	Engage()
	CycleDecoded(fix gps.Fix) bool
	Latest() (pipeline.Snapshot, bool)
}

// Runner closes the loop: each step reads the steer angle the pipeline last
// commanded, moves the vehicle, and feeds the resulting fix back in.
type Runner struct {
	scn    *Scenario
	target Target
	log    zerolog.Logger

	plane   *geo.LocalPlane
	vehicle *Vehicle
	elapsed time.Duration
	steps   uint64
}

// NewRunner prepares target with the scenario origin, track and sections.
func NewRunner(scn *Scenario, target Target, log zerolog.Logger) (*Runner, error) {
	if scn == nil || target == nil {
		return nil, errors.New("sim: scenario and target are required")
	}
	tr, err := scn.Track()
	if err != nil {
		return nil, errors.Wrap(err, "sim track")
	}
	script := scn.Script()
	target.SetOrigin(script.Origin)
	if tr != nil {
		target.SetTrack(tr)
	}
	target.SetSections(script.Sections)
	if script.Engage {
		target.Engage()
	}
	r := &Runner{
		scn:    scn,
		target: target,
		log:    log,
		plane:  geo.NewLocalPlane(script.Origin),
	}
	r.reset()
	return r, nil
}

func (r *Runner) reset() {
	s := r.scn.Script()
	r.vehicle = NewVehicle(s.Vehicle, s.Start)
	r.elapsed = 0
}

func (r *Runner) Vehicle() Vehicle { return *r.vehicle }

func (r *Runner) Elapsed() time.Duration { return r.elapsed }

// Done reports whether the scenario duration has been reached.
func (r *Runner) Done() bool { return r.elapsed >= r.scn.Duration() }

// Step advances the simulation by one period and runs one pipeline cycle.
func (r *Runner) Step() bool {
	dt := r.scn.Period()
	r.vehicle.Step(dt, r.scn.SpeedAt(r.elapsed), r.commandedDeg())
	r.elapsed += dt
	r.steps++
	return r.target.CycleDecoded(r.vehicle.Fix(r.plane, r.scn.Script().Receiver, r.elapsed))
}

// commandedDeg is the angle the steering module would be driving toward.
func (r *Runner) commandedDeg() float64 {
	snap, ok := r.target.Latest()
	if !ok {
		return 0
	}
	st := snap.State
	switch {
	case st.FreeDrive:
		return st.FreeDriveAngleDeg
	case st.Engaged && st.GuidanceValid:
		return st.SteerAngleDeg
	default:
		return 0
	}
}

// Run steps at the scenario period until ctx is done. Without loop it
// returns once the duration is reached; with loop the vehicle restarts from
// the start pose.
func (r *Runner) Run(ctx context.Context, loop bool) error {
	t := time.NewTicker(r.scn.Period())
	defer t.Stop()
	r.log.Info().Dur("period", r.scn.Period()).Dur("duration", r.scn.Duration()).Bool("loop", loop).Msg("simulation started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		r.Step()
		if r.Done() {
			if !loop {
				v := r.vehicle
				r.log.Info().Uint64("steps", r.steps).Float64("northing", v.Pivot.Northing).Float64("easting", v.Pivot.Easting).Msg("simulation finished")
				return nil
			}
			r.reset()
		}
	}
}
