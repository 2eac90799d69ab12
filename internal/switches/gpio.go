package switches

import "sync/atomic"

// GPIOConfig maps switches to BCM GPIO numbers. A pin <= 0 leaves that switch
// unconnected (reads Low).
type GPIOConfig struct {
	WorkPin   int
	SteerPin  int
	RemotePin int
	// PullUp enables the internal pull-up for switches wired to ground.
	// Levels are reported inverted in that case so closed reads High.
	PullUp bool
}

const (
	idxWork = iota
	idxSteer
	idxRemote
	numSwitches
)

// GPIO tracks switch levels from line edge events. Inputs is safe to call
// from any goroutine.
type GPIO struct {
	levels [numSwitches]atomic.Uint32
	invert bool
	closer func() error
}

func (g *GPIO) set(idx int, raw int) {
	high := raw != 0
	if g.invert {
		high = !high
	}
	var v uint32
	if high {
		v = 1
	}
	g.levels[idx].Store(v)
}

func (g *GPIO) Inputs() Inputs {
	return Inputs{
		Work:   Level(g.levels[idxWork].Load()),
		Steer:  Level(g.levels[idxSteer].Load()),
		Remote: Level(g.levels[idxRemote].Load()),
	}
}

func (g *GPIO) Close() error {
	if g == nil || g.closer == nil {
		return nil
	}
	err := g.closer()
	g.closer = nil
	return err
}

func (c GPIOConfig) pins() [numSwitches]int {
	return [numSwitches]int{c.WorkPin, c.SteerPin, c.RemotePin}
}
