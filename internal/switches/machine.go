// Package switches edge-detects the physical work, steer and remote switches
// and turns transitions into section-control and engage intents.
package switches

import "fmt"

type Level uint8

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// LevelOf maps a boolean line value to a Level.
func LevelOf(high bool) Level {
	if high {
		return High
	}
	return Low
}

type Inputs struct {
	Work   Level
	Steer  Level
	Remote Level
}

// ButtonState is the state of a section-control mode button.
type ButtonState uint8

const (
	Off ButtonState = iota
	Auto
	On
)

func (s ButtonState) String() string {
	switch s {
	case Off:
		return "off"
	case Auto:
		return "auto"
	case On:
		return "on"
	default:
		return fmt.Sprintf("ButtonState(%d)", uint8(s))
	}
}

// Buttons is the current state of the manual and automatic section buttons,
// owned by whoever executes the intents.
type Buttons struct {
	Manual ButtonState
	Auto   ButtonState
}

type IntentKind uint8

const (
	SetManual IntentKind = iota + 1
	SetAuto
	EngageSteer
	DisengageSteer
)

func (k IntentKind) String() string {
	switch k {
	case SetManual:
		return "set_manual"
	case SetAuto:
		return "set_auto"
	case EngageSteer:
		return "engage_steer"
	case DisengageSteer:
		return "disengage_steer"
	default:
		return fmt.Sprintf("IntentKind(%d)", uint8(k))
	}
}

// Intent is a request for the section-control or autosteer owner to act.
// State is only meaningful for SetManual and SetAuto.
type Intent struct {
	Kind  IntentKind
	State ButtonState
}

func (i Intent) String() string {
	switch i.Kind {
	case SetManual, SetAuto:
		return i.Kind.String() + ":" + i.State.String()
	default:
		return i.Kind.String()
	}
}

// Apply returns b with the intent carried out.
func (i Intent) Apply(b Buttons) Buttons {
	switch i.Kind {
	case SetManual:
		b.Manual = i.State
	case SetAuto:
		b.Auto = i.State
	}
	return b
}

type Config struct {
	WorkEnabled  bool
	SteerEnabled bool

	// WorkManualSections selects the manual button on work-switch activation
	// instead of the automatic one. SteerManualSections does the same for the
	// steer switch.
	WorkManualSections  bool
	SteerManualSections bool

	// WorkActiveLow treats a Low work switch as active.
	WorkActiveLow bool

	// AutoSteerAuto lets the remote switch engage and disengage autosteer.
	AutoSteerAuto bool
}

// Machine holds the previous-cycle switch levels. The zero value starts with
// all switches Low.
type Machine struct {
	cfg  Config
	prev Inputs
}

func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

func (m *Machine) Config() Config { return m.cfg }

func (m *Machine) Previous() Inputs { return m.prev }

// Update compares in against the previous cycle and appends resulting
// intents to out. It does not allocate when out has spare capacity.
//
// Previous levels always follow the current ones, including for disabled
// switches, so enabling a switch while it is held does not fire.
func (m *Machine) Update(in Inputs, b Buttons, out []Intent) []Intent {
	prev := m.prev
	m.prev = in

	if m.cfg.WorkEnabled && in.Work != prev.Work {
		active := in.Work == High
		if m.cfg.WorkActiveLow {
			active = !active
		}
		out, b = sectionEdge(active, m.cfg.WorkManualSections, b, out)
	}
	if m.cfg.SteerEnabled && in.Steer != prev.Steer {
		out, b = sectionEdge(in.Steer == High, m.cfg.SteerManualSections, b, out)
	}
	if m.cfg.AutoSteerAuto && in.Remote != prev.Remote {
		if in.Remote == High {
			out = append(out, Intent{Kind: EngageSteer})
		} else {
			out = append(out, Intent{Kind: DisengageSteer})
		}
	}
	return out
}

// sectionEdge emits the decision table for one switch edge. The returned
// buttons reflect the emitted intents so a second edge in the same cycle
// sees them.
func sectionEdge(active, manual bool, b Buttons, out []Intent) ([]Intent, Buttons) {
	if active {
		if manual {
			if b.Manual != On {
				out = append(out, Intent{Kind: SetManual, State: On})
				b.Manual = On
			}
		} else if b.Auto != Auto {
			out = append(out, Intent{Kind: SetAuto, State: Auto})
			b.Auto = Auto
		}
		return out, b
	}
	if b.Manual != Off {
		out = append(out, Intent{Kind: SetManual, State: Off})
		b.Manual = Off
	}
	if b.Auto != Off {
		out = append(out, Intent{Kind: SetAuto, State: Off})
		b.Auto = Off
	}
	return out, b
}
