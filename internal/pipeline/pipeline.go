// Package pipeline runs the per-fix autosteer cycle: ingest a position,
// project it onto the field plane, run guidance, evaluate the switches, and
// hand the steering and machine frames to the transport.
//
// Cycle and CycleDecoded must be called from one goroutine at a time. All
// other methods are safe from any goroutine; commands take effect at the
// start of the next successful cycle.
package pipeline

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"agsteer/internal/geo"
	"agsteer/internal/gps"
	"agsteer/internal/guidance"
	"agsteer/internal/pgn"
	"agsteer/internal/switches"
	"agsteer/internal/track"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultLatencyWindow = 64
	DefaultIntentBuffer  = 16

	// minHeadingStepM is the displacement needed before heading is derived
	// from consecutive fixes when the receiver reports no course.
	minHeadingStepM = 0.5
)

// Transport hands a frame to the wire. Send must not block; frame is only
// valid for the duration of the call.
type Transport interface {
	Send(frame []byte) error
}

type Config struct {
	Guidance guidance.Config
	Switches switches.Config

	// AntennaPivotM is how far the antenna sits ahead of the pivot (rear
	// axle), along the heading. Negative puts it behind.
	AntennaPivotM float64

	// AutoOrigin anchors the plane at the first valid fix when no plane has
	// been set.
	AutoOrigin bool

	LatencyWindow int
	IntentBuffer  int
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithSampledLogger sets the logger for per-cycle failures.
func WithSampledLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.sampled = l }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Pipeline) { p.meterProvider = mp }
}

// WithSwitchSource reads switch levels from src (for example GPIO) instead
// of the steering module's status report.
func WithSwitchSource(src func() switches.Inputs) Option {
	return func(p *Pipeline) { p.switchSource = src }
}

type Pipeline struct {
	cfg       Config
	transport Transport
	engine    *guidance.Engine
	machine   *switches.Machine

	now           func() time.Time
	log           zerolog.Logger
	sampled       zerolog.Logger
	meterProvider metric.MeterProvider
	switchSource  func() switches.Inputs
	ins           instruments

	// Owned by the cycle goroutine.
	state      VehicleState
	fix        gps.Fix
	scratch    gps.Fix
	gscratch   guidance.Scratch
	lastTrack  *track.Track
	lastLocal  geo.Coord
	haveLocal  bool
	intentBuf  []switches.Intent
	steerB     *pgn.Builder
	machineB   *pgn.Builder
	machineIn  MachineInputs
	module     pgn.SteerData
	haveModule bool
	latency    *latencyWindow
	cycleStart time.Time

	plane atomic.Pointer[geo.LocalPlane]
	track atomic.Pointer[track.Track]

	cmdMu sync.Mutex
	cmd   commands

	inMu sync.Mutex
	in   inbound

	settingsMu sync.Mutex
	settingsB  *pgn.Builder
	configB    *pgn.Builder

	intents chan switches.Intent

	pubMu     sync.RWMutex
	latest    Snapshot
	hasLatest bool
	subs      map[chan Snapshot]struct{}

	cycles          atomic.Uint64
	parseFailures   atomic.Uint64
	published       atomic.Uint64
	framesSent      atomic.Uint64
	sendErrors      atomic.Uint64
	inboundFrames   atomic.Uint64
	inboundRejected atomic.Uint64
	intentDrops     atomic.Uint64
	snapshotDrops   atomic.Uint64
}

// commands are written by any goroutine and folded into the state at the
// start of a cycle.
type commands struct {
	engageSet    bool
	engage       bool
	freeDriveSet bool
	freeDrive    bool
	angleSet     bool
	angle        float64
	sectionsSet  bool
	sections     uint16
	machineSet   bool
	machine      MachineInputs
	buttonsSet   bool
	buttons      switches.Buttons
}

type inbound struct {
	steer     pgn.SteerData
	haveSteer bool
	sensor    byte
}

func New(cfg Config, transport Transport, opts ...Option) (*Pipeline, error) {
	if transport == nil {
		return nil, errors.New("pipeline: transport is required")
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = DefaultLatencyWindow
	}
	if cfg.IntentBuffer <= 0 {
		cfg.IntentBuffer = DefaultIntentBuffer
	}
	p := &Pipeline{
		cfg:       cfg,
		transport: transport,
		engine:    guidance.New(cfg.Guidance),
		machine:   switches.NewMachine(cfg.Switches),
		now:       time.Now,
		log:       zerolog.Nop(),
		sampled:   zerolog.Nop(),
		intentBuf: make([]switches.Intent, 0, 8),
		steerB:    pgn.NewBuilder(pgn.IDSteerCommand, pgn.SteerCommandLen),
		machineB:  pgn.NewBuilder(pgn.IDMachineState, pgn.MachineStateLen),
		settingsB: pgn.NewBuilder(pgn.IDSteerSettings, pgn.SteerSettingsLen),
		configB:   pgn.NewBuilder(pgn.IDSteerConfig, pgn.SteerConfigLen),
		latency:   newLatencyWindow(cfg.LatencyWindow),
		intents:   make(chan switches.Intent, cfg.IntentBuffer),
		subs:      make(map[chan Snapshot]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.meterProvider == nil {
		p.meterProvider = otel.GetMeterProvider()
	}
	if err := p.initInstruments(p.meterProvider.Meter(instrumentationName)); err != nil {
		return nil, errors.Wrap(err, "pipeline: metrics")
	}
	return p, nil
}

func (p *Pipeline) Config() Config { return p.cfg }

// Cycle runs one cycle from a raw NMEA packet. It returns false when the
// packet could not be parsed; the state is then left as it was.
func (p *Pipeline) Cycle(raw []byte) bool {
	p.begin()
	p.scratch = p.fix
	if err := gps.Parse(raw, &p.scratch); err != nil {
		p.parseFailed(err)
		return false
	}
	p.run()
	return true
}

// CycleDecoded runs one cycle from an already decoded fix.
func (p *Pipeline) CycleDecoded(fix gps.Fix) bool {
	p.begin()
	if !fix.Position {
		p.parseFailed(gps.ErrNoFix)
		return false
	}
	p.scratch = fix
	p.run()
	return true
}

func (p *Pipeline) begin() {
	p.cycleStart = p.now()
	p.cycles.Add(1)
	p.ins.cycles.Add(context.Background(), 1)
}

func (p *Pipeline) parseFailed(err error) {
	p.parseFailures.Add(1)
	p.ins.parseFailures.Add(context.Background(), 1)
	p.sampled.Warn().Err(err).Msg("position packet rejected")
}

func (p *Pipeline) run() {
	st := &p.state
	st.CycleStart = p.cycleStart
	p.applyCommands()
	p.ingest()
	st.ParseDone = p.now()

	plane := p.plane.Load()
	if plane == nil && p.cfg.AutoOrigin && p.fix.Valid() {
		plane = geo.NewLocalPlane(st.Position)
		if p.plane.CompareAndSwap(nil, plane) {
			p.log.Info().Float64("lat", st.Position.Lat).Float64("lon", st.Position.Lon).Msg("field origin set from first fix")
		} else {
			plane = p.plane.Load()
		}
	}
	if plane != nil {
		p.localize(plane)
	} else {
		p.haveLocal = false
	}
	p.guide(plane != nil)
	st.GuidanceDone = p.now()

	p.evaluateSwitches()
	p.encodeAndSend()

	st.FrameSent = p.now()
	d := st.FrameSent.Sub(st.CycleStart)
	p.latency.push(d)
	p.ins.latency.Record(context.Background(), float64(d)/float64(time.Millisecond))
	p.publish()
}

func (p *Pipeline) ingest() {
	p.fix = p.scratch
	f := &p.fix
	st := &p.state
	st.Position = geo.LatLon{Lat: f.Lat, Lon: f.Lon}
	st.SpeedKmh = f.SpeedKmh
	st.FixQuality = f.Quality
	st.Satellites = f.Satellites
	st.HDOP = f.HDOP
	st.DiffAge = f.DiffAge
	st.GPSValid = f.Valid()
	st.IMUValid, st.IMUFromModule = false, false
	switch {
	case f.HasIMU:
		st.RollDeg = f.RollDeg
		st.PitchDeg = f.PitchDeg
		st.YawRate = f.YawRate
		st.IMUHeadingDeg = f.IMUHeadingDeg
		st.IMUValid = true
	case p.haveModule:
		if r, ok := p.module.IMURollDeg(); ok {
			st.RollDeg = r
			st.IMUValid, st.IMUFromModule = true, true
		}
		if h, ok := p.module.IMUHeadingDeg(); ok {
			st.IMUHeadingDeg = h
			st.IMUValid, st.IMUFromModule = true, true
		}
	}
}

func (p *Pipeline) localize(plane *geo.LocalPlane) {
	st := &p.state
	local := plane.ToLocal(st.Position)
	switch {
	case p.fix.HasHeading:
		st.HeadingRad = geo.NormalizeHeading(geo.Radians(p.fix.HeadingDeg))
	case p.haveLocal:
		if u, ok := local.Sub(p.lastLocal).Direction(); ok && local.Distance(p.lastLocal) >= minHeadingStepM {
			st.HeadingRad = u.Heading()
		}
	}
	if !p.haveLocal || p.fix.HasHeading || local.Distance(p.lastLocal) >= minHeadingStepM {
		p.lastLocal = local
		p.haveLocal = true
	}
	st.Local = local

	dir := geo.FromHeading(st.HeadingRad)
	st.Pivot = local.Add(dir.Scale(-p.cfg.AntennaPivotM))
	st.Steer = st.Pivot.Add(dir.Scale(p.engine.Config().WheelbaseM))
}

func (p *Pipeline) guide(localized bool) {
	st := &p.state
	tr := p.track.Load()
	if tr != p.lastTrack {
		p.gscratch.Reset()
		p.lastTrack = tr
	}
	if !localized || !tr.Valid() {
		p.clearGuidance()
		return
	}
	out, err := p.engine.Compute(guidance.Input{
		Track:    tr,
		Pivot:    guidance.Pose{Pos: st.Pivot, Heading: st.HeadingRad},
		Steer:    guidance.Pose{Pos: st.Steer, Heading: st.HeadingRad},
		SpeedKmh: st.SpeedKmh,
	}, &p.gscratch)
	if err != nil {
		p.clearGuidance()
		return
	}
	st.CrossTrackM = out.CrossTrackM
	st.HeadingErrorRad = out.HeadingErrorRad
	st.SteerAngleDeg = out.SteerAngleDeg
	st.OnTrack = out.OnTrack
	st.GuidanceValid = true
}

func (p *Pipeline) clearGuidance() {
	st := &p.state
	st.CrossTrackM = 0
	st.HeadingErrorRad = 0
	st.SteerAngleDeg = 0
	st.OnTrack = false
	st.GuidanceValid = false
}

func (p *Pipeline) evaluateSwitches() {
	st := &p.state
	if p.switchSource != nil {
		st.Switches = p.switchSource()
	}
	p.intentBuf = p.machine.Update(st.Switches, st.Buttons, p.intentBuf[:0])
	for _, it := range p.intentBuf {
		switch it.Kind {
		case switches.EngageSteer:
			st.Engaged = true
		case switches.DisengageSteer:
			st.Engaged = false
		default:
			st.Buttons = it.Apply(st.Buttons)
		}
		select {
		case p.intents <- it:
		default:
			p.intentDrops.Add(1)
		}
	}
}

func (p *Pipeline) status() byte {
	st := &p.state
	var s byte
	if st.Switches.Steer == switches.High {
		s |= pgn.StatusSteerSwitch
	}
	workActive := st.Switches.Work == switches.High
	if p.cfg.Switches.WorkActiveLow {
		workActive = !workActive
	}
	if workActive {
		s |= pgn.StatusWorkSwitch
	}
	if st.Engaged && st.GuidanceValid {
		s |= pgn.StatusEngaged
	}
	if st.GPSValid {
		s |= pgn.StatusGPSValid
	}
	if st.GuidanceValid {
		s |= pgn.StatusGuidanceValid
	}
	return s
}

func (p *Pipeline) encodeAndSend() {
	st := &p.state
	cmd := pgn.NewSteerCommand(st.SpeedKmh, p.status(), st.SteerAngleDeg, st.CrossTrackM, st.Sections)
	if st.FreeDrive {
		cmd = cmd.WithFreeDrive(st.FreeDriveAngleDeg)
	}
	p.send(cmd.Encode(p.steerB))

	p.send(pgn.MachineState{
		UTurn:    p.machineIn.UTurn,
		SpeedX10: pgn.MachineSpeed(st.SpeedKmh),
		HydLift:  p.machineIn.HydLift,
		Tram:     p.machineIn.Tram,
		GeoStop:  p.machineIn.GeoStop,
		Sections: st.Sections,
	}.Encode(p.machineB))
}

func (p *Pipeline) send(frame []byte) {
	if err := p.transport.Send(frame); err != nil {
		p.sendErrors.Add(1)
		p.ins.sendErrors.Add(context.Background(), 1)
		p.sampled.Warn().Err(err).Uint8("pgn", frame[3]).Msg("frame send failed")
		return
	}
	p.framesSent.Add(1)
	p.ins.framesSent.Add(context.Background(), 1)
}

func (p *Pipeline) applyCommands() {
	st := &p.state
	p.cmdMu.Lock()
	c := p.cmd
	p.cmd = commands{}
	p.cmdMu.Unlock()

	if c.engageSet {
		st.Engaged = c.engage
	}
	if c.freeDriveSet {
		st.FreeDrive = c.freeDrive
	}
	if c.angleSet {
		st.FreeDriveAngleDeg = c.angle
	}
	if c.sectionsSet {
		st.Sections = c.sections
	}
	if c.machineSet {
		p.machineIn = c.machine
	}
	if c.buttonsSet {
		st.Buttons = c.buttons
	}

	p.inMu.Lock()
	in := p.in
	p.inMu.Unlock()
	if in.haveSteer {
		p.module, p.haveModule = in.steer, true
		st.ActualSteerDeg = in.steer.ActualAngleDeg()
		st.PWMDisplay = in.steer.PWMDisplay
		st.FusionActive = in.steer.FusionActive()
		if p.switchSource == nil {
			st.Switches = switches.Inputs{
				Work:   switches.LevelOf(in.steer.WorkSwitch()),
				Steer:  switches.LevelOf(in.steer.SteerEnabled()),
				Remote: switches.LevelOf(in.steer.RemoteButton()),
			}
		}
	}
	st.SensorValue = in.sensor
}

// Engage sets the engaged flag. The module only steers while guidance is
// valid or free drive is on.
func (p *Pipeline) Engage() { p.setEngaged(true) }

func (p *Pipeline) Disengage() { p.setEngaged(false) }

func (p *Pipeline) setEngaged(on bool) {
	p.cmdMu.Lock()
	p.cmd.engageSet, p.cmd.engage = true, on
	p.cmdMu.Unlock()
}

func (p *Pipeline) SetFreeDrive(on bool) {
	p.cmdMu.Lock()
	p.cmd.freeDriveSet, p.cmd.freeDrive = true, on
	p.cmdMu.Unlock()
}

// SetFreeDriveAngle sets the operator steer angle, clamped to +-40 degrees.
func (p *Pipeline) SetFreeDriveAngle(deg float64) {
	if math.IsNaN(deg) {
		deg = 0
	}
	deg = math.Max(-pgn.FreeDriveMaxDeg, math.Min(pgn.FreeDriveMaxDeg, deg))
	p.cmdMu.Lock()
	p.cmd.angleSet, p.cmd.angle = true, deg
	p.cmdMu.Unlock()
}

func (p *Pipeline) SetSections(mask uint16) {
	p.cmdMu.Lock()
	p.cmd.sectionsSet, p.cmd.sections = true, mask
	p.cmdMu.Unlock()
}

func (p *Pipeline) SetMachine(m MachineInputs) {
	p.cmdMu.Lock()
	p.cmd.machineSet, p.cmd.machine = true, m
	p.cmdMu.Unlock()
}

// SetButtons reports the section buttons as executed by their owner.
func (p *Pipeline) SetButtons(b switches.Buttons) {
	p.cmdMu.Lock()
	p.cmd.buttonsSet, p.cmd.buttons = true, b
	p.cmdMu.Unlock()
}

// SetTrack selects the guidance track. The pipeline keeps the pointer and
// never modifies the track; nil clears guidance.
func (p *Pipeline) SetTrack(t *track.Track) { p.track.Store(t) }

func (p *Pipeline) Track() *track.Track { return p.track.Load() }

// SetPlane installs a copy of plane as the field frame.
func (p *Pipeline) SetPlane(plane *geo.LocalPlane) {
	if plane == nil {
		p.plane.Store(nil)
		return
	}
	cp := *plane
	p.plane.Store(&cp)
}

func (p *Pipeline) SetOrigin(origin geo.LatLon) { p.plane.Store(geo.NewLocalPlane(origin)) }

// Plane returns the current field frame, or nil.
func (p *Pipeline) Plane() *geo.LocalPlane { return p.plane.Load() }

// SendSteerSettings sends a 0xFC frame immediately.
func (p *Pipeline) SendSteerSettings(s pgn.SteerSettings) error {
	p.settingsMu.Lock()
	defer p.settingsMu.Unlock()
	return p.sendOutOfCycle(s.Encode(p.settingsB))
}

// SendSteerConfig sends a 0xFB frame immediately.
func (p *Pipeline) SendSteerConfig(c pgn.SteerConfig) error {
	p.settingsMu.Lock()
	defer p.settingsMu.Unlock()
	return p.sendOutOfCycle(c.Encode(p.configB))
}

func (p *Pipeline) sendOutOfCycle(frame []byte) error {
	if err := p.transport.Send(frame); err != nil {
		p.sendErrors.Add(1)
		p.ins.sendErrors.Add(context.Background(), 1)
		return errors.Wrapf(err, "send pgn 0x%02X", frame[3])
	}
	p.framesSent.Add(1)
	p.ins.framesSent.Add(context.Background(), 1)
	return nil
}

// Intents delivers switch intents for the section owner. Intents are dropped
// when the channel is full.
func (p *Pipeline) Intents() <-chan switches.Intent { return p.intents }

func (p *Pipeline) Counters() Counters {
	return Counters{
		Cycles:          p.cycles.Load(),
		ParseFailures:   p.parseFailures.Load(),
		Published:       p.published.Load(),
		FramesSent:      p.framesSent.Load(),
		SendErrors:      p.sendErrors.Load(),
		InboundFrames:   p.inboundFrames.Load(),
		InboundRejected: p.inboundRejected.Load(),
		IntentDrops:     p.intentDrops.Load(),
		SnapshotDrops:   p.snapshotDrops.Load(),
	}
}
