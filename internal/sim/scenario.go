// Package sim drives the pipeline from a simulated vehicle so guidance can
// be exercised without a receiver or a steering module.
package sim

import (
	"os"
	"sort"
	"time"

	"agsteer/internal/geo"
	"agsteer/internal/gps"
	"agsteer/internal/track"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Script is a deterministic simulation description.
//
// Times are Go duration strings. If Duration is zero the run ends at the
// last speed keyframe; a run with a single keyframe needs an explicit
// duration.
//
//	version: 1
//	duration: 60s
//	period: 100ms
//	origin: {lat: 52.0, lon: 5.0}
//	vehicle:
//	  wheelbase_m: 2.5
//	  max_steer_deg: 35
//	  steer_rate_deg_s: 60
//	start: {northing: 0, easting: 1.5, heading_deg: 0}
//	speed:
//	  - t: 0s
//	    kmh: 8
//	track:
//	  name: AB
//	  points:
//	    - {northing: 0, easting: 0}
//	    - {northing: 100, easting: 0}
//	engage: true
type Script struct {
	Version  int              `yaml:"version"`
	Duration time.Duration    `yaml:"duration"`
	Period   time.Duration    `yaml:"period"`
	Origin   geo.LatLon       `yaml:"origin"`
	Vehicle  VehicleParams    `yaml:"vehicle"`
	Start    StartPose        `yaml:"start"`
	Speed    []SpeedKeyframe  `yaml:"speed"`
	Track    TrackScript      `yaml:"track"`
	Engage   bool             `yaml:"engage"`
	Sections uint16           `yaml:"sections"`
	Receiver ReceiverSettings `yaml:"receiver"`
}

type StartPose struct {
	Northing   float64 `yaml:"northing"`
	Easting    float64 `yaml:"easting"`
	HeadingDeg float64 `yaml:"heading_deg"`
}

type SpeedKeyframe struct {
	T   time.Duration `yaml:"t"`
	Kmh float64       `yaml:"kmh"`
}

type TrackScript struct {
	Name   string      `yaml:"name"`
	Points []geo.Coord `yaml:"points"`
}

// ReceiverSettings shape the synthetic fixes.
type ReceiverSettings struct {
	Quality    int     `yaml:"quality"`
	Satellites int     `yaml:"satellites"`
	HDOP       float64 `yaml:"hdop"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   Script
	duration time.Duration
}

func LoadScript(path string) (Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Script{}, errors.Wrap(err, "read scenario")
	}
	return ParseScriptYAML(b)
}

func ParseScriptYAML(b []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Script{}, errors.Wrap(err, "parse scenario")
	}
	return s, nil
}

// NewScenario validates script and fills defaults.
func NewScenario(script Script) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, errors.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Speed) == 0 {
		return nil, errors.New("speed is required")
	}
	for i := range script.Speed {
		if script.Speed[i].T < 0 {
			return nil, errors.Errorf("speed[%d].t must be >= 0", i)
		}
		if i > 0 && script.Speed[i].T < script.Speed[i-1].T {
			return nil, errors.Errorf("speed must be sorted by t (index %d)", i)
		}
	}
	if n := len(script.Track.Points); n == 1 {
		return nil, errors.New("track.points needs at least 2 points")
	}
	if script.Period <= 0 {
		script.Period = 100 * time.Millisecond
	}
	script.Vehicle = script.Vehicle.withDefaults()
	if script.Receiver.Quality == 0 {
		script.Receiver.Quality = gps.QualityRTKFix
	}
	if script.Receiver.Satellites == 0 {
		script.Receiver.Satellites = 12
	}
	if script.Receiver.HDOP == 0 {
		script.Receiver.HDOP = 0.8
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Speed[len(script.Speed)-1].T
	}
	if dur <= 0 {
		return nil, errors.New("duration is required (or derivable from speed keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

func (s *Scenario) Period() time.Duration { return s.script.Period }

func (s *Scenario) Script() Script { return s.script }

// Track builds the scripted guidance track, or nil when none is scripted.
func (s *Scenario) Track() (*track.Track, error) {
	if len(s.script.Track.Points) == 0 {
		return nil, nil
	}
	name := s.script.Track.Name
	if name == "" {
		name = "sim"
	}
	return track.NewCurve(name, s.script.Track.Points)
}

// SpeedAt interpolates the speed keyframes. Elapsed is clamped to the
// keyframe range.
func (s *Scenario) SpeedAt(elapsed time.Duration) float64 {
	kfs := s.script.Speed
	if len(kfs) == 1 {
		return kfs[0].Kmh
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > elapsed })
	if idx <= 0 {
		return kfs[0].Kmh
	}
	if idx >= len(kfs) {
		return kfs[len(kfs)-1].Kmh
	}
	k0, k1 := kfs[idx-1], kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1.Kmh
	}
	alpha := float64(elapsed-k0.T) / float64(dt)
	return lerp(k0.Kmh, k1.Kmh, alpha)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
