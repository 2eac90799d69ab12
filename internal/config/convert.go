package config

import (
	"agsteer/internal/geo"
	"agsteer/internal/guidance"
	"agsteer/internal/logging"
	"agsteer/internal/pgn"
	"agsteer/internal/switches"
	"agsteer/internal/telemetry"
	"agsteer/internal/track"
)

// Engine returns the guidance settings. The law has already been validated
// by Load.
func (g GuidanceConfig) Engine() guidance.Config {
	law, _ := guidance.ParseLaw(g.Law)
	return guidance.Config{
		Law:            law,
		WheelbaseM:     g.WheelbaseM,
		MaxSteerDeg:    g.MaxSteerDeg,
		LookaheadMinM:  g.LookaheadMinM,
		LookaheadGain:  g.LookaheadGain,
		StanleyGain:    g.StanleyGain,
		MinSpeedMps:    g.MinSpeedMps,
		IntegralGain:   g.IntegralGain,
		IntegralMaxDeg: g.IntegralMaxDeg,
		OnTrackM:       g.OnTrackM,
	}
}

func (s SteerConfig) Settings() pgn.SteerSettings {
	return pgn.SteerSettings{
		Kp:             s.Kp,
		MaxPWM:         s.MaxPWM,
		MinPWM:         s.MinPWM,
		CountsPerDeg:   s.CountsPerDeg,
		WASOffset:      int16(s.WASOffset),
		AckermannRatio: s.AckermannRatio,
	}
}

func (s SteerConfig) Hardware() pgn.SteerConfig {
	return pgn.SteerConfig{
		InvertWAS:        s.InvertWAS,
		RelayActiveHigh:  s.RelayActiveHigh,
		MotorDirInvert:   s.MotorDirInvert,
		SingleInputADC:   s.SingleInputADC,
		CytronDriver:     s.CytronDriver,
		SteerSwitch:      s.SteerSwitch,
		SteerButton:      s.SteerButton,
		ShaftEncoder:     s.ShaftEncoder,
		Danfoss:          s.Danfoss,
		PressureSensor:   s.PressureSensor,
		CurrentSensor:    s.CurrentSensor,
		IMUAxisSwap:      s.IMUAxisSwap,
		PulseCount:       byte(s.PulseCount),
		MinSteerSpeedKmh: s.MinSteerSpeedKmh,
		AngularVelocity:  byte(s.AngularVelocity),
	}
}

func (s SwitchesConfig) Machine() switches.Config {
	return switches.Config{
		WorkEnabled:         s.WorkEnabled,
		SteerEnabled:        s.SteerEnabled,
		WorkManualSections:  s.WorkManualSections,
		SteerManualSections: s.SteerManualSections,
		WorkActiveLow:       s.WorkActiveLow,
		AutoSteerAuto:       s.AutoSteerAuto,
	}
}

func (g GPIOConfig) Pins() switches.GPIOConfig {
	return switches.GPIOConfig{
		WorkPin:   g.WorkPin,
		SteerPin:  g.SteerPin,
		RemotePin: g.RemotePin,
		PullUp:    g.PullUp,
	}
}

func (o OriginConfig) LatLon() geo.LatLon {
	return geo.LatLon{Lat: o.Lat, Lon: o.Lon}
}

// Build returns nil with no error when no track is configured.
func (t TrackConfig) Build() (*track.Track, error) {
	if len(t.Points) == 0 {
		return nil, nil
	}
	pts := make([]geo.Coord, len(t.Points))
	for i, p := range t.Points {
		pts[i] = geo.Coord{Northing: p.Northing, Easting: p.Easting}
	}
	name := t.Name
	if name == "" {
		name = "configured"
	}
	return track.NewCurve(name, pts)
}

func (i InfluxConfig) Sink() telemetry.InfluxConfig {
	return telemetry.InfluxConfig{
		URL:        i.URL,
		Token:      i.Token,
		Org:        i.Org,
		Bucket:     i.Bucket,
		Every:      i.Every,
		BackupPath: i.BackupPath,
	}
}

func (s StoreConfig) Store() telemetry.StoreConfig {
	return telemetry.StoreConfig{Driver: s.Driver, DSN: s.DSN}
}

func (l LogConfig) Logging() logging.Config {
	return logging.Config{Level: l.Level, File: l.File, Graylog: l.Graylog, NoColor: l.NoColor}
}
