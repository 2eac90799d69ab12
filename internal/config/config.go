// Package config loads the agsteer configuration from a YAML file with
// AGSTEER_* environment overrides.
package config

import (
	"strings"
	"time"

	"agsteer/internal/guidance"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "AGSTEER"

type Config struct {
	UDP       UDPConfig       `mapstructure:"udp"`
	GPS       GPSConfig       `mapstructure:"gps"`
	Guidance  GuidanceConfig  `mapstructure:"guidance"`
	Steer     SteerConfig     `mapstructure:"steer"`
	Switches  SwitchesConfig  `mapstructure:"switches"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Origin    OriginConfig    `mapstructure:"origin"`
	Track     TrackConfig     `mapstructure:"track"`
	Sim       SimConfig       `mapstructure:"sim"`
	Record    RecordConfig    `mapstructure:"record"`
	Replay    ReplayConfig    `mapstructure:"replay"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Web       WebConfig       `mapstructure:"web"`
	Log       LogConfig       `mapstructure:"log"`
}

type UDPConfig struct {
	// Dest is the steering module address frames are sent to.
	Dest string `mapstructure:"dest"`
	// Listen receives module frames and network NMEA. Empty disables it.
	Listen string `mapstructure:"listen"`
	Queue  int    `mapstructure:"queue"`
}

type GPSConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Source   string `mapstructure:"source"`
	Device   string `mapstructure:"device"`
	Baud     int    `mapstructure:"baud"`
	GPSDAddr string `mapstructure:"gpsd_addr"`
}

type GuidanceConfig struct {
	Law            string  `mapstructure:"law"`
	WheelbaseM     float64 `mapstructure:"wheelbase_m"`
	MaxSteerDeg    float64 `mapstructure:"max_steer_deg"`
	LookaheadMinM  float64 `mapstructure:"lookahead_min_m"`
	LookaheadGain  float64 `mapstructure:"lookahead_gain"`
	StanleyGain    float64 `mapstructure:"stanley_gain"`
	MinSpeedMps    float64 `mapstructure:"min_speed_mps"`
	IntegralGain   float64 `mapstructure:"integral_gain"`
	IntegralMaxDeg float64 `mapstructure:"integral_max_deg"`
	OnTrackM       float64 `mapstructure:"on_track_m"`
}

// SteerConfig is pushed to the steering module at startup.
type SteerConfig struct {
	Kp             int `mapstructure:"kp"`
	MaxPWM         int `mapstructure:"max_pwm"`
	MinPWM         int `mapstructure:"min_pwm"`
	CountsPerDeg   int `mapstructure:"counts_per_deg"`
	WASOffset      int `mapstructure:"was_offset"`
	AckermannRatio int `mapstructure:"ackermann_ratio"`

	InvertWAS        bool    `mapstructure:"invert_was"`
	RelayActiveHigh  bool    `mapstructure:"relay_active_high"`
	MotorDirInvert   bool    `mapstructure:"motor_dir_invert"`
	SingleInputADC   bool    `mapstructure:"single_input_adc"`
	CytronDriver     bool    `mapstructure:"cytron_driver"`
	SteerSwitch      bool    `mapstructure:"steer_switch"`
	SteerButton      bool    `mapstructure:"steer_button"`
	ShaftEncoder     bool    `mapstructure:"shaft_encoder"`
	Danfoss          bool    `mapstructure:"danfoss"`
	PressureSensor   bool    `mapstructure:"pressure_sensor"`
	CurrentSensor    bool    `mapstructure:"current_sensor"`
	IMUAxisSwap      bool    `mapstructure:"imu_axis_swap"`
	PulseCount       int     `mapstructure:"pulse_count"`
	MinSteerSpeedKmh float64 `mapstructure:"min_steer_speed_kmh"`
	AngularVelocity  int     `mapstructure:"angular_velocity"`
}

type SwitchesConfig struct {
	WorkEnabled         bool `mapstructure:"work_enabled"`
	SteerEnabled        bool `mapstructure:"steer_enabled"`
	WorkManualSections  bool `mapstructure:"work_manual_sections"`
	SteerManualSections bool `mapstructure:"steer_manual_sections"`
	WorkActiveLow       bool `mapstructure:"work_active_low"`
	AutoSteerAuto       bool `mapstructure:"autosteer_auto"`

	GPIO GPIOConfig `mapstructure:"gpio"`
}

// GPIOConfig reads switches from local pins instead of the module report.
type GPIOConfig struct {
	Enable    bool `mapstructure:"enable"`
	WorkPin   int  `mapstructure:"work_pin"`
	SteerPin  int  `mapstructure:"steer_pin"`
	RemotePin int  `mapstructure:"remote_pin"`
	PullUp    bool `mapstructure:"pull_up"`
}

type PipelineConfig struct {
	LatencyWindow int     `mapstructure:"latency_window"`
	IntentBuffer  int     `mapstructure:"intent_buffer"`
	AntennaPivotM float64 `mapstructure:"antenna_pivot_m"`
	AutoOrigin    bool    `mapstructure:"auto_origin"`
}

type OriginConfig struct {
	Enable bool    `mapstructure:"enable"`
	Lat    float64 `mapstructure:"lat"`
	Lon    float64 `mapstructure:"lon"`
}

type TrackPoint struct {
	Northing float64 `mapstructure:"northing"`
	Easting  float64 `mapstructure:"easting"`
}

type TrackConfig struct {
	Name   string       `mapstructure:"name"`
	Points []TrackPoint `mapstructure:"points"`
}

type SimConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Scenario string `mapstructure:"scenario"`
	Loop     bool   `mapstructure:"loop"`
}

type RecordConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

type ReplayConfig struct {
	Enable bool    `mapstructure:"enable"`
	Path   string  `mapstructure:"path"`
	Speed  float64 `mapstructure:"speed"`
	Loop   bool    `mapstructure:"loop"`
}

type TelemetryConfig struct {
	Influx InfluxConfig `mapstructure:"influx"`
	Store  StoreConfig  `mapstructure:"store"`
	// FlushInterval bounds how long buffered rows wait.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type InfluxConfig struct {
	Enable     bool   `mapstructure:"enable"`
	URL        string `mapstructure:"url"`
	Token      string `mapstructure:"token"`
	Org        string `mapstructure:"org"`
	Bucket     string `mapstructure:"bucket"`
	Every      int    `mapstructure:"every"`
	BackupPath string `mapstructure:"backup_path"`
}

type StoreConfig struct {
	Enable bool   `mapstructure:"enable"`
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Batch  int    `mapstructure:"batch"`
}

type WebConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Listen   string `mapstructure:"listen"`
	LogLines int    `mapstructure:"log_lines"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Graylog string `mapstructure:"graylog"`
	NoColor bool   `mapstructure:"no_color"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("udp.dest", "")
	v.SetDefault("udp.listen", "")
	v.SetDefault("udp.queue", 32)

	v.SetDefault("gps.enable", false)
	v.SetDefault("gps.source", "nmea")
	v.SetDefault("gps.device", "")
	v.SetDefault("gps.baud", 115200)
	v.SetDefault("gps.gpsd_addr", "127.0.0.1:2947")

	v.SetDefault("guidance.law", "pure_pursuit")
	v.SetDefault("guidance.wheelbase_m", 2.5)
	v.SetDefault("guidance.max_steer_deg", 35.0)
	v.SetDefault("guidance.lookahead_min_m", 2.5)
	v.SetDefault("guidance.lookahead_gain", 1.2)
	v.SetDefault("guidance.stanley_gain", 0.8)
	v.SetDefault("guidance.min_speed_mps", 1.0)
	v.SetDefault("guidance.integral_gain", 0.0)
	v.SetDefault("guidance.integral_max_deg", 5.0)
	v.SetDefault("guidance.on_track_m", 0.3)

	v.SetDefault("steer.kp", 50)
	v.SetDefault("steer.max_pwm", 235)
	v.SetDefault("steer.min_pwm", 10)
	v.SetDefault("steer.counts_per_deg", 110)
	v.SetDefault("steer.was_offset", 0)
	v.SetDefault("steer.ackermann_ratio", 100)
	for _, k := range []string{
		"invert_was", "relay_active_high", "motor_dir_invert", "single_input_adc",
		"cytron_driver", "steer_switch", "steer_button", "shaft_encoder",
		"danfoss", "pressure_sensor", "current_sensor", "imu_axis_swap",
	} {
		v.SetDefault("steer."+k, false)
	}
	v.SetDefault("steer.pulse_count", 3)
	v.SetDefault("steer.min_steer_speed_kmh", 1.0)
	v.SetDefault("steer.angular_velocity", 0)

	v.SetDefault("switches.work_enabled", false)
	v.SetDefault("switches.steer_enabled", false)
	v.SetDefault("switches.work_manual_sections", false)
	v.SetDefault("switches.steer_manual_sections", false)
	v.SetDefault("switches.work_active_low", false)
	v.SetDefault("switches.autosteer_auto", false)
	v.SetDefault("switches.gpio.enable", false)
	v.SetDefault("switches.gpio.work_pin", 0)
	v.SetDefault("switches.gpio.steer_pin", 0)
	v.SetDefault("switches.gpio.remote_pin", 0)
	v.SetDefault("switches.gpio.pull_up", true)

	v.SetDefault("pipeline.latency_window", 64)
	v.SetDefault("pipeline.intent_buffer", 16)
	v.SetDefault("pipeline.antenna_pivot_m", 0.0)
	v.SetDefault("pipeline.auto_origin", true)

	v.SetDefault("origin.enable", false)
	v.SetDefault("origin.lat", 0.0)
	v.SetDefault("origin.lon", 0.0)

	v.SetDefault("sim.enable", false)
	v.SetDefault("sim.scenario", "")
	v.SetDefault("sim.loop", false)

	v.SetDefault("record.enable", false)
	v.SetDefault("record.path", "")
	v.SetDefault("replay.enable", false)
	v.SetDefault("replay.path", "")
	v.SetDefault("replay.speed", 1.0)
	v.SetDefault("replay.loop", false)

	v.SetDefault("telemetry.flush_interval", "5s")
	v.SetDefault("telemetry.influx.enable", false)
	v.SetDefault("telemetry.influx.url", "http://localhost:8086")
	v.SetDefault("telemetry.influx.token", "")
	v.SetDefault("telemetry.influx.org", "agsteer")
	v.SetDefault("telemetry.influx.bucket", "autosteer")
	v.SetDefault("telemetry.influx.every", 10)
	v.SetDefault("telemetry.influx.backup_path", "")
	v.SetDefault("telemetry.store.enable", false)
	v.SetDefault("telemetry.store.driver", "sqlite")
	v.SetDefault("telemetry.store.dsn", "agsteer.db")
	v.SetDefault("telemetry.store.batch", 50)

	v.SetDefault("web.enable", true)
	v.SetDefault("web.listen", "127.0.0.1:8080")
	v.SetDefault("web.log_lines", 2000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.graylog", "")
	v.SetDefault("log.no_color", false)
}

// Load reads path (YAML) and applies AGSTEER_* overrides, e.g.
// AGSTEER_UDP_DEST for udp.dest. An empty path uses defaults and the
// environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.UDP.Dest) == "" {
		return errors.New("udp.dest is required")
	}

	if c.GPS.Enable {
		switch c.GPS.Source {
		case "nmea", "gpsd":
		default:
			return errors.Errorf("gps.source must be nmea or gpsd, got %q", c.GPS.Source)
		}
		if c.Sim.Enable {
			return errors.New("gps and sim cannot both be enabled")
		}
	}

	if _, err := guidance.ParseLaw(c.Guidance.Law); err != nil {
		return errors.Wrap(err, "guidance.law")
	}
	if c.Guidance.WheelbaseM <= 0 {
		return errors.New("guidance.wheelbase_m must be > 0")
	}

	if c.Origin.Enable {
		if c.Origin.Lat < -90 || c.Origin.Lat > 90 {
			return errors.New("origin.lat must be in [-90,90]")
		}
		if c.Origin.Lon < -180 || c.Origin.Lon > 180 {
			return errors.New("origin.lon must be in [-180,180]")
		}
	}
	if _, err := c.Track.Build(); err != nil {
		return errors.Wrap(err, "track")
	}

	if c.Sim.Enable && c.Sim.Scenario == "" {
		return errors.New("sim.scenario is required when sim.enable is true")
	}

	if c.Record.Enable && c.Record.Path == "" {
		return errors.New("record.path is required when record.enable is true")
	}
	if c.Replay.Enable {
		if c.Replay.Path == "" {
			return errors.New("replay.path is required when replay.enable is true")
		}
		if c.Replay.Speed <= 0 {
			return errors.New("replay.speed must be > 0")
		}
	}
	if c.Record.Enable && c.Replay.Enable {
		return errors.New("record and replay cannot both be enabled")
	}
	if c.Replay.Enable && (c.GPS.Enable || c.Sim.Enable) {
		return errors.New("replay cannot be combined with gps or sim")
	}

	if c.Telemetry.Influx.Enable && c.Telemetry.Influx.URL == "" {
		return errors.New("telemetry.influx.url is required when telemetry.influx.enable is true")
	}
	if c.Telemetry.Store.Enable {
		switch c.Telemetry.Store.Driver {
		case "sqlite", "postgres":
		default:
			return errors.Errorf("telemetry.store.driver must be sqlite or postgres, got %q", c.Telemetry.Store.Driver)
		}
	}

	if c.Steer.PulseCount < 0 || c.Steer.PulseCount > 255 {
		return errors.New("steer.pulse_count must be in [0,255]")
	}
	if c.Steer.WASOffset < -32768 || c.Steer.WASOffset > 32767 {
		return errors.New("steer.was_offset out of range")
	}

	if c.Web.Enable && c.Web.Listen == "" {
		return errors.New("web.listen is required when web.enable is true")
	}
	return nil
}
