package pipeline

import (
	"time"

	"agsteer/internal/geo"
	"agsteer/internal/switches"
)

// VehicleState is the live per-cycle record. Exactly one exists per
// pipeline; it is mutated in place by the cycle goroutine and never shared.
// Consumers see copies through Snapshot.
type VehicleState struct {
	Position geo.LatLon `json:"position"`
	Local    geo.Coord  `json:"local"`
	Pivot    geo.Coord  `json:"pivot"`
	Steer    geo.Coord  `json:"steer"`

	HeadingRad float64 `json:"heading_rad"`
	SpeedKmh   float64 `json:"speed_kmh"`

	FixQuality int     `json:"fix_quality"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`
	DiffAge    float64 `json:"diff_age"`

	// Roll and IMU heading come from $PANDA when present, otherwise from
	// the steering module's 0xFD report.
	RollDeg       float64 `json:"roll_deg"`
	PitchDeg      float64 `json:"pitch_deg"`
	YawRate       float64 `json:"yaw_rate"`
	IMUHeadingDeg float64 `json:"imu_heading_deg"`
	IMUValid      bool    `json:"imu_valid"`
	IMUFromModule bool    `json:"imu_from_module"`
	FusionActive  bool    `json:"fusion_active"`

	CrossTrackM     float64 `json:"cross_track_m"`
	HeadingErrorRad float64 `json:"heading_error_rad"`
	SteerAngleDeg   float64 `json:"steer_angle_deg"`
	OnTrack         bool    `json:"on_track"`
	GuidanceValid   bool    `json:"guidance_valid"`
	GPSValid        bool    `json:"gps_valid"`

	Sections          uint16  `json:"sections"`
	Engaged           bool    `json:"engaged"`
	FreeDrive         bool    `json:"free_drive"`
	FreeDriveAngleDeg float64 `json:"free_drive_angle_deg"`

	Switches       switches.Inputs  `json:"switches"`
	Buttons        switches.Buttons `json:"buttons"`
	ActualSteerDeg float64          `json:"actual_steer_deg"`
	PWMDisplay     byte             `json:"pwm_display"`
	SensorValue    byte             `json:"sensor_value"`

	CycleStart   time.Time `json:"cycle_start"`
	ParseDone    time.Time `json:"parse_done"`
	GuidanceDone time.Time `json:"guidance_done"`
	FrameSent    time.Time `json:"frame_sent"`
}

// MachineInputs feed the 0xEF machine-state message.
type MachineInputs struct {
	UTurn   byte `json:"uturn"`
	HydLift byte `json:"hyd_lift"`
	Tram    byte `json:"tram"`
	GeoStop bool `json:"geo_stop"`
}

type Counters struct {
	// Cycles counts attempted cycles, including ones that failed to parse.
	Cycles          uint64 `json:"cycles"`
	ParseFailures   uint64 `json:"parse_failures"`
	Published       uint64 `json:"published"`
	FramesSent      uint64 `json:"frames_sent"`
	SendErrors      uint64 `json:"send_errors"`
	InboundFrames   uint64 `json:"inbound_frames"`
	InboundRejected uint64 `json:"inbound_rejected"`
	IntentDrops     uint64 `json:"intent_drops"`
	SnapshotDrops   uint64 `json:"snapshot_drops"`
}

type LatencyStats struct {
	Last    time.Duration `json:"last"`
	Mean    time.Duration `json:"mean"`
	Max     time.Duration `json:"max"`
	Samples int           `json:"samples"`
}

// Snapshot is the immutable per-cycle copy handed to other goroutines.
type Snapshot struct {
	Seq       uint64       `json:"seq"`
	State     VehicleState `json:"state"`
	Counters  Counters     `json:"counters"`
	Latency   LatencyStats `json:"latency"`
	TrackName string       `json:"track_name,omitempty"`
	Origin    geo.LatLon   `json:"origin"`
	HasOrigin bool         `json:"has_origin"`
}
