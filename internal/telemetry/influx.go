// Package telemetry persists pipeline snapshots: a decimated time series to
// InfluxDB and per-session rows to a SQL store.
package telemetry

import (
	"compress/gzip"
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"agsteer/internal/geo"
	"agsteer/internal/pipeline"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultMeasurement = "autosteer"

type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string

	// Every writes one point per Every snapshots.
	Every int

	// BackupPath receives gzip line protocol when the server is unreachable.
	BackupPath string
}

type pointWriter interface {
	WritePoint(p *influxdb2_write.Point)
	Flush()
}

// InfluxSink writes decimated snapshots as points.
type InfluxSink struct {
	cfg    InfluxConfig
	log    zerolog.Logger
	client influxdb2.Client
	writer pointWriter

	mu      sync.Mutex
	backup  *gzip.Writer
	backupF *os.File
	seen    uint64
	written uint64
}

// NewInfluxSink connects to the server. When the server does not answer a
// ping and a backup path is set, points go to the backup file instead.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig, log zerolog.Logger) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx url is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("influx bucket is required")
	}
	cfg = cfg.withDefaults()
	s := &InfluxSink{cfg: cfg, log: log}
	s.client = influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000))

	running, err := s.client.Ping(ctx)
	if err != nil || !running {
		s.client.Close()
		s.client = nil
		if cfg.BackupPath == "" {
			if err == nil {
				err = errors.New("server not ready")
			}
			return nil, errors.Wrap(err, "influx ping")
		}
		log.Warn().Err(err).Str("backupPath", cfg.BackupPath).Msg("InfluxDB unreachable, writing to backup file")
		f, ferr := os.OpenFile(cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return nil, errors.Wrap(ferr, "influx backup file")
		}
		s.backupF = f
		s.backup = gzip.NewWriter(f)
		return s, nil
	}

	w := s.client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for werr := range w.Errors() {
			log.Error().Err(werr).Str("bucket", cfg.Bucket).Msg("Error sending data to InfluxDB")
		}
	}()
	s.writer = w
	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB client initialized")
	return s, nil
}

func newInfluxSinkWithWriter(cfg InfluxConfig, w pointWriter) *InfluxSink {
	return &InfluxSink{cfg: cfg.withDefaults(), writer: w, log: zerolog.Nop()}
}

func (c InfluxConfig) withDefaults() InfluxConfig {
	if c.Every <= 0 {
		c.Every = 10
	}
	if c.Measurement == "" {
		c.Measurement = DefaultMeasurement
	}
	return c
}

// Consume records snap if it falls on the decimation stride.
func (s *InfluxSink) Consume(snap pipeline.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen++
	if (s.seen-1)%uint64(s.cfg.Every) != 0 {
		return nil
	}
	p := Point(s.cfg.Measurement, snap)
	s.written++
	if s.backup != nil {
		line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
		if _, err := s.backup.Write([]byte(line)); err != nil {
			return errors.Wrap(err, "influx backup write")
		}
		return nil
	}
	s.writer.WritePoint(p)
	return nil
}

func (s *InfluxSink) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *InfluxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.backup != nil {
		if err := s.backup.Close(); err != nil {
			_ = s.backupF.Close()
			return err
		}
		return s.backupF.Close()
	}
	return nil
}

// Point converts a snapshot into a line-protocol point stamped at the cycle
// start.
func Point(measurement string, snap pipeline.Snapshot) *influxdb2_write.Point {
	st := snap.State
	p := influxdb2_write.NewPointWithMeasurement(measurement).
		AddTag("fix_quality", strconv.Itoa(st.FixQuality)).
		AddField("seq", snap.Seq).
		AddField("lat", st.Position.Lat).
		AddField("lon", st.Position.Lon).
		AddField("speed_kmh", st.SpeedKmh).
		AddField("heading_deg", geo.Degrees(st.HeadingRad)).
		AddField("cross_track_m", st.CrossTrackM).
		AddField("steer_angle_deg", st.SteerAngleDeg).
		AddField("actual_steer_deg", st.ActualSteerDeg).
		AddField("engaged", st.Engaged).
		AddField("guidance_valid", st.GuidanceValid).
		AddField("satellites", st.Satellites).
		AddField("latency_ms", float64(snap.Latency.Last)/float64(time.Millisecond)).
		SetTime(st.CycleStart)
	if snap.TrackName != "" {
		p.AddTag("track", snap.TrackName)
	}
	return p
}
