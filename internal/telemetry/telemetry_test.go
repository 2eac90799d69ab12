package telemetry

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agsteer/internal/geo"
	"agsteer/internal/pipeline"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	points  []*influxdb2_write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *influxdb2_write.Point) { f.points = append(f.points, p) }
func (f *fakeWriter) Flush()                              { f.flushes++ }

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func snapshot(seq uint64, xte float64, engaged bool) pipeline.Snapshot {
	return pipeline.Snapshot{
		Seq:       seq,
		TrackName: "AB",
		State: pipeline.VehicleState{
			Position:      geo.LatLon{Lat: 52 + 0.0001*float64(seq), Lon: 5.0},
			SpeedKmh:      8,
			HeadingRad:    geo.Radians(90),
			FixQuality:    4,
			Satellites:    14,
			CrossTrackM:   xte,
			SteerAngleDeg: -2,
			Engaged:       engaged,
			GuidanceValid: true,
			CycleStart:    t0.Add(time.Duration(seq) * 100 * time.Millisecond),
		},
		Latency: pipeline.LatencyStats{Last: 2 * time.Millisecond},
	}
}

func TestPoint(t *testing.T) {
	p := Point(DefaultMeasurement, snapshot(1, 0.25, true))
	assert.Equal(t, "autosteer", p.Name())
	assert.Equal(t, t0.Add(100*time.Millisecond), p.Time())

	tags := map[string]string{}
	for _, tg := range p.TagList() {
		tags[tg.Key] = tg.Value
	}
	assert.Equal(t, map[string]string{"fix_quality": "4", "track": "AB"}, tags)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 0.25, fields["cross_track_m"])
	assert.Equal(t, true, fields["engaged"])
	assert.Equal(t, int64(14), fields["satellites"])
	assert.Equal(t, uint64(1), fields["seq"])
	assert.InDelta(t, 90.0, fields["heading_deg"], 1e-9)
	assert.InDelta(t, 2.0, fields["latency_ms"], 1e-9)
}

func TestInfluxSink_Decimates(t *testing.T) {
	fw := &fakeWriter{}
	s := newInfluxSinkWithWriter(InfluxConfig{Every: 3}, fw)
	for i := uint64(1); i <= 7; i++ {
		require.NoError(t, s.Consume(snapshot(i, 0, false)))
	}
	require.Len(t, fw.points, 3)
	assert.Equal(t, uint64(3), s.Written())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, fw.flushes)
}

func TestNewInfluxSink_Validation(t *testing.T) {
	_, err := NewInfluxSink(context.Background(), InfluxConfig{Bucket: "b"}, zerolog.Nop())
	assert.EqualError(t, err, "influx url is required")
	_, err = NewInfluxSink(context.Background(), InfluxConfig{URL: "http://x"}, zerolog.Nop())
	assert.EqualError(t, err, "influx bucket is required")
}

func TestNewInfluxSink_BackupWhenUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx.lp.gz")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := NewInfluxSink(ctx, InfluxConfig{URL: "http://127.0.0.1:1", Bucket: "b", Every: 1, BackupPath: path}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Consume(snapshot(1, 0.1, true)))
	require.NoError(t, s.Consume(snapshot(2, 0.2, true)))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "autosteer,"))
	assert.Contains(t, lines[1], "cross_track_m=0.2")
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "telemetry.db")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenStore_Errors(t *testing.T) {
	_, err := OpenStore(StoreConfig{Driver: "mongo"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = OpenStore(StoreConfig{Driver: "postgres"}, zerolog.Nop())
	assert.EqualError(t, err, "store dsn is required for postgres")
}

func TestStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sess, err := s.StartSession(ctx, t0, "AB", geo.LatLon{Lat: 52, Lon: 5})
	require.NoError(t, err)
	require.NotZero(t, sess.ID)

	snaps := []pipeline.Snapshot{
		snapshot(2, 0.3, true),
		snapshot(1, 0.4, true),
		snapshot(3, 5.0, false),
	}
	require.NoError(t, s.Append(ctx, sess.ID, snaps))
	require.NoError(t, s.Append(ctx, sess.ID, nil))
	require.NoError(t, s.EndSession(ctx, sess.ID, t0.Add(time.Minute)))
	assert.Error(t, s.EndSession(ctx, 999, t0))

	got, err := s.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.RowCount)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, "AB", got.TrackName)

	rows, err := s.Rows(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{rows[0].Seq, rows[1].Seq, rows[2].Seq})
	x, y := geo.WebMercator(snaps[1].State.Position)
	assert.InDelta(t, x, rows[0].MercX, 1e-6)
	assert.InDelta(t, y, rows[0].MercY, 1e-6)

	var back pipeline.Snapshot
	require.NoError(t, json.Unmarshal(rows[2].State, &back))
	assert.Equal(t, uint64(3), back.Seq)
	assert.Equal(t, 5.0, back.State.CrossTrackM)

	rms, n, err := s.CrossTrackRMS(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.InDelta(t, 0.35355, rms, 1e-4)
}

type countSink struct{ n int }

func (c *countSink) Consume(pipeline.Snapshot) error { c.n++; return nil }

func TestRun_FeedsSinksAndFlushes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sess, err := store.StartSession(ctx, t0, "", geo.LatLon{})
	require.NoError(t, err)

	src := make(chan pipeline.Snapshot, 4)
	for i := uint64(1); i <= 4; i++ {
		src <- snapshot(i, 0.1, true)
	}
	close(src)

	cs := &countSink{}
	ss := NewStoreSink(store, sess.ID, 3)
	Run(ctx, src, time.Hour, zerolog.Nop(), cs, ss)

	assert.Equal(t, 4, cs.n)
	rows, err := store.Rows(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}
