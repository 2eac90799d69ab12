package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agsteer/internal/config"
	"agsteer/internal/pgn"
	"agsteer/internal/replay"
	"agsteer/internal/telemetry"
	"agsteer/internal/web"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shortScript = `
version: 1
duration: 500ms
period: 20ms
origin: {lat: 52.0, lon: 5.0}
start: {northing: 0, easting: 1.0, heading_deg: 0}
speed:
  - t: 0s
    kmh: 8
track:
  name: AB
  points:
    - {northing: 0, easting: 0}
    - {northing: 100, easting: 0}
engage: true
`

func loadCfg(t *testing.T, yaml string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agsteer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func moduleSocket(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrames(t *testing.T, c *net.UDPConn, n int) [][]byte {
	t.Helper()
	buf := make([]byte, 512)
	var out [][]byte
	for len(out) < n {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		k, _, err := c.ReadFromUDP(buf)
		require.NoError(t, err)
		out = append(out, append([]byte(nil), buf[:k]...))
	}
	return out
}

func messageID(t *testing.T, frame []byte) byte {
	t.Helper()
	id, err := pgn.MessageID(frame)
	require.NoError(t, err)
	return id
}

func TestLiveRuntime_SimRecordsAndStores(t *testing.T) {
	module := moduleSocket(t)
	dir := t.TempDir()
	scenario := filepath.Join(dir, "line.yaml")
	require.NoError(t, os.WriteFile(scenario, []byte(shortScript), 0o644))
	logPath := filepath.Join(dir, "frames.log")
	dbPath := filepath.Join(dir, "agsteer.db")

	cfg := loadCfg(t, `
udp:
  dest: '`+module.LocalAddr().String()+`'
  queue: 256
sim:
  enable: true
  scenario: '`+scenario+`'
record:
  enable: true
  path: '`+logPath+`'
telemetry:
  flush_interval: 50ms
  store:
    enable: true
    driver: sqlite
    dsn: '`+dbPath+`'
    batch: 5
web:
  enable: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rt, err := newLiveRuntime(ctx, cfg, zerolog.Nop(), web.NewLogBuffer(10))
	require.NoError(t, err)
	assert.Equal(t, "sim", rt.mode())

	require.NoError(t, rt.Run(ctx))
	require.NoError(t, ctx.Err(), "run should end when the scenario completes")

	snap, ok := rt.pipe.Latest()
	require.True(t, ok)
	assert.True(t, snap.State.Engaged)
	assert.Equal(t, "AB", snap.TrackName)
	assert.Equal(t, uint64(25), snap.Counters.Published)

	session := rt.storeSink.Session()
	rt.Close()

	frames := readFrames(t, module, 4)
	assert.Equal(t, pgn.IDSteerSettings, messageID(t, frames[0]))
	assert.Equal(t, pgn.IDSteerConfig, messageID(t, frames[1]))
	assert.Equal(t, pgn.IDSteerCommand, messageID(t, frames[2]))
	assert.Equal(t, pgn.IDMachineState, messageID(t, frames[3]))

	f, err := os.Open(logPath)
	require.NoError(t, err)
	recs, err := replay.NewReader(f).ReadAll()
	require.NoError(t, f.Close())
	require.NoError(t, err)
	sum := replay.Summarize(recs)
	assert.Equal(t, 1, sum.Segments)
	assert.Equal(t, 0, sum.Invalid)
	assert.Equal(t, 1, sum.Counts[pgn.IDSteerSettings])
	assert.Equal(t, 1, sum.Counts[pgn.IDSteerConfig])
	assert.Equal(t, 25, sum.Counts[pgn.IDSteerCommand])

	st, err := telemetry.OpenStore(telemetry.StoreConfig{Driver: "sqlite", DSN: dbPath}, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	sess, err := st.Session(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "AB", sess.TrackName)
	assert.InDelta(t, 52.0, sess.OriginLat, 1e-9)
	require.NotNil(t, sess.EndedAt)
	assert.Greater(t, sess.RowCount, int64(0))
}

func TestLiveRuntime_ReplaySendsRecordedFrames(t *testing.T) {
	module := moduleSocket(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "frames.log")

	f, err := os.Create(logPath)
	require.NoError(t, err)
	start := time.Now()
	w, err := replay.NewWriter(f, start)
	require.NoError(t, err)
	sent := [][]byte{
		pgn.NewSteerCommand(8, 0, 1.5, 0.02, 0).Frame(),
		pgn.MachineState{}.Frame(),
		pgn.NewSteerCommand(8, 0, -2, 0.1, 0).Frame(),
	}
	for i, fr := range sent {
		require.NoError(t, w.WriteFrame(start.Add(time.Duration(i)*20*time.Millisecond), fr))
	}
	require.NoError(t, w.Close())

	cfg := loadCfg(t, `
udp:
  dest: '`+module.LocalAddr().String()+`'
replay:
  enable: true
  path: '`+logPath+`'
  speed: 4
web:
  enable: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rt, err := newLiveRuntime(ctx, cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "replay", rt.mode())
	require.NoError(t, rt.Run(ctx))
	rt.Close()

	got := readFrames(t, module, 3)
	assert.Equal(t, sent, got)
}

func TestLiveRuntime_Components(t *testing.T) {
	module := moduleSocket(t)
	cfg := loadCfg(t, `
udp:
  dest: '`+module.LocalAddr().String()+`'
  listen: '127.0.0.1:0'
web:
  enable: false
`)
	rt, err := newLiveRuntime(context.Background(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer rt.Close()

	c := rt.components()
	assert.Equal(t, "network", c["mode"])
	assert.Equal(t, module.LocalAddr().String(), c["udp_dest"])
	assert.Contains(t, c, "sender")
	assert.Contains(t, c, "listener")
	assert.NotContains(t, c, "gps")
}

func TestLiveRuntime_InboundThroughListener(t *testing.T) {
	module := moduleSocket(t)
	cfg := loadCfg(t, `
udp:
  dest: '`+module.LocalAddr().String()+`'
  listen: '127.0.0.1:0'
web:
  enable: false
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt, err := newLiveRuntime(ctx, cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer rt.Close()

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	conn, err := net.DialUDP("udp", nil, rt.listener.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	frame := pgn.SteerData{ActualAngleX100: 250, Switches: pgn.SwitchByte(true, true, false, false)}.Frame()
	require.Eventually(t, func() bool {
		_, _ = conn.Write(frame)
		return rt.pipe.Counters().InboundFrames > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewLiveRuntime_MissingReplayLog(t *testing.T) {
	cfg := loadCfg(t, `
udp:
  dest: '127.0.0.1:9'
replay:
  enable: true
  path: '`+filepath.Join(t.TempDir(), "absent.log")+`'
web:
  enable: false
`)
	_, err := newLiveRuntime(context.Background(), cfg, zerolog.Nop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay log")
}
