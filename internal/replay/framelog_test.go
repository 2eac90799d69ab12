package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agsteer/internal/pgn"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

type captureSender struct{ frames [][]byte }

func (c *captureSender) Send(f []byte) error {
	c.frames = append(c.frames, append([]byte(nil), f...))
	return nil
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, 0102
10, 0a 0b
`)
	recs, err := NewReader(in).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Nil(t, recs[0].Frame)
	assert.Equal(t, Record{At: 0, Frame: []byte{0x01, 0x02}}, recs[1])
	assert.Equal(t, Record{At: 10, Frame: []byte{0x0a, 0x0b}}, recs[2])
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, in := range []string{
		"not-a-valid-line\n",
		"START\n,0102\n",
		"x,0102\n",
		"-5,0102\n",
		"5,zz\n",
	} {
		_, err := NewReader(strings.NewReader(in)).ReadAll()
		assert.Error(t, err, in)
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.log")
	w, err := CreateWriter(path)
	require.NoError(t, err)

	frames := [][]byte{
		pgn.NewSteerCommand(8, pgn.StatusGPSValid, -1.5, 0.2, 1).Frame(),
		pgn.MachineState{SpeedX10: 80}.Frame(),
		pgn.DefaultSteerSettings().Frame(),
	}
	now := time.Now()
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(now, f))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.True(t, errors.Is(w.WriteFrame(now, frames[0]), ErrWriterClosed))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for i, fr := range frames {
		assert.Equal(t, fr, recs[i+1].Frame)
	}
}

func TestWriter_RelativeTimes(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w, err := NewWriter(nopCloser{&buf}, start)
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(start.Add(-time.Second), []byte{0xAB}))
	require.NoError(t, w.WriteFrame(start.Add(1500*time.Microsecond), []byte{0x01, 0xFF}))
	require.NoError(t, w.Flush())
	assert.Equal(t, "START\n0,ab\n1500000,01ff\n", buf.String())
	assert.Error(t, w.WriteFrame(start, nil))
}

func TestRecorder_ForwardsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	start := time.Unix(100, 0)
	w, err := NewWriter(nopCloser{&buf}, start)
	require.NoError(t, err)
	next := &captureSender{}
	r := NewRecorder(next, w, func() time.Time { return start.Add(time.Millisecond) })

	frame := pgn.SensorData{Value: 3}.Frame()
	require.NoError(t, r.Send(frame))
	require.NoError(t, w.Close())

	require.Len(t, next.frames, 1)
	assert.Equal(t, frame, next.frames[0])
	recs, err := NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, time.Millisecond, recs[1].At)

	assert.NoError(t, r.Send(frame), "a closed log does not block sending")
	assert.True(t, errors.Is(r.Err(), ErrWriterClosed))
	assert.Len(t, next.frames, 2)
}

func TestPlay_RespectsRelativeTimingAndStart(t *testing.T) {
	recs := []Record{
		{},
		{At: 0, Frame: []byte{1}},
		{At: 100 * time.Millisecond, Frame: []byte{2}},
		{At: 5 * time.Second},
		{At: 5 * time.Second, Frame: []byte{3}},
		{At: 5*time.Second + 40*time.Millisecond, Frame: []byte{4}},
	}
	fs := &fakeSleeper{}
	var got []byte
	err := Play(recs, 2.0, false, fs, func(f []byte) error {
		got = append(got, f[0])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 20 * time.Millisecond}, fs.slept)
}

func TestPlay_Errors(t *testing.T) {
	cb := func([]byte) error { return nil }
	assert.Error(t, Play(nil, 1, false, nil, cb))
	assert.Error(t, Play([]Record{{Frame: []byte{1}}}, 0, false, nil, cb))
	assert.Error(t, Play([]Record{{Frame: []byte{1}}}, 1, false, nil, nil))

	stop := errors.New("stop")
	n := 0
	err := Play([]Record{{Frame: []byte{1}}}, 1, true, &fakeSleeper{}, func([]byte) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 3, n)
}

func TestSummarize(t *testing.T) {
	bad := pgn.MachineState{}.Frame()
	bad[len(bad)-1] ^= 0xFF
	recs := []Record{
		{},
		{At: 0, Frame: pgn.NewSteerCommand(5, 0, 0, 0, 0).Frame()},
		{At: 100 * time.Millisecond, Frame: pgn.NewSteerCommand(5, 0, 0, 0, 0).Frame()},
		{At: 100 * time.Millisecond, Frame: pgn.MachineState{}.Frame()},
		{At: 200 * time.Millisecond, Frame: bad},
		{At: 300 * time.Millisecond, Frame: []byte{0x01}},
	}
	s := Summarize(recs)
	assert.Equal(t, 1, s.Segments)
	assert.Equal(t, 5, s.Frames)
	assert.Equal(t, 2, s.Invalid)
	assert.Equal(t, 300*time.Millisecond, s.MaxDuration)
	assert.Equal(t, map[byte]int{pgn.IDSteerCommand: 2, pgn.IDMachineState: 1}, s.Counts)
	assert.Equal(t, []byte{pgn.IDMachineState, pgn.IDSteerCommand}, s.IDs())
}
