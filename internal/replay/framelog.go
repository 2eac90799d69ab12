// Package replay records outbound steering frames and plays them back for
// regression runs.
//
// Log format is line-oriented text:
//
//   - Blank lines and lines starting with '#' are ignored.
//   - "START" resets the origin; following times are relative to 0 again.
//   - Data lines are <t_ns>,<hex> where t_ns is nanoseconds since START and
//     hex is the raw frame.
package replay

import (
	"bufio"
	"encoding/hex"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"agsteer/internal/pgn"

	"github.com/pkg/errors"
)

var ErrWriterClosed = errors.New("replay writer is closed")

type Record struct {
	At    time.Duration
	Frame []byte // nil marks START
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "read replay log")
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	comma := strings.IndexByte(line, ',')
	if comma < 0 {
		return Record{}, errors.Errorf("missing comma: %q", line)
	}
	tsStr := strings.TrimSpace(line[:comma])
	hexStr := strings.ReplaceAll(strings.TrimSpace(line[comma+1:]), " ", "")
	if tsStr == "" || hexStr == "" {
		return Record{}, errors.Errorf("empty field: %q", line)
	}
	ns, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, errors.Wrapf(err, "timestamp %q", tsStr)
	}
	if ns < 0 {
		return Record{}, errors.Errorf("negative timestamp %d", ns)
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return Record{}, errors.Wrap(err, "hex payload")
	}
	return Record{At: time.Duration(ns), Frame: b}, nil
}

// Writer appends frames to a log. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	c      io.Closer
	w      *bufio.Writer
	start  time.Time
	line   []byte
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create replay log")
	}
	ww, err := NewWriter(f, time.Now())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return ww, nil
}

// NewWriter writes a START marker to w; frame times are measured from start.
func NewWriter(w io.WriteCloser, start time.Time) (*Writer, error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		return nil, errors.Wrap(err, "write START")
	}
	return &Writer{c: w, w: bw, start: start, line: make([]byte, 0, 128)}, nil
}

func (ww *Writer) WriteFrame(now time.Time, frame []byte) error {
	if frame == nil {
		return errors.New("frame is nil")
	}
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return ErrWriterClosed
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	ww.line = strconv.AppendInt(ww.line[:0], d.Nanoseconds(), 10)
	ww.line = append(ww.line, ',')
	ww.line = hex.AppendEncode(ww.line, frame)
	ww.line = append(ww.line, '\n')
	_, err := ww.w.Write(ww.line)
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.c.Close()
		return err
	}
	return ww.c.Close()
}

// Sender is the outbound side of a transport.
type Sender interface {
	Send(frame []byte) error
}

// Recorder forwards frames to next and logs every frame it is given. Log
// failures do not affect the send.
type Recorder struct {
	next Sender
	w    *Writer
	now  func() time.Time

	errMu   sync.Mutex
	lastErr error
}

func NewRecorder(next Sender, w *Writer, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{next: next, w: w, now: now}
}

func (r *Recorder) Send(frame []byte) error {
	if err := r.w.WriteFrame(r.now(), frame); err != nil {
		r.errMu.Lock()
		r.lastErr = err
		r.errMu.Unlock()
	}
	if r.next == nil {
		return nil
	}
	return r.next.Send(frame)
}

// Err returns the most recent log write error.
func (r *Recorder) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play replays records with their relative timing, calling cb for each
// frame. speed scales the waits: 2.0 halves them.
func Play(records []Record, speed float64, loop bool, sleeper Sleeper, cb func(frame []byte) error) error {
	if speed <= 0 {
		return errors.New("speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var origin, lastAt time.Duration
		haveLast := false
		for _, r := range records {
			if r.Frame == nil {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}
			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				if wait := time.Duration(float64(at-lastAt) / speed); wait > 0 {
					sleeper.Sleep(wait)
				}
			}
			if err := cb(r.Frame); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}
		if !loop {
			return nil
		}
	}
}

// Summary describes a recorded log.
type Summary struct {
	Segments    int
	Frames      int
	Invalid     int
	MaxDuration time.Duration
	Counts      map[byte]int
}

// Summarize counts frames by PGN id. Frames failing the header or checksum
// check are counted as invalid.
func Summarize(records []Record) Summary {
	s := Summary{Counts: map[byte]int{}}
	var origin time.Duration
	for _, r := range records {
		if r.Frame == nil {
			s.Segments++
			origin = r.At
			continue
		}
		s.Frames++
		if at := r.At - origin; at > s.MaxDuration {
			s.MaxDuration = at
		}
		id, err := pgn.MessageID(r.Frame)
		if err == nil {
			_, err = pgn.Unframe(r.Frame, id)
		}
		if err != nil {
			s.Invalid++
			continue
		}
		s.Counts[id]++
	}
	if s.Segments == 0 && s.Frames > 0 {
		s.Segments = 1
	}
	return s
}

// IDs returns the message ids present in the summary, ascending.
func (s Summary) IDs() []byte {
	ids := make([]byte, 0, len(s.Counts))
	for id := range s.Counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
