package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer is a fixed ring of the most recent console log lines, served by
// /api/logs. It implements io.Writer so the logger can tee into it.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []string
	next    int
	total   uint64
	partial []byte
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{ring: make([]string, maxLines)}
}

// Write stores complete lines. A trailing fragment is held until the write
// that finishes it.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := p
	if len(b.partial) > 0 {
		rest = append(b.partial, p...)
		b.partial = nil
	}
	for {
		line, after, ok := bytes.Cut(rest, []byte{'\n'})
		if !ok {
			break
		}
		b.push(string(bytes.TrimRight(line, "\r")))
		rest = after
	}
	if len(rest) > 0 {
		b.partial = append([]byte(nil), rest...)
	}
	return len(p), nil
}

func (b *LogBuffer) push(line string) {
	if line == "" {
		return
	}
	b.ring[b.next] = line
	b.next = (b.next + 1) % len(b.ring)
	b.total++
}

func (b *LogBuffer) held() int {
	if b.total < uint64(len(b.ring)) {
		return int(b.total)
	}
	return len(b.ring)
}

// Snapshot returns up to tail of the newest lines containing match (all
// lines when match is empty), oldest first, and how many lines the ring has
// overwritten.
func (b *LogBuffer) Snapshot(tail int, match string) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tail <= 0 {
		tail = 200
	}
	n := b.held()
	for i := 1; i <= n && len(lines) < tail; i++ {
		line := b.ring[(b.next-i+len(b.ring))%len(b.ring)]
		if match == "" || strings.Contains(line, match) {
			lines = append(lines, line)
		}
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, b.total - uint64(n)
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

// Handler serves GET /api/logs. Query: tail=1..5000, component=<name> to keep
// one component's lines, format=text for plain output.
func (b *LogBuffer) Handler() http.Handler {
	return get(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		tail := 200
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}
		match := ""
		if c := strings.TrimSpace(q.Get("component")); c != "" {
			match = "component=" + c
		}
		lines, dropped := b.Snapshot(tail, match)

		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = fmt.Fprintln(w, line)
			}
			return
		}
		if lines == nil {
			lines = []string{}
		}
		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Lines:   lines,
		})
	})
}
