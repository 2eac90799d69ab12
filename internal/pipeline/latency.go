package pipeline

import "time"

// latencyWindow is a fixed ring of cycle latencies; the oldest sample is
// overwritten once full.
type latencyWindow struct {
	samples []time.Duration
	next    int
	n       int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = DefaultLatencyWindow
	}
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) push(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.n < len(w.samples) {
		w.n++
	}
}

func (w *latencyWindow) stats() LatencyStats {
	if w.n == 0 {
		return LatencyStats{}
	}
	last := (w.next - 1 + len(w.samples)) % len(w.samples)
	st := LatencyStats{Last: w.samples[last], Samples: w.n}
	var sum time.Duration
	for i := 0; i < w.n; i++ {
		d := w.samples[i]
		sum += d
		if d > st.Max {
			st.Max = d
		}
	}
	st.Mean = sum / time.Duration(w.n)
	return st
}
