package gps

// epoch groups serial sentences into one packet per receiver epoch so that
// position and course arrive at the pipeline together.
//
// A batch is flushed when it holds a position and a course, or when a
// sentence type repeats (the receiver moved on to the next epoch).
type epoch struct {
	buf     []byte
	types   [8][5]byte
	ntypes  int
	hasPos  bool
	hasCOG  bool
	maxSize int
}

func newEpoch() *epoch {
	return &epoch{buf: make([]byte, 0, 512), maxSize: 4096}
}

// add appends line and returns a packet to deliver, or nil. The returned
// slice is valid until the next call.
func (e *epoch) add(line []byte) []byte {
	typ := SentenceType(line)
	if typ == nil {
		return nil
	}
	var out []byte
	if e.seen(typ) || len(e.buf)+len(line)+1 > e.maxSize {
		out = e.take()
	}
	e.buf = append(e.buf, line...)
	e.buf = append(e.buf, '\n')
	e.mark(typ)
	switch string(typ) {
	case "GGA", "RMC":
		e.hasPos = true
		e.hasCOG = e.hasCOG || string(typ) == "RMC"
	case "VTG":
		e.hasCOG = true
	case "PANDA":
		e.hasPos, e.hasCOG = true, true
	}
	if out != nil {
		return out
	}
	if e.hasPos && e.hasCOG {
		return e.take()
	}
	return nil
}

func (e *epoch) take() []byte {
	if len(e.buf) == 0 {
		return nil
	}
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	e.buf = e.buf[:0]
	e.ntypes = 0
	e.hasPos, e.hasCOG = false, false
	return out
}

func (e *epoch) seen(typ []byte) bool {
	for i := 0; i < e.ntypes; i++ {
		if string(e.types[i][:len(typ)]) == string(typ) && (len(typ) == 5 || e.types[i][len(typ)] == 0) {
			return true
		}
	}
	return false
}

func (e *epoch) mark(typ []byte) {
	if e.ntypes == len(e.types) {
		return
	}
	var t [5]byte
	copy(t[:], typ)
	e.types[e.ntypes] = t
	e.ntypes++
}
