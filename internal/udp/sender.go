// Package udp carries PGN frames between the pipeline and the steering
// module, and position packets from network receivers into the pipeline.
package udp

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueue is the number of frames a Sender buffers before dropping.
	DefaultQueue = 32

	maxFrame = 256
)

var (
	ErrQueueFull = errors.New("udp: send queue full")
	ErrClosed    = errors.New("udp: sender closed")
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

func dialUDP(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	return net.DialUDP(network, laddr, raddr)
}

// Sender writes frames to a fixed destination from its own goroutine.
// Send copies the frame into a preallocated slot and never blocks; when all
// slots are in flight the frame is dropped.
type Sender struct {
	dest string
	conn udpConn
	log  zerolog.Logger

	free  chan *slot
	queue chan *slot

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type slot struct {
	buf [maxFrame]byte
	n   int
}

type SenderStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func NewSender(dest string, queue int, log zerolog.Logger) (*Sender, error) {
	return newSender(dest, queue, log, net.ResolveUDPAddr, dialUDP)
}

func newSender(dest string, queue int, log zerolog.Logger, resolve resolveFunc, dial dialFunc) (*Sender, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, errors.Wrap(err, "resolve dest")
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial udp")
	}
	if queue <= 0 {
		queue = DefaultQueue
	}
	s := &Sender{
		dest:  dest,
		conn:  conn,
		log:   log,
		free:  make(chan *slot, queue),
		queue: make(chan *slot, queue),
		done:  make(chan struct{}),
	}
	for i := 0; i < queue; i++ {
		s.free <- &slot{}
	}
	go s.run()
	return s, nil
}

func (s *Sender) Dest() string { return s.dest }

// Send queues a copy of frame. Frames longer than a slot are rejected.
func (s *Sender) Send(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	if len(frame) > maxFrame {
		return errors.Errorf("udp: frame of %d bytes exceeds %d", len(frame), maxFrame)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	var sl *slot
	select {
	case sl = <-s.free:
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
	sl.n = copy(sl.buf[:], frame)
	s.queue <- sl
	return nil
}

func (s *Sender) run() {
	defer close(s.done)
	for sl := range s.queue {
		if _, err := s.conn.Write(sl.buf[:sl.n]); err != nil {
			s.failed.Add(1)
			s.log.Debug().Err(err).Str("dest", s.dest).Msg("udp write failed")
		} else {
			s.sent.Add(1)
		}
		s.free <- sl
	}
}

func (s *Sender) Stats() SenderStats {
	return SenderStats{Sent: s.sent.Load(), Dropped: s.dropped.Load(), Failed: s.failed.Load()}
}

// Close drains queued frames and closes the socket.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return s.conn.Close()
}
