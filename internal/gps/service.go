package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config controls the receiver reader.
//
// Device may be empty to auto-detect /dev/ttyACM* and /dev/ttyUSB*.
type Config struct {
	Enable bool

	// Source is "nmea" (serial) or "gpsd". Empty means "nmea".
	Source string

	Device string
	Baud   int

	GPSDAddr string

	Logger zerolog.Logger
}

// Handlers receive ingest output. Packet gets raw NMEA epochs from the serial
// source; Fix gets decoded fixes from gpsd. Both are called from the reader
// goroutine and must not block.
type Handlers struct {
	Packet func(raw []byte)
	Fix    func(fix Fix)
}

type Status struct {
	Enabled bool   `json:"enabled"`
	Source  string `json:"source"`
	Device  string `json:"device,omitempty"`
	Baud    int    `json:"baud,omitempty"`

	Packets   uint64    `json:"packets"`
	LastRxUTC time.Time `json:"last_rx_utc,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config
	h   Handlers
	log zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	packets atomic.Uint64
	last    atomic.Value // Status

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config, h Handlers) *Service {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = "nmea"
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	s := &Service{cfg: cfg, h: h, log: cfg.Logger.With().Str("component", "gps").Logger()}
	s.last.Store(Status{Enabled: cfg.Enable, Source: cfg.Source, Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enable {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	switch s.cfg.Source {
	case "gpsd":
		if s.h.Fix == nil {
			return errors.New("gps: gpsd source needs a fix handler")
		}
		return s.startGPSDLocked(ctx)
	case "nmea":
		if s.h.Packet == nil {
			return errors.New("gps: nmea source needs a packet handler")
		}
		return s.startSerialLocked(ctx)
	default:
		return errors.Errorf("gps: unknown source %q", s.cfg.Source)
	}
}

func (s *Service) startSerialLocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("no /dev/ttyACM* or /dev/ttyUSB* found")
			return errors.New("gps: auto-detect failed")
		}
	}
	f, err := openSerial(device, s.cfg.Baud)
	if err != nil {
		s.setErrorLocked(err.Error())
		return errors.Wrapf(err, "gps: device=%s baud=%d", device, s.cfg.Baud)
	}
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.updateStatusLocked(func(st *Status) { st.Device = device })

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = f.Close() }()
		s.log.Info().Str("device", device).Int("baud", s.cfg.Baud).Msg("gps reader started")
		s.readNMEA(childCtx, f)
	}()
	return nil
}

// readNMEA scans sentences from r and delivers complete epochs.
func (s *Service) readNMEA(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), 4096)
	ep := newEpoch()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sc.Scan() {
			err := sc.Err()
			if err == nil {
				err = io.EOF
			}
			s.setError(fmt.Sprintf("read stopped: %v", err))
			if pkt := ep.take(); pkt != nil {
				s.deliver(pkt)
			}
			return
		}
		line := trimLine(sc.Bytes())
		if len(line) == 0 || line[0] != '$' {
			continue
		}
		if pkt := ep.add(line); pkt != nil {
			s.deliver(pkt)
		}
	}
}

func (s *Service) deliver(pkt []byte) {
	s.packets.Add(1)
	s.updateStatus(func(st *Status) { st.LastRxUTC = time.Now().UTC() })
	s.h.Packet(pkt)
}

func (s *Service) Close() {
	s.mu.Lock()
	cancel, closer := s.cancel, s.closer
	s.cancel, s.closer = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Status() Status {
	st, _ := s.last.Load().(Status)
	st.Packets = s.packets.Load()
	return st
}

func (s *Service) updateStatus(fn func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateStatusLocked(fn)
}

func (s *Service) updateStatusLocked(fn func(*Status)) {
	st, _ := s.last.Load().(Status)
	fn(&st)
	s.last.Store(st)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	st, _ := s.last.Load().(Status)
	st.LastError = msg
	s.last.Store(st)
	s.log.Warn().Msg(msg)
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	for len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	return b
}

func autoDetectDevice() string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}
