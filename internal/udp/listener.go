package udp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"agsteer/internal/pgn"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Handler receives a datagram. The slice is reused after the call returns.
type Handler func(b []byte)

// Routes selects a handler by the first byte of a datagram: '$' for NMEA
// position packets, the PGN header byte for module frames.
type Routes struct {
	NMEA  Handler
	Frame Handler
}

type ListenerStats struct {
	Packets  uint64 `json:"packets"`
	NMEA     uint64 `json:"nmea"`
	Frames   uint64 `json:"frames"`
	Unrouted uint64 `json:"unrouted"`
}

type Listener struct {
	conn   *net.UDPConn
	routes Routes
	log    zerolog.Logger

	packets  atomic.Uint64
	nmea     atomic.Uint64
	frames   atomic.Uint64
	unrouted atomic.Uint64
}

func Listen(addr string, routes Routes, log zerolog.Logger) (*Listener, error) {
	la, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve listen addr")
	}
	conn, err := net.ListenUDP("udp", la)
	if err != nil {
		return nil, errors.Wrap(err, "listen udp")
	}
	return &Listener{conn: conn, routes: routes, log: log}, nil
}

func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// Serve reads datagrams until ctx is done or the socket fails.
func (l *Listener) Serve(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read udp")
		}
		l.route(buf[:n])
	}
}

func (l *Listener) route(b []byte) {
	if len(b) == 0 {
		return
	}
	l.packets.Add(1)
	switch {
	case b[0] == '$' && l.routes.NMEA != nil:
		l.nmea.Add(1)
		l.routes.NMEA(b)
	case b[0] == pgn.Header0 && l.routes.Frame != nil:
		l.frames.Add(1)
		l.routes.Frame(b)
	default:
		l.unrouted.Add(1)
		l.log.Trace().Uint8("first", b[0]).Int("len", len(b)).Msg("unrouted datagram")
	}
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Packets:  l.packets.Load(),
		NMEA:     l.nmea.Load(),
		Frames:   l.frames.Load(),
		Unrouted: l.unrouted.Load(),
	}
}

func (l *Listener) Close() error { return l.conn.Close() }
