package pipeline

import (
	"context"

	"agsteer/internal/pgn"

	"github.com/pkg/errors"
)

// HandleInbound routes a frame from a hardware module. Steer data and sensor
// values are folded into the state at the next cycle. Frames with an unknown
// id are ignored; malformed frames are rejected, counted and returned as an
// error.
func (p *Pipeline) HandleInbound(frame []byte) error {
	id, err := pgn.MessageID(frame)
	if err != nil {
		return p.reject(err)
	}
	switch id {
	case pgn.IDSteerData:
		d, err := pgn.ParseSteerData(frame)
		if err != nil {
			return p.reject(err)
		}
		p.inMu.Lock()
		p.in.steer = d
		p.in.haveSteer = true
		p.inMu.Unlock()
	case pgn.IDSensorData:
		s, err := pgn.ParseSensorData(frame)
		if err != nil {
			return p.reject(err)
		}
		p.inMu.Lock()
		p.in.sensor = s.Value
		p.inMu.Unlock()
	default:
		return nil
	}
	p.inboundFrames.Add(1)
	return nil
}

func (p *Pipeline) reject(err error) error {
	p.inboundRejected.Add(1)
	p.ins.inboundRejects.Add(context.Background(), 1)
	p.sampled.Debug().Err(err).Msg("inbound frame rejected")
	return errors.Wrap(err, "inbound")
}
