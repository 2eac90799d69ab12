// Package pgn encodes and decodes the fixed-layout binary frames exchanged
// with the steering and machine hardware modules.
//
// Frame layout: 0x80 0x81 src id len payload... cksum. The checksum is the
// low byte of the sum of every byte from src through the last payload byte.
// All multi-byte fields are little-endian.
package pgn

import (
	"math"

	"github.com/pkg/errors"
)

const (
	Header0 = 0x80
	Header1 = 0x81

	// SourceAgIO marks frames produced by this application.
	SourceAgIO = 0x7F

	// SourceSteerModule marks frames produced by the steering module.
	SourceSteerModule = 0x7E

	headerLen = 5

	// MinFrameLen is a frame with an empty payload.
	MinFrameLen = headerLen + 1
)

// Message ids, following the AgOpenGPS PGN numbering.
const (
	IDSteerCommand  byte = 0xFE
	IDSteerData     byte = 0xFD
	IDSteerSettings byte = 0xFC
	IDSteerConfig   byte = 0xFB
	IDSensorData    byte = 0xFA
	IDMachineState  byte = 0xEF
)

var (
	ErrShortFrame       = errors.New("pgn: frame too short")
	ErrBadHeader        = errors.New("pgn: bad header")
	ErrUnknownMessageID = errors.New("pgn: unexpected message id")
	ErrTruncated        = errors.New("pgn: payload truncated")
	ErrChecksumMismatch = errors.New("pgn: checksum mismatch")
)

// Checksum returns the 8-bit truncating sum of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Builder is a reusable buffer for one message type. The header is written
// once; each encode rewrites the payload and checksum in place.
//
// A Builder must not be used from two goroutines at once.
type Builder struct {
	buf []byte
}

func NewBuilder(id byte, payloadLen int) *Builder {
	buf := make([]byte, headerLen+payloadLen+1)
	buf[0] = Header0
	buf[1] = Header1
	buf[2] = SourceAgIO
	buf[3] = id
	buf[4] = byte(payloadLen)
	return &Builder{buf: buf}
}

func (b *Builder) ID() byte { return b.buf[3] }

// Payload exposes the payload region for the encoder to fill.
func (b *Builder) Payload() []byte {
	return b.buf[headerLen : len(b.buf)-1]
}

// Seal writes the checksum and returns the complete frame. The returned
// slice aliases the builder and is overwritten by the next encode.
func (b *Builder) Seal() []byte {
	n := len(b.buf) - 1
	b.buf[n] = Checksum(b.buf[2:n])
	return b.buf
}

// MessageID validates framing and returns the message id, for routing.
func MessageID(frame []byte) (byte, error) {
	if len(frame) < MinFrameLen {
		return 0, ErrShortFrame
	}
	if frame[0] != Header0 || frame[1] != Header1 {
		return 0, ErrBadHeader
	}
	return frame[3], nil
}

// Unframe validates a frame for message id and returns its payload. The
// payload aliases frame.
func Unframe(frame []byte, id byte) ([]byte, error) {
	got, err := MessageID(frame)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, ErrUnknownMessageID
	}
	n := int(frame[4])
	if len(frame) < headerLen+n+1 {
		return nil, ErrTruncated
	}
	if Checksum(frame[2:headerLen+n]) != frame[headerLen+n] {
		return nil, ErrChecksumMismatch
	}
	return frame[headerLen : headerLen+n], nil
}

func unframeLen(frame []byte, id byte, min int) ([]byte, error) {
	p, err := Unframe(frame, id)
	if err != nil {
		return nil, err
	}
	if len(p) < min {
		return nil, ErrTruncated
	}
	return p, nil
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func bit(set bool, mask byte) byte {
	if set {
		return mask
	}
	return 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampFloat maps NaN to zero before clamping.
func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
