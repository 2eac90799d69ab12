package gps

import (
	"bytes"
	"strconv"
	"time"
	"unsafe"

	"github.com/pkg/errors"
)

var (
	ErrNoSentence = errors.New("nmea: no sentence")
	ErrMalformed  = errors.New("nmea: malformed sentence")
	ErrChecksum   = errors.New("nmea: checksum mismatch")
	ErrNoFix      = errors.New("nmea: packet carries no position")
)

const maxFields = 24

// Parse decodes every newline-separated sentence in raw into f. Unknown
// sentence types are skipped. A packet without a position sentence returns
// ErrNoFix. On error f may be partially updated, so callers parse into
// scratch storage.
func Parse(raw []byte, f *Fix) error {
	f.Position = false
	f.HasHeading = false
	f.HasIMU = false

	seen := 0
	for len(raw) > 0 {
		var line []byte
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			line, raw = raw, nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := parseSentence(line, f); err != nil {
			return err
		}
		seen++
	}
	if seen == 0 {
		return ErrNoSentence
	}
	if !f.Position {
		return ErrNoFix
	}
	return nil
}

// SentenceType returns the sentence type without the talker prefix, e.g.
// "GGA" for "$GNGGA,...". It returns nil for anything that is not NMEA.
func SentenceType(line []byte) []byte {
	if len(line) < 4 || line[0] != '$' {
		return nil
	}
	end := bytes.IndexByte(line, ',')
	if end < 0 {
		end = bytes.IndexByte(line, '*')
	}
	if end < 4 {
		return nil
	}
	t := line[1:end]
	if string(t) == "PANDA" {
		return t
	}
	return t[len(t)-3:]
}

func parseSentence(line []byte, f *Fix) error {
	if line[0] != '$' {
		return ErrMalformed
	}
	star := bytes.LastIndexByte(line, '*')
	if star < 0 || len(line) < star+3 {
		return ErrMalformed
	}
	payload := line[1:star]
	want, ok := hexByte(line[star+1], line[star+2])
	if !ok {
		return ErrMalformed
	}
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	if sum != want {
		return ErrChecksum
	}

	var fs [maxFields][]byte
	n := split(payload, fs[:])
	switch string(SentenceType(line)) {
	case "GGA":
		return applyGGA(fs[:n], f)
	case "RMC":
		return applyRMC(fs[:n], f)
	case "VTG":
		return applyVTG(fs[:n], f)
	case "PANDA":
		return applyPANDA(fs[:n], f)
	}
	return nil
}

// split fills out with comma-separated fields of p and returns the count.
// Fields beyond len(out) are dropped.
func split(p []byte, out [][]byte) int {
	n := 0
	for n < len(out) {
		i := bytes.IndexByte(p, ',')
		if i < 0 {
			out[n] = p
			return n + 1
		}
		out[n] = p[:i]
		p = p[i+1:]
		n++
	}
	return n
}

//	1 time  2 lat  3 N/S  4 lon  5 E/W  6 quality  7 sats  8 hdop
//	9 alt  10 M  11 geoid  12 M  13 diff age  14 station
func applyGGA(fs [][]byte, f *Fix) error {
	if len(fs) < 10 {
		return ErrMalformed
	}
	lat, lon, ok := latLon(fs[2], fs[3], fs[4], fs[5])
	if !ok {
		return ErrMalformed
	}
	q, ok := parseInt(fs[6])
	if !ok {
		return ErrMalformed
	}
	f.Lat, f.Lon = lat, lon
	f.Quality = q
	f.Position = true
	if t, ok := timeOfDay(fs[1]); ok {
		f.TimeOfDay = t
	}
	if v, ok := parseInt(fs[7]); ok {
		f.Satellites = v
	}
	if v, ok := parseFloat(fs[8]); ok {
		f.HDOP = v
	}
	if v, ok := parseFloat(fs[9]); ok {
		f.AltM = v
	}
	if len(fs) > 13 {
		if v, ok := parseFloat(fs[13]); ok {
			f.DiffAge = v
		}
	}
	return nil
}

//	1 time  2 status  3 lat  4 N/S  5 lon  6 E/W  7 speed kn  8 course  9 date
func applyRMC(fs [][]byte, f *Fix) error {
	if len(fs) < 9 {
		return ErrMalformed
	}
	if string(fs[2]) != "A" {
		return nil
	}
	lat, lon, ok := latLon(fs[3], fs[4], fs[5], fs[6])
	if !ok {
		return ErrMalformed
	}
	f.Lat, f.Lon = lat, lon
	f.Position = true
	if f.Quality == QualityInvalid {
		f.Quality = QualityGPS
	}
	if t, ok := timeOfDay(fs[1]); ok {
		f.TimeOfDay = t
	}
	if v, ok := parseFloat(fs[7]); ok {
		f.SpeedKmh = v * knotsToKmh
	}
	if v, ok := parseFloat(fs[8]); ok {
		f.HeadingDeg = v
		f.HasHeading = true
	}
	return nil
}

//	1 course true  2 T  3 course mag  4 M  5 speed kn  6 N  7 speed km/h  8 K
func applyVTG(fs [][]byte, f *Fix) error {
	if len(fs) < 8 {
		return ErrMalformed
	}
	if v, ok := parseFloat(fs[1]); ok {
		f.HeadingDeg = v
		f.HasHeading = true
	}
	if v, ok := parseFloat(fs[7]); ok {
		f.SpeedKmh = v
	} else if v, ok := parseFloat(fs[5]); ok {
		f.SpeedKmh = v * knotsToKmh
	}
	return nil
}

//	1 time  2 lat  3 N/S  4 lon  5 E/W  6 quality  7 sats  8 hdop  9 alt
//	10 diff age  11 speed kn  12 imu heading  13 roll  14 pitch  15 yaw rate
func applyPANDA(fs [][]byte, f *Fix) error {
	if len(fs) < 16 {
		return ErrMalformed
	}
	lat, lon, ok := latLon(fs[2], fs[3], fs[4], fs[5])
	if !ok {
		return ErrMalformed
	}
	q, ok := parseInt(fs[6])
	if !ok {
		return ErrMalformed
	}
	f.Lat, f.Lon = lat, lon
	f.Quality = q
	f.Position = true
	if t, ok := timeOfDay(fs[1]); ok {
		f.TimeOfDay = t
	}
	if v, ok := parseInt(fs[7]); ok {
		f.Satellites = v
	}
	if v, ok := parseFloat(fs[8]); ok {
		f.HDOP = v
	}
	if v, ok := parseFloat(fs[9]); ok {
		f.AltM = v
	}
	if v, ok := parseFloat(fs[10]); ok {
		f.DiffAge = v
	}
	if v, ok := parseFloat(fs[11]); ok {
		f.SpeedKmh = v * knotsToKmh
	}
	heading, hok := parseFloat(fs[12])
	roll, rok := parseFloat(fs[13])
	if hok && rok {
		f.IMUHeadingDeg = heading
		f.RollDeg = roll
		f.HasIMU = true
	}
	if v, ok := parseFloat(fs[14]); ok {
		f.PitchDeg = v
	}
	if v, ok := parseFloat(fs[15]); ok {
		f.YawRate = v
	}
	return nil
}

// latLon parses ddmm.mmmm / dddmm.mmmm pairs with hemispheres.
func latLon(lat, ns, lon, ew []byte) (float64, float64, bool) {
	la, ok := degMin(lat)
	if !ok || len(ns) != 1 {
		return 0, 0, false
	}
	lo, ok := degMin(lon)
	if !ok || len(ew) != 1 {
		return 0, 0, false
	}
	switch ns[0] {
	case 'N':
	case 'S':
		la = -la
	default:
		return 0, 0, false
	}
	switch ew[0] {
	case 'E':
	case 'W':
		lo = -lo
	default:
		return 0, 0, false
	}
	return la, lo, true
}

func degMin(v []byte) (float64, bool) {
	intLen := bytes.IndexByte(v, '.')
	if intLen < 0 {
		intLen = len(v)
	}
	if intLen < 3 {
		return 0, false
	}
	deg, ok := parseInt(v[:intLen-2])
	if !ok {
		return 0, false
	}
	mins, ok := parseFloat(v[intLen-2:])
	if !ok || mins >= 60 {
		return 0, false
	}
	return float64(deg) + mins/60, true
}

// timeOfDay parses hhmmss.sss.
func timeOfDay(v []byte) (time.Duration, bool) {
	if len(v) < 6 {
		return 0, false
	}
	h, ok1 := parseInt(v[0:2])
	m, ok2 := parseInt(v[2:4])
	s, ok3 := parseFloat(v[4:])
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s*float64(time.Second)), true
}

func parseFloat(b []byte) (float64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(bstr(b), 64)
	return v, err == nil
}

func parseInt(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(bstr(b))
	return v, err == nil
}

// bstr views b as a string without copying. Only for transient parsing.
func bstr(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

func hexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexNibble(hi)
	l, ok2 := hexNibble(lo)
	return h<<4 | l, ok1 && ok2
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
