package gps

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON reports in SI units.
func gpsdWatch(w io.Writer) error {
	_, err := io.WriteString(w, "?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n")
	return err
}

type gpsdTPV struct {
	Class  string   `json:"class"`
	Mode   int      `json:"mode"`
	Status int      `json:"status"`
	Time   string   `json:"time"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	AltMSL *float64 `json:"altMSL"`
	Alt    *float64 `json:"alt"`
	Speed  *float64 `json:"speed"`
	Track  *float64 `json:"track"`
	DGPS   *float64 `json:"dgpsAge"`
}

type gpsdSat struct {
	Used bool `json:"used"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	HDOP       *float64  `json:"hdop"`
	USat       *int      `json:"uSat"`
	Satellites []gpsdSat `json:"satellites"`
}

// gpsdState folds TPV and SKY reports into a Fix.
type gpsdState struct {
	fix Fix
}

// applyLine returns true when the line completed a fix worth delivering.
func (s *gpsdState) applyLine(line []byte) (bool, error) {
	var base struct {
		Class string `json:"class"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return false, errors.Wrap(err, "gpsd json")
	}
	switch base.Class {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal(line, &tpv); err != nil {
			return false, errors.Wrap(err, "gpsd tpv")
		}
		return s.applyTPV(tpv), nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal(line, &sky); err != nil {
			return false, errors.Wrap(err, "gpsd sky")
		}
		s.applySKY(sky)
	}
	return false, nil
}

func (s *gpsdState) applyTPV(tpv gpsdTPV) bool {
	f := &s.fix
	f.Position, f.HasHeading = false, false
	if tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		f.Quality = QualityInvalid
		return false
	}
	f.Lat, f.Lon = *tpv.Lat, *tpv.Lon
	f.Position = true
	f.Quality = gpsdQuality(tpv.Status)
	if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
		t = t.UTC()
		f.TimeOfDay = t.Sub(t.Truncate(24 * time.Hour))
	}
	if alt := tpv.AltMSL; alt != nil {
		f.AltM = *alt
	} else if tpv.Alt != nil {
		f.AltM = *tpv.Alt
	}
	if tpv.Speed != nil {
		f.SpeedKmh = *tpv.Speed * 3.6
	}
	if tpv.Track != nil {
		f.HeadingDeg = *tpv.Track
		f.HasHeading = true
	}
	if tpv.DGPS != nil {
		f.DiffAge = *tpv.DGPS
	}
	return true
}

func (s *gpsdState) applySKY(sky gpsdSKY) {
	if sky.HDOP != nil {
		s.fix.HDOP = *sky.HDOP
	}
	switch {
	case sky.USat != nil:
		s.fix.Satellites = *sky.USat
	case len(sky.Satellites) > 0:
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.fix.Satellites = used
	}
}

// gpsdQuality maps TPV status onto GGA fix quality.
func gpsdQuality(status int) int {
	switch status {
	case 2:
		return QualityDGPS
	case 3:
		return QualityRTKFix
	case 4:
		return QualityRTKFlt
	default:
		return QualityGPS
	}
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.updateStatusLocked(func(st *Status) { st.Device = addr })

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info().Str("addr", addr).Msg("gpsd reader started")
		backoff := 250 * time.Millisecond
		const maxBackoff = 10 * time.Second
		var st gpsdState
		for {
			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("gpsd dial %s: %v", addr, err))
				select {
				case <-childCtx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			s.closer = conn
			s.mu.Unlock()

			s.readGPSD(childCtx, conn, &st)
			_ = conn.Close()
			if childCtx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

func (s *Service) readGPSD(ctx context.Context, conn net.Conn, st *gpsdState) {
	if err := gpsdWatch(conn); err != nil {
		s.setError(fmt.Sprintf("gpsd watch: %v", err))
		return
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		ok, err := st.applyLine(sc.Bytes())
		if err != nil {
			s.setError(err.Error())
			continue
		}
		if ok {
			s.packets.Add(1)
			s.updateStatus(func(stat *Status) { stat.LastRxUTC = time.Now().UTC() })
			s.h.Fix(st.fix)
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
}
