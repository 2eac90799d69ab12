package gps

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpoch_Batching(t *testing.T) {
	e := newEpoch()
	assert.Nil(t, e.add([]byte(ggaLine)))
	pkt := e.add([]byte(vtgLine))
	require.NotNil(t, pkt)
	assert.Equal(t, ggaLine+"\n"+vtgLine+"\n", string(pkt))

	// GGA-only receivers flush on the next epoch.
	assert.Nil(t, e.add([]byte(ggaLine)))
	pkt = e.add([]byte(ggaLine))
	assert.Equal(t, ggaLine+"\n", string(pkt))

	e = newEpoch()
	assert.Equal(t, pandaLine+"\n", string(e.add([]byte(pandaLine))))
	assert.Nil(t, e.add([]byte("not nmea")))
}

func TestService_ReadNMEADeliversEpochs(t *testing.T) {
	var got []string
	s := New(Config{Enable: true, Logger: zerolog.Nop()}, Handlers{Packet: func(raw []byte) {
		got = append(got, string(raw))
	}})

	input := strings.Join([]string{
		"garbage",
		ggaLine + "\r",
		vtgLine + "\r",
		pandaLine + "\r",
		ggaLine,
	}, "\n")
	s.readNMEA(context.Background(), strings.NewReader(input))

	require.Len(t, got, 3)
	assert.Equal(t, pandaLine+"\n", got[1])
	assert.Equal(t, ggaLine+"\n", got[2], "trailing epoch flushed at EOF")

	st := s.Status()
	assert.Equal(t, uint64(3), st.Packets)
	assert.Contains(t, st.LastError, "EOF")

	var f Fix
	assert.NoError(t, Parse([]byte(got[0]), &f))
}

func TestService_StartValidation(t *testing.T) {
	assert.NoError(t, New(Config{}, Handlers{}).Start(context.Background()))
	assert.Error(t, New(Config{Enable: true, Source: "gpsd"}, Handlers{}).Start(context.Background()))
	assert.Error(t, New(Config{Enable: true, Source: "carrier-pigeon"}, Handlers{}).Start(context.Background()))
}

func TestGPSDState(t *testing.T) {
	var st gpsdState
	ok, err := st.applyLine([]byte(`{"class":"SKY","hdop":0.7,"satellites":[{"used":true},{"used":false},{"used":true}]}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, st.fix.Satellites)

	ok, err = st.applyLine([]byte(`{"class":"TPV","mode":3,"status":3,"time":"2024-05-01T10:00:01.500Z","lat":52.1,"lon":-1.5,"altMSL":80,"speed":2.5,"track":91.0}`))
	require.NoError(t, err)
	require.True(t, ok)
	f := st.fix
	assert.True(t, f.Valid())
	assert.Equal(t, QualityRTKFix, f.Quality)
	assert.InDelta(t, 9.0, f.SpeedKmh, 1e-9)
	assert.InDelta(t, 0.7, f.HDOP, 1e-12)
	assert.True(t, f.HasHeading)
	assert.Equal(t, "10h0m1.5s", f.TimeOfDay.String())

	ok, err = st.applyLine([]byte(`{"class":"TPV","mode":1}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, st.fix.Valid())

	_, err = st.applyLine([]byte(`{`))
	assert.Error(t, err)
}
