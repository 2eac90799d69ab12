package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"agsteer/internal/pgn"
	"agsteer/internal/replay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageName(t *testing.T) {
	assert.Equal(t, "steer_command", messageName(pgn.IDSteerCommand))
	assert.Equal(t, "machine_state", messageName(pgn.IDMachineState))
	assert.Equal(t, "unknown", messageName(0x10))
}

func TestPrintLogSummary_PrintsExpectedFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "frames.log")

	w, err := replay.CreateWriter(logPath)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, w.WriteFrame(now, pgn.DefaultSteerSettings().Frame()))
	require.NoError(t, w.WriteFrame(now.Add(100*time.Millisecond), pgn.NewSteerCommand(5, 0, 0, 0, 0).Frame()))
	require.NoError(t, w.WriteFrame(now.Add(200*time.Millisecond), pgn.NewSteerCommand(5, 0, 1, 0, 0).Frame()))
	bad := pgn.MachineState{}.Frame()
	bad[len(bad)-1] ^= 0xFF
	require.NoError(t, w.WriteFrame(now.Add(300*time.Millisecond), bad))
	require.NoError(t, w.Close())

	var out bytes.Buffer
	require.NoError(t, printLogSummary(&out, logPath))

	s := out.String()
	assert.Contains(t, s, "path: "+logPath+"\n")
	assert.Contains(t, s, "segments: 1\n")
	assert.Contains(t, s, "frames: 4\n")
	assert.Contains(t, s, "invalid_frames: 1\n")
	assert.Contains(t, s, "msg_id_counts:\n")
	assert.Contains(t, s, "  0xFC steer_settings: 1\n")
	assert.Contains(t, s, "  0xFE steer_command: 2\n")
	assert.NotContains(t, s, "machine_state")
}

func TestPrintLogSummary_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.EqualError(t, printLogSummary(&out, "  "), "path is empty")
	assert.Error(t, printLogSummary(&out, filepath.Join(t.TempDir(), "absent.log")))
}
