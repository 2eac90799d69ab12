package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"agsteer/internal/pgn"
	"agsteer/internal/replay"

	"github.com/pkg/errors"
)

var messageNames = map[byte]string{
	pgn.IDSteerCommand:  "steer_command",
	pgn.IDSteerData:     "steer_data",
	pgn.IDSteerSettings: "steer_settings",
	pgn.IDSteerConfig:   "steer_config",
	pgn.IDSensorData:    "sensor_data",
	pgn.IDMachineState:  "machine_state",
}

func messageName(id byte) string {
	if n, ok := messageNames[id]; ok {
		return n
	}
	return "unknown"
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	recs, err := replay.NewReader(f).ReadAll()
	if err != nil {
		return err
	}

	s := replay.Summarize(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "invalid_frames: %d\n", s.Invalid)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "msg_id_counts:\n")
	for _, id := range s.IDs() {
		fmt.Fprintf(w, "  0x%02X %s: %d\n", id, messageName(id), s.Counts[id])
	}
	return nil
}
