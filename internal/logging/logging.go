// Package logging builds the process logger: colored console output, an
// optional plain-text file and an optional Graylog GELF sink.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	Level string
	// File, when set, receives an uncolored copy of the console output.
	File string
	// Graylog is host:port of a GELF UDP input.
	Graylog string
	NoColor bool
	// Tee receives an uncolored copy of the console output, for example the
	// web log buffer.
	Tee io.Writer
}

// ParseLevel maps TRACE/DEBUG/INFO/WARN/ERROR to a zerolog level, defaulting
// to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Setup builds the logger. The returned closer releases the file and GELF
// sinks.
func Setup(cfg Config, console io.Writer) (zerolog.Logger, io.Closer, error) {
	if console == nil {
		console = os.Stdout
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339, NoColor: cfg.NoColor},
	}
	var cl closers

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, errors.Wrapf(err, "open log file %s", cfg.File)
		}
		cl = append(cl, f)
		writers = append(writers, zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339, NoColor: true})
	}
	if cfg.Tee != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: cfg.Tee, TimeFormat: time.RFC3339, NoColor: true})
	}
	if cfg.Graylog != "" {
		gw, err := gelf.NewWriter(cfg.Graylog)
		if err != nil {
			_ = cl.Close()
			return zerolog.Nop(), nil, errors.Wrapf(err, "graylog %s", cfg.Graylog)
		}
		gw.Facility = "agsteer"
		cl = append(cl, gw)
		writers = append(writers, gw)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	return logger, cl, nil
}

// Sampled wraps l for per-cycle events: five entries per ten seconds, then
// one in a hundred.
func Sampled(l zerolog.Logger) zerolog.Logger {
	return l.With().Bool("sampled", true).Logger().Sample(&zerolog.BurstSampler{
		Burst:       5,
		Period:      10 * time.Second,
		NextSampler: &zerolog.BasicSampler{N: 100},
	})
}

func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
