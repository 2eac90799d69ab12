//go:build linux && (arm || arm64)

package switches

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// OpenGPIO requests the configured switch lines as edge-watched inputs on the
// first gpiochip that exposes them.
func OpenGPIO(cfg GPIOConfig) (*GPIO, error) {
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", e.Name()))
		}
	}

	var lastErr error
	for _, chipPath := range chipCandidates {
		g, err := openOnChip(chipPath, cfg)
		if err == nil {
			return g, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "switches: no gpiochip serves the configured pins")
}

func openOnChip(chipPath string, cfg GPIOConfig) (*GPIO, error) {
	chip, err := gpiocdev.NewChip(chipPath, gpiocdev.WithConsumer("agsteer-switch"))
	if err != nil {
		return nil, err
	}
	g := &GPIO{invert: cfg.PullUp}
	var lines []*gpiocdev.Line
	closeAll := func() error {
		var first error
		for _, l := range lines {
			if err := l.Close(); err != nil && first == nil {
				first = err
			}
		}
		if err := chip.Close(); err != nil && first == nil {
			first = err
		}
		return first
	}

	for idx, pin := range cfg.pins() {
		if pin <= 0 {
			continue
		}
		name := fmt.Sprintf("GPIO%d", pin)
		offset, err := chip.FindLine(name)
		if err != nil {
			_ = closeAll()
			return nil, errors.Wrapf(err, "%s: line %s", chipPath, name)
		}
		opts := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				if evt.Type == gpiocdev.LineEventRisingEdge {
					g.set(idx, 1)
				} else {
					g.set(idx, 0)
				}
			}),
		}
		if cfg.PullUp {
			opts = append(opts, gpiocdev.WithPullUp)
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = closeAll()
			return nil, errors.Wrapf(err, "%s: request %s", chipPath, name)
		}
		lines = append(lines, line)
		if v, err := line.Value(); err == nil {
			g.set(idx, v)
		}
	}
	g.closer = closeAll
	return g, nil
}
