//go:build !linux || (!arm && !arm64)

package switches

import "github.com/pkg/errors"

// OpenGPIO is unavailable off Linux/ARM.
func OpenGPIO(cfg GPIOConfig) (*GPIO, error) {
	return nil, errors.New("switches: gpio unsupported on this platform")
}
