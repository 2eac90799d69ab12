//go:build !linux

package gps

import (
	"os"

	"github.com/pkg/errors"
)

func openSerial(path string, baud int) (*os.File, error) {
	return nil, errors.New("gps serial not supported on this platform")
}
