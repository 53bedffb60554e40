// Package entropy supplies key material for the keystream engines.
package entropy

import (
	"fmt"
	"io"
	"os"
)

const (
	DefaultStrongDevice = "/dev/random"
	DefaultFastDevice   = "/dev/urandom"
)

// Source hands out random bytes. Strong may block for a long time and is
// used once per run; Fast never blocks and is used for reseeding.
type Source interface {
	Strong(p []byte) error
	Fast(p []byte) error
}

// Device reads from character devices, opening them on every request.
type Device struct {
	StrongPath string
	FastPath   string
}

// NewDevice returns a Device for the given paths, falling back to the
// system defaults for empty ones.
func NewDevice(strongPath, fastPath string) *Device {
	if strongPath == "" {
		strongPath = DefaultStrongDevice
	}
	if fastPath == "" {
		fastPath = DefaultFastDevice
	}
	return &Device{StrongPath: strongPath, FastPath: fastPath}
}

// Strong reads len(p) bytes from the blocking device.
func (d *Device) Strong(p []byte) error {
	return readDevice(d.StrongPath, p)
}

// Fast reads len(p) bytes from the non-blocking device.
func (d *Device) Fast(p []byte) error {
	return readDevice(d.FastPath, p)
}

func readDevice(path string, p []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open random device %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.ReadFull(f, p); err != nil {
		return fmt.Errorf("failed to read %d bytes from random device %s: %w", len(p), path, err)
	}
	return nil
}

// ReadKey returns n fresh bytes from src.
func ReadKey(src Source, n int, strong bool) ([]byte, error) {
	key := make([]byte, n)
	var err error
	if strong {
		err = src.Strong(key)
	} else {
		err = src.Fast(key)
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}
