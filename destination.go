package ouroborosshred

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrDeviceFull is returned by WriteBlock when the destination has no
// space left. It ends a run successfully.
var ErrDeviceFull = errors.New("no space left on destination")

// directIOAlignment is the memory alignment of buffers handed to O_DIRECT
// file descriptors.
const directIOAlignment = DirectIOBlock

// Destination is where the Shredder writes its blocks.
type Destination interface {
	// WriteBlock writes all of buf or fails. ErrDeviceFull signals a full
	// device; any other error is fatal.
	WriteBlock(buf []byte) error
	// Sync makes everything written so far durable.
	Sync() error
	Close() error
}

type writerDestination struct {
	w      io.Writer
	name   string
	closer io.Closer
}

// NewDestination wraps w. w is synced when it has a Sync method and is
// never closed.
func NewDestination(w io.Writer, name string) Destination {
	return &writerDestination{w: w, name: name}
}

// OpenDestination opens path for writing, seeking past skip bytes. An empty
// path or "-" writes to standard output.
func OpenDestination(path string, skip int64, direct bool) (Destination, error) {
	if path == "" || path == "-" {
		if direct {
			return nil, errors.New("direct I/O is not possible on standard output")
		}
		if skip > 0 {
			if _, err := os.Stdout.Seek(skip, io.SeekStart); err != nil {
				return nil, fmt.Errorf("failed to skip %d bytes of standard output: %w", skip, err)
			}
		}
		return NewDestination(os.Stdout, "stdout"), nil
	}

	flags := os.O_WRONLY | os.O_CREATE
	if direct {
		flags |= unix.O_DIRECT
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination %s: %w", path, err)
	}

	if skip > 0 {
		if _, err := f.Seek(skip, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to skip %d bytes of %s: %w", skip, path, err)
		}
	}

	return &writerDestination{w: f, name: path, closer: f}, nil
}

func (d *writerDestination) WriteBlock(buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := d.w.Write(buf[written:])
		written += n
		if err != nil {
			if errors.Is(err, unix.ENOSPC) {
				return ErrDeviceFull
			}
			return fmt.Errorf("failed to write block to %s after %d of %d bytes: %w", d.name, written, len(buf), err)
		}
		if n == 0 {
			return fmt.Errorf("failed to write block to %s: %w", d.name, io.ErrShortWrite)
		}
	}
	return nil
}

func (d *writerDestination) Sync() error {
	s, ok := d.w.(interface{ Sync() error })
	if !ok {
		return nil
	}
	err := s.Sync()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOTSUP):
		// Pipes and terminals cannot be synced.
		return nil
	case errors.Is(err, unix.ENOSPC):
		return ErrDeviceFull
	}
	return fmt.Errorf("failed to sync %s: %w", d.name, err)
}

func (d *writerDestination) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// alignedBuffer returns a buffer of size bytes whose first byte sits on a
// directIOAlignment boundary.
func alignedBuffer(size int) []byte {
	raw := make([]byte, size+directIOAlignment)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & (directIOAlignment - 1)); rem != 0 {
		off = directIOAlignment - rem
	}
	return raw[off : off+size : off+size]
}
