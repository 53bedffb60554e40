package ouroborosshred

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// countingEntropy hands out a predictable byte sequence and counts requests.
type countingEntropy struct {
	strong atomic.Int64
	fast   atomic.Int64

	mu   sync.Mutex
	next byte
}

func (c *countingEntropy) Strong(p []byte) error {
	c.strong.Add(1)
	c.fill(p)
	return nil
}

func (c *countingEntropy) Fast(p []byte) error {
	c.fast.Add(1)
	c.fill(p)
	return nil
}

func (c *countingEntropy) fill(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range p {
		c.next++
		p[i] = c.next
	}
}

type failingEntropy struct{}

var errNoEntropy = errors.New("entropy device unavailable")

func (failingEntropy) Strong([]byte) error { return errNoEntropy }
func (failingEntropy) Fast([]byte) error   { return errNoEntropy }

// memDestination records blocks in memory. It reports a full device after
// fullAfter blocks and fails the write numbered failAt, when those are set.
type memDestination struct {
	fullAfter int
	failAt    int
	onWrite   func(n int)

	writes int
	synced int
	closed bool
	data   bytes.Buffer
}

var errWriteFailed = errors.New("input/output error")

func (m *memDestination) WriteBlock(buf []byte) error {
	if m.fullAfter > 0 && m.writes == m.fullAfter {
		return ErrDeviceFull
	}
	if m.failAt > 0 && m.writes+1 == m.failAt {
		return errWriteFailed
	}
	m.writes++
	m.data.Write(buf)
	if m.onWrite != nil {
		m.onWrite(m.writes)
	}
	return nil
}

func (m *memDestination) Sync() error {
	m.synced++
	return nil
}

func (m *memDestination) Close() error {
	m.closed = true
	return nil
}

func newTestLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func testConfig(dst Destination, src *countingEntropy) *Config {
	return &Config{
		BlockSize: 64,
		Reps:      1000,
		KeyLength: 16,
		Threads:   1,
		Output:    dst,
		Entropy:   src,
		Logger:    newTestLogger(io.Discard),
	}
}
