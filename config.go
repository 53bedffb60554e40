package ouroborosshred

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/i5heu/ouroboros-shred/internal/entropy"
	"github.com/sirupsen/logrus"
)

const (
	// MaxThreads bounds the number of worker goroutines.
	MaxThreads = 200
	// DirectIOBlock is the size, offset and buffer alignment used for direct
	// I/O. It matches the logical sector size of 4Kn devices.
	DirectIOBlock = 4096
	// MaxUsefulKeyLength is the number of key bytes the key schedule reads.
	MaxUsefulKeyLength = 256

	defaultReportInterval = 5 * time.Second
)

var ErrTooManyThreads = fmt.Errorf("thread count exceeds the maximum of %d", MaxThreads)

// Config holds the parameters of a shredding run. The Shredder keeps its
// own copy, so changes after Init have no effect.
type Config struct {
	Destination    string        `env:"SHRED_DESTINATION"`                        // Path to write to; empty or "-" is stdout
	TotalBlocks    uint64        `env:"SHRED_BLOCKS"`                             // Stop after this many blocks; 0 = until the device is full
	BlockSize      uint64        `env:"SHRED_BLOCK_SIZE" envDefault:"1048576"`    // Bytes per written block
	Reps           uint64        `env:"SHRED_REPS" envDefault:"256"`              // Blocks between reseeds of the root engine
	KeyLength      int           `env:"SHRED_KEY_LENGTH" envDefault:"32"`         // Bytes of entropy per seed
	Threads        int           `env:"SHRED_THREADS" envDefault:"1"`             // Worker goroutines; 1 generates inline
	Skip           uint64        `env:"SHRED_SKIP"`                               // Bytes to seek past before writing
	DirectIO       bool          `env:"SHRED_DIRECT"`                             // Open the destination with O_DIRECT
	Verbose        bool          `env:"SHRED_VERBOSE"`                            // Periodic throughput reports
	StrongDevice   string        `env:"SHRED_RANDOM_DEVICE" envDefault:"/dev/random"`
	FastDevice     string        `env:"SHRED_URANDOM_DEVICE" envDefault:"/dev/urandom"`
	JournalPath    string        `env:"SHRED_JOURNAL"`                            // Directory of the run journal; empty disables it
	Resume         bool          `env:"SHRED_RESUME"`                             // Continue after the latest journaled run
	VerifySamples  int           `env:"SHRED_VERIFY"`                             // Blocks to read back and analyse after the run
	ReportInterval time.Duration `env:"SHRED_REPORT_INTERVAL" envDefault:"5s"`

	Logger  *logrus.Logger
	Entropy entropy.Source // Defaults to the configured random devices
	Output  Destination    // Already opened destination; overrides Destination
}

// ConfigFromEnv returns a Config holding the defaults, overridden by any
// SHRED_* environment variables that are set.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c *Config) toStdout() bool {
	return c.Output == nil && (c.Destination == "" || c.Destination == "-")
}

func (c *Config) destinationName() string {
	if c.Destination == "" {
		return "-"
	}
	return c.Destination
}

func (c *Config) checkConfig() error {
	if c.KeyLength < 0 {
		return errors.New("key length must not be negative")
	}
	if c.KeyLength == 0 {
		c.Logger.Warn("Key length of zero requested, using a single byte key")
		c.KeyLength = 1
	}
	if c.KeyLength > MaxUsefulKeyLength {
		c.Logger.WithField("key_length", c.KeyLength).Warnf("Key schedule only uses the first %d key bytes", MaxUsefulKeyLength)
	}

	if c.BlockSize == 0 {
		return errors.New("block size must be positive")
	}
	if c.Reps == 0 {
		return errors.New("blocks per reseed must be positive")
	}

	if c.Threads < 1 {
		return fmt.Errorf("thread count must be at least 1, got %d", c.Threads)
	}
	if c.Threads > MaxThreads {
		return fmt.Errorf("%w: %d", ErrTooManyThreads, c.Threads)
	}

	if c.DirectIO {
		if c.toStdout() {
			return errors.New("direct I/O needs a destination path")
		}
		if c.BlockSize%DirectIOBlock != 0 {
			return fmt.Errorf("direct I/O needs a block size that is a multiple of %d, got %d", DirectIOBlock, c.BlockSize)
		}
		if c.Skip%DirectIOBlock != 0 {
			return fmt.Errorf("direct I/O needs a skip offset that is a multiple of %d, got %d", DirectIOBlock, c.Skip)
		}
	}

	if c.Resume && c.JournalPath == "" {
		return errors.New("resume needs a journal path")
	}

	if c.VerifySamples < 0 {
		return errors.New("verify sample count must not be negative")
	}
	if c.VerifySamples > 0 && (c.toStdout() || c.Output != nil) {
		c.Logger.Warn("Read-back verification needs a destination path, disabling it")
		c.VerifySamples = 0
	}

	if c.ReportInterval <= 0 {
		c.ReportInterval = defaultReportInterval
	}
	if c.StrongDevice == "" {
		c.StrongDevice = entropy.DefaultStrongDevice
	}
	if c.FastDevice == "" {
		c.FastDevice = entropy.DefaultFastDevice
	}

	return nil
}
