package ouroborosshred

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/ouroboros-shred/internal/entropy"
	"github.com/i5heu/ouroboros-shred/internal/journal"
	"github.com/i5heu/ouroboros-shred/internal/keystream"
	"github.com/i5heu/ouroboros-shred/internal/pool"
	"github.com/i5heu/ouroboros-shred/pkg/spaceInformations"
	"github.com/sirupsen/logrus"
)

var ErrAlreadyRunning = errors.New("shredder is already running")

// StopReason tells why a run ended.
type StopReason string

const (
	StopBudget      StopReason = "budget"      // TotalBlocks were written
	StopDeviceFull  StopReason = "device-full" // the destination ran out of space
	StopInterrupted StopReason = "interrupted" // the context was cancelled or Stop was called
	StopFailed      StopReason = "failed"      // a fatal error ended the run
)

// Stats describes a finished run.
type Stats struct {
	Blocks  uint64
	Bytes   uint64
	Reseeds uint64
	Reason  StopReason
	Offset  int64    // Byte offset the first block was written at
	Served  []uint64 // Buffers taken from each worker; nil for inline generation
	Started time.Time
	Elapsed time.Duration
}

// Throughput returns the average write rate in bytes per second.
func (s Stats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Elapsed.Seconds()
}

// Shredder fills a destination with keystream blocks until it is full, a
// block budget is used up, or it is told to stop.
type Shredder struct {
	config  Config
	log     *logrus.Logger
	entropy entropy.Source
	journal *journal.Journal

	stop    atomic.Bool
	running atomic.Bool
	blocks  atomic.Uint64
}

func Init(config *Config) (*Shredder, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for shredder: %w", err)
	}

	src := config.Entropy
	if src == nil {
		src = entropy.NewDevice(config.StrongDevice, config.FastDevice)
	}

	s := &Shredder{
		config:  *config,
		log:     config.Logger,
		entropy: src,
	}

	if config.JournalPath != "" {
		s.journal, err = journal.Open(config.JournalPath, config.Logger)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Close releases the journal.
func (s *Shredder) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

// Stop asks a running Run to finish after the block it is writing. The
// request is cleared when the next Run starts.
func (s *Shredder) Stop() {
	s.stop.Store(true)
}

// Written returns the number of blocks written by the current or last run.
func (s *Shredder) Written() uint64 {
	return s.blocks.Load()
}

func (s *Shredder) stopRequested(ctx context.Context) bool {
	return ctx.Err() != nil || s.stop.Load()
}

// Run performs one shredding run. Running out of space, reaching the block
// budget and being stopped are all successful outcomes; the returned error
// is non-nil only for setup, entropy and I/O failures.
func (s *Shredder) Run(ctx context.Context) (Stats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Stats{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)
	s.blocks.Store(0)
	s.stop.Store(false)

	cfg := &s.config
	stats := Stats{Started: time.Now()}

	offset, err := s.startOffset()
	if err != nil {
		return stats, err
	}
	stats.Offset = offset

	dst := cfg.Output
	var capacity uint64
	if dst == nil {
		dst, err = OpenDestination(cfg.Destination, offset, cfg.DirectIO)
		if err != nil {
			return stats, err
		}
		defer func() {
			if err := dst.Close(); err != nil {
				s.log.WithError(err).Warn("Failed to close destination")
			}
		}()
		capacity = s.describeDestination(offset)
	}

	alloc := func(n int) []byte { return make([]byte, n) }
	if cfg.DirectIO {
		alloc = alignedBuffer
	}

	rootKey, err := entropy.ReadKey(s.entropy, cfg.KeyLength, true)
	if err != nil {
		return stats, fmt.Errorf("failed to seed keystream: %w", err)
	}
	root, err := keystream.New(rootKey)
	if err != nil {
		return stats, fmt.Errorf("failed to seed keystream: %w", err)
	}

	var workers *pool.Pool
	var inline []byte
	if cfg.Threads > 1 {
		workers, err = s.startPool(ctx, root, alloc)
		if err != nil {
			return stats, err
		}
		defer workers.Close()
	} else {
		inline = alloc(int(cfg.BlockSize))
	}

	stopReporter := s.startReporter(s.expectedBlocks(capacity))
	defer stopReporter()

	s.log.WithFields(logrus.Fields{
		"destination": cfg.destinationName(),
		"offset":      offset,
		"block_size":  humanize.IBytes(cfg.BlockSize),
		"threads":     cfg.Threads,
		"reps":        cfg.Reps,
	}).Info("Shredding started")

	for {
		if s.stopRequested(ctx) {
			stats.Reason = StopInterrupted
			break
		}

		var buf []byte
		if workers != nil {
			block, err := workers.Collect(ctx)
			if err != nil {
				if s.stopRequested(ctx) {
					stats.Reason = StopInterrupted
					break
				}
				return s.fail(stats, fmt.Errorf("failed to collect block: %w", err))
			}
			buf = block.Data
		} else {
			root.Fill(inline)
			buf = inline
		}

		err := dst.WriteBlock(buf)
		if errors.Is(err, ErrDeviceFull) {
			stats.Reason = StopDeviceFull
			break
		}
		if err != nil {
			return s.fail(stats, err)
		}

		stats.Blocks++
		stats.Bytes += uint64(len(buf))
		s.blocks.Store(stats.Blocks)

		if stats.Blocks%cfg.Reps == 0 {
			if err := s.rekey(root, stats.Blocks); err != nil {
				return s.fail(stats, err)
			}
			stats.Reseeds++
		}

		if cfg.TotalBlocks > 0 && stats.Blocks >= cfg.TotalBlocks {
			stats.Reason = StopBudget
			break
		}
	}

	if workers != nil {
		stats.Served = workers.Served()
		if err := workers.Close(); err != nil {
			return s.fail(stats, fmt.Errorf("failed to stop workers: %w", err))
		}
	}

	return s.drain(stats, dst)
}

// startPool gives every worker a clone of root mixed with its own fast
// entropy. Later reseeds of root are not propagated to running workers.
func (s *Shredder) startPool(ctx context.Context, root *keystream.Engine, alloc func(int) []byte) (*pool.Pool, error) {
	producers := make([]pool.Producer, s.config.Threads)
	for i := range producers {
		key, err := entropy.ReadKey(s.entropy, s.config.KeyLength, false)
		if err != nil {
			return nil, fmt.Errorf("failed to seed worker %d: %w", i, err)
		}
		engine := root.Clone()
		if err := engine.Reseed(key); err != nil {
			return nil, fmt.Errorf("failed to seed worker %d: %w", i, err)
		}
		producers[i] = engine
	}

	p, err := pool.New(ctx, producers, int(s.config.BlockSize), alloc, s.log)
	if err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}
	return p, nil
}

func (s *Shredder) rekey(root *keystream.Engine, blocks uint64) error {
	key, err := entropy.ReadKey(s.entropy, s.config.KeyLength, false)
	if err != nil {
		return fmt.Errorf("failed to reseed keystream: %w", err)
	}
	if err := root.Reseed(key); err != nil {
		return fmt.Errorf("failed to reseed keystream: %w", err)
	}
	s.log.WithField("blocks", blocks).Debug("Reseeded root keystream")
	return nil
}

func (s *Shredder) drain(stats Stats, dst Destination) (Stats, error) {
	err := dst.Sync()
	if errors.Is(err, ErrDeviceFull) {
		stats.Reason = StopDeviceFull
		err = nil
	}
	if err != nil {
		return s.fail(stats, err)
	}

	stats.Elapsed = time.Since(stats.Started)
	s.record(stats)

	s.log.WithFields(logrus.Fields{
		"blocks":  stats.Blocks,
		"written": humanize.IBytes(stats.Bytes),
		"elapsed": stats.Elapsed.Round(time.Millisecond),
		"rate":    humanize.IBytes(uint64(stats.Throughput())) + "/s",
		"reseeds": stats.Reseeds,
		"reason":  stats.Reason,
	}).Info("Shredding finished")

	if s.config.VerifySamples > 0 && stats.Bytes > 0 {
		if _, err := s.VerifyWritten(stats.Offset, stats.Bytes); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func (s *Shredder) fail(stats Stats, err error) (Stats, error) {
	stats.Reason = StopFailed
	stats.Elapsed = time.Since(stats.Started)
	s.record(stats)
	return stats, err
}

func (s *Shredder) record(stats Stats) {
	if s.journal == nil {
		return
	}
	err := s.journal.Record(journal.Run{
		Destination: s.config.destinationName(),
		Skip:        stats.Offset,
		BlockSize:   s.config.BlockSize,
		Blocks:      stats.Blocks,
		Reseeds:     stats.Reseeds,
		Threads:     uint32(s.config.Threads),
		Started:     stats.Started,
		Finished:    stats.Started.Add(stats.Elapsed),
		Reason:      string(stats.Reason),
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to journal run")
	}
}

// startOffset is the configured skip, or the end of the latest journaled
// run when resuming.
func (s *Shredder) startOffset() (int64, error) {
	skip := int64(s.config.Skip)
	if !s.config.Resume {
		return skip, nil
	}

	name := s.config.destinationName()
	latest, ok, err := s.journal.Latest(name)
	if err != nil {
		return 0, fmt.Errorf("failed to read journal: %w", err)
	}
	if !ok {
		s.log.WithField("destination", name).Info("No previous run in journal, starting at skip offset")
		return skip, nil
	}

	offset := latest.NextOffset()
	if s.config.DirectIO && offset%DirectIOBlock != 0 {
		return 0, fmt.Errorf("resume offset %d is not aligned for direct I/O", offset)
	}

	s.log.WithFields(logrus.Fields{
		"destination":   name,
		"previous":      latest.Started.Format(time.RFC3339),
		"previous_stop": latest.Reason,
		"offset":        offset,
	}).Info("Resuming after previous run")
	return offset, nil
}

func (s *Shredder) describeDestination(offset int64) uint64 {
	if s.config.toStdout() {
		return 0
	}
	d, err := spaceInformations.Describe(s.config.Destination, offset)
	if err != nil {
		s.log.WithError(err).Debug("Could not describe destination")
		return 0
	}
	spaceInformations.DisplayDestination(s.log, d)
	return d.Capacity
}

// expectedBlocks estimates how many blocks the run will write, or 0 when
// neither a budget nor a capacity is known.
func (s *Shredder) expectedBlocks(capacity uint64) uint64 {
	expected := capacity / s.config.BlockSize
	if s.config.TotalBlocks > 0 && (expected == 0 || s.config.TotalBlocks < expected) {
		expected = s.config.TotalBlocks
	}
	return expected
}
