package ouroborosshred

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/i5heu/ouroboros-shred/internal/journal"
	"github.com/i5heu/ouroboros-shred/internal/keystream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runShredder(t *testing.T, ctx context.Context, cfg *Config) (*Shredder, Stats, error) {
	t.Helper()
	s, err := Init(cfg)
	require.NoError(t, err)
	stats, err := s.Run(ctx)
	require.NoError(t, s.Close())
	return s, stats, err
}

func TestRunStopsCleanlyWhenDeviceFull(t *testing.T) {
	for _, threads := range []int{1, 4} {
		dst := &memDestination{fullAfter: 7}
		cfg := testConfig(dst, &countingEntropy{})
		cfg.Threads = threads

		_, stats, err := runShredder(t, context.Background(), cfg)
		require.NoError(t, err, "threads %d", threads)

		assert.Equal(t, uint64(7), stats.Blocks, "threads %d", threads)
		assert.Equal(t, uint64(7*64), stats.Bytes)
		assert.Equal(t, StopDeviceFull, stats.Reason)
		assert.Equal(t, 7, dst.writes)
		assert.Equal(t, 1, dst.synced)
	}
}

func TestRunHonoursBlockBudget(t *testing.T) {
	for _, threads := range []int{1, 3} {
		dst := &memDestination{}
		cfg := testConfig(dst, &countingEntropy{})
		cfg.Threads = threads
		cfg.TotalBlocks = 10

		s, stats, err := runShredder(t, context.Background(), cfg)
		require.NoError(t, err)

		assert.Equal(t, StopBudget, stats.Reason)
		assert.Equal(t, uint64(10), stats.Blocks)
		assert.Equal(t, uint64(10), s.Written())
		assert.Equal(t, 10*64, dst.data.Len())

		if threads > 1 {
			require.Len(t, stats.Served, threads)
			var total uint64
			for _, served := range stats.Served {
				total += served
			}
			assert.Equal(t, uint64(10), total)
		} else {
			assert.Nil(t, stats.Served)
		}
	}
}

func TestRekeyCadence(t *testing.T) {
	table := map[string]struct {
		Blocks, Reps, Threads int
		Reseeds               int
	}{
		"every-third":   {10, 3, 1, 3},
		"exact":         {12, 4, 1, 3},
		"every-block":   {5, 1, 1, 5},
		"never":         {5, 6, 1, 0},
		"boundary":      {6, 6, 1, 1},
		"multi-threads": {20, 5, 4, 4},
	}

	for name, item := range table {
		src := &countingEntropy{}
		cfg := testConfig(&memDestination{}, src)
		cfg.TotalBlocks = uint64(item.Blocks)
		cfg.Reps = uint64(item.Reps)
		cfg.Threads = item.Threads

		_, stats, err := runShredder(t, context.Background(), cfg)
		require.NoError(t, err, name)

		assert.Equal(t, uint64(item.Reseeds), stats.Reseeds, name)
		assert.Equal(t, int64(1), src.strong.Load(), name)

		// Multi-threaded runs also draw one fast key per worker.
		workerSeeds := 0
		if item.Threads > 1 {
			workerSeeds = item.Threads
		}
		assert.Equal(t, int64(item.Reseeds+workerSeeds), src.fast.Load(), name)
	}
}

func TestTerminationFinishesInFlightBlock(t *testing.T) {
	for _, threads := range []int{1, 4} {
		ctx, cancel := context.WithCancel(context.Background())
		dst := &memDestination{}
		dst.onWrite = func(n int) {
			if n == 3 {
				cancel()
			}
		}
		cfg := testConfig(dst, &countingEntropy{})
		cfg.Threads = threads

		_, stats, err := runShredder(t, ctx, cfg)
		cancel()
		require.NoError(t, err)

		assert.Equal(t, StopInterrupted, stats.Reason, "threads %d", threads)
		assert.Equal(t, uint64(3), stats.Blocks)
		assert.Equal(t, 3, dst.writes)
		assert.Equal(t, 3*64, dst.data.Len())
		assert.Equal(t, 1, dst.synced)
	}
}

func TestStopFinishesInFlightBlock(t *testing.T) {
	dst := &memDestination{}
	cfg := testConfig(dst, &countingEntropy{})
	cfg.Threads = 2

	s, err := Init(cfg)
	require.NoError(t, err)
	defer s.Close()

	dst.onWrite = func(n int) {
		if n == 5 {
			s.Stop()
		}
	}

	stats, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopInterrupted, stats.Reason)
	assert.Equal(t, uint64(5), stats.Blocks)
	assert.Equal(t, 5, dst.writes)
}

func TestStopBetweenRunsDoesNotCarryOver(t *testing.T) {
	dst := &memDestination{}
	cfg := testConfig(dst, &countingEntropy{})
	cfg.TotalBlocks = 4

	s, err := Init(cfg)
	require.NoError(t, err)
	defer s.Close()

	stats, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopBudget, stats.Reason)
	assert.Equal(t, uint64(4), stats.Blocks)

	s.Stop()

	stats, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopBudget, stats.Reason)
	assert.Equal(t, uint64(4), stats.Blocks)
	assert.Equal(t, uint64(4), s.Written())
	assert.Equal(t, 8, dst.writes)
}

func TestFatalWriteErrorAbortsWithoutSummary(t *testing.T) {
	var logs bytes.Buffer
	dst := &memDestination{failAt: 4}
	cfg := testConfig(dst, &countingEntropy{})
	cfg.Logger = newTestLogger(&logs)

	_, stats, err := runShredder(t, context.Background(), cfg)
	require.ErrorIs(t, err, errWriteFailed)

	assert.Equal(t, StopFailed, stats.Reason)
	assert.Equal(t, uint64(3), stats.Blocks)
	assert.Equal(t, 0, dst.synced)
	assert.NotContains(t, logs.String(), "Shredding finished")
}

func TestEntropyFailureIsFatal(t *testing.T) {
	dst := &memDestination{}
	cfg := testConfig(dst, nil)
	cfg.Entropy = failingEntropy{}
	cfg.TotalBlocks = 3

	s, err := Init(cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, errNoEntropy)
	assert.Equal(t, 0, dst.writes)
}

func TestInlineOutputIsKeystreamOfStrongSeed(t *testing.T) {
	dst := &memDestination{}
	cfg := testConfig(dst, &countingEntropy{})
	cfg.TotalBlocks = 3

	_, _, err := runShredder(t, context.Background(), cfg)
	require.NoError(t, err)

	key := make([]byte, cfg.KeyLength)
	require.NoError(t, (&countingEntropy{}).Strong(key))
	engine, err := keystream.New(key)
	require.NoError(t, err)

	var want bytes.Buffer
	block := make([]byte, cfg.BlockSize)
	for i := 0; i < 3; i++ {
		engine.Fill(block)
		want.Write(block)
	}
	assert.Equal(t, want.Bytes(), dst.data.Bytes())
}

func TestWorkersProduceIndependentStreams(t *testing.T) {
	dst := &memDestination{}
	cfg := testConfig(dst, &countingEntropy{})
	cfg.Threads = 4
	cfg.TotalBlocks = 4
	cfg.BlockSize = 256

	_, _, err := runShredder(t, context.Background(), cfg)
	require.NoError(t, err)

	data := dst.data.Bytes()
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		block := string(data[i*256 : (i+1)*256])
		assert.False(t, seen[block], "block %d repeats an earlier block", i)
		seen[block] = true
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	dst := &memDestination{}
	dst.onWrite = func(n int) {
		if n == 1 {
			close(entered)
			<-release
		}
	}
	cfg := testConfig(dst, &countingEntropy{})
	cfg.TotalBlocks = 2

	s, err := Init(cfg)
	require.NoError(t, err)
	defer s.Close()

	done := make(chan error)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	<-entered
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestRunWritesFileJournalsAndResumes(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "disk.img")
	prefix := bytes.Repeat([]byte{'A'}, 4096)
	require.NoError(t, os.WriteFile(target, prefix, 0o600))

	var logs bytes.Buffer
	cfg := &Config{
		Destination:   target,
		TotalBlocks:   6,
		BlockSize:     8192,
		Reps:          4,
		KeyLength:     32,
		Threads:       2,
		Skip:          4096,
		JournalPath:   filepath.Join(dir, "journal"),
		VerifySamples: 2,
		Entropy:       &countingEntropy{},
		Logger:        newTestLogger(&logs),
	}

	_, stats, err := runShredder(t, context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, StopBudget, stats.Reason)
	assert.Equal(t, int64(4096), stats.Offset)
	assert.Contains(t, logs.String(), "Verification finished")

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Len(t, content, 4096+6*8192)
	assert.Equal(t, prefix, content[:4096])

	resumed := *cfg
	resumed.Resume = true
	resumed.TotalBlocks = 2
	resumed.VerifySamples = 0
	resumed.Logger = newTestLogger(io.Discard)

	_, stats, err = runShredder(t, context.Background(), &resumed)
	require.NoError(t, err)
	assert.Equal(t, int64(4096+6*8192), stats.Offset)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, int64(4096+8*8192), info.Size())

	j, err := journal.Open(cfg.JournalPath, newTestLogger(io.Discard))
	require.NoError(t, err)
	defer j.Close()

	runs, err := j.List(target)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, uint64(6), runs[0].Blocks)
	assert.Equal(t, "budget", runs[0].Reason)
	assert.Equal(t, uint64(1), runs[0].Reseeds)
	assert.Equal(t, int64(4096+8*8192), runs[1].NextOffset())
}

func TestFailedRunIsJournaled(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(&memDestination{failAt: 2}, &countingEntropy{})
	cfg.JournalPath = dir

	_, _, err := runShredder(t, context.Background(), cfg)
	require.Error(t, err)

	j, err := journal.Open(dir, newTestLogger(io.Discard))
	require.NoError(t, err)
	defer j.Close()

	latest, ok, err := j.Latest("-")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failed", latest.Reason)
	assert.Equal(t, uint64(1), latest.Blocks)
}

func TestReporterLogsProgress(t *testing.T) {
	var logs bytes.Buffer
	dst := &memDestination{}
	dst.onWrite = func(int) { time.Sleep(2 * time.Millisecond) }
	cfg := testConfig(dst, &countingEntropy{})
	cfg.TotalBlocks = 20
	cfg.Verbose = true
	cfg.ReportInterval = 5 * time.Millisecond
	cfg.Logger = newTestLogger(&logs)

	_, _, err := runShredder(t, context.Background(), cfg)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Shredding progress")
	assert.Contains(t, logs.String(), "progress=")
}

func TestInitValidatesConfig(t *testing.T) {
	base := func() *Config { return testConfig(&memDestination{}, &countingEntropy{}) }

	cfg := base()
	cfg.Threads = MaxThreads + 1
	_, err := Init(cfg)
	assert.ErrorIs(t, err, ErrTooManyThreads)

	cfg = base()
	cfg.Threads = 0
	_, err = Init(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.BlockSize = 0
	_, err = Init(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Reps = 0
	_, err = Init(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.KeyLength = -1
	_, err = Init(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Resume = true
	_, err = Init(cfg)
	assert.Error(t, err)

	cfg = &Config{BlockSize: 4096, Reps: 1, KeyLength: 1, Threads: 1, DirectIO: true, Logger: newTestLogger(io.Discard)}
	_, err = Init(cfg)
	assert.Error(t, err, "direct I/O to stdout")

	cfg = &Config{Destination: "x", BlockSize: 1000, Reps: 1, KeyLength: 1, Threads: 1, DirectIO: true, Logger: newTestLogger(io.Discard)}
	_, err = Init(cfg)
	assert.Error(t, err, "unaligned direct I/O block size")
}

func TestZeroKeyLengthBecomesSingleByte(t *testing.T) {
	var logs bytes.Buffer
	src := &countingEntropy{}
	cfg := testConfig(&memDestination{}, src)
	cfg.KeyLength = 0
	cfg.Logger = newTestLogger(&logs)
	cfg.TotalBlocks = 1

	s, err := Init(cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.config.KeyLength)
	assert.Contains(t, logs.String(), "single byte key")

	_, err = s.Run(context.Background())
	require.NoError(t, err)
}

func TestVerifyDisabledForInjectedOutput(t *testing.T) {
	cfg := testConfig(&memDestination{}, &countingEntropy{})
	cfg.VerifySamples = 3
	s, err := Init(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 0, s.config.VerifySamples)
	_, err = s.VerifyWritten(0, 1<<20)
	assert.ErrorIs(t, err, errVerifyUnavailable)
}

func TestStatsThroughput(t *testing.T) {
	assert.Equal(t, 0.0, Stats{Bytes: 100}.Throughput())
	assert.Equal(t, 50.0, Stats{Bytes: 100, Elapsed: 2 * time.Second}.Throughput())
}

func TestExpectedBlocks(t *testing.T) {
	s := &Shredder{config: Config{BlockSize: 100}}
	assert.Equal(t, uint64(0), s.expectedBlocks(0))
	assert.Equal(t, uint64(10), s.expectedBlocks(1000))

	s.config.TotalBlocks = 4
	assert.Equal(t, uint64(4), s.expectedBlocks(1000))
	assert.Equal(t, uint64(4), s.expectedBlocks(0))

	s.config.TotalBlocks = 40
	assert.Equal(t, uint64(10), s.expectedBlocks(1000))
}
