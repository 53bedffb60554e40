package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	ouroborosshred "github.com/i5heu/ouroboros-shred"
	"github.com/i5heu/ouroboros-shred/internal/units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const usage = `Usage:
  %s [flags] [DESTINATION]

Overwrites DESTINATION (a file or block device, stdout when omitted or "-")
with an RC4 keystream until the device is full, the block budget is used up
or the process is interrupted.

Sizes accept the multipliers K=1000 k=1024 M=10^6 m=2^20 G=10^9 g=2^30,
optionally followed by b (e.g. 4kb). Defaults can be set with SHRED_*
environment variables.

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses args, performs one shredding run and returns the exit code.
// Everything except the keystream goes to stderr.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	progName := filepath.Base(args[0])

	cfg, err := parseArgs(progName, args[1:], stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	shredder, err := ouroborosshred.Init(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer shredder.Close()

	stats, err := shredder.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stderr, "%d blocks (%s) written, %d reseeds, stopped: %s\n",
		stats.Blocks, units.Bytes(stats.Bytes), stats.Reseeds, stats.Reason)
	return 0
}

// parseArgs builds a Config from the environment and then applies the
// command line on top of it.
func parseArgs(progName string, args []string, stderr io.Writer) (*ouroborosshred.Config, error) {
	cfg, err := ouroborosshred.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	blocks := units.Size(cfg.TotalBlocks)
	blockSize := units.Size(cfg.BlockSize)
	reps := units.Size(cfg.Reps)
	skip := units.Size(cfg.Skip)
	var debug bool

	flags := pflag.NewFlagSet(progName, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, usage, progName)
		flags.PrintDefaults()
	}
	flags.SortFlags = false

	flags.VarP(&blocks, "blocks", "n", "number of blocks to write (0 = until the device is full)")
	flags.VarP(&blockSize, "block-size", "b", "bytes per block")
	flags.VarP(&reps, "reps", "r", "blocks between reseeds")
	flags.IntVarP(&cfg.KeyLength, "key-length", "k", cfg.KeyLength, "bytes of entropy per seed (bytes past 256 are ignored)")
	flags.IntVarP(&cfg.Threads, "threads", "t", cfg.Threads, fmt.Sprintf("keystream workers (1..%d, 1 generates inline)", ouroborosshred.MaxThreads))
	flags.VarP(&skip, "skip", "s", "bytes to skip at the start of the destination")
	flags.BoolVarP(&cfg.DirectIO, "direct", "d", cfg.DirectIO, "bypass the page cache with O_DIRECT")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log progress while writing")
	flags.BoolVar(&debug, "debug", false, "log debug messages")
	flags.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "directory of the run journal")
	flags.BoolVar(&cfg.Resume, "resume", cfg.Resume, "continue after the latest journaled run of the destination")
	flags.IntVar(&cfg.VerifySamples, "verify", cfg.VerifySamples, "blocks to read back and analyse after the run")
	flags.StringVar(&cfg.StrongDevice, "random-device", cfg.StrongDevice, "device for the initial seed")
	flags.StringVar(&cfg.FastDevice, "urandom-device", cfg.FastDevice, "device for reseeds")
	flags.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "interval between progress reports")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	switch flags.NArg() {
	case 0:
	case 1:
		cfg.Destination = flags.Arg(0)
	default:
		flags.Usage()
		return nil, fmt.Errorf("expected at most one destination, got %d", flags.NArg())
	}

	cfg.TotalBlocks = uint64(blocks)
	cfg.BlockSize = uint64(blockSize)
	cfg.Reps = uint64(reps)
	cfg.Skip = uint64(skip)
	cfg.Logger = newLogger(stderr, cfg.Verbose, debug)

	return cfg, nil
}

func newLogger(out io.Writer, verbose, debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	switch {
	case debug:
		logger.SetLevel(logrus.DebugLevel)
	case verbose:
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}
