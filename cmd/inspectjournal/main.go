package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/ouroboros-shred/internal/journal"
	"github.com/sirupsen/logrus"
)

func main() {
	path := flag.String("path", "", "path to the shred journal directory")
	dest := flag.String("dest", "", "only show runs of this destination")
	flag.Parse()

	if *path == "" {
		log.Fatal("-path is required")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)

	j, err := journal.Open(*path, logger)
	if err != nil {
		log.Fatalf("failed to open journal at %s: %v", *path, err)
	}
	defer j.Close()

	runs, err := j.List(*dest)
	if err != nil {
		log.Fatalf("failed to list runs: %v", err)
	}

	fmt.Printf("Journal path: %s\n", *path)
	if err := printRuns(os.Stdout, runs); err != nil {
		log.Fatalf("failed to print runs: %v", err)
	}
}

func printRuns(out io.Writer, runs []journal.Run) error {
	fmt.Fprintf(out, "Runs: %d\n", len(runs))
	if len(runs) == 0 {
		fmt.Fprintln(out, "  (no entries)")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDESTINATION\tSKIP\tBLOCKS\tWRITTEN\tRESEEDS\tTHREADS\tDURATION\tREASON\tNEXT OFFSET")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%d\t%s\t%s\t%d\n",
			r.Started.Format(time.RFC3339),
			r.Destination,
			r.Skip,
			r.Blocks,
			humanize.IBytes(r.Blocks*r.BlockSize),
			r.Reseeds,
			r.Threads,
			r.Finished.Sub(r.Started).Round(time.Millisecond),
			r.Reason,
			r.NextOffset(),
		)
	}
	return w.Flush()
}
