package ouroborosshred

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// startReporter logs the write rate every ReportInterval while verbose
// reporting is enabled. The returned function stops it.
func (s *Shredder) startReporter(expected uint64) func() {
	if !s.config.Verbose {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	interval := s.config.ReportInterval
	blockSize := s.config.BlockSize

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last uint64
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			blocks := s.blocks.Load()
			perSecond := float64((blocks-last)*blockSize) / interval.Seconds()
			last = blocks

			fields := logrus.Fields{
				"blocks":  blocks,
				"written": humanize.IBytes(blocks * blockSize),
				"rate":    humanize.IBytes(uint64(perSecond)) + "/s",
			}
			if expected > 0 {
				fields["progress"] = humanize.FtoaWithDigits(float64(blocks)*100/float64(expected), 1) + "%"
			}
			s.log.WithFields(fields).Info("Shredding progress")
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}
