package ouroborosshred

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/i5heu/ouroboros-shred/internal/verify"
	"github.com/sirupsen/logrus"
)

var errVerifyUnavailable = errors.New("verification needs a destination path")

// VerifyRegion reads samples blocks of sampleSize bytes from random aligned
// positions inside [offset, offset+length) of path and analyses each one.
// Regions too small for a meaningful sample yield no reports.
func VerifyRegion(path string, offset int64, length uint64, sampleSize, samples int) ([]verify.Report, error) {
	if sampleSize < verify.MinSampleSize {
		sampleSize = verify.MinSampleSize
	}
	slots := length / uint64(sampleSize)
	if slots == 0 || samples <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for verification: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, sampleSize)
	reports := make([]verify.Report, 0, samples)
	for i := 0; i < samples; i++ {
		at := offset + int64(rand.Uint64N(slots))*int64(sampleSize)
		if _, err := f.ReadAt(buf, at); err != nil {
			return reports, fmt.Errorf("failed to read sample at %d of %s: %w", at, path, err)
		}

		report, err := verify.Analyze(at, buf)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// VerifyWritten checks the region a run has just written. Suspicious
// samples are logged as warnings; only I/O problems are returned as errors.
func (s *Shredder) VerifyWritten(offset int64, length uint64) ([]verify.Report, error) {
	if s.config.toStdout() || s.config.Output != nil {
		return nil, errVerifyUnavailable
	}

	reports, err := VerifyRegion(s.config.Destination, offset, length, int(s.config.BlockSize), s.config.VerifySamples)
	if err != nil {
		return reports, fmt.Errorf("failed to verify written data: %w", err)
	}
	if len(reports) == 0 {
		s.log.WithField("bytes", length).Info("Written region too small to verify")
		return nil, nil
	}

	suspicious := 0
	for _, r := range reports {
		fields := logrus.Fields{
			"offset":      r.Offset,
			"chi_square":  fmt.Sprintf("%.2f", r.ChiSquare),
			"compression": fmt.Sprintf("%.4f", r.CompressionRatio),
		}
		if r.Suspicious() {
			suspicious++
			s.log.WithFields(fields).Warn("Sample does not look random")
			continue
		}
		s.log.WithFields(fields).Debug("Sample verified")
	}

	s.log.WithFields(logrus.Fields{
		"samples":    len(reports),
		"suspicious": suspicious,
	}).Info("Verification finished")

	return reports, nil
}
