// Package verify judges whether a sample of written data looks like the
// output of a random source.
package verify

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	// ChiSquareLimit is the 0.01% critical value of the chi-square
	// distribution with 255 degrees of freedom.
	ChiSquareLimit = 330.52
	// MinCompressionRatio is the smallest compressed/original size ratio
	// accepted for random data.
	MinCompressionRatio = 0.98
	// MinSampleSize is the smallest sample for which the chi-square test is
	// meaningful (about 20 expected observations per byte value).
	MinSampleSize = 256 * 20
)

var ErrSampleTooSmall = errors.New("verify: sample too small")

// Histogram counts the occurrences of every byte value.
func Histogram(data []byte) [256]uint64 {
	var h [256]uint64
	for _, b := range data {
		h[b]++
	}
	return h
}

// ChiSquare returns the chi-square statistic of h against a uniform
// distribution.
func ChiSquare(h [256]uint64) float64 {
	var total uint64
	for _, c := range h {
		total += c
	}
	if total == 0 {
		return 0
	}

	expected := float64(total) / 256
	var sum float64
	for _, c := range h {
		d := float64(c) - expected
		sum += d * d / expected
	}
	return sum
}

// CompressWithZstd compresses data using the Zstandard algorithm.
func CompressWithZstd(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = enc.Write(data); err != nil {
		return nil, err
	}
	if err = enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Report is the outcome of analysing one sample.
type Report struct {
	Offset           int64
	Size             int
	ChiSquare        float64
	CompressionRatio float64
	Distinct         int
}

// Suspicious reports whether the sample fails either test.
func (r Report) Suspicious() bool {
	return r.ChiSquare > ChiSquareLimit || r.CompressionRatio < MinCompressionRatio
}

// Analyze runs both tests on data read from offset.
func Analyze(offset int64, data []byte) (Report, error) {
	if len(data) < MinSampleSize {
		return Report{}, fmt.Errorf("%w: %d bytes, need %d", ErrSampleTooSmall, len(data), MinSampleSize)
	}

	h := Histogram(data)
	distinct := 0
	for _, c := range h {
		if c > 0 {
			distinct++
		}
	}

	compressed, err := CompressWithZstd(data)
	if err != nil {
		return Report{}, fmt.Errorf("failed to compress sample: %w", err)
	}

	return Report{
		Offset:           offset,
		Size:             len(data),
		ChiSquare:        ChiSquare(h),
		CompressionRatio: float64(len(compressed)) / float64(len(data)),
		Distinct:         distinct,
	}, nil
}
