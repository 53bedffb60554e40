// Package units parses byte and count quantities written with an optional
// multiplier suffix.
//
// Upper-case suffixes are powers of ten (K=10^3, M=10^6, G=10^9), lower-case
// ones are powers of two (k=2^10, m=2^20, g=2^30). A trailing 'b' after the
// multiplier is accepted and ignored, so "4kb" equals "4k".
package units

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

var multipliers = map[byte]uint64{
	'K': 1000,
	'k': 1 << 10,
	'M': 1000 * 1000,
	'm': 1 << 20,
	'G': 1000 * 1000 * 1000,
	'g': 1 << 30,
}

// Parse converts s to a count.
func Parse(s string) (uint64, error) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%q is not a positive integer", s)
	}

	n, err := strconv.ParseUint(s[:end], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a positive integer: %w", s, err)
	}

	rest := s[end:]
	if rest == "" {
		return n, nil
	}

	mult, ok := multipliers[rest[0]]
	if !ok {
		return 0, fmt.Errorf("invalid multiplier %q in %q, must be K/k/M/m/G/g", rest[0], s)
	}
	if tail := rest[1:]; tail != "" && tail != "b" {
		return 0, fmt.Errorf("invalid characters %q after multiplier in %q", tail, s)
	}
	if n > math.MaxUint64/mult {
		return 0, fmt.Errorf("%q overflows", s)
	}

	return n * mult, nil
}

// Size is a pflag.Value holding a parsed quantity.
type Size uint64

func (s *Size) String() string {
	return strconv.FormatUint(uint64(*s), 10)
}

func (s *Size) Set(value string) error {
	n, err := Parse(value)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s *Size) Type() string {
	return "size"
}

// Bytes renders n as an IEC byte quantity.
func Bytes(n uint64) string {
	return humanize.IBytes(n)
}
