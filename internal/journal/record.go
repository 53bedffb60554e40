package journal

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Run is the journal entry written at the end of every shredding run.
type Run struct {
	Destination string    // Path written to ("-" for stdout)
	Skip        int64     // Byte offset the run started at
	BlockSize   uint64    // Size of every written block in bytes
	Blocks      uint64    // Number of blocks fully written
	Reseeds     uint64    // Number of periodic reseeds of the root engine
	Threads     uint32    // Worker count (1 = inline generation)
	Started     time.Time // Start of the run
	Finished    time.Time // End of the run
	Reason      string    // Why the run stopped
}

// NextOffset is where a follow-up run on the same destination continues.
func (r Run) NextOffset() int64 {
	return r.Skip + int64(r.Blocks*r.BlockSize)
}

const (
	fieldDestination protowire.Number = 1
	fieldSkip        protowire.Number = 2
	fieldBlockSize   protowire.Number = 3
	fieldBlocks      protowire.Number = 4
	fieldReseeds     protowire.Number = 5
	fieldThreads     protowire.Number = 6
	fieldStarted     protowire.Number = 7
	fieldFinished    protowire.Number = 8
	fieldReason      protowire.Number = 9
)

func encodeRun(r Run) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDestination, protowire.BytesType)
	b = protowire.AppendString(b, r.Destination)
	b = protowire.AppendTag(b, fieldSkip, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Skip))
	b = protowire.AppendTag(b, fieldBlockSize, protowire.VarintType)
	b = protowire.AppendVarint(b, r.BlockSize)
	b = protowire.AppendTag(b, fieldBlocks, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Blocks)
	b = protowire.AppendTag(b, fieldReseeds, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Reseeds)
	b = protowire.AppendTag(b, fieldThreads, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Threads))
	b = protowire.AppendTag(b, fieldStarted, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Started.UnixNano()))
	b = protowire.AppendTag(b, fieldFinished, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Finished.UnixNano()))
	b = protowire.AppendTag(b, fieldReason, protowire.BytesType)
	b = protowire.AppendString(b, r.Reason)
	return b
}

func decodeRun(b []byte) (Run, error) {
	var r Run
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Run{}, fmt.Errorf("failed to decode run tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldDestination || num == fieldReason):
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Run{}, fmt.Errorf("failed to decode field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldDestination {
				r.Destination = s
			} else {
				r.Reason = s
			}

		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Run{}, fmt.Errorf("failed to decode field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSkip:
				r.Skip = int64(v)
			case fieldBlockSize:
				r.BlockSize = v
			case fieldBlocks:
				r.Blocks = v
			case fieldReseeds:
				r.Reseeds = v
			case fieldThreads:
				r.Threads = uint32(v)
			case fieldStarted:
				r.Started = time.Unix(0, int64(v))
			case fieldFinished:
				r.Finished = time.Unix(0, int64(v))
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Run{}, fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}
