package ids

import "fmt"

// Layout describes how the 63 usable bits of an ID are split. The timestamp
// takes whatever WorkerBits and SequenceBits leave over.
type Layout struct {
	WorkerBits   uint
	SequenceBits uint
}

// DefaultLayout is the 41/10/12 split.
var DefaultLayout = Layout{WorkerBits: 10, SequenceBits: 12}

const (
	usableBits       = 63
	minTimestampBits = 32
)

func (l Layout) Validate() error {
	if l.WorkerBits == 0 || l.SequenceBits == 0 {
		return fmt.Errorf("%w: worker and sequence bits must be positive", ErrInvalidLayout)
	}
	if l.WorkerBits+l.SequenceBits > usableBits-minTimestampBits {
		return fmt.Errorf("%w: %d worker + %d sequence bits leave fewer than %d timestamp bits",
			ErrInvalidLayout, l.WorkerBits, l.SequenceBits, minTimestampBits)
	}
	return nil
}

func (l Layout) TimestampBits() uint { return usableBits - l.WorkerBits - l.SequenceBits }

func (l Layout) MaxWorkerID() int64  { return 1<<l.WorkerBits - 1 }
func (l Layout) MaxSequence() int64  { return 1<<l.SequenceBits - 1 }
func (l Layout) MaxTimestamp() int64 { return 1<<l.TimestampBits() - 1 }

func (l Layout) timestampShift() uint { return l.WorkerBits + l.SequenceBits }

// Pack combines the three fields. Callers must keep each field in range.
func (l Layout) Pack(timestamp, workerID, sequence int64) ID {
	return ID(uint64(timestamp)<<l.timestampShift() |
		uint64(workerID)<<l.SequenceBits |
		uint64(sequence))
}

// Decode splits id back into its fields.
func (l Layout) Decode(id ID) Parts {
	v := uint64(id)
	return Parts{
		Timestamp: int64(v >> l.timestampShift() & uint64(l.MaxTimestamp())),
		WorkerID:  int64(v >> l.SequenceBits & uint64(l.MaxWorkerID())),
		Sequence:  int64(v & uint64(l.MaxSequence())),
	}
}
