package pool

import (
	"context"
)

type slot interface {
	// poll returns the slot's buffer if it is ready, without blocking.
	poll() ([]byte, bool)
	// release lets the slot produce its next buffer.
	release()
}

type scheduler struct {
	slots   []slot
	notify  <-chan struct{}
	last    int
	pending int
	served  []uint64
}

func newScheduler(slots []slot, notify <-chan struct{}) *scheduler {
	return &scheduler{
		slots:   slots,
		notify:  notify,
		last:    len(slots) - 1,
		pending: -1,
		served:  make([]uint64, len(slots)),
	}
}

func (s *scheduler) collect(ctx context.Context, closed <-chan struct{}) (int, []byte, error) {
	if s.pending >= 0 {
		s.slots[s.pending].release()
		s.pending = -1
	}

	n := len(s.slots)
	for {
		for k := 1; k <= n; k++ {
			idx := (s.last + k) % n
			if buf, ok := s.slots[idx].poll(); ok {
				s.last = idx
				s.pending = idx
				s.served[idx]++
				return idx, buf, nil
			}
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-closed:
			return 0, nil, ErrClosed
		}
	}
}
