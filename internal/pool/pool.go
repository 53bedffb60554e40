// Package pool runs keystream producers on their own goroutines and hands
// their buffers to a single consumer in round-robin order.
//
// Every worker owns exactly one buffer. After filling it the worker parks
// until the consumer has taken the buffer and asked for the next one, so at
// most one buffer per worker is ever in flight.
package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Collect once the pool has shut down.
var ErrClosed = errors.New("pool: closed")

// Producer fills a buffer with fresh data.
type Producer interface {
	Fill(buf []byte)
}

// Block is a filled buffer together with the worker that produced it. Data
// stays valid until the next call to Collect or Close.
type Block struct {
	Worker int
	Data   []byte
}

// Pool owns the workers and the scheduler that hands out their buffers.
type Pool struct {
	workers []*worker
	sched   *scheduler
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	closed atomic.Bool
}

// New starts one worker per producer, each owning a buffer of blockSize
// bytes obtained from alloc (make when alloc is nil).
func New(ctx context.Context, producers []Producer, blockSize int, alloc func(int) []byte, logger logrus.FieldLogger) (*Pool, error) {
	if len(producers) == 0 {
		return nil, errors.New("pool: at least one producer is required")
	}
	if blockSize <= 0 {
		return nil, errors.New("pool: block size must be positive")
	}
	if alloc == nil {
		alloc = func(n int) []byte { return make([]byte, n) }
	}
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		log:    logger,
		ctx:    gctx,
		cancel: cancel,
		group:  group,
	}

	notify := make(chan struct{}, len(producers))
	slots := make([]slot, len(producers))
	for i, producer := range producers {
		w := &worker{
			id:       i,
			producer: producer,
			buf:      alloc(blockSize),
			ready:    make(chan []byte, 1),
			resume:   make(chan struct{}, 1),
		}
		p.workers = append(p.workers, w)
		slots[i] = w
	}
	p.sched = newScheduler(slots, notify)

	for _, w := range p.workers {
		group.Go(func() error {
			return w.run(gctx, notify)
		})
	}

	logger.WithField("workers", len(producers)).Debug("Worker pool started")
	return p, nil
}

// Collect releases the previously returned buffer back to its worker and
// returns the next ready one, blocking while no worker is ready.
func (p *Pool) Collect(ctx context.Context) (Block, error) {
	if p.closed.Load() {
		return Block{}, ErrClosed
	}
	id, data, err := p.sched.collect(ctx, p.ctx.Done())
	if err != nil {
		return Block{}, err
	}
	return Block{Worker: id, Data: data}, nil
}

// Close stops all workers and waits for them to exit. A worker in the middle
// of filling its buffer finishes that buffer first.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	err := p.group.Wait()
	p.log.WithField("served", p.sched.served).Debug("Worker pool stopped")
	return err
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Served returns how many buffers have been taken from each worker.
func (p *Pool) Served() []uint64 {
	return append([]uint64(nil), p.sched.served...)
}

// Produced returns how many buffers each worker has filled.
func (p *Pool) Produced() []uint64 {
	out := make([]uint64, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.filled.Load()
	}
	return out
}

type worker struct {
	id       int
	producer Producer
	buf      []byte
	ready    chan []byte
	resume   chan struct{}
	filled   atomic.Uint64
}

func (w *worker) run(ctx context.Context, notify chan<- struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		w.producer.Fill(w.buf)
		w.filled.Add(1)
		w.ready <- w.buf

		select {
		case notify <- struct{}{}:
		default:
		}

		select {
		case <-w.resume:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *worker) poll() ([]byte, bool) {
	select {
	case buf := <-w.ready:
		return buf, true
	default:
		return nil, false
	}
}

func (w *worker) release() {
	select {
	case w.resume <- struct{}{}:
	default:
	}
}
