package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrSaturated means every worker is busy and the backlog is full.
	ErrSaturated = errors.New("worker pool saturated")
	ErrClosed    = errors.New("worker pool closed")
)

// Pool runs jobs on at most `workers` goroutines at a time and admits at most
// workers+backlog jobs overall. Admission never blocks.
type Pool struct {
	admit *semaphore.Weighted
	exec  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	admitted atomic.Int64
	running  atomic.Int64
}

func NewPool(workers, backlog int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		admit:  semaphore.NewWeighted(int64(workers + backlog)),
		exec:   semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Ticket is a reserved slot. Exactly one of Go or Release must be called.
type Ticket struct {
	pool *Pool
	once sync.Once
}

// Reserve claims a slot without blocking.
func (p *Pool) Reserve() (*Ticket, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !p.admit.TryAcquire(1) {
		return nil, ErrSaturated
	}
	p.admitted.Add(1)
	return &Ticket{pool: p}, nil
}

// Release gives the slot back unused. Safe to call after Go; it is then a no-op.
func (t *Ticket) Release() {
	t.once.Do(t.pool.free)
}

// Go runs job once a worker is free. The job's context is cancelled on Shutdown.
// A job still waiting for a worker at shutdown is dropped.
func (t *Ticket) Go(job func(ctx context.Context)) error {
	p := t.pool
	started := false
	t.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			p.free()
			return
		}
		started = true
		p.wg.Add(1)
	})
	if !started {
		return ErrClosed
	}

	go func() {
		defer p.wg.Done()
		defer p.free()

		if err := p.exec.Acquire(p.ctx, 1); err != nil {
			log.Warnf("[POOL] job dropped before start: %v", err)
			return
		}
		defer p.exec.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("[POOL] job panicked: %v", r)
			}
		}()
		job(p.ctx)
	}()
	return nil
}

func (p *Pool) free() {
	p.admitted.Add(-1)
	p.admit.Release(1)
}

// Admitted is the number of reserved or running jobs.
func (p *Pool) Admitted() int64 { return p.admitted.Load() }

// Running is the number of jobs currently executing.
func (p *Pool) Running() int64 { return p.running.Load() }

// Shutdown stops admission, cancels running jobs and waits for them or for ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
