package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/andrej220/pssh/internal/lg"
)

const DefaultMaxWorkers = 10

var ErrPoolClosed = errors.New("worker pool is closed")

type JobFunc[T any] func(context.Context, T)

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

// Pool runs jobs on a fixed set of worker goroutines. A pool is built for
// one run and stopped when that run has submitted everything.
type Pool[T any] struct {
	jobs          chan Job[T]
	activeWorkers int32
	wg            sync.WaitGroup
	mu            sync.RWMutex
	closed        bool
	maxWorkers    int
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	pool := &Pool[T]{
		jobs:       make(chan Job[T]),
		maxWorkers: maxWorkers,
	}
	pool.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go pool.worker(i)
	}
	return pool
}

// Submit hands job to the next free worker, blocking while all are busy.
func (p *Pool[T]) Submit(job Job[T]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	lg.FromContext(job.Ctx).Debug("job submitted", lg.Any("job", job.Payload))
	p.jobs <- job
	return nil
}

// Stop rejects further submissions and waits for in-flight jobs to finish.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool[T]) run(id int, job Job[T]) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()

	logger := lg.FromContext(job.Ctx).With(lg.Int("worker", id))
	logger.Debug("worker started job", lg.Int32("active", atomic.LoadInt32(&p.activeWorkers)))
	job.Fn(job.Ctx, job.Payload)
	logger.Debug("worker finished job")
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}

func (p *Pool[T]) Size() int { return p.maxWorkers }
