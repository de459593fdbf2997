// Package fanout runs one operation against every host on a bounded worker
// pool and reports exactly one completion event per host.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/pssh/internal/lg"
	"github.com/andrej220/pssh/pkg/models"
	"github.com/andrej220/pssh/pkg/workerpool"
)

// Executor performs one operation on one host.
type Executor interface {
	Execute(ctx context.Context, host models.HostSpec, op models.Operation) (models.Outcome, error)
}

type ExecutorFunc func(ctx context.Context, host models.HostSpec, op models.Operation) (models.Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, host models.HostSpec, op models.Operation) (models.Outcome, error) {
	return f(ctx, host, op)
}

var ErrInvalidWorkers = errors.New("worker count must be at least 1")

type Scheduler struct {
	exec    Executor
	workers int
}

func New(exec Executor, workers int) (*Scheduler, error) {
	if workers < 1 {
		return nil, ErrInvalidWorkers
	}
	return &Scheduler{exec: exec, workers: workers}, nil
}

// Run dispatches op for every host and returns the event queue. The queue
// has capacity len(hosts), so workers never block on delivery, and it is
// closed once every host has completed.
func (s *Scheduler) Run(ctx context.Context, hosts []models.HostSpec, op models.Operation) (<-chan models.CompletionEvent, error) {
	for i, h := range hosts {
		if h.Index != i {
			return nil, fmt.Errorf("host %s has index %d at position %d", h.Addr(), h.Index, i)
		}
	}

	n := len(hosts)
	events := make(chan models.CompletionEvent, n)
	if n == 0 {
		close(events)
		return events, nil
	}

	workers := min(s.workers, n)
	pool := workerpool.NewPool[models.HostSpec](workers)
	logger := lg.FromContext(ctx)
	logger.Debug("dispatching", lg.Int("hosts", n), lg.Int("workers", workers), lg.String("op", op.Kind.String()))

	go func() {
		defer close(events)
		for _, h := range hosts {
			err := pool.Submit(workerpool.Job[models.HostSpec]{
				Payload: h,
				Ctx:     ctx,
				Fn: func(ctx context.Context, host models.HostSpec) {
					deliver(events, s.runOne(ctx, host, op))
				},
			})
			if err != nil {
				panic(fmt.Sprintf("fanout: submit host %d: %v", h.Index, err))
			}
		}
		pool.Stop()
	}()
	return events, nil
}

func (s *Scheduler) runOne(ctx context.Context, host models.HostSpec, op models.Operation) models.CompletionEvent {
	start := time.Now()
	out, err := s.exec.Execute(ctx, host, op)
	return models.CompletionEvent{
		Index:   host.Index,
		Host:    host,
		Outcome: out,
		Err:     err,
		Elapsed: time.Since(start),
	}
}

// deliver never blocks: a full queue means more than one event was produced
// for some host, which breaks every ordering guarantee downstream.
func deliver(events chan<- models.CompletionEvent, ev models.CompletionEvent) {
	select {
	case events <- ev:
	default:
		panic(fmt.Sprintf("fanout: event queue full delivering host %d", ev.Index))
	}
}
