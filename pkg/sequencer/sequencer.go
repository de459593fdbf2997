// Package sequencer is the single consumer of completion events. It hands
// events to a presenter either as they arrive or in original host order.
package sequencer

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/pssh/internal/lg"
	"github.com/andrej220/pssh/pkg/models"
	"github.com/hashicorp/go-multierror"
)

type Mode int

const (
	// Immediate presents each event the moment it arrives.
	Immediate Mode = iota
	// Stable presents events strictly in input order.
	Stable
)

func (m Mode) String() string {
	if m == Stable {
		return "stable"
	}
	return "immediate"
}

// ErrIncomplete means the queue closed before every host reported. The
// scheduler guarantees one event per host, so this is a broken invariant.
var ErrIncomplete = errors.New("event queue closed before all hosts reported")

type Presenter interface {
	Present(ctx context.Context, ev models.CompletionEvent) error
}

type PresenterFunc func(ctx context.Context, ev models.CompletionEvent) error

func (f PresenterFunc) Present(ctx context.Context, ev models.CompletionEvent) error {
	return f(ctx, ev)
}

// Drain consumes events until the queue is closed. Presenter failures do
// not stop draining; they are collected and returned together. Index
// violations and early closure are returned as fatal errors.
func Drain(ctx context.Context, events <-chan models.CompletionEvent, n int, mode Mode, p Presenter) error {
	logger := lg.FromContext(ctx)
	var presentErr *multierror.Error

	present := func(ev models.CompletionEvent) {
		if err := p.Present(ctx, ev); err != nil {
			logger.Warn("present failed", lg.Int("index", ev.Index), lg.Err(err))
			presentErr = multierror.Append(presentErr, err)
		}
	}

	buf := NewReorderBuffer[models.CompletionEvent](n)
	seen := make([]bool, n)
	received := 0
	for ev := range events {
		received++
		if mode == Immediate {
			if ev.Index < 0 || ev.Index >= n {
				return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, ev.Index, n)
			}
			if seen[ev.Index] {
				return fmt.Errorf("%w: %d delivered twice", ErrInvalidIndex, ev.Index)
			}
			seen[ev.Index] = true
			present(ev)
			continue
		}

		ready, err := buf.Put(ev.Index, ev)
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			logger.Debug("holding event", lg.Int("index", ev.Index), lg.Int("waiting_for", buf.Cursor()))
		}
		for _, r := range ready {
			present(r)
		}
	}

	if received != n || (mode == Stable && !buf.Done()) {
		return fmt.Errorf("%w: got %d of %d", ErrIncomplete, received, n)
	}
	return presentErr.ErrorOrNil()
}
