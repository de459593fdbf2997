// Package presenter turns completion events into user-visible output and
// records. Presenters are driven by a single consumer and need no locking.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andrej220/pssh/pkg/models"
	"github.com/andrej220/pssh/pkg/sequencer"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusError  = "error"
)

// Run identifies one invocation. Every record produced during the run
// carries its ID.
type Run struct {
	ID        uuid.UUID
	Op        models.Operation
	StartedAt time.Time
}

func NewRun(op models.Operation) Run {
	return Run{ID: uuid.New(), Op: op, StartedAt: time.Now()}
}

// Record is the serializable form of one host's result.
type Record struct {
	RunID      string    `json:"runId" bson:"runId"`
	Index      int       `json:"index" bson:"index"`
	Host       string    `json:"host" bson:"host"`
	Operation  string    `json:"operation" bson:"operation"`
	Status     string    `json:"status" bson:"status"`
	ExitStatus *int      `json:"exitStatus,omitempty" bson:"exitStatus,omitempty"`
	Stdout     string    `json:"stdout,omitempty" bson:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty" bson:"stderr,omitempty"`
	Truncated  bool      `json:"truncated,omitempty" bson:"truncated,omitempty"`
	Bytes      int64     `json:"bytes,omitempty" bson:"bytes,omitempty"`
	Stage      string    `json:"stage,omitempty" bson:"stage,omitempty"`
	Error      string    `json:"error,omitempty" bson:"error,omitempty"`
	ElapsedMs  int64     `json:"elapsedMs" bson:"elapsedMs"`
	FinishedAt time.Time `json:"finishedAt" bson:"finishedAt"`
}

func NewRecord(run Run, ev models.CompletionEvent) Record {
	r := Record{
		RunID:      run.ID.String(),
		Index:      ev.Index,
		Host:       ev.Host.Addr(),
		Operation:  run.Op.Kind.String(),
		ElapsedMs:  ev.Elapsed.Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}

	if ev.Err != nil {
		r.Status = StatusError
		r.Error = ev.Err.Error()
		if stage := models.StageOf(ev.Err); stage != models.StageUnknown {
			r.Stage = stage.String()
		}
		return r
	}

	out := ev.Outcome
	switch out.Kind {
	case models.CommandResult:
		status := out.ExitStatus
		r.ExitStatus = &status
		r.Stdout = string(out.Stdout)
		r.Stderr = string(out.Stderr)
		r.Truncated = out.StdoutTruncated || out.StderrTruncated
	case models.TransferComplete:
		r.Bytes = out.Bytes
	}
	r.Status = StatusOK
	if !out.Success() {
		r.Status = StatusFailed
	}
	return r
}

// Multi hands every event to each presenter in turn. A failing presenter
// does not keep the others from seeing the event.
type Multi []sequencer.Presenter

func (m Multi) Present(ctx context.Context, ev models.CompletionEvent) error {
	var result *multierror.Error
	for _, p := range m {
		if err := p.Present(ctx, ev); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close closes every member that holds resources.
func (m Multi) Close() error {
	var result *multierror.Error
	for _, p := range m {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// ErrHostsFailed is wrapped by Summary.Err when at least one host did not
// finish cleanly.
var ErrHostsFailed = errors.New("some hosts failed")

// Summary tallies outcomes for the exit status.
type Summary struct {
	OK       int
	Failed   int
	Errored  int
	failures *multierror.Error
}

func (s *Summary) Present(_ context.Context, ev models.CompletionEvent) error {
	addr := ev.Host.Addr()
	switch {
	case ev.Err != nil:
		s.Errored++
		s.failures = multierror.Append(s.failures, fmt.Errorf("%s: %w", addr, ev.Err))
	case !ev.Outcome.Success():
		s.Failed++
		s.failures = multierror.Append(s.failures, fmt.Errorf("%s: exit with %d", addr, ev.Outcome.ExitStatus))
	default:
		s.OK++
	}
	return nil
}

func (s *Summary) Total() int { return s.OK + s.Failed + s.Errored }

// Err is nil when every host succeeded. Otherwise it wraps ErrHostsFailed
// and lists each failing host.
func (s *Summary) Err() error {
	if s.failures == nil {
		return nil
	}
	return fmt.Errorf("%w: %d of %d: %w", ErrHostsFailed, s.Failed+s.Errored, s.Total(), s.failures)
}
