// Package asyncjob runs slow administrative work off the controlling thread
// and reports its outcome through a Handle.
package asyncjob

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/dispatch"
)

// State is the lifecycle of a job.
type State int32

const (
	Running State = iota
	DoneOK
	DoneError
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case DoneOK:
		return "ok"
	case DoneError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// JobError is the failure captured from a job's work function.
type JobError struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
}

func (e *JobError) Error() string { return e.Summary }

// Handle tracks one submitted job. It moves out of Running exactly once.
type Handle[T any] struct {
	id        string
	label     string
	startedAt time.Time
	done      chan struct{}
	once      sync.Once

	mu         sync.RWMutex
	state      State
	result     T
	err        *JobError
	finishedAt time.Time
}

// ID returns the job's unique id.
func (h *Handle[T]) ID() string { return h.id }

// Label returns the human readable job title.
func (h *Handle[T]) Label() string { return h.label }

// StartedAt returns when the job was submitted.
func (h *Handle[T]) StartedAt() time.Time { return h.startedAt }

// Done is closed when the job finishes.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// State returns the current state.
func (h *Handle[T]) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Result returns the value and failure. Both are zero while Running.
func (h *Handle[T]) Result() (T, *JobError) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result, h.err
}

// FinishedAt returns when the job finished, zero while Running.
func (h *Handle[T]) FinishedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.finishedAt
}

// Wait blocks until the job finishes or ctx is done.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.outcome()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitPumping waits for the job while draining the controlling thread's
// queue every interval, so work posted by other goroutines keeps running
// during a modal wait.
func (h *Handle[T]) WaitPumping(ctx context.Context, pump dispatch.Pump, interval time.Duration) (T, error) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pump.Pump()
		select {
		case <-h.done:
			pump.Pump()
			return h.outcome()
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Handle[T]) outcome() (T, error) {
	res, jerr := h.Result()
	if jerr != nil {
		return res, jerr
	}
	return res, nil
}

func (h *Handle[T]) finish(result T, jerr *JobError) bool {
	finished := false
	h.once.Do(func() {
		h.mu.Lock()
		h.result = result
		h.err = jerr
		h.finishedAt = time.Now()
		if jerr != nil {
			h.state = DoneError
		} else {
			h.state = DoneOK
		}
		h.mu.Unlock()
		close(h.done)
		finished = true
	})
	return finished
}

// Submit starts work on a new goroutine and returns its handle immediately.
// Returned errors and panics both end in DoneError; the handle never stays
// Running once work returns.
func Submit[T any](ctx context.Context, ex *Executor, label string, work func(ctx context.Context) (T, error)) *Handle[T] {
	h := &Handle[T]{
		id:        uuid.NewString(),
		label:     label,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	ex.started(h.id, label, h.startedAt)

	go func() {
		var (
			result T
			jerr   *JobError
		)
		defer func() {
			if r := recover(); r != nil {
				jerr = &JobError{
					Summary: fmt.Sprint(r),
					Detail:  string(debug.Stack()),
				}
			}
			if h.finish(result, jerr) {
				ex.finished(h.id, label, h.startedAt, jerr)
			}
		}()

		res, err := work(ctx)
		if err != nil {
			jerr = &JobError{
				Summary: err.Error(),
				Detail:  errorDetail(err),
			}
			return
		}
		result = res
	}()

	return h
}

// errorDetail renders the cause chain, any structured details and the
// worker's stack for a job that returned an error.
func errorDetail(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%+v\n", err)
	for cause := stderrors.Unwrap(err); cause != nil; cause = stderrors.Unwrap(cause) {
		fmt.Fprintf(&b, "caused by: %v\n", cause)
	}
	var serr *errors.SessionError
	if stderrors.As(err, &serr) && len(serr.Details) > 0 {
		keys := make([]string, 0, len(serr.Details))
		for k := range serr.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, serr.Details[k])
		}
	}
	b.WriteString("\n")
	b.Write(debug.Stack())
	return b.String()
}
