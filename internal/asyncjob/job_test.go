package asyncjob

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sessionerrors "github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitSuccess(t *testing.T) {
	ex := NewExecutor(nil, nil)
	h := Submit(context.Background(), ex, "Saving entity", func(ctx context.Context) (string, error) {
		return "saved", nil
	})

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "saved", res)
	assert.Equal(t, DoneOK, h.State())
	assert.NotEmpty(t, h.ID())
	assert.False(t, h.FinishedAt().IsZero())

	info, ok := ex.Job(h.ID())
	require.True(t, ok)
	assert.Equal(t, "ok", info.State)
	assert.Equal(t, "Saving entity", info.Label)
}

func TestSubmitReturnedError(t *testing.T) {
	ex := NewExecutor(nil, nil)
	h := Submit(context.Background(), ex, "Restoring entity", func(ctx context.Context) (int, error) {
		return 0, errors.New("disk full")
	})

	_, err := h.Wait(context.Background())
	require.Error(t, err)
	var jerr *JobError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, "disk full", jerr.Summary)
	assert.Equal(t, DoneError, h.State())
}

func TestSubmitPanic(t *testing.T) {
	ex := NewExecutor(nil, nil)
	h := Submit(context.Background(), ex, "Migrating entity", func(ctx context.Context) (struct{}, error) {
		panic("worker exploded")
	})

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never completed after panic")
	}

	_, jerr := h.Result()
	require.NotNil(t, jerr)
	assert.Equal(t, "worker exploded", jerr.Summary)
	assert.Contains(t, jerr.Detail, "goroutine")
	assert.Equal(t, DoneError, h.State())

	info, ok := ex.Job(h.ID())
	require.True(t, ok)
	assert.Equal(t, "error", info.State)
	require.NotNil(t, info.Error)
}

func TestFinishOnlyOnce(t *testing.T) {
	h := &Handle[int]{done: make(chan struct{})}
	var wg sync.WaitGroup
	var wins int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if h.finish(i, nil) {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, DoneOK, h.State())
}

func TestWaitContextCancelled(t *testing.T) {
	ex := NewExecutor(nil, nil)
	release := make(chan struct{})
	h := Submit(context.Background(), ex, "slow", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Running, h.State())
}

func TestWaitPumpingServicesQueue(t *testing.T) {
	ex := NewExecutor(nil, nil)
	loop := dispatch.NewLoop(nil)

	var serviced atomic.Bool
	h := Submit(context.Background(), ex, "pumping", func(ctx context.Context) (int, error) {
		// Work posted by the worker must run while the submitter waits.
		done := make(chan struct{})
		loop.Post(func() {
			serviced.Store(true)
			close(done)
		})
		<-done
		return 7, nil
	})

	res, err := h.WaitPumping(context.Background(), loop, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 7, res)
	assert.True(t, serviced.Load())
}

func TestJobsListing(t *testing.T) {
	ex := NewExecutor(nil, nil)
	var handles []*Handle[int]
	for i := 0; i < 3; i++ {
		i := i
		handles = append(handles, Submit(context.Background(), ex, "job", func(ctx context.Context) (int, error) {
			return i, nil
		}))
	}
	for _, h := range handles {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, ex.Jobs(), 3)
}

func TestReturnedErrorDetailCarriesTrace(t *testing.T) {
	ex := NewExecutor(nil, nil)
	cause := errors.New("connection reset")
	h := Submit(context.Background(), ex, "Saving entity", func(ctx context.Context) (int, error) {
		return 0, sessionerrors.Wrap(cause, sessionerrors.ErrCodeInternal, "export failed").
			WithDetail("path", "/tmp/vm1.tar")
	})

	_, err := h.Wait(context.Background())
	require.Error(t, err)
	_, jerr := h.Result()
	require.NotNil(t, jerr)

	assert.Equal(t, "INTERNAL_ERROR: export failed (caused by: connection reset)", jerr.Summary)
	assert.NotEqual(t, jerr.Summary, jerr.Detail)
	assert.Contains(t, jerr.Detail, "caused by: connection reset")
	assert.Contains(t, jerr.Detail, "path: /tmp/vm1.tar")
	assert.Contains(t, jerr.Detail, "goroutine")
}

func TestFinishedJobsAreTrimmed(t *testing.T) {
	ex := NewExecutor(nil, nil)
	var first *Handle[int]
	for i := 0; i < maxFinishedJobs+5; i++ {
		h := Submit(context.Background(), ex, "job", func(ctx context.Context) (int, error) {
			return 0, nil
		})
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
		if first == nil {
			first = h
		}
	}

	assert.Len(t, ex.Jobs(), maxFinishedJobs)
	_, ok := ex.Job(first.ID())
	assert.False(t, ok)
}
