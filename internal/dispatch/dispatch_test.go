package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	loop := NewLoop(nil)
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	assert.Equal(t, 5, loop.Pending())
	assert.Equal(t, 5, loop.Pump())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, loop.Pump())
}

func TestPumpDefersWorkPostedDuringPump(t *testing.T) {
	loop := NewLoop(nil)
	ran := 0
	loop.Post(func() {
		ran++
		loop.Post(func() { ran++ })
	})
	assert.Equal(t, 1, loop.Pump())
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, loop.Pump())
	assert.Equal(t, 2, ran)
}

func TestCallWaitsForResult(t *testing.T) {
	loop := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	sentinel := errors.New("from loop")
	err := loop.Call(ctx, func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	err = loop.Call(ctx, func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCallAfterStop(t *testing.T) {
	loop := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	err := loop.Call(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSingleGoroutineExecution(t *testing.T) {
	loop := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var mu sync.Mutex
	active, maxActive, count := 0, 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Post(func() {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 50
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, maxActive)
}

func TestInline(t *testing.T) {
	var d Dispatcher = Inline{}
	ran := false
	d.Post(func() { ran = true })
	assert.True(t, ran)
	assert.NoError(t, d.Call(context.Background(), func() error { return nil }))
}
