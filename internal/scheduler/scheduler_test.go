package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/dispatch"
	"github.com/grovetools/virtsession/internal/metrics"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTarget is a hand-written Target with func fields.
type fakeTarget struct {
	uri      string
	TickFunc func(ctx context.Context) error
	ticks    atomic.Int32
	closes   atomic.Int32
}

func (f *fakeTarget) URI() string { return f.uri }

func (f *fakeTarget) Tick(ctx context.Context) error {
	f.ticks.Add(1)
	if f.TickFunc != nil {
		return f.TickFunc(ctx)
	}
	return nil
}

func (f *fakeTarget) Close() error {
	f.closes.Add(1)
	return nil
}

func sourceOf(targets ...*fakeTarget) Source {
	return func() []Target {
		out := make([]Target, 0, len(targets))
		for _, t := range targets {
			out = append(out, t)
		}
		return out
	}
}

func TestCycleErrorPolicy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		isolate    bool
		wantTicked []int32
		wantClosed int32
		wantReport int
	}{
		{
			name:       "fatal closes and continues",
			err:        errors.ConnectionFatal("host-a", fmt.Errorf("eof")),
			wantTicked: []int32{1, 1, 1},
			wantClosed: 1,
		},
		{
			name:       "transient continues",
			err:        errors.ConnectionTransient("host-a", fmt.Errorf("timeout")),
			wantTicked: []int32{1, 1, 1},
		},
		{
			name:       "unclassified aborts",
			err:        fmt.Errorf("unexpected"),
			wantTicked: []int32{1, 1, 0},
			wantReport: 1,
		},
		{
			name:       "unclassified isolated",
			err:        fmt.Errorf("unexpected"),
			isolate:    true,
			wantTicked: []int32{1, 1, 1},
			wantReport: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := &fakeTarget{uri: "host-0"}
			failing := &fakeTarget{uri: "host-a", TickFunc: func(context.Context) error { return tt.err }}
			last := &fakeTarget{uri: "host-b"}

			var reports []string
			s := New(sourceOf(first, failing, last), Options{
				IsolateFailures: tt.isolate,
				OnCycleError:    func(uri string, err error) { reports = append(reports, uri) },
			})

			require.True(t, s.Fire())
			assert.Equal(t, tt.wantTicked, []int32{first.ticks.Load(), failing.ticks.Load(), last.ticks.Load()})
			assert.Equal(t, tt.wantClosed, failing.closes.Load())
			assert.Len(t, reports, tt.wantReport)
			assert.False(t, s.Running())
		})
	}
}

func TestFatalCloseRunsOnDispatcher(t *testing.T) {
	loop := dispatch.NewLoop(nil)
	failing := &fakeTarget{uri: "host-a", TickFunc: func(context.Context) error {
		return errors.ConnectionFatal("host-a", nil)
	}}
	s := New(sourceOf(failing), Options{Dispatcher: loop})

	s.Fire()
	assert.Equal(t, int32(0), failing.closes.Load(), "close must wait for the controlling thread")
	assert.Equal(t, 1, loop.Pump())
	assert.Equal(t, int32(1), failing.closes.Load())
}

func TestOverlappingFiringsSkipped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var active, maxActive atomic.Int32
	slowTarget := &fakeTarget{uri: "slow", TickFunc: func(context.Context) error {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		active.Add(-1)
		return nil
	}}

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := metrics.New()
	s := New(sourceOf(slowTarget), Options{
		Threaded: true,
		Logger:   logrus.NewEntry(logger),
		Metrics:  m,
	})

	require.True(t, s.Fire())
	<-started
	assert.False(t, s.Fire())
	assert.False(t, s.Fire())
	assert.False(t, s.Fire())

	slowLogs := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Tick is slow, not running at requested rate" {
			slowLogs++
		}
	}
	assert.Equal(t, 1, slowLogs)

	close(release)
	s.Wait()
	assert.False(t, s.Running())
	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 3.0, counterValue(t, m, "virtsession_tick_skipped_total"))

	// The slow flag is cleared, so the next overrun logs again.
	assert.True(t, s.Fire())
	s.Wait()
}

func TestPanicIsUnclassified(t *testing.T) {
	var got error
	boom := &fakeTarget{uri: "host-a", TickFunc: func(context.Context) error { panic("driver bug") }}
	after := &fakeTarget{uri: "host-b"}
	s := New(sourceOf(boom, after), Options{
		OnCycleError: func(uri string, err error) { got = err },
	})

	assert.NotPanics(t, func() { s.Fire() })
	require.Error(t, got)
	assert.Equal(t, errors.ErrCodeUnclassifiedTick, errors.KindOf(got))
	assert.Equal(t, int32(0), after.ticks.Load())
}

func TestCancelledContextStopsCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeTarget{uri: "a", TickFunc: func(context.Context) error {
		cancel()
		return nil
	}}
	second := &fakeTarget{uri: "b"}
	s := New(sourceOf(first, second), Options{})
	s.Start(ctx)
	defer s.Stop()

	s.Fire()
	assert.Equal(t, int32(0), second.ticks.Load())
}

func TestTimerFiresThroughDispatcher(t *testing.T) {
	loop := dispatch.NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	target := &fakeTarget{uri: "a"}
	s := New(sourceOf(target), Options{Interval: 5 * time.Millisecond, Dispatcher: loop})
	s.Start(ctx)

	require.Eventually(t, func() bool { return target.ticks.Load() >= 3 }, 2*time.Second, time.Millisecond)

	s.Reschedule(time.Hour)
	assert.Equal(t, time.Hour, s.Interval())
	time.Sleep(20 * time.Millisecond)
	settled := target.ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, target.ticks.Load())
}

func TestStopDisarms(t *testing.T) {
	target := &fakeTarget{uri: "a"}
	s := New(sourceOf(target), Options{Interval: 5 * time.Millisecond})
	s.Start(context.Background())
	s.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), target.ticks.Load())

	// Rescheduling a stopped scheduler does not re-arm it.
	s.Reschedule(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), target.ticks.Load())
}

func TestConcurrentFire(t *testing.T) {
	var active, maxActive atomic.Int32
	target := &fakeTarget{uri: "a", TickFunc: func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	}}
	s := New(sourceOf(target), Options{Threaded: true})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Fire()
		}()
	}
	wg.Wait()
	s.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			var total float64
			for _, metric := range f.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
			return total
		}
	}
	return 0
}
