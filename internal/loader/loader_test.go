// Copyright 2025 Joseph Cumines

package loader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer fires only when the test says so.
type fakeTimer struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTimer) C() <-chan time.Time { return f.ch }

func (f *fakeTimer) Stop() bool { return !f.stopped.Swap(true) }

// Fire delivers a tick without blocking, as a late-firing runtime timer would.
func (f *fakeTimer) Fire() {
	select {
	case f.ch <- time.Time{}:
	default:
	}
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
	// fireImmediately pre-loads each new timer so it has already expired.
	fireImmediately bool
}

func (c *fakeClock) NewTimer(time.Duration) Timer {
	t := &fakeTimer{ch: make(chan time.Time, 1)}
	if c.fireImmediately {
		t.Fire()
	}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

type handle struct{ name Name }

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func countingImporters(counts map[Name]*atomic.Int32) map[Name]Importer {
	imps := make(map[Name]Importer)
	for _, name := range DefaultOrder {
		name := name
		counts[name] = &atomic.Int32{}
		imps[name] = func(context.Context) (any, error) {
			counts[name].Add(1)
			return &handle{name: name}, nil
		}
	}
	return imps
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		want State
	}{
		{Uninitialized, EvStart, EagerLoading},
		{Uninitialized, EvForceSafe, SafeMode},
		{Uninitialized, EvTimeout, Uninitialized},
		{EagerLoading, EvAllLoaded, EagerLoaded},
		{EagerLoading, EvImportFailed, SafeMode},
		{EagerLoading, EvTimeout, SafeMode},
		{EagerLoading, EvForceSafe, SafeMode},
		{EagerLoaded, EvTimeout, EagerLoaded},
		{EagerLoaded, EvImportFailed, EagerLoaded},
		{SafeMode, EvAllLoaded, SafeMode},
		{SafeMode, EvStart, SafeMode},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.from, tt.ev))
		})
	}
	assert.True(t, EagerLoaded.Terminal())
	assert.True(t, SafeMode.Terminal())
	assert.False(t, EagerLoading.Terminal())
}

func TestStart_AllImportsBeforeTimeout(t *testing.T) {
	counts := make(map[Name]*atomic.Int32)
	clock := &fakeClock{}
	l := New(Config{Importers: countingImporters(counts), Clock: clock, Log: quietLog()})

	state := l.Start(context.Background(), false)
	require.Equal(t, EagerLoaded, state)

	timer := clock.last()
	assert.True(t, timer.stopped.Load(), "timer should be cancelled on eager success")

	// A late tick must not demote the loader.
	timer.Fire()
	assert.Equal(t, EagerLoaded, l.State())

	for _, name := range DefaultOrder {
		assert.True(t, l.Loaded(name), name)
		h, err := Get[*handle](context.Background(), l, name)
		require.NoError(t, err)
		assert.Equal(t, name, h.name)
		assert.Equal(t, int32(1), counts[name].Load(), "handle should be reused, not re-imported")
	}
}

func TestStart_TimeoutFirst(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	imps := map[Name]Importer{
		Contacts: func(context.Context) (any, error) { return &handle{name: Contacts}, nil },
		Notes: func(ctx context.Context) (any, error) {
			<-release
			return &handle{name: Notes}, nil
		},
	}
	clock := &fakeClock{fireImmediately: true}
	l := New(Config{Importers: imps, Clock: clock, Log: quietLog()})

	state := l.Start(context.Background(), false)
	require.Equal(t, SafeMode, state)
	assert.False(t, l.Loaded(Contacts), "partially loaded handles must be discarded")
	assert.False(t, l.Loaded(Notes))
}

func TestStart_ImportFailure(t *testing.T) {
	var mailCalls atomic.Int32
	imps := map[Name]Importer{
		Contacts: func(context.Context) (any, error) { return &handle{name: Contacts}, nil },
		Messages: func(context.Context) (any, error) { return nil, errors.New("no disk access") },
		Mail: func(context.Context) (any, error) {
			mailCalls.Add(1)
			return &handle{name: Mail}, nil
		},
	}
	l := New(Config{Importers: imps, Clock: &fakeClock{}, Log: quietLog()})

	require.Equal(t, SafeMode, l.Start(context.Background(), false))
	assert.False(t, l.Loaded(Contacts))
	assert.Equal(t, int32(0), mailCalls.Load(), "imports after the failure should not run")
}

func TestStart_ImportPanic(t *testing.T) {
	imps := map[Name]Importer{
		Contacts: func(context.Context) (any, error) { panic("boom") },
	}
	l := New(Config{Importers: imps, Clock: &fakeClock{}, Log: quietLog()})
	assert.Equal(t, SafeMode, l.Start(context.Background(), false))
}

func TestStart_ForceSafe(t *testing.T) {
	counts := make(map[Name]*atomic.Int32)
	clock := &fakeClock{}
	l := New(Config{Importers: countingImporters(counts), Clock: clock, Log: quietLog()})

	require.Equal(t, SafeMode, l.Start(context.Background(), true))
	assert.Empty(t, clock.timers, "forced safe mode arms no timer")
	for _, name := range DefaultOrder {
		assert.Equal(t, int32(0), counts[name].Load())
	}

	// Start is idempotent.
	assert.Equal(t, SafeMode, l.Start(context.Background(), false))
}

func TestGet_SafeModeMemoizes(t *testing.T) {
	counts := make(map[Name]*atomic.Int32)
	l := New(Config{Importers: countingImporters(counts), Clock: &fakeClock{}, Log: quietLog()})
	require.Equal(t, SafeMode, l.Start(context.Background(), true))

	for i := 0; i < 3; i++ {
		h, err := Get[*handle](context.Background(), l, Mail)
		require.NoError(t, err)
		assert.Equal(t, Mail, h.name)
	}
	assert.Equal(t, int32(1), counts[Mail].Load())
	assert.Equal(t, int32(0), counts[Notes].Load())
}

func TestGet_FailuresAreNotMemoized(t *testing.T) {
	var calls atomic.Int32
	imps := map[Name]Importer{
		Mail: func(context.Context) (any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("transient")
			}
			return &handle{name: Mail}, nil
		},
	}
	l := New(Config{Importers: imps, Clock: &fakeClock{}, Log: quietLog()})
	l.Start(context.Background(), true)

	_, err := l.Get(context.Background(), Mail)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrModuleLoadFailed))
	assert.False(t, l.Loaded(Mail))

	h, err := Get[*handle](context.Background(), l, Mail)
	require.NoError(t, err)
	assert.Equal(t, Mail, h.name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_ConcurrentCallersShareOneImport(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	imps := map[Name]Importer{
		Notes: func(context.Context) (any, error) {
			calls.Add(1)
			<-gate
			return &handle{name: Notes}, nil
		},
	}
	l := New(Config{Importers: imps, Clock: &fakeClock{}, Log: quietLog()})
	l.Start(context.Background(), true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Get(context.Background(), Notes)
			assert.NoError(t, err)
		}()
	}
	// Let the callers pile up on the in-flight import before releasing it.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, l.Loaded(Notes))
}

func TestGet_UnknownModuleAndWrongType(t *testing.T) {
	imps := map[Name]Importer{
		Mail: func(context.Context) (any, error) { return "not a handle", nil },
	}
	l := New(Config{Importers: imps, Clock: &fakeClock{}, Log: quietLog()})

	_, err := l.Get(context.Background(), Reminders)
	require.Error(t, err)
	assert.Equal(t, apperr.KindModuleLoadFailed, apperr.KindOf(err))

	_, err = Get[*handle](context.Background(), l, Mail)
	require.Error(t, err)
	assert.Equal(t, apperr.KindModuleLoadFailed, apperr.KindOf(err))
}
