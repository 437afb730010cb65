// Copyright 2025 Joseph Cumines

// Package loader decides when collaborator modules are initialized.
//
// At startup, Start races sequential initialization of every module against
// a single timer. If all modules finish first the loader is EAGER_LOADED and
// keeps their handles; if any fails, or the timer fires first, the loader
// drops every handle and enters SAFE_MODE, where Get initializes each module
// on first use and memoizes it. Failed on-demand imports are never memoized,
// so a transient failure only affects the request that saw it.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds eager loading.
const DefaultTimeout = 5 * time.Second

// Name identifies a collaborator module.
type Name string

// Collaborator modules, in eager-load order.
const (
	Contacts  Name = "contacts"
	Notes     Name = "notes"
	Messages  Name = "messages"
	Mail      Name = "mail"
	Reminders Name = "reminders"
)

// DefaultOrder is the fixed eager-load sequence.
var DefaultOrder = []Name{Contacts, Notes, Messages, Mail, Reminders}

// Importer initializes a module and returns its handle.
type Importer func(ctx context.Context) (any, error)

// Config configures a Loader.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Config struct {
	// Importers maps every module to its initializer.
	Importers map[Name]Importer
	// Order is the eager-load sequence. Defaults to DefaultOrder, filtered to
	// the modules present in Importers.
	Order []Name
	// Clock defaults to RealClock.
	Clock Clock
	// Log defaults to slog.Default().
	Log *slog.Logger
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

// Loader owns the loading mode and the memoized module handles.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Loader struct {
	importers map[Name]Importer
	handles   map[Name]any
	clock     Clock
	log       *slog.Logger
	order     []Name
	group     singleflight.Group
	timeout   time.Duration
	state     State
	mu        sync.Mutex
}

// New returns an uninitialized Loader.
func New(cfg Config) *Loader {
	l := &Loader{
		importers: cfg.Importers,
		handles:   make(map[Name]any),
		clock:     cfg.Clock,
		log:       cfg.Log,
		order:     cfg.Order,
		timeout:   cfg.Timeout,
	}
	if l.importers == nil {
		l.importers = make(map[Name]Importer)
	}
	if l.clock == nil {
		l.clock = RealClock
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.timeout <= 0 {
		l.timeout = DefaultTimeout
	}
	if l.order == nil {
		for _, name := range DefaultOrder {
			if _, ok := l.importers[name]; ok {
				l.order = append(l.order, name)
			}
		}
	}
	return l
}

// State returns the current state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Loaded reports whether name has a memoized handle.
func (l *Loader) Loaded(name Name) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.handles[name]
	return ok
}

type eagerOutcome struct {
	handles map[Name]any
	err     error
}

// Start runs the startup race and returns the terminal state. With
// forceSafe, eager loading is skipped and the loader enters SAFE_MODE
// directly. Calling Start again returns the existing state.
func (l *Loader) Start(ctx context.Context, forceSafe bool) State {
	l.mu.Lock()
	if l.state != Uninitialized {
		s := l.state
		l.mu.Unlock()
		return s
	}
	if forceSafe {
		l.state = Transition(l.state, EvForceSafe)
		l.handles = make(map[Name]any)
		l.mu.Unlock()
		l.log.Info("safe mode forced by client profile; modules load on demand")
		return SafeMode
	}
	l.state = Transition(l.state, EvStart)
	l.mu.Unlock()

	eagerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so a losing import goroutine never blocks.
	done := make(chan eagerOutcome, 1)
	go func() {
		handles := make(map[Name]any, len(l.order))
		for _, name := range l.order {
			h, err := l.importOne(eagerCtx, name)
			if err != nil {
				done <- eagerOutcome{err: fmt.Errorf("%s: %w", name, err)}
				return
			}
			handles[name] = h
		}
		done <- eagerOutcome{handles: handles}
	}()

	timer := l.clock.NewTimer(l.timeout)

	var (
		event  Event
		loaded map[Name]any
	)
	select {
	case o := <-done:
		timer.Stop()
		if o.err != nil {
			event = EvImportFailed
			l.log.Warn("eager module load failed; switching to safe mode", slog.Any("error", o.err))
		} else {
			event = EvAllLoaded
			loaded = o.handles
		}
	case <-timer.C():
		event = EvTimeout
		l.log.Warn("eager module load timed out; switching to safe mode", slog.Duration("timeout", l.timeout))
	case <-ctx.Done():
		timer.Stop()
		event = EvImportFailed
		l.log.Warn("eager module load cancelled; switching to safe mode", slog.Any("error", ctx.Err()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = Transition(l.state, event)
	if l.state == EagerLoaded {
		l.handles = loaded
	} else {
		l.handles = make(map[Name]any)
	}
	l.log.Info("module loader ready", slog.String("state", l.state.String()), slog.String("event", event.String()))
	return l.state
}

// Get returns the handle for name, importing it if it is not memoized.
// Concurrent callers share one import. Errors are apperr.KindModuleLoadFailed
// and are not memoized.
func (l *Loader) Get(ctx context.Context, name Name) (any, error) {
	if h, ok := l.memoized(name); ok {
		return h, nil
	}

	v, err, _ := l.group.Do(string(name), func() (any, error) {
		if h, ok := l.memoized(name); ok {
			return h, nil
		}
		h, err := l.importOne(ctx, name)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.handles[name] = h
		l.mu.Unlock()
		l.log.Debug("module loaded on demand", slog.String("module", string(name)))
		return h, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModuleLoadFailed, "loader."+string(name), err)
	}
	return v, nil
}

// Get is the typed form of (*Loader).Get.
func Get[T any](ctx context.Context, l *Loader, name Name) (T, error) {
	var zero T
	v, err := l.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, apperr.New(apperr.KindModuleLoadFailed, "loader."+string(name), "module has type %T, want %T", v, zero)
	}
	return t, nil
}

func (l *Loader) memoized(name Name) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[name]
	return h, ok
}

func (l *Loader) importOne(ctx context.Context, name Name) (h any, err error) {
	imp, ok := l.importers[name]
	if !ok {
		return nil, fmt.Errorf("unknown module %q", name)
	}
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("panic importing %s: %v", name, r)
		}
	}()
	return imp(ctx)
}
