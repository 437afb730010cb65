// Copyright 2025 Joseph Cumines

// Package automation drives native applications through the OS scripting
// subsystem.
//
// A Bridge executes scripts in two dialects: a procedural one (AppleScript),
// tried first, and an object-model one (JXA), tried only when the first
// fails or does not apply. Results from the two are never merged; every
// Result names the strategy and parse level that produced it.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/apple-mcp/internal/apperr"
)

// DefaultSettleDelay is how long the bridge waits after launching an
// application before probing it.
const DefaultSettleDelay = 2 * time.Second

// Target identifies the application a call talks to.
type Target struct {
	// App is the application name, e.g. "Mail".
	App string
	// Probe is a minimal read-only AppleScript used to confirm the
	// application responds to scripting. Empty skips probing.
	Probe string
	// AltProbe is tried once when Probe fails.
	AltProbe string
}

// Options configures a Bridge.
type Options struct {
	// Log receives debug and warning records. Defaults to slog.Default().
	Log *slog.Logger
	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewRunID labels each call in logs. Defaults to uuid.NewString.
	NewRunID func() string
	// SettleDelay is the post-launch wait. Zero means DefaultSettleDelay;
	// negative means no wait.
	SettleDelay time.Duration
}

// Bridge runs automation intents against target applications.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Bridge struct {
	exec        Executor
	log         *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	newRunID    func() string
	settleDelay time.Duration
}

// New returns a Bridge using exec to run scripts.
func New(exec Executor, opts Options) *Bridge {
	b := &Bridge{
		exec:        exec,
		log:         opts.Log,
		sleep:       opts.Sleep,
		newRunID:    opts.NewRunID,
		settleDelay: opts.SettleDelay,
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if b.sleep == nil {
		b.sleep = sleepContext
	}
	if b.newRunID == nil {
		b.newRunID = uuid.NewString
	}
	if b.settleDelay == 0 {
		b.settleDelay = DefaultSettleDelay
	}
	return b
}

// Executor returns the executor the bridge runs scripts with.
func (b *Bridge) Executor() Executor { return b.exec }

// Run executes a single script with no liveness check, strategy fallback or
// parsing. Collaborators use it for one-off lookups.
func (b *Bridge) Run(ctx context.Context, dialect Dialect, script string) (string, error) {
	return b.exec.Run(ctx, dialect, script)
}

// EnsureReachable confirms the target application is running, launching it
// and waiting the settle delay if it is not, then runs the capability probe
// (and the alternate probe if the first fails). Failures are reported as
// apperr.KindApplicationUnreachable wrapping the last underlying error.
func (b *Bridge) EnsureReachable(ctx context.Context, op string, t Target) error {
	if t.App == "" {
		return nil
	}

	running, err := b.isRunning(ctx, t.App)
	if err != nil || !running {
		launch := fmt.Sprintf("tell application %s to launch", QuoteAppleScript(t.App))
		if _, err := b.exec.Run(ctx, AppleScript, launch); err != nil {
			return apperr.Wrap(apperr.KindApplicationUnreachable, op, fmt.Errorf("launching %s: %w", t.App, err))
		}
		if b.settleDelay > 0 {
			if err := b.sleep(ctx, b.settleDelay); err != nil {
				return apperr.Wrap(apperr.KindApplicationUnreachable, op, err)
			}
		}
	}

	if t.Probe == "" {
		return nil
	}
	if _, err := b.exec.Run(ctx, AppleScript, t.Probe); err != nil {
		if t.AltProbe == "" {
			return apperr.Wrap(apperr.KindApplicationUnreachable, op, fmt.Errorf("probing %s: %w", t.App, err))
		}
		b.log.Debug("capability probe failed, trying alternate", slog.String("app", t.App), slog.Any("error", err))
		if _, err := b.exec.Run(ctx, AppleScript, t.AltProbe); err != nil {
			return apperr.Wrap(apperr.KindApplicationUnreachable, op, fmt.Errorf("probing %s: %w", t.App, err))
		}
	}
	return nil
}

func (b *Bridge) isRunning(ctx context.Context, app string) (bool, error) {
	out, err := b.exec.Run(ctx, AppleScript, fmt.Sprintf("application %s is running", QuoteAppleScript(app)))
	if err != nil {
		return false, err
	}
	return UnquoteScalar(out) == "true", nil
}

// QuerySpec describes one query intent.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type QuerySpec[T any] struct {
	// Primary is the procedural strategy. Nil means it does not apply.
	Primary Strategy[T]
	// Fallback is the object-model strategy. Nil means there is none.
	Fallback Strategy[T]
	// Op names the operation in errors and logs, e.g. "mail.unread".
	Op     string
	Target Target
	// Limit bounds the number of records returned; zero or negative is
	// unbounded.
	Limit int
}

// Result is the outcome of a successful Query.
type Result[T any] struct {
	Records  []T
	Strategy string
	Parse    ParseLevel
}

// Query runs spec against b. The primary strategy is tried first; the
// fallback runs only if the primary returned an error or is nil. An empty
// primary result is returned as-is. On total failure the error is
// apperr.KindAutomationQueryFailed wrapping the last underlying error, or
// the unreachable error from EnsureReachable.
func Query[T any](ctx context.Context, b *Bridge, spec QuerySpec[T]) (Result[T], error) {
	log := b.log.With(slog.String("run", b.newRunID()), slog.String("op", spec.Op))

	if err := b.EnsureReachable(ctx, spec.Op, spec.Target); err != nil {
		log.Warn("application unreachable", slog.String("app", spec.Target.App), slog.Any("error", err))
		return Result[T]{}, err
	}

	var lastErr error
	for _, strategy := range []Strategy[T]{spec.Primary, spec.Fallback} {
		if strategy == nil {
			continue
		}
		recs, level, err := strategy.Fetch(ctx, b.exec, spec.Limit)
		if err != nil {
			log.Debug("strategy failed", slog.String("strategy", strategy.Name()), slog.Any("error", err))
			lastErr = err
			continue
		}
		if spec.Limit > 0 && len(recs) > spec.Limit {
			recs = recs[:spec.Limit]
		}
		log.Debug("query complete",
			slog.String("strategy", strategy.Name()),
			slog.String("parse", level.String()),
			slog.Int("records", len(recs)),
		)
		return Result[T]{Records: recs, Strategy: strategy.Name(), Parse: level}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no applicable strategy")
	}
	return Result[T]{}, apperr.Wrap(apperr.KindAutomationQueryFailed, spec.Op, lastErr)
}

// ListSpec describes a query whose result is a flat list of names, such as
// mailbox or account names.
type ListSpec struct {
	Op     string
	Target Target
	// Script is the AppleScript body, returning a list of strings.
	Script string
	// FallbackScript is the JXA body, returning a JSON array of strings.
	// Empty means there is no fallback.
	FallbackScript string
}

// List runs spec.Script and parses its output with ParseList, falling back to
// spec.FallbackScript on error. An empty list is not an error; it is
// returned as a non-nil empty slice.
func (b *Bridge) List(ctx context.Context, spec ListSpec) ([]string, error) {
	log := b.log.With(slog.String("run", b.newRunID()), slog.String("op", spec.Op))

	if err := b.EnsureReachable(ctx, spec.Op, spec.Target); err != nil {
		return nil, err
	}

	out, err := b.exec.Run(ctx, AppleScript, spec.Script)
	if err == nil {
		items := nonNil(ParseList(out))
		log.Debug("list complete", slog.String("strategy", AppleScript.String()), slog.Int("items", len(items)))
		return items, nil
	}
	if spec.FallbackScript == "" {
		return nil, apperr.Wrap(apperr.KindAutomationQueryFailed, spec.Op, err)
	}

	log.Debug("primary list failed, retrying with object model", slog.Any("error", err))
	out, err = b.exec.Run(ctx, JXA, spec.FallbackScript)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAutomationQueryFailed, spec.Op, err)
	}
	items := nonNil(ParseList(out))
	log.Debug("list complete", slog.String("strategy", JXA.String()), slog.Int("items", len(items)))
	return items, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// SendSpec describes an outgoing action with no records to parse.
type SendSpec struct {
	Op     string
	Target Target
	// Script is the AppleScript body; on success it returns Sentinel.
	Script string
	// FallbackScript is the JXA body; on success it also returns Sentinel.
	FallbackScript string
	Sentinel       string
}

// Send runs spec.Script and, on any error or unexpected output, retries once
// with spec.FallbackScript. If both fail, the fallback's error is returned,
// as apperr.KindAutomationQueryFailed.
func (b *Bridge) Send(ctx context.Context, spec SendSpec) error {
	log := b.log.With(slog.String("run", b.newRunID()), slog.String("op", spec.Op))

	if err := b.EnsureReachable(ctx, spec.Op, spec.Target); err != nil {
		return err
	}

	err := b.runSentinel(ctx, AppleScript, spec.Script, spec.Sentinel)
	if err == nil {
		log.Debug("send complete", slog.String("strategy", AppleScript.String()))
		return nil
	}
	if spec.FallbackScript == "" {
		return apperr.Wrap(apperr.KindAutomationQueryFailed, spec.Op, err)
	}

	log.Debug("primary send failed, retrying with object model", slog.Any("error", err))
	if err := b.runSentinel(ctx, JXA, spec.FallbackScript, spec.Sentinel); err != nil {
		return apperr.Wrap(apperr.KindAutomationQueryFailed, spec.Op, err)
	}
	log.Debug("send complete", slog.String("strategy", JXA.String()))
	return nil
}

func (b *Bridge) runSentinel(ctx context.Context, dialect Dialect, script, sentinel string) error {
	out, err := b.exec.Run(ctx, dialect, script)
	if err != nil {
		return err
	}
	if got := UnquoteScalar(out); got != sentinel {
		return fmt.Errorf("%s script returned %q, want %q", dialect, got, sentinel)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
