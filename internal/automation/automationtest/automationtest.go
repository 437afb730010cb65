// Copyright 2025 Joseph Cumines

// Package automationtest provides a scripted Executor for testing code built
// on the automation bridge without running osascript.
package automationtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/apple-mcp/internal/automation"
)

// Call records one script run.
type Call struct {
	Script  string
	Dialect automation.Dialect
}

type rule struct {
	err      error
	contains string
	out      string
	dialect  automation.Dialect
}

// Exec is an automation.Executor that answers scripts from registered rules.
// Rules match by dialect and substring, in registration order. Liveness
// checks ("is running") that match no rule answer true; any other unmatched
// script fails.
type Exec struct {
	rules []rule
	calls []Call
	mu    sync.Mutex
}

// New returns an Exec with no rules.
func New() *Exec { return &Exec{} }

// On answers scripts in dialect containing substr with out.
func (e *Exec) On(dialect automation.Dialect, substr, out string) *Exec {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule{dialect: dialect, contains: substr, out: out})
	return e
}

// Fail answers scripts in dialect containing substr with err.
func (e *Exec) Fail(dialect automation.Dialect, substr string, err error) *Exec {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule{dialect: dialect, contains: substr, err: err})
	return e
}

// Run implements automation.Executor.
func (e *Exec) Run(_ context.Context, dialect automation.Dialect, script string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Dialect: dialect, Script: script})
	for _, r := range e.rules {
		if r.dialect == dialect && strings.Contains(script, r.contains) {
			return r.out, r.err
		}
	}
	if dialect == automation.AppleScript && strings.Contains(script, " is running") {
		return "true", nil
	}
	return "", fmt.Errorf("automationtest: no rule for %s script %q", dialect, firstLine(script))
}

// Calls returns the scripts run so far.
func (e *Exec) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Count returns how many scripts in dialect contained substr.
func (e *Exec) Count(dialect automation.Dialect, substr string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Dialect == dialect && strings.Contains(c.Script, substr) {
			n++
		}
	}
	return n
}

// Last returns the most recent script run in dialect containing substr.
func (e *Exec) Last(dialect automation.Dialect, substr string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.calls) - 1; i >= 0; i-- {
		if c := e.calls[i]; c.Dialect == dialect && strings.Contains(c.Script, substr) {
			return c.Script, true
		}
	}
	return "", false
}

// Bridge returns a bridge over exec that logs nowhere and never sleeps.
func Bridge(exec automation.Executor) *automation.Bridge {
	return automation.New(exec, automation.Options{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep:    func(context.Context, time.Duration) error { return nil },
		NewRunID: func() string { return "test" },
	})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}
