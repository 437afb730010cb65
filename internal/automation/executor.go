// Copyright 2025 Joseph Cumines
//
// Script execution against the OS automation subsystem

package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Dialect selects the scripting language a script body is written in.
type Dialect int

const (
	// AppleScript is the procedural dialect. It is the primary strategy.
	AppleScript Dialect = iota
	// JXA is the object-model dialect (JavaScript for Automation). It supports
	// predicate filtering such as messages.whose({readStatus: false}).
	JXA
)

func (d Dialect) String() string {
	switch d {
	case AppleScript:
		return "applescript"
	case JXA:
		return "jxa"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// Executor runs a script body and returns its textual output.
//
// Implementations must not retain the script after Run returns. Output has
// trailing newlines removed. A non-nil error means the script did not run to
// completion; the output is then meaningless.
type Executor interface {
	Run(ctx context.Context, dialect Dialect, script string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, dialect Dialect, script string) (string, error)

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, dialect Dialect, script string) (string, error) {
	return f(ctx, dialect, script)
}

// ScriptError is returned by OsascriptExecutor when osascript exits non-zero.
type ScriptError struct {
	Err     error
	Stderr  string
	Dialect Dialect
}

func (e *ScriptError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s script failed: %s", e.Dialect, e.Stderr)
	}
	return fmt.Sprintf("%s script failed: %v", e.Dialect, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// OsascriptExecutor runs scripts through the osascript binary.
//
// AppleScript results are printed in source form (-s s), so records keep
// their braces and strings keep their quotes, which is what ParseGroups
// expects.
type OsascriptExecutor struct {
	// Path to osascript. Defaults to "osascript" (resolved via PATH).
	Path string
	// Timeout bounds each script. Zero leaves the script unbounded; a hung
	// application then blocks the calling request until the subsystem gives up.
	Timeout time.Duration
}

// Run implements Executor.
func (e *OsascriptExecutor) Run(ctx context.Context, dialect Dialect, script string) (string, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	path := e.Path
	if path == "" {
		path = "osascript"
	}

	var args []string
	switch dialect {
	case AppleScript:
		args = []string{"-s", "s", "-e", script}
	case JXA:
		args = []string{"-l", "JavaScript", "-e", script}
	default:
		return "", fmt.Errorf("unsupported dialect: %s", dialect)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &ScriptError{
			Dialect: dialect,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// QuoteAppleScript renders s as an AppleScript string literal.
func QuoteAppleScript(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// QuoteJS renders s as a JavaScript string literal.
func QuoteJS(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
