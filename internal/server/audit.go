// Copyright 2025 Joseph Cumines
//
// Audit logging for MCP tool invocations

package server

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// AuditLogger writes one JSON line per tool invocation, with the tool name,
// redacted arguments, result status and duration. A disabled or nil
// AuditLogger discards everything.
type AuditLogger struct {
	logger  *slog.Logger
	file    *os.File
	enabled bool
	mu      sync.RWMutex
}

// redactedKeys are argument keys whose values are never written to the audit
// log. Keys containing one of these are redacted too.
var redactedKeys = map[string]bool{
	"body":        true,
	"message":     true,
	"notes":       true,
	"password":    true,
	"secret":      true,
	"token":       true,
	"credential":  true,
	"private_key": true,
}

// NewAuditLogger creates a new audit logger that writes to the specified file.
// If filePath is empty, audit logging is disabled. Returns an error if the
// file cannot be opened.
func NewAuditLogger(filePath string) (*AuditLogger, error) {
	if filePath == "" {
		return &AuditLogger{enabled: false}, nil
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return &AuditLogger{
		logger:  slog.New(handler),
		file:    file,
		enabled: true,
	}, nil
}

// Close closes the audit log file and disables the logger. Safe to call
// multiple times, and on a nil AuditLogger.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.file
	a.file, a.logger, a.enabled = nil, nil, false
	if f != nil {
		return f.Close()
	}
	return nil
}

// IsEnabled returns true if audit logging is enabled (file path was provided).
func (a *AuditLogger) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// LogToolCall logs a tool invocation with redacted arguments.
// Message bodies, notes and credentials are redacted (see redactedKeys).
func (a *AuditLogger) LogToolCall(tool string, args json.RawMessage, status string, duration time.Duration) {
	if !a.IsEnabled() {
		return
	}

	a.mu.RLock()
	logger := a.logger
	a.mu.RUnlock()

	if logger == nil {
		return
	}

	// Redact sensitive arguments
	redactedArgs := redactArguments(args)

	logger.Info("tool_invocation",
		slog.String("tool", tool),
		slog.String("arguments", redactedArgs),
		slog.String("status", status),
		slog.Float64("duration_seconds", duration.Seconds()),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// redactArguments redacts sensitive values from JSON arguments.
func redactArguments(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}

	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		// Can't parse, return placeholder
		return "[unparseable]"
	}

	redactMapValues(parsed)

	redacted, err := json.Marshal(parsed)
	if err != nil {
		return "[error]"
	}
	return string(redacted)
}

// redactMapValues recursively redacts sensitive values in a map.
func redactMapValues(m map[string]any) {
	for key, value := range m {
		if isRedactedKey(key) {
			m[key] = "[REDACTED]"
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			redactMapValues(v)
		case []any:
			for _, item := range v {
				if nested, ok := item.(map[string]any); ok {
					redactMapValues(nested)
				}
			}
		}
	}
}

func isRedactedKey(key string) bool {
	lower := strings.ToLower(key)
	if redactedKeys[lower] {
		return true
	}
	for k := range redactedKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
