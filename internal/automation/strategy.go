// Copyright 2025 Joseph Cumines
//
// Query strategies for the two scripting dialects

package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Strategy fetches records of type T through one scripting dialect.
//
// Fetch returns an error only when the script itself failed or its output
// could not be interpreted at all; an empty result is not an error.
type Strategy[T any] interface {
	Name() string
	Fetch(ctx context.Context, exec Executor, limit int) ([]T, ParseLevel, error)
}

// ScriptStrategy runs a procedural (AppleScript) script and parses its
// output with ParseOutput.
type ScriptStrategy[T any] struct {
	Schema Schema[T]
	Script string
}

// Name implements Strategy.
func (s *ScriptStrategy[T]) Name() string { return AppleScript.String() }

// Fetch implements Strategy. The limit is applied by the caller; the script
// is expected to bound its own loop.
func (s *ScriptStrategy[T]) Fetch(ctx context.Context, exec Executor, _ int) ([]T, ParseLevel, error) {
	out, err := exec.Run(ctx, AppleScript, s.Script)
	if err != nil {
		return nil, ParseNone, err
	}
	recs, level := ParseOutput(out, s.Schema)
	return recs, level, nil
}

// ObjectModelStrategy runs an object-model (JXA) script that must print a
// JSON array of objects, typically via JSON.stringify.
type ObjectModelStrategy[T any] struct {
	Schema Schema[T]
	Script string
}

// Name implements Strategy.
func (s *ObjectModelStrategy[T]) Name() string { return JXA.String() }

// Fetch implements Strategy. Objects lacking every identifying field are
// skipped, and at most limit records are returned when limit is positive.
func (s *ObjectModelStrategy[T]) Fetch(ctx context.Context, exec Executor, limit int) ([]T, ParseLevel, error) {
	out, err := exec.Run(ctx, JXA, s.Script)
	if err != nil {
		return nil, ParseNone, err
	}

	out = strings.TrimSpace(out)
	if out == "" || out == "[]" {
		return nil, ParseNone, nil
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		return nil, ParseNone, fmt.Errorf("decoding %s output: %w", JXA, err)
	}

	groups := make([]Fields, 0, len(items))
	for _, item := range items {
		groups = append(groups, jsonFields(item))
	}

	recs := s.Schema.Records(groups)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	if len(recs) == 0 {
		return nil, ParseNone, nil
	}
	return recs, ParseObjectModel, nil
}
