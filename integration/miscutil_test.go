// Copyright 2025 Joseph Cumines

package integration

import (
	"context"
	"testing"
	"time"
)

// waitFor polls cond every interval until it reports true, failing the test
// with a message naming what was awaited once ctx is done.
func waitFor(t *testing.T, ctx context.Context, interval time.Duration, what string, cond func() bool) {
	t.Helper()
	if cond() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s: %v", what, ctx.Err())
		case <-ticker.C:
			if cond() {
				return
			}
		}
	}
}
