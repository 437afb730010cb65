// Copyright 2025 Joseph Cumines

package loader

import "time"

// Timer is the subset of *time.Timer the loader uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock creates timers. Tests substitute a fake to drive the eager-load race
// deterministically.
type Clock interface {
	NewTimer(d time.Duration) Timer
}

// RealClock is backed by the time package.
var RealClock Clock = realClock{}

type realClock struct{}

func (realClock) NewTimer(d time.Duration) Timer { return realTimer{time.NewTimer(d)} }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }
