package testutils

import (
	"sync"
	"time"
)

// FakeTimers hands out timers that only fire when a test says so.
//
//	timers := &testutils.FakeTimers{}
//	scanner.AfterFunc = func(d time.Duration, f func()) scanner.Timer {
//	    return timers.AfterFunc(d, f)
//	}
type FakeTimers struct {
	mu     sync.Mutex
	timers []*FakeTimer
}

func (ft *FakeTimers) AfterFunc(d time.Duration, f func()) *FakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &FakeTimer{Duration: d, fn: f}
	ft.timers = append(ft.timers, t)
	return t
}

// Len returns how many timers were armed.
func (ft *FakeTimers) Len() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

// Last returns the most recently armed timer, or nil.
func (ft *FakeTimers) Last() *FakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.timers) == 0 {
		return nil
	}
	return ft.timers[len(ft.timers)-1]
}

// FakeTimer is a one-shot timer fired by hand.
type FakeTimer struct {
	Duration time.Duration

	mu      sync.Mutex
	fn      func()
	stopped bool
	fired   bool
}

// Stop prevents the timer from firing. Returns false if it already fired or was stopped.
func (t *FakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Stopped reports whether Stop cancelled the timer.
func (t *FakeTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Fire runs the timer function unless the timer was stopped or already fired.
// Returns whether the function ran.
func (t *FakeTimer) Fire() bool {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()

	fn()
	return true
}

// FireAnyway runs the timer function even if the timer was stopped,
// reproducing a timer that raced its own cancellation.
func (t *FakeTimer) FireAnyway() {
	t.mu.Lock()
	t.fired = true
	fn := t.fn
	t.mu.Unlock()

	fn()
}
