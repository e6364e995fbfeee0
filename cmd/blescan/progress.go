package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line updated with the current phase and
// elapsed (or remaining) seconds.
//
//	p := NewProgressPrinter(w, "Connecting to AA:BB", "Connecting", 0)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: after Stop it cannot be restarted.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	phase    atomic.Value // string
	duration time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer. A positive duration counts down,
// zero counts up.
func NewProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins updating the line in a background goroutine.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		start := time.Now()
		p.print(0)

		go func() {
			defer close(p.done)
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()

			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					p.print(p.seconds(time.Since(start)))
				}
			}
		}()
	})
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second, e.g. 3.7s -> 4s
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(seconds int) {
	phase := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a function that updates the displayed phase.
// Safe to call from multiple goroutines.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
	}
}

// Stop ends the updates and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if !p.started.Load() {
			return
		}
		<-p.done
		fmt.Fprint(p.w, clearLineSequence)
	})
}
