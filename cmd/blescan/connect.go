package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/inspector"
	"github.com/srg/blescan/pkg/connectivity"
)

// readTimeoutPerRequest bounds a single characteristic read.
const readTimeoutPerRequest = 10 * time.Second

// withDevice connects to address, runs fn on the Ready session and disconnects.
// Progress is shown on progressOut when it is a terminal.
func withDevice[R any](ctx context.Context, mgr *connectivity.Manager, address string, readyTimeout time.Duration, progressOut io.Writer, logger *logrus.Logger, fn inspector.InspectCallback[R]) (R, error) {
	opts := inspector.DefaultInspectOptions()
	if readyTimeout > 0 {
		opts.ReadyTimeout = readyTimeout
	}

	var progress inspector.ProgressCallback
	if isTerminal(progressOut) {
		printer := NewProgressPrinter(progressOut, fmt.Sprintf("Connecting to %s", address), "Connecting", 0)
		printer.Start()
		defer printer.Stop()
		update := printer.Callback()
		progress = func(phase string) {
			update(phase)
			if phase == "Processing results" || phase == "Failed" {
				printer.Stop()
			}
		}
	}

	return inspector.InspectDevice(ctx, mgr, address, opts, logger, progress, fn)
}
