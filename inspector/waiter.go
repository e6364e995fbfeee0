package inspector

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/pkg/connectivity"
)

// waiter turns Manager events into a queue a synchronous caller can block on.
// HandleEvent only appends, so a waiter nobody drains never holds up delivery.
// Notifications are not kept.
type waiter struct {
	mgr      *connectivity.Manager
	observer device.Observer

	mu     sync.Mutex
	events []device.Event
	ready  chan struct{}
}

func newWaiter(mgr *connectivity.Manager) *waiter {
	w := &waiter{
		mgr:   mgr,
		ready: make(chan struct{}, 1),
	}
	w.observer = device.ObserverFunc(func(ev device.Event) {
		if ev.Type == device.CharacteristicChanged {
			return
		}
		w.mu.Lock()
		w.events = append(w.events, ev)
		w.mu.Unlock()

		select {
		case w.ready <- struct{}{}:
		default:
		}
	})
	mgr.RegisterObserver(w.observer)
	return w
}

func (w *waiter) pop() (device.Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.events) == 0 {
		return device.Event{}, false
	}
	ev := w.events[0]
	w.events[0] = device.Event{}
	w.events = w.events[1:]
	return ev, true
}

// next returns the next event of session, skipping events of other sessions.
func (w *waiter) next(ctx context.Context, session string) (device.Event, error) {
	for {
		for {
			ev, ok := w.pop()
			if !ok {
				break
			}
			if ev.SessionID == session {
				return ev, nil
			}
		}

		select {
		case <-w.ready:
		case <-ctx.Done():
			return device.Event{}, fmt.Errorf("%w: %w", device.ErrTimeout, ctx.Err())
		}
	}
}

func (w *waiter) close() {
	w.mgr.UnregisterObserver(w.observer)
}
