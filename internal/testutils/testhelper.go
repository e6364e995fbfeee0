package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Context returns a context that is cancelled after timeout or when the test ends.
func (h *TestHelper) Context(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	h.T.Cleanup(cancel)
	return ctx
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}

// EventRecorder keeps every event it receives. It is both a device.Observer
// (pair it with a Sync on the dispatcher before inspecting) and a synchronous
// device.EventSink for testing controllers without a dispatcher.
type EventRecorder struct {
	mu     sync.Mutex
	events []device.Event
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) HandleEvent(ev device.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *EventRecorder) Dispatch(ev device.Event) {
	r.HandleEvent(ev)
}

// Events returns a copy of the recorded events in delivery order.
func (r *EventRecorder) Events() []device.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Event(nil), r.events...)
}

// Types returns the recorded event types in delivery order.
func (r *EventRecorder) Types() []device.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]device.EventType, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

// Last returns the most recent event of type t.
func (r *EventRecorder) Last(t device.EventType) (device.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return device.Event{}, false
}

// Count returns how many events of type t were recorded.
func (r *EventRecorder) Count(t device.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
