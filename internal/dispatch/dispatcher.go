// Package dispatch delivers connectivity events to registered observers.
//
// Every observer notification and every registry change runs on a single
// delivery goroutine, in the order it was submitted. Callers on any goroutine
// only append to a FIFO; they never touch the registry and never block on
// observer code.
package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/groutine"
)

type opKind int

const (
	opEvent opKind = iota
	opRegister
	opUnregister
	opClear
	opSync
)

type item struct {
	kind     opKind
	event    device.Event
	observer device.Observer
	done     chan struct{}
}

// Dispatcher is an ordered multi-observer registry with a single delivery goroutine.
//
// Registration is set-like: registering an already registered observer is a no-op,
// as is unregistering an unknown one. Registry changes from other goroutines are
// queued together with events. A change made from inside HandleEvent is held
// aside and applied as soon as the in-flight dispatch completes, ahead of any
// event still queued.
type Dispatcher struct {
	logger *logrus.Logger

	mu       sync.Mutex
	queue    []item
	stopping bool
	wake     chan struct{}

	done     <-chan struct{}
	stopOnce sync.Once
	loopGID  atomic.Uint64
	count    atomic.Int64

	// touched only by the delivery goroutine
	observers *orderedmap.OrderedMap[device.Observer, struct{}]
	pending   []item
}

// New starts a Dispatcher. Call Stop to end its delivery goroutine.
func New(logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}

	d := &Dispatcher{
		logger:    logger,
		wake:      make(chan struct{}, 1),
		observers: orderedmap.New[device.Observer, struct{}](),
	}
	started := make(chan struct{})
	d.done = groutine.Go(context.Background(), "event-dispatch", func(ctx context.Context) {
		d.loopGID.Store(groutine.GetGID())
		close(started)
		d.run()
	})
	<-started
	return d
}

// Register adds o to the registry. No-op if o is already registered.
// Observers whose dynamic type is not comparable are rejected.
func (d *Dispatcher) Register(o device.Observer) {
	if o == nil {
		return
	}
	if !reflect.TypeOf(o).Comparable() {
		d.logger.WithField("observer", fmt.Sprintf("%T", o)).Warn("Observer type is not comparable, use device.ObserverFunc or a pointer receiver")
		return
	}
	d.submit(item{kind: opRegister, observer: o})
}

// Unregister removes o from the registry. No-op if o is absent.
func (d *Dispatcher) Unregister(o device.Observer) {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return
	}
	d.submit(item{kind: opUnregister, observer: o})
}

// Clear removes every observer.
func (d *Dispatcher) Clear() {
	d.submit(item{kind: opClear})
}

// submit applies registry changes made by observer code right after the
// current dispatch and queues everything else.
func (d *Dispatcher) submit(it item) {
	if d.onLoop() {
		d.pending = append(d.pending, it)
		return
	}
	d.enqueue(it)
}

// Dispatch queues ev for delivery to every observer registered at the time it is processed.
func (d *Dispatcher) Dispatch(ev device.Event) {
	d.enqueue(item{kind: opEvent, event: ev})
}

// Len returns the number of registered observers as of the last processed registry change.
func (d *Dispatcher) Len() int {
	return int(d.count.Load())
}

// Sync blocks until everything queued before the call has been processed.
// Returns immediately when called from the delivery goroutine itself.
func (d *Dispatcher) Sync(ctx context.Context) error {
	if d.onLoop() {
		return nil
	}

	done := make(chan struct{})
	if !d.enqueue(item{kind: opSync, done: done}) {
		<-d.done
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop delivers everything already queued and ends the delivery goroutine.
// Safe to call more than once. Called from an observer, it returns without waiting.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopping = true
		d.mu.Unlock()
		d.signal()
	})

	if !d.onLoop() {
		<-d.done
	}
}

func (d *Dispatcher) onLoop() bool {
	return d.loopGID.Load() == groutine.GetGID()
}

func (d *Dispatcher) enqueue(it item) bool {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		d.logger.WithField("event", it.event.Type).Debug("Dispatcher stopped, dropping item")
		return false
	}
	d.queue = append(d.queue, it)
	d.mu.Unlock()

	d.signal()
	return true
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) take() ([]item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.queue
	d.queue = nil
	return batch, d.stopping
}

func (d *Dispatcher) run() {
	for {
		batch, stopping := d.take()
		for _, it := range batch {
			d.process(it)
		}

		if len(batch) > 0 {
			continue
		}
		if stopping {
			d.logger.Debug("Event dispatcher stopped")
			return
		}
		<-d.wake
	}
}

func (d *Dispatcher) process(it item) {
	switch it.kind {
	case opRegister:
		if _, present := d.observers.Set(it.observer, struct{}{}); !present {
			d.logger.WithField("observers", d.observers.Len()).Debug("Observer registered")
		}
	case opUnregister:
		if _, present := d.observers.Delete(it.observer); present {
			d.logger.WithField("observers", d.observers.Len()).Debug("Observer unregistered")
		}
	case opClear:
		d.observers = orderedmap.New[device.Observer, struct{}]()
		d.logger.Debug("All observers cleared")
	case opSync:
		close(it.done)
	case opEvent:
		d.deliver(it.event)
		d.applyPending()
	}
	d.count.Store(int64(d.observers.Len()))
}

func (d *Dispatcher) applyPending() {
	for len(d.pending) > 0 {
		batch := d.pending
		d.pending = nil
		for _, it := range batch {
			d.process(it)
		}
	}
}

func (d *Dispatcher) deliver(ev device.Event) {
	d.logger.WithFields(logrus.Fields{
		"event":     ev.Type,
		"observers": d.observers.Len(),
	}).Trace("Dispatching event")

	for pair := d.observers.Oldest(); pair != nil; pair = pair.Next() {
		d.notify(pair.Key, ev)
	}
}

func (d *Dispatcher) notify(o device.Observer, ev device.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"event":    ev.Type,
				"observer": fmt.Sprintf("%T", o),
				"panic":    r,
			}).Error("Observer panicked while handling event")
		}
	}()
	o.HandleEvent(ev)
}
