// Package notify moves measurement samples and drop notices off the event
// callback and delivers them to slower consumers in click order.
package notify

import (
	"context"
	"sync"

	"github.com/sweeney/clickguard/internal/logic"
)

type noticeKind int

const (
	kindSample noticeKind = iota
	kindDrop
)

type notice struct {
	kind   noticeKind
	sample logic.IntervalSample
	drop   logic.Drop
}

// Dispatcher queues notices without blocking and fans them out from its own goroutine.
// It implements logic.Observer, so it can be handed to the Engine directly.
type Dispatcher struct {
	mu        sync.Mutex
	queue     []notice
	observers []logic.Observer
	wake      chan struct{}
	idle      *sync.Cond
	busy      bool
}

// New creates a dispatcher delivering to the given observers.
func New(observers ...logic.Observer) *Dispatcher {
	d := &Dispatcher{
		observers: observers,
		wake:      make(chan struct{}, 1),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Register adds an observer. Notices already queued are delivered to it too.
func (d *Dispatcher) Register(o logic.Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// ObserveSample queues an interval sample. Never blocks.
func (d *Dispatcher) ObserveSample(s logic.IntervalSample) {
	d.push(notice{kind: kindSample, sample: s})
}

// ObserveDrop queues a drop notice. Never blocks.
func (d *Dispatcher) ObserveDrop(dr logic.Drop) {
	d.push(notice{kind: kindDrop, drop: dr})
}

func (d *Dispatcher) push(n notice) {
	d.mu.Lock()
	d.queue = append(d.queue, n)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, undelivered notices.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Run delivers queued notices until ctx is cancelled, then delivers what is
// left before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.drain()
		select {
		case <-ctx.Done():
			d.drain()
			return
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.busy = false
			d.idle.Broadcast()
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.busy = true
		observers := append([]logic.Observer(nil), d.observers...)
		d.mu.Unlock()

		for _, n := range batch {
			for _, o := range observers {
				switch n.kind {
				case kindSample:
					o.ObserveSample(n.sample)
				case kindDrop:
					o.ObserveDrop(n.drop)
				}
			}
		}
	}
}

// Flush blocks until every queued notice has been delivered. Run must be
// active in another goroutine.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	for len(d.queue) > 0 || d.busy {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
