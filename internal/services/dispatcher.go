package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"memoria/internal/events"
)

type envelope struct {
	subject string
	event   any
}

// Dispatcher hands events to the publisher from a background worker so a
// slow or unreachable broker never holds up a request.
type Dispatcher struct {
	pub   events.Publisher
	log   *slog.Logger
	queue chan envelope

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(pub events.Publisher, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		pub:   pub,
		log:   log,
		queue: make(chan envelope, 1000),
		done:  make(chan struct{}),
	}
	go d.worker()
	return d
}

// Dispatch enqueues an event without blocking. When the queue is full the
// event is dropped and logged.
func (d *Dispatcher) Dispatch(subject string, event any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- envelope{subject: subject, event: event}:
	default:
		d.log.Warn("event queue full, dropping event", "subject", subject)
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for env := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.pub.Publish(ctx, env.subject, env.event); err != nil {
			d.log.Error("publish event", "subject", env.subject, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
