package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config sizes the dispatcher queue.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events instead of blocking the request when the
	// queue is full.
	DropIfFull bool
}

// Dispatcher hands events to a sink on its own goroutine so request paths
// never wait on the security_events insert. A nil Dispatcher discards.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool

	mu     sync.RWMutex
	queue  chan Event
	closed bool

	dropped  atomic.Uint64
	finished chan struct{}
}

// NewDispatcher starts the worker. It returns nil when cfg disables auditing.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		finished:   make(chan struct{}),
	}
	go d.work()
	return d
}

func (d *Dispatcher) work() {
	defer close(d.finished)
	// Sink writes outlive the request that raised the event.
	ctx := context.Background()
	for ev := range d.queue {
		d.sink.Emit(ctx, ev)
	}
}

// Emit queues ev. In blocking mode it gives up when ctx ends.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops intake and waits until every queued event reached the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.finished
}

// Dropped counts events discarded on a full queue or a cancelled request.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
