package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; overflow is counted by Dropped.
	DropIfFull bool
}

// Dispatcher hands events to a sink from a single worker so callers never
// wait on sink I/O. A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	events chan Event

	// mu guards stopped and the close of events against concurrent sends.
	mu      sync.RWMutex
	stopped bool

	dropped atomic.Uint64
	worker  sync.WaitGroup
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{cfg: cfg, sink: sink, events: make(chan Event, cfg.BufferSize)}
	d.worker.Add(1)
	go func() {
		defer d.worker.Done()
		for ev := range d.events {
			d.sink.Emit(context.Background(), ev)
		}
	}()
	return d
}

// Emit queues ev. With DropIfFull unset it blocks for buffer space until
// ctx is cancelled; a cancelled wait counts as a drop.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.events <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.events <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events and returns once everything already queued
// has reached the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.events)
	}
	d.mu.Unlock()
	d.worker.Wait()
}

// Dropped returns the number of events discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
