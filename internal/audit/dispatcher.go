package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; overflow is counted and logged.
	DropIfFull bool
	Logger     *zap.Logger
}

// dropLogEvery throttles the overflow warning.
const dropLogEvery = 100

// Dispatcher hands events to a Sink on one background goroutine so request
// paths never wait on Kafka or log I/O.
type Dispatcher struct {
	sink     Sink
	log      *zap.Logger
	dropFull bool

	queue   chan Event
	stop    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
	closing atomic.Bool
	dropped atomic.Uint64
}

// NewDispatcher returns nil when auditing is disabled. A nil *Dispatcher is
// usable and discards everything.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}

	d := &Dispatcher{
		sink:     sink,
		log:      log,
		dropFull: cfg.DropIfFull,
		queue:    make(chan Event, size),
		stop:     make(chan struct{}),
	}
	d.stopped.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.stopped.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

// deliver shields the loop from a panicking sink.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("audit sink panicked", zap.String("event", ev.EventType), zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues event. Without DropIfFull it blocks until there is room, ctx
// ends, or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if d.dropFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			if n := d.dropped.Add(1); n == 1 || n%dropLogEvery == 0 {
				d.log.Warn("audit buffer full, events dropped", zap.Uint64("dropped_total", n), zap.String("event", event.EventType))
			}
		}
		return
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case d.queue <- event:
	case <-done:
	case <-d.stop:
	}
}

// Close stops accepting events and returns once the queue is delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.stopped.Wait()
	})
}

// Dropped is the number of events lost to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
