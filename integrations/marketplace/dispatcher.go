package marketplace

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher applies triggers on a pool of background workers so the
// marketplace action that produced them never waits on impact recording.
// Failures are logged and dropped.
type Dispatcher struct {
	adapter *Adapter
	logger  *slog.Logger
	queue   chan Trigger
	timeout time.Duration
	workers int
	wg      sync.WaitGroup
	once    sync.Once
	done    chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Trigger, n)
		}
	}
}

// WithTimeout bounds how long a single trigger may take.
func WithTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func NewDispatcher(adapter *Adapter, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		adapter: adapter,
		logger:  logger,
		queue:   make(chan Trigger, 1024),
		timeout: 10 * time.Second,
		workers: 4,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case t := <-d.queue:
			d.apply(t)
		case <-d.done:
			for {
				select {
				case t := <-d.queue:
					d.apply(t)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) apply(t Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.adapter.Apply(ctx, t); err != nil {
		d.logger.Error("marketplace trigger failed", "kind", t.Kind, "doc_id", t.DocID, "error", err)
	}
}

// Submit enqueues t. It returns false when the dispatcher is closed or the
// queue is full, in which case the trigger is dropped.
func (d *Dispatcher) Submit(t Trigger) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.queue <- t:
		return true
	default:
		d.logger.Warn("marketplace trigger queue full, dropping", "kind", t.Kind, "doc_id", t.DocID)
		return false
	}
}

// Close stops accepting triggers and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
