package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"localloop/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

type subscription struct {
	id int64
	fn func(context.Context, core.Event)
}

// EventBus provides thread-safe pub/sub with sync and async dispatch.
type EventBus struct {
	mode       DispatchMode
	mu         sync.RWMutex
	subs       map[core.EventType]map[int64]subscription
	nextID     int64
	asyncQueue chan core.Event
	workers    int
	wg         sync.WaitGroup
	closeOnce  sync.Once
	done       chan struct{}
	dropped    atomic.Int64
	logger     *slog.Logger
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithBusLogger sets the logger used for dropped events and handler panics.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(e *EventBus) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	eb := &EventBus{
		mode:       mode,
		subs:       make(map[core.EventType]map[int64]subscription),
		asyncQueue: make(chan core.Event, 2048),
		workers:    4,
		done:       make(chan struct{}),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(eb)
	}
	if mode == DispatchAsync {
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case ev := <-e.asyncQueue:
					e.dispatchSync(context.Background(), ev)
				case <-e.done:
					// drain what is already queued
					for {
						select {
						case ev := <-e.asyncQueue:
							e.dispatchSync(context.Background(), ev)
						default:
							return
						}
					}
				}
			}
		}()
	}
}

// Close stops async workers after the queue is drained.
func (e *EventBus) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// SubscribeAll registers handler for every impact event type.
func (e *EventBus) SubscribeAll(handler func(context.Context, core.Event)) func() {
	unsubs := make([]func(), 0, len(core.AllEventTypes))
	for _, typ := range core.AllEventTypes {
		unsubs = append(unsubs, e.Subscribe(typ, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish sends an event to subscribers. Events are notifications about
// state that is already committed, so a full async queue or a closed bus
// drops them.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode == DispatchAsync {
		select {
		case <-e.done:
			e.dropped.Add(1)
			e.logger.WarnContext(ctx, "event bus closed, dropping event", "type", ev.Type, "user_id", ev.UserID)
			return
		default:
		}
		select {
		case e.asyncQueue <- ev:
		default:
			e.dropped.Add(1)
			e.logger.WarnContext(ctx, "event queue full, dropping event", "type", ev.Type, "user_id", ev.UserID)
		}
		return
	}
	e.dispatchSync(ctx, ev)
}

func (e *EventBus) dispatchSync(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	subs := e.subs[ev.Type]
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, core.Event), 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		e.invoke(ctx, h, ev)
	}
}

// invoke isolates subscribers from each other: a panicking handler is logged
// and the remaining handlers still run.
func (e *EventBus) invoke(ctx context.Context, h func(context.Context, core.Event), ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "event handler panicked", "type", ev.Type, "user_id", ev.UserID, "panic", r)
		}
	}()
	h(ctx, ev)
}

// Dropped reports how many async events were discarded on a full queue or
// after Close.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }
