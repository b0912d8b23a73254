package event

import (
	"strings"
	"sync"

	"bar-crm/internal/model"
)

// Bus delivers payloads to subscribers asynchronously. Publishers call it only
// after the write that produced the event has committed.
type Bus struct {
	handlers sync.Map
	mu       sync.Mutex
	inflight sync.WaitGroup

	// OnPanic, when set, receives panics raised by subscribers. Without it a
	// subscriber panic is swallowed so one handler cannot stop the process.
	OnPanic func(event string, recovered any)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(event string, handler func(payload any)) {
	if b == nil || handler == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := make([]func(payload any), 0, 1)
	if current, ok := b.handlers.Load(eventName); ok {
		if casted, valid := current.([]func(payload any)); valid {
			handlers = append(handlers, casted...)
		}
	}
	handlers = append(handlers, handler)
	b.handlers.Store(eventName, handlers)
}

// SubscribeAll registers handler for every event the ledger produces.
func (b *Bus) SubscribeAll(handler func(payload any)) {
	for _, name := range model.AllEventNames {
		b.Subscribe(name, handler)
	}
}

// Publish hands payload to each subscriber on its own goroutine.
func (b *Bus) Publish(event string, payload any) {
	eventName, handlers := b.lookup(event)
	for _, handler := range handlers {
		b.inflight.Add(1)
		go func(handler func(payload any)) {
			defer b.inflight.Done()
			b.dispatch(eventName, handler, payload)
		}(handler)
	}
}

func (b *Bus) lookup(event string) (string, []func(payload any)) {
	if b == nil {
		return "", nil
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return "", nil
	}

	current, ok := b.handlers.Load(eventName)
	if !ok {
		return eventName, nil
	}

	handlers, ok := current.([]func(payload any))
	if !ok {
		return eventName, nil
	}
	out := make([]func(payload any), 0, len(handlers))
	for _, handler := range handlers {
		if handler != nil {
			out = append(out, handler)
		}
	}
	return eventName, out
}

// Envelope is the payload PublishEvents delivers: the committed event plus
// who caused it.
type Envelope struct {
	Event   model.DomainEvent
	ActorID string
}

// PublishEvents delivers one commit's events on a single goroutine, so every
// subscriber sees them in the order they were recorded. Separate calls are
// not ordered against each other.
func (b *Bus) PublishEvents(actorID string, events []model.DomainEvent) {
	if b == nil {
		return
	}

	type delivery struct {
		eventName string
		handler   func(payload any)
		payload   Envelope
	}
	deliveries := make([]delivery, 0, len(events))
	for _, evt := range events {
		if evt == nil {
			continue
		}
		eventName, handlers := b.lookup(evt.EventName())
		for _, handler := range handlers {
			deliveries = append(deliveries, delivery{eventName: eventName, handler: handler, payload: Envelope{Event: evt, ActorID: actorID}})
		}
	}
	if len(deliveries) == 0 {
		return
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		for _, d := range deliveries {
			b.dispatch(d.eventName, d.handler, d.payload)
		}
	}()
}

// Wait blocks until every dispatched handler has returned.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.inflight.Wait()
}

func (b *Bus) dispatch(eventName string, handler func(payload any), payload any) {
	defer func() {
		if recovered := recover(); recovered != nil && b.OnPanic != nil {
			b.OnPanic(eventName, recovered)
		}
	}()
	handler(payload)
}
