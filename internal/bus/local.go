package bus

import (
	"context"
	"sync"
	"time"
)

// LocalBus is an in-process bus used when no NATS server is configured and in
// tests. Delivery is synchronous so subscribers see events in publish order.
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
	order    map[string][]int
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		handlers: map[string]map[int]Handler{},
		order:    map[string][]int{},
	}
}

func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	var hs []Handler
	for _, id := range b.order[e.Topic] {
		if h, ok := b.handlers[e.Topic][id]; ok {
			hs = append(hs, h)
		}
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ctx, e)
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = map[int]Handler{}
	}
	b.handlers[topic][id] = h
	b.order[topic] = append(b.order[topic], id)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}, nil
}

func (b *LocalBus) Close() error { return nil }
