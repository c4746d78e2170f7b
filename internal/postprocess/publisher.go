package postprocess

import (
	"context"
	"sync"

	"basegraph.app/postprocess/internal/model"
)

// EventProcessed is broadcast once an event made it through every stage.
type EventProcessed struct {
	Project     *model.Project
	Group       *model.Group
	Event       *model.Event
	PrimaryHash string
}

type Listener[T any] func(ctx context.Context, payload T) error

type subscription[T any] struct {
	name string
	fn   Listener[T]
}

// Publisher fans a payload out to independently registered listeners.
// A failing listener never affects the others or the publisher.
type Publisher[T any] struct {
	name      string
	lock      sync.RWMutex
	listeners []subscription[T]
}

func NewPublisher[T any](name string) *Publisher[T] {
	return &Publisher[T]{name: name}
}

func (p *Publisher[T]) Subscribe(name string, fn Listener[T]) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.listeners = append(p.listeners, subscription[T]{name: name, fn: fn})
}

// Publish calls every listener in subscription order and returns one result per listener.
func (p *Publisher[T]) Publish(ctx context.Context, payload T) []Result[struct{}] {
	p.lock.RLock()
	listeners := make([]subscription[T], len(p.listeners))
	copy(listeners, p.listeners)
	p.lock.RUnlock()

	results := make([]Result[struct{}], 0, len(listeners))
	for _, l := range listeners {
		results = append(results, safeRun(ctx, p.name+"."+l.name, func(ctx context.Context) error {
			return l.fn(ctx, payload)
		}))
	}
	return results
}
