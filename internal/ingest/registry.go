package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler applies one event's data to the store.
type Handler interface {
	Handle(ctx context.Context, data json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, data json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, data json.RawMessage) error {
	return f(ctx, data)
}

// Registry maps event tags to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds eventType to h, replacing any earlier binding.
func (r *Registry) Register(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// Types lists the registered tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch runs the handler registered for msg.Type.
func (r *Registry) Dispatch(ctx context.Context, msg Message) error {
	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, msg.Type)
	}
	return h.Handle(ctx, msg.Data)
}
