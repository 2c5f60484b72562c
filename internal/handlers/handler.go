package handlers

import (
	"context"
	"sync"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
)

// Handler delivers a reminder on one external channel.
type Handler interface {
	Handle(ctx context.Context, event *domain.ReminderEvent) error
	Channel() string
}

// Registry maps reminder channels to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Channel()] = h
}

// Get returns the handler for the given channel.
// Returns InvalidChannelError if not registered.
func (r *Registry) Get(channel string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[channel]
	if !ok {
		return nil, &domain.InvalidChannelError{Channel: channel}
	}
	return h, nil
}

// Channels lists the registered channel names.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for c := range r.handlers {
		out = append(out, c)
	}
	return out
}
