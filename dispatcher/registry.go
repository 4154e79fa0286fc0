package dispatcher

import (
	"context"
	"sort"
	"sync"

	"rewarder/models"
)

// Handler processes one claimed due item. Returning nil marks the item sent.
type Handler interface {
	Handle(ctx context.Context, item *models.DueItem) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, item *models.DueItem) error

func (f HandlerFunc) Handle(ctx context.Context, item *models.DueItem) error {
	return f(ctx, item)
}

// Registry maps due item kinds to their handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.DueItemKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[models.DueItemKind]Handler),
	}
}

// Register sets the handler for kind, replacing any earlier one
func (r *Registry) Register(kind models.DueItemKind, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

// Lookup returns the handler for kind
func (r *Registry) Lookup(kind models.DueItemKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []models.DueItemKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.DueItemKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
