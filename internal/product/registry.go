package product

import (
	"sort"
	"sync"
)

// Registry maps product names to registered subscribers. Registration and
// unregistration are the only external mutators; the lock keeps them safe
// against an in-flight poll cycle reading the mapping.
type Registry struct {
	mu       sync.RWMutex
	products map[string]Subscriber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{products: make(map[string]Subscriber)}
}

// Register binds a subscriber to a product name, replacing any previous
// entry. A nil subscriber unregisters the product.
func (r *Registry) Register(name string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub == nil {
		delete(r.products, name)
		return
	}
	r.products[name] = sub
}

// Unregister removes a product. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, name)
}

// Get returns the subscriber for a product, or nil when none is registered.
func (r *Registry) Get(name string) Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.products[name]
}

// Names returns the registered product names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.products))
	for name := range r.products {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start activates the subscribers for the given products. A product may
// share one subscriber with others; Start is idempotent on the subscriber
// side, so duplicate activation is harmless.
func (r *Registry) Start(names ...string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range names {
		if sub := r.products[name]; sub != nil {
			sub.Start()
		}
	}
}

// Reset drops every registration. Used after a fork-like re-initialization.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products = make(map[string]Subscriber)
}
