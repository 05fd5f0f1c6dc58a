package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Category groups adapters by the kind of material they retrieve.
type Category string

const (
	CategoryWeb      Category = "web"
	CategoryAcademic Category = "academic"
	CategoryScrape   Category = "scrape"
)

// Registry maps adapter names to adapters and categories to adapter
// sets. Registration happens once at startup; lookups are concurrent.
type Registry struct {
	mu         sync.RWMutex
	adapters   map[string]Adapter
	categories map[Category][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:   make(map[string]Adapter),
		categories: make(map[Category][]string),
	}
}

// Register adds an adapter under the given category. Registering the
// same name twice is an error.
func (r *Registry) Register(adapter Adapter, category Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	r.adapters[name] = adapter
	r.categories[category] = append(r.categories[category], name)
	return nil
}

// Get returns the adapter with the given name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	return a, ok
}

// ForCategory returns the adapters registered under the given
// categories, in registration order.
func (r *Registry) ForCategory(categories ...Category) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Adapter
	for _, c := range categories {
		for _, name := range r.categories[c] {
			out = append(out, r.adapters[name])
		}
	}
	return out
}

// Names returns all registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
