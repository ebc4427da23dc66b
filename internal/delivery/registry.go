// internal/delivery/registry.go
package delivery

import (
	"fmt"
	"strings"
	"sync"
)

// Handler delivers one notification line published under topic.
type Handler func(topic, message string) error

// Registry routes notifications to the handler registered for the longest
// matching topic prefix (e.g. "message:", "session:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for topics starting with prefix. An empty prefix
// catches every topic no other handler claims.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the most specific handler for topic and calls it.
// Returns an error if no handler matches.
func (r *Registry) Deliver(topic, message string) error {
	r.mu.RLock()
	var (
		best    Handler
		bestLen = -1
	)
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(topic, prefix) && len(prefix) > bestLen {
			best, bestLen = handler, len(prefix)
		}
	}
	r.mu.RUnlock()
	if best == nil {
		return fmt.Errorf("no delivery handler for topic: %s", topic)
	}
	return best(topic, message)
}
