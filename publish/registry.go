package publish

import (
	"context"
	"sync"

	"github.com/draftmill/draftmill/queue"
)

// Platform publishes one completed task's output to an external channel.
type Platform interface {
	Name() string
	Publish(ctx context.Context, task *queue.Task, result *queue.Result) error
}

// Registry maps platform names to publishers. Registration happens at
// composition time; lookups happen on every auto-publish.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

// NewRegistry creates an empty platform registry.
func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]Platform)}
}

// Register adds a platform, replacing any existing one with the same name.
func (r *Registry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[p.Name()] = p
}

// Get looks up a platform by name.
func (r *Registry) Get(name string) (Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	return p, ok
}

// Names returns the registered platform names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	return names
}
