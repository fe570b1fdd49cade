// Package registry provides a crawler.Evaluator backed by render functions
// compiled into the binary. The bundle source is ignored; the source name
// selects the factory.
package registry

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
)

// Factory builds a module export for one evaluation. It typically returns a
// crawler.RenderFunc, DirectFunc or CallbackFunc.
type Factory func(globals map[string]any) (any, error)

// Evaluator resolves bundles by name.
type Evaluator struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New returns an empty Evaluator.
func New() *Evaluator {
	return &Evaluator{factories: make(map[string]Factory)}
}

// Register binds name to factory. Registering a name twice replaces the
// earlier factory.
func (e *Evaluator) Register(name string, factory Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[name] = factory
}

// Names returns the registered names in sorted order.
func (e *Evaluator) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.factories))
	for name := range e.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs the factory registered under sourceName, falling back to
// its base name so "dist/main.js" finds "main.js".
func (e *Evaluator) Evaluate(ctx context.Context, _ []byte, sourceName string, globals map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	factory, ok := e.factories[sourceName]
	if !ok {
		factory, ok = e.factories[path.Base(sourceName)]
	}
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no module registered for %q", sourceName)
	}
	return factory(globals)
}
