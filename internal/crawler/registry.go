package crawler

import (
	"sync"
)

// Registry is the output collection of one pass: slot name to content. A
// slot, once written, is never overwritten.
type Registry struct {
	mu      sync.RWMutex
	content map[string]string
	uris    map[string]string
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		content: make(map[string]string),
		uris:    make(map[string]string),
	}
}

// Put stores content under slot unless the slot already exists. The check
// and the insert happen under one lock. It reports whether content was
// stored.
func (r *Registry) Put(slot, content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.content[slot]; exists {
		return false
	}
	r.content[slot] = content
	r.order = append(r.order, slot)
	return true
}

// Get returns the content stored under slot.
func (r *Registry) Get(slot string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	content, ok := r.content[slot]
	return content, ok
}

// Has reports whether slot has been written.
func (r *Registry) Has(slot string) bool {
	_, ok := r.Get(slot)
	return ok
}

// Len returns the number of written slots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns slot names in write order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// URI returns where slot was written through, if anywhere.
func (r *Registry) URI(slot string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uris[slot]
}

func (r *Registry) setURI(slot, uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uris[slot] = uri
}

// ErrorLog is the append-only failure log of one pass.
type ErrorLog struct {
	mu   sync.Mutex
	errs []error
}

// Append records err.
func (l *ErrorLog) Append(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

// Len returns the number of recorded failures.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

// Errors returns recorded failures in append order.
func (l *ErrorLog) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

// Messages returns the stringified failures in append order.
func (l *ErrorLog) Messages() []string {
	errs := l.Errors()
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}
