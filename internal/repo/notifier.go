// Package repo holds the live in-memory projections of store subtrees:
// one repository per entity, kept current by store subscriptions, fanning
// out a typed per-field change notification to registered observers.
package repo

import "sync"

// Field names a watched projection field. Constants are declared next to
// each repository so observers subscribe to typed fields instead of
// stringly-typed broadcast names.
type Field string

// Handle identifies one registered observer for later removal.
type Handle struct {
	field Field
	id    int
}

// notifier is the synchronous fan-out core shared by the repositories.
// Callbacks run on the store's delivery goroutine; there is no
// backpressure, matching the one-in-flight-callback store contract.
type notifier struct {
	mu   sync.Mutex
	subs map[Field]map[int]func()
	next int
}

// Watch registers fn for changes to field. fn runs synchronously on every
// change after the projection has been updated.
func (n *notifier) Watch(field Field, fn func()) Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = map[Field]map[int]func(){}
	}
	if n.subs[field] == nil {
		n.subs[field] = map[int]func(){}
	}
	id := n.next
	n.next++
	n.subs[field][id] = fn
	return Handle{field: field, id: id}
}

// Unwatch removes a previously registered observer.
func (n *notifier) Unwatch(h Handle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if m := n.subs[h.field]; m != nil {
		delete(m, h.id)
	}
}

func (n *notifier) emit(field Field) {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs[field]))
	for _, fn := range n.subs[field] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
