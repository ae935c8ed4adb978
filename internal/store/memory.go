package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/dede-rides/internal/models"
)

const transactAttempts = 25

// Memory is the in-process backend: a nested-map tree guarded by one
// mutex, with version-checked optimistic transactions. It is the default
// backend and the fake every test injects.
type Memory struct {
	mu      sync.Mutex
	root    map[string]any
	version uint64
	subs    map[int]*memSub
	nextSub int
}

type memSub struct {
	path string
	fn   func(any)
	mu   sync.Mutex // one in-flight callback per subscription
}

func NewMemory() *Memory {
	return &Memory{root: map[string]any{}, subs: map[int]*memSub{}}
}

func (m *Memory) Get(ctx context.Context, path string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deepCopy(m.getLocked(path)), nil
}

func (m *Memory) Update(ctx context.Context, updates map[string]any) error {
	m.mu.Lock()
	paths := make([]string, 0, len(updates))
	for p, v := range updates {
		m.setLocked(p, v)
		paths = append(paths, p)
	}
	m.version++
	notify := m.pendingLocked(paths)
	m.mu.Unlock()

	m.deliver(notify)
	return nil
}

func (m *Memory) Transact(ctx context.Context, path string, fn func(any) (any, error)) error {
	for attempt := 0; attempt < transactAttempts; attempt++ {
		m.mu.Lock()
		seen := m.version
		cur := deepCopy(m.getLocked(path))
		m.mu.Unlock()

		next, err := fn(cur)
		if err != nil {
			return err
		}

		m.mu.Lock()
		if m.version != seen {
			m.mu.Unlock()
			continue
		}
		m.setLocked(path, next)
		m.version++
		notify := m.pendingLocked([]string{path})
		m.mu.Unlock()

		m.deliver(notify)
		return nil
	}
	return fmt.Errorf("transact %s: %w", path, models.ErrConflict)
}

func (m *Memory) Subscribe(path string, fn func(any)) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	sub := &memSub{path: path, fn: fn}
	m.subs[id] = sub
	initial := deepCopy(m.getLocked(path))
	m.mu.Unlock()

	m.deliver([]pendingNotify{{sub: sub, value: initial}})

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}, nil
}

type pendingNotify struct {
	sub   *memSub
	value any
}

// pendingLocked snapshots the post-change value for every subscription
// whose subtree overlaps one of the changed paths.
func (m *Memory) pendingLocked(changed []string) []pendingNotify {
	var out []pendingNotify
	for _, sub := range m.subs {
		for _, p := range changed {
			if hasPrefix(p, sub.path) || hasPrefix(sub.path, p) {
				out = append(out, pendingNotify{sub: sub, value: deepCopy(m.getLocked(sub.path))})
				break
			}
		}
	}
	return out
}

func (m *Memory) deliver(notify []pendingNotify) {
	for _, n := range notify {
		n.sub.mu.Lock()
		n.sub.fn(n.value)
		n.sub.mu.Unlock()
	}
}

// getLocked navigates to path; nil when absent.
func (m *Memory) getLocked(path string) any {
	var cur any = m.root
	for _, seg := range splitPath(path) {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// setLocked writes value at path, creating intermediate maps, deleting on
// nil, and pruning maps emptied by the delete.
func (m *Memory) setLocked(path string, value any) {
	segs := splitPath(path)
	if mv, ok := value.(map[string]any); value == nil || (ok && len(mv) == 0) {
		m.deleteLocked(segs)
		return
	}
	node := m.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = deepCopy(value)
}

func (m *Memory) deleteLocked(segs []string) {
	parents := make([]map[string]any, 0, len(segs))
	node := m.root
	for _, seg := range segs[:len(segs)-1] {
		parents = append(parents, node)
		child, ok := node[seg].(map[string]any)
		if !ok {
			return // nothing to delete
		}
		node = child
	}
	delete(node, segs[len(segs)-1])
	// prune emptied ancestors so absent and empty are indistinguishable
	for i := len(parents) - 1; i >= 0; i-- {
		if len(node) == 0 {
			delete(parents[i], segs[i])
		}
		node = parents[i]
	}
}

func deepCopy(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		out[k] = deepCopy(child)
	}
	return out
}
