// Package store defines the path-addressed hierarchical key-value store
// the coordination protocol runs against, plus three backends: an
// in-memory tree, Redis, and Postgres. The store is the only persistence
// and consistency primitive the core depends on.
package store

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// A Value is either a scalar leaf (string, bool, float64, int) or a
// map[string]any subtree. A nil Value means the path is absent; backends
// prune empty maps so an emptied subtree reads back as nil.

// Store is the transactional key-value contract. Paths are slash-separated
// ("events/{id}/queue"), never leading or trailing with a slash.
type Store interface {
	// Get reads the value at path once. Missing paths yield (nil, nil).
	Get(ctx context.Context, path string) (any, error)

	// Update applies every path→value pair as one all-or-nothing batch.
	// A nil value deletes the subtree at its path; a map value replaces
	// it. Observers see the batch atomically.
	Update(ctx context.Context, updates map[string]any) error

	// Transact runs an optimistic read-modify-write on the subtree at
	// path. fn receives the current value and returns the replacement
	// (nil deletes). On conflicting concurrent writers the attempt is
	// retried; exhausted retries surface as a conflict error.
	Transact(ctx context.Context, path string, fn func(current any) (any, error)) error

	// Subscribe attaches a persistent observer to the subtree at path.
	// fn is invoked with the current value immediately and again after
	// every change, one in-flight callback at a time. The returned
	// cancel func detaches the observer.
	Subscribe(path string, fn func(value any)) (cancel func(), err error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID mints a store key. ULIDs are lexicographically ordered by creation
// time, which is what makes "first in queue" = "minimum key" hold.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// splitPath breaks a path into its segments.
func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// hasPrefix reports whether path lies at or below prefix.
func hasPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
