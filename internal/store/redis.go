package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/dede-rides/internal/models"
)

const (
	redisKeyPrefix  = "kv:"
	redisVersionKey = "kv-version"
	redisChannel    = "kv-changes"
)

// Redis backs the store with one JSON-encoded key per leaf path. A single
// write-version key is WATCHed for optimistic transactions; change fan-out
// rides on pub/sub. The version key is coarse-grained (every batch bumps
// it), which only costs spurious transaction retries at this write volume.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string) *Redis {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Redis{client: c}
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Get(ctx context.Context, path string) (any, error) {
	return redisRead(ctx, r.client, path)
}

// redisRead works against both the plain client and a WATCHed transaction.
func redisRead(ctx context.Context, c redis.Cmdable, path string) (any, error) {
	raw, err := c.Get(ctx, redisKeyPrefix+path).Result()
	if err == nil {
		return decodeLeaf(raw), nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("redis get %s: %w", path, err)
	}
	keys, err := scanKeys(ctx, c, path)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %s: %w", path, err)
	}
	tree := map[string]any{}
	for i, k := range keys {
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(k, redisKeyPrefix+path+"/")
		insertLeaf(tree, splitPath(rel), decodeLeaf(s))
	}
	if len(tree) == 0 {
		return nil, nil
	}
	return tree, nil
}

func (r *Redis) Update(ctx context.Context, updates map[string]any) error {
	dels, sets, paths, err := r.planBatch(ctx, r.client, updates)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		applyBatch(ctx, pipe, dels, sets, paths)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis update: %w", err)
	}
	return nil
}

func (r *Redis) Transact(ctx context.Context, path string, fn func(any) (any, error)) error {
	for attempt := 0; attempt < transactAttempts; attempt++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := redisRead(ctx, tx, path)
			if err != nil {
				return err
			}
			next, err := fn(cur)
			if err != nil {
				return err
			}
			dels, sets, paths, err := r.planBatch(ctx, tx, map[string]any{path: next})
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				applyBatch(ctx, pipe, dels, sets, paths)
				return nil
			})
			return err
		}, redisVersionKey)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("transact %s: %w", path, models.ErrConflict)
}

func (r *Redis) Subscribe(path string, fn func(any)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	initial, err := r.Get(ctx, path)
	if err != nil {
		cancel()
		return nil, err
	}

	var mu sync.Mutex
	mu.Lock()
	fn(initial)
	mu.Unlock()

	pubsub := r.client.Subscribe(ctx, redisChannel)
	go func() {
		for msg := range pubsub.Channel() {
			var changed []string
			if err := json.Unmarshal([]byte(msg.Payload), &changed); err != nil {
				continue
			}
			if !overlapsAny(path, changed) {
				continue
			}
			v, err := r.Get(ctx, path)
			if err != nil {
				continue
			}
			mu.Lock()
			fn(v)
			mu.Unlock()
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
	}, nil
}

// planBatch expands a multi-path batch into key deletions and leaf sets.
// Subtree replaces need the existing keys under the path, discovered by
// SCAN before the pipeline runs.
func (r *Redis) planBatch(ctx context.Context, c redis.Cmdable, updates map[string]any) (dels []string, sets map[string]string, paths []string, err error) {
	sets = map[string]string{}
	for path, v := range updates {
		paths = append(paths, path)
		old, err := scanKeys(ctx, c, path)
		if err != nil {
			return nil, nil, nil, err
		}
		dels = append(dels, old...)
		dels = append(dels, redisKeyPrefix+path)
		if v == nil {
			continue
		}
		for leafPath, leaf := range flattenLeaves(path, v) {
			sets[redisKeyPrefix+leafPath] = encodeLeaf(leaf)
		}
	}
	return dels, sets, paths, nil
}

func applyBatch(ctx context.Context, pipe redis.Pipeliner, dels []string, sets map[string]string, paths []string) {
	if len(dels) > 0 {
		pipe.Del(ctx, dels...)
	}
	for k, v := range sets {
		pipe.Set(ctx, k, v, 0)
	}
	pipe.Incr(ctx, redisVersionKey)
	payload, _ := json.Marshal(paths)
	pipe.Publish(ctx, redisChannel, string(payload))
}

func scanKeys(ctx context.Context, c redis.Cmdable, path string) ([]string, error) {
	var keys []string
	iter := c.Scan(ctx, 0, redisKeyPrefix+path+"/*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", path, err)
	}
	return keys, nil
}

func overlapsAny(path string, changed []string) bool {
	for _, p := range changed {
		if hasPrefix(p, path) || hasPrefix(path, p) {
			return true
		}
	}
	return false
}

// flattenLeaves expands a value rooted at path into its leaf paths.
func flattenLeaves(path string, v any) map[string]any {
	out := map[string]any{}
	m, ok := v.(map[string]any)
	if !ok {
		out[path] = v
		return out
	}
	for k, child := range m {
		for p, leaf := range flattenLeaves(path+"/"+k, child) {
			out[p] = leaf
		}
	}
	return out
}

// insertLeaf places a leaf into a nested map at the given segments.
func insertLeaf(tree map[string]any, segs []string, leaf any) {
	for _, seg := range segs[:len(segs)-1] {
		child, ok := tree[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			tree[seg] = child
		}
		tree = child
	}
	tree[segs[len(segs)-1]] = leaf
}

func encodeLeaf(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeLeaf(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
