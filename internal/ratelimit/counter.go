// Package ratelimit implements the gateway's window counters: the login
// IP throttle and the per-API rate rules both run over the Counter
// abstraction so either backend can hold the numbers.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Counter increments a fixed-window counter and reports the running count
// together with the instant the window resets.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

const numShards = 64

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// shardedMap partitions keys across fixed shards to reduce lock
// contention on the hot path.
type shardedMap[V any] struct {
	shards [numShards]shard[V]
}

func newShardedMap[V any]() *shardedMap[V] {
	var m shardedMap[V]
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return &m
}

func (m *shardedMap[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%numShards]
}

// deleteFunc visits every shard and deletes entries for which fn returns
// true.
func (m *shardedMap[V]) deleteFunc(fn func(key string, v V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.items {
			if fn(k, v) {
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}

type windowSlot struct {
	count   int64
	resetAt time.Time
}

// MemoryCounter keeps fixed-window counts in process. Authoritative only
// when the gateway runs a single worker; external deployments use
// RedisCounter.
type MemoryCounter struct {
	slots *shardedMap[*windowSlot]
	done  chan struct{}
	once  sync.Once
}

// NewMemoryCounter creates a counter and starts its sweep goroutine.
func NewMemoryCounter() *MemoryCounter {
	c := &MemoryCounter{
		slots: newShardedMap[*windowSlot](),
		done:  make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Incr bumps the counter for key, rolling the window over when the
// previous one has elapsed.
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := time.Now()
	s := c.slots.getShard(key)
	s.mu.Lock()
	slot, ok := s.items[key]
	if !ok || !now.Before(slot.resetAt) {
		slot = &windowSlot{resetAt: now.Add(window)}
		s.items[key] = slot
	}
	slot.count++
	count, resetAt := slot.count, slot.resetAt
	s.mu.Unlock()
	return count, resetAt, nil
}

// Close stops the sweep goroutine.
func (c *MemoryCounter) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *MemoryCounter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.slots.deleteFunc(func(_ string, slot *windowSlot) bool {
				return !now.Before(slot.resetAt)
			})
		case <-c.done:
			return
		}
	}
}
