// Package syncutil holds small concurrency primitives shared across
// services.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// ContextShardedMutex serializes work per string key over a fixed pool of
// channel-backed locks. Keys hash onto shards, so memory stays bounded no
// matter how many distinct keys pass through, and waiters can give up when
// their context is cancelled. Two keys on the same shard contend; that is
// an accepted trade for the fixed footprint.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
}

// NewContextShardedMutex returns a mutex pool with every shard unlocked.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// LockContext blocks until the shard for key is acquired or ctx is done.
// On success it returns the unlock function, which the caller must invoke
// exactly once. On cancellation it returns ctx.Err() and no lock is held.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardFor(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
