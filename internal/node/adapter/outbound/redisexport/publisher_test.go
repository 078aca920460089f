package redisexport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu        sync.Mutex
	values    map[string]string
	published map[string][]string
	setErr    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), published: make(map[string][]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.values[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func snapshot(version uint64, ids ...string) shard.Export {
	nodes := make([]shard.Node, len(ids))
	for i, id := range ids {
		nodes[i] = shard.Node{ID: id, Addr: id + ":8081", Status: shard.NodeStatusAlive}
	}
	return shard.NewSnapshot(version, nodes, 8).Export()
}

func TestPublisher_StoresAndAnnounces(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	p := NewPublisher(client, "kv:ring")

	_, err := p.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	first := snapshot(1, "node-a", "node-b")
	require.NoError(t, p.PublishRing(ctx, first))

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Version, got.Version)
	assert.Equal(t, first.Checksum, got.Checksum)
	assert.Len(t, got.Tokens, len(first.Tokens))

	// The stored snapshot rebuilds the same ring.
	rebuilt, err := shard.FromExport(got)
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, rebuilt.Checksum())

	require.Len(t, client.published["kv:ring:updates"], 1)
	assert.JSONEq(t, `{"version":1,"checksum":"`+first.Checksum+`"}`, client.published["kv:ring:updates"][0])
}

func TestPublisher_KeepsNewerSnapshot(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	p := NewPublisher(client, "kv:ring")

	newer := snapshot(5, "node-a", "node-b", "node-c")
	require.NoError(t, p.PublishRing(ctx, newer))
	require.NoError(t, p.PublishRing(ctx, snapshot(3, "node-a")))
	require.NoError(t, p.PublishRing(ctx, newer), "republishing the same snapshot is a no-op")

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Version)
	assert.Len(t, client.published[p.Channel()], 1)
}

func TestPublisher_StoreFailure(t *testing.T) {
	client := newFakeRedis()
	client.setErr = errors.New("READONLY")
	p := NewPublisher(client, "kv:ring")

	err := p.PublishRing(context.Background(), snapshot(1, "node-a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
	assert.Empty(t, client.published)
}
