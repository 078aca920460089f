package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policyN3 = domain.Policy{N: 3, W: 2, R: 2}

func TestReplication_PutGet(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	ctx := context.Background()
	a := c.node("node-a")

	for i := 0; i < 20; i++ {
		key := domain.NewKey("users", []byte(fmt.Sprintf("user-%d", i)))
		v, err := a.svc.Put(ctx, key, []byte(fmt.Sprintf("value-%d", i)), nil)
		require.NoError(t, err)
		assert.Equal(t, "node-a", v.Origin)

		holders := 0
		for _, n := range c.nodes {
			if r, ok := storedValue(t, n, key); ok && r.Version.String() == v.String() {
				holders++
			}
		}
		assert.GreaterOrEqual(t, holders, policyN3.W, "key %d", i)

		got, err := c.node("node-b").svc.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("value-%d", i)), got.Value)
	}
	assert.EqualValues(t, 20, a.svc.metrics.WritesOK.Get())
}

func TestReplication_OverwriteBumpsVersion(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	ctx := context.Background()
	key := domain.NewKey("users", []byte("alice"))

	v1, err := c.node("node-a").svc.Put(ctx, key, []byte("one"), nil)
	require.NoError(t, err)
	v2, err := c.node("node-b").svc.Put(ctx, key, []byte("two"), &v1)
	require.NoError(t, err)
	assert.Equal(t, version.After, version.Compare(v2, v1))

	got, err := c.node("node-c").svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got.Value)
}

func TestReplication_Delete(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	ctx := context.Background()
	a := c.node("node-a")
	key := domain.NewKey("users", []byte("bob"))

	_, err := a.svc.Put(ctx, key, []byte("v"), nil)
	require.NoError(t, err)
	_, err = a.svc.Delete(ctx, key, nil)
	require.NoError(t, err)

	_, err = a.svc.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	require.Eventually(t, func() bool {
		r, ok := storedValue(t, a, key)
		return ok && r.Tombstone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplication_GetMissingKey(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")

	_, err := c.node("node-a").svc.Get(context.Background(), domain.NewKey("users", []byte("nobody")))
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestReplication_WriteFailsWithoutQuorum(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	ctx := context.Background()
	a := c.node("node-a")
	c.net.setDown("node-b", true)
	c.net.setDown("node-c", true)

	_, err := a.svc.Put(ctx, domain.NewKey("users", []byte("carol")), []byte("v"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuorumTimeout)

	var qe *domain.QuorumError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 2, qe.Required)
	assert.LessOrEqual(t, qe.Acked, 1)
	assert.Len(t, qe.Failed, 2)

	// Both unreachable replicas are owed the write.
	require.Eventually(t, func() bool {
		stats, err := a.hints.Targets(ctx)
		return err == nil && len(stats) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplication_ReadFailsWithoutQuorum(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	ctx := context.Background()
	key := domain.NewKey("users", []byte("dave"))
	_, err := c.node("node-a").svc.Put(ctx, key, []byte("v"), nil)
	require.NoError(t, err)

	c.net.setDown("node-b", true)
	c.net.setDown("node-c", true)
	_, err = c.node("node-a").svc.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrQuorumTimeout)
}

func TestReplication_ReadSkipsFailedReplica(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	ctx := context.Background()
	key := domain.NewKey("users", []byte("erin"))
	_, err := c.node("node-a").svc.Put(ctx, key, []byte("v"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := storedValue(t, c.node("node-c"), key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// R=2 is still met by the local copy and the remaining peer.
	c.net.setDown("node-b", true)
	got, err := c.node("node-a").svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got.Value)
}

// flood_map: C misses a write, receives it through hinted handoff, and a later
// anti-entropy pass finds nothing left to repair.
func TestReplication_FloodMapScenario(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	ctx := context.Background()
	a := c.node("node-a")
	key := domain.NewKey("maps", []byte("flood_map"))
	partition := a.svc.layout.Partition(key.Token())

	c.net.setDown("node-c", true)
	v, err := a.svc.Put(ctx, key, []byte("v1"), nil)
	require.NoError(t, err)

	_, onB := storedValue(t, c.node("node-b"), key)
	assert.True(t, onB)
	_, onC := storedValue(t, c.node("node-c"), key)
	assert.False(t, onC)

	require.Eventually(t, func() bool {
		stats, err := a.hints.Targets(ctx)
		if err != nil || len(stats) != 1 || stats[0].Target != "node-c" || stats[0].Pending != 1 {
			return false
		}
		meta, ok, err := a.replicas.KeyState(ctx, partition, "node-c", key)
		return err == nil && ok && meta.State == domain.ReplicaStale
	}, 2*time.Second, 10*time.Millisecond)

	c.net.setDown("node-c", false)
	assert.Equal(t, 1, a.svc.handoff.replayTarget(ctx, "node-c"))

	r, onC := storedValue(t, c.node("node-c"), key)
	require.True(t, onC)
	assert.Equal(t, []byte("v1"), r.Value)
	assert.Equal(t, v.String(), r.Version.String())

	stats, err := a.hints.Targets(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)

	meta, ok, err := a.replicas.KeyState(ctx, partition, "node-c", key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ReplicaFresh, meta.State)

	for _, id := range []string{"node-a", "node-b"} {
		reports, err := c.node(id).svc.RepairPartition(ctx, partition)
		require.NoError(t, err)
		for _, rep := range reports {
			assert.True(t, rep.RootsEqual, "%s vs %s", id, rep.Peer)
			assert.Zero(t, rep.KeysPulled+rep.KeysPushed)
		}
	}
}

// x@v1 on one replica, a dominating x@v2 on the other: a read returns v2 and
// repairs the lagging copy.
func TestReplication_ReadRepair(t *testing.T) {
	c := newTestCluster(t, domain.Policy{N: 2, W: 1, R: 2}, "node-a", "node-b")
	ctx := context.Background()
	a, b := c.node("node-a"), c.node("node-b")

	key := domain.NewKey("maps", []byte("x"))
	v1 := version.Version{}.Bump("node-a", 100)
	v2 := v1.Bump("node-b", 200)
	r1, err := domain.NewRecord(key, []byte("v1"), v1)
	require.NoError(t, err)
	r2, err := domain.NewRecord(key, []byte("v2"), v2)
	require.NoError(t, err)

	_, err = a.store.Apply(ctx, r1)
	require.NoError(t, err)
	_, err = b.store.Apply(ctx, r2)
	require.NoError(t, err)

	got, err := a.svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Value)

	require.Eventually(t, func() bool {
		r, ok := storedValue(t, a, key)
		return ok && string(r.Value) == "v2"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return a.svc.metrics.ReadRepairs.Get() == 1 }, 2*time.Second, 10*time.Millisecond)

	got, err = b.svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, v2.String(), got.Version.String())
}

func TestReplication_ConcurrentWritesSettleEverywhere(t *testing.T) {
	c := newTestCluster(t, domain.Policy{N: 2, W: 1, R: 2}, "node-a", "node-b")
	ctx := context.Background()
	a, b := c.node("node-a"), c.node("node-b")
	key := domain.NewKey("maps", []byte("y"))

	// Neither version dominates; the later timestamp wins on both sides.
	ra := testRecord(t, "maps", "y", "from-a", "node-a", 300)
	rb := testRecord(t, "maps", "y", "from-b", "node-b", 200)
	_, err := a.store.Apply(ctx, ra)
	require.NoError(t, err)
	_, err = b.store.Apply(ctx, rb)
	require.NoError(t, err)

	for _, n := range []*testNode{a, b} {
		got, err := n.svc.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("from-a"), got.Value)
	}
}

// gatedLink holds every Put addressed to one node until released, or until
// the caller's context ends. With reject set, a released Put is refused
// instead of applied.
type gatedLink struct {
	peerLink
	target  string
	reject  error
	release chan struct{}
	once    sync.Once
}

func newGatedLink(c *testCluster, from, target string) *gatedLink {
	return &gatedLink{
		peerLink: peerLink{net: c.net, from: from},
		target:   target,
		release:  make(chan struct{}),
	}
}

func (g *gatedLink) open() {
	g.once.Do(func() { close(g.release) })
}

func (g *gatedLink) Put(ctx context.Context, target shard.Node, record domain.Record) (bool, error) {
	if target.ID != g.target {
		return g.peerLink.Put(ctx, target, record)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if g.reject != nil {
		return false, g.reject
	}
	return g.peerLink.Put(ctx, target, record)
}

func keyMeta(t *testing.T, n *testNode, nodeID string, key domain.Key) (domain.ReplicaRecord, bool) {
	t.Helper()
	meta, ok, err := n.replicas.KeyState(context.Background(), n.svc.layout.Partition(key.Token()), nodeID, key)
	require.NoError(t, err)
	return meta, ok
}

func TestReplication_WriteReturnsAtQuorumWithoutSlowReplica(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	a := c.node("node-a")
	gate := newGatedLink(c, "node-a", "node-c")
	a.svc.peers = gate

	key := domain.NewKey("users", []byte("slow"))
	start := time.Now()
	_, err := a.svc.Put(context.Background(), key, []byte("v"), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), a.svc.replication.writeTimeout/2)

	_, onC := storedValue(t, c.node("node-c"), key)
	assert.False(t, onC)
	assert.EqualValues(t, 1, a.svc.metrics.WritesOK.Get())

	gate.open()
	require.Eventually(t, func() bool {
		_, ok := storedValue(t, c.node("node-c"), key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplication_LateAckStillRecordsReplicaState(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	a := c.node("node-a")
	gate := newGatedLink(c, "node-a", "node-c")
	a.svc.peers = gate

	key := domain.NewKey("users", []byte("late"))
	v, err := a.svc.Put(context.Background(), key, []byte("v"), nil)
	require.NoError(t, err)
	_, ok := keyMeta(t, a, "node-c", key)
	assert.False(t, ok)

	gate.open()
	require.Eventually(t, func() bool {
		meta, ok := keyMeta(t, a, "node-c", key)
		return ok && meta.State == domain.ReplicaFresh && meta.Version.String() == v.String()
	}, 2*time.Second, 10*time.Millisecond)
	_, onC := storedValue(t, c.node("node-c"), key)
	assert.True(t, onC)
	assert.Zero(t, a.svc.metrics.HintsEnqueued.Get())
}

func TestReplication_LateTimeoutBecomesHint(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	a := c.node("node-a")
	gate := newGatedLink(c, "node-a", "node-c")
	t.Cleanup(gate.open)
	a.svc.peers = gate
	a.svc.replication.writeTimeout = 100 * time.Millisecond

	key := domain.NewKey("users", []byte("timeout"))
	_, err := a.svc.Put(context.Background(), key, []byte("v"), nil)
	require.NoError(t, err)
	assert.Zero(t, a.svc.metrics.HintsEnqueued.Get())

	require.Eventually(t, func() bool {
		meta, ok := keyMeta(t, a, "node-c", key)
		return ok && meta.State == domain.ReplicaStale
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, a.svc.metrics.HintsEnqueued.Get())
}

func TestReplication_RejectedWriteIsNotHinted(t *testing.T) {
	c := newTestCluster(t, policyN3, "node-a", "node-b", "node-c")
	ctx := context.Background()
	a := c.node("node-a")
	gate := newGatedLink(c, "node-a", "node-c")
	gate.reject = domain.ErrInvalidChecksum
	gate.open()
	a.svc.peers = gate

	key := domain.NewKey("users", []byte("refused"))
	_, err := a.svc.Put(ctx, key, []byte("v"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		meta, ok := keyMeta(t, a, "node-c", key)
		return ok && meta.State == domain.ReplicaStale
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, a.svc.metrics.HintsEnqueued.Get())
	stats, err := a.hints.Targets(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

// node-b once acknowledged v2 but now serves v1, the same as node-a. The
// read returns v1 and hands the key to anti-entropy.
func TestReplication_ReadFlagsReplicaBehindAckedVersion(t *testing.T) {
	c := newTestCluster(t, domain.Policy{N: 2, W: 1, R: 2}, "node-a", "node-b")
	ctx := context.Background()
	a, b := c.node("node-a"), c.node("node-b")

	key := domain.NewKey("maps", []byte("regressed"))
	partition := a.svc.layout.Partition(key.Token())
	v1 := version.Version{}.Bump("node-a", 100)
	v2 := v1.Bump("node-a", 200)
	r1, err := domain.NewRecord(key, []byte("v1"), v1)
	require.NoError(t, err)
	_, err = a.store.Apply(ctx, r1)
	require.NoError(t, err)
	_, err = b.store.Apply(ctx, r1)
	require.NoError(t, err)
	require.NoError(t, a.replicas.MarkKey(ctx, domain.ReplicaRecord{
		Partition: partition,
		NodeID:    "node-b",
		Key:       &key,
		State:     domain.ReplicaFresh,
		Version:   v2,
	}))

	got, err := a.svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got.Value)

	meta, ok := keyMeta(t, a, "node-b", key)
	require.True(t, ok)
	assert.Equal(t, domain.ReplicaStale, meta.State)
	rr, ok, err := a.replicas.Range(ctx, partition, "node-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ReplicaStale, rr.State)
}

func TestReplication_ReadFlagsReplicaMissingAckedKey(t *testing.T) {
	c := newTestCluster(t, domain.Policy{N: 2, W: 1, R: 2}, "node-a", "node-b")
	ctx := context.Background()
	a := c.node("node-a")

	key := domain.NewKey("maps", []byte("vanished"))
	require.NoError(t, a.replicas.MarkKey(ctx, domain.ReplicaRecord{
		Partition: a.svc.layout.Partition(key.Token()),
		NodeID:    "node-b",
		Key:       &key,
		State:     domain.ReplicaFresh,
		Version:   version.Version{}.Bump("node-b", 100),
	}))

	_, err := a.svc.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	meta, ok := keyMeta(t, a, "node-b", key)
	require.True(t, ok)
	assert.Equal(t, domain.ReplicaStale, meta.State)
}
