package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/service/mocks"
	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var policyPair = domain.Policy{N: 2, W: 1, R: 1}

func applyAll(t *testing.T, n *testNode, records ...domain.Record) {
	t.Helper()
	for _, r := range records {
		_, err := n.store.Apply(context.Background(), r)
		require.NoError(t, err)
	}
}

func repairAll(t *testing.T, n *testNode) (pulled, pushed int) {
	t.Helper()
	for p := 0; p < n.svc.layout.Partitions(); p++ {
		reports, err := n.svc.RepairPartition(context.Background(), p)
		require.NoError(t, err)
		for _, r := range reports {
			pulled += r.KeysPulled
			pushed += r.KeysPushed
		}
	}
	return pulled, pushed
}

func requireRootsEqual(t *testing.T, a, b *testNode) {
	t.Helper()
	ctx := context.Background()
	for p := 0; p < a.svc.layout.Partitions(); p++ {
		ra, err := a.svc.merkle.rootHash(ctx, p)
		require.NoError(t, err)
		rb, err := b.svc.merkle.rootHash(ctx, p)
		require.NoError(t, err)
		require.Equal(t, ra, rb, "partition %d", p)
	}
}

func TestRepair_TransfersExactlyTheDifferingKeys(t *testing.T) {
	c := newTestCluster(t, policyPair, "node-a", "node-b")
	a, b := c.node("node-a"), c.node("node-b")

	for i := 0; i < 40; i++ {
		r := testRecord(t, "users", fmt.Sprintf("shared-%d", i), "same", "node-a", int64(100+i))
		applyAll(t, a, r)
		applyAll(t, b, r)
	}
	for i := 0; i < 5; i++ {
		applyAll(t, a, testRecord(t, "users", fmt.Sprintf("only-a-%d", i), "a", "node-a", 500))
	}
	for i := 0; i < 3; i++ {
		applyAll(t, b, testRecord(t, "users", fmt.Sprintf("only-b-%d", i), "b", "node-b", 500))
	}
	for i := 0; i < 2; i++ {
		old := testRecord(t, "users", fmt.Sprintf("newer-b-%d", i), "old", "node-a", 600)
		newer, err := domain.NewRecord(old.Key, []byte("new"), old.Version.Bump("node-b", 700))
		require.NoError(t, err)
		applyAll(t, a, old)
		applyAll(t, b, newer)
	}

	pulled, pushed := repairAll(t, a)
	assert.Equal(t, 5, pulled)
	assert.Equal(t, 5, pushed)
	requireRootsEqual(t, a, b)
	assert.Equal(t, 50, a.store.Len())
	assert.Equal(t, 50, b.store.Len())

	r, ok := storedValue(t, a, domain.NewKey("users", []byte("newer-b-1")))
	require.True(t, ok)
	assert.Equal(t, []byte("new"), r.Value)

	// A second pass has nothing left to move.
	pulled, pushed = repairAll(t, a)
	assert.Zero(t, pulled+pushed)

	ranges, err := a.replicas.Ranges(context.Background())
	require.NoError(t, err)
	require.Len(t, ranges, a.svc.layout.Partitions())
	for _, rr := range ranges {
		assert.Equal(t, domain.ReplicaFresh, rr.State)
		assert.False(t, rr.LastSyncedAt.IsZero())
	}
}

func TestRepair_TombstonesWin(t *testing.T) {
	c := newTestCluster(t, policyPair, "node-a", "node-b")
	a, b := c.node("node-a"), c.node("node-b")

	live := testRecord(t, "users", "gone", "v", "node-a", 100)
	applyAll(t, a, live)
	applyAll(t, b, live, domain.NewTombstone(live.Key, live.Version.Bump("node-b", 200)))

	repairAll(t, a)
	r, ok := storedValue(t, a, live.Key)
	require.True(t, ok)
	assert.True(t, r.Tombstone)
	requireRootsEqual(t, a, b)
}

func TestRepair_ClearsCoveredHints(t *testing.T) {
	c := newTestCluster(t, policyPair, "node-a", "node-b")
	ctx := context.Background()
	a, b := c.node("node-a"), c.node("node-b")

	r := testRecord(t, "users", "hinted", "v", "node-a", 100)
	applyAll(t, a, r)
	_, err := a.hints.Enqueue(ctx, domain.Hint{Target: "node-b", Record: r})
	require.NoError(t, err)

	repairAll(t, a)
	_, ok := storedValue(t, b, r.Key)
	assert.True(t, ok)

	stats, err := a.hints.Targets(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestRepair_NotAReplica(t *testing.T) {
	c := newTestCluster(t, domain.Policy{N: 1, W: 1, R: 1}, "node-a", "node-b")
	a := c.node("node-a")

	var owned, foreign int
	for p := 0; p < a.svc.layout.Partitions(); p++ {
		_, err := a.svc.RepairPartition(context.Background(), p)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrNotReplica)
			foreign++
			continue
		}
		owned++
	}
	assert.Positive(t, owned+foreign)

	_, err := a.svc.RepairPartition(context.Background(), a.svc.layout.Partitions())
	assert.ErrorIs(t, err, merkle.ErrOutOfRange)
}

// newMockedPeerNode builds a single node whose peer calls go to a mock. The
// membership view also lists node-b so every partition has a peer.
func newMockedPeerNode(t *testing.T, peers *mocks.MockPeerClient) *testNode {
	t.Helper()
	cfg := testConfig(t, policyPair)
	cfg.Server.NodeID = "node-a"

	tracker := membership.NewTracker(membership.State{NodeID: "node-a", Addr: "node-a:8081"}, membership.Config{})
	tracker.Merge([]membership.State{{NodeID: "node-b", Addr: "node-b:8081", Status: shard.NodeStatusAlive, Clock: 1}})

	store, hints, replicas := openAdapters(t, cfg)
	svc, err := NewNodeService(cfg, Deps{Store: store, Hints: hints, Replicas: replicas, Peers: peers, Members: tracker})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return &testNode{svc: svc, store: store, hints: hints, replicas: replicas, tracker: tracker}
}

func TestRepair_CorruptChildHashes(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)
	ctx := context.Background()

	bogus := make([]merkle.Hash, merkle.Fanout)
	for i := range bogus {
		bogus[i] = merkle.Hash{byte(i + 1)}
	}
	advertised := merkle.Hash{0xff}

	// The root is re-read once and has not moved, so the children are at fault.
	peers.EXPECT().RootHash(gomock.Any(), gomock.Any(), 0).Return(advertised, nil).Times(2)
	peers.EXPECT().ChildHashes(gomock.Any(), gomock.Any(), 0, []int{0}).
		Return(map[int][]merkle.Hash{0: bogus}, nil)

	reports, err := n.svc.RepairPartition(ctx, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCorruptDigest)
	assert.ErrorIs(t, err, domain.ErrRepairSessionFailure)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].CorruptDigests)
	assert.EqualValues(t, 1, n.svc.metrics.CorruptDigests.Get())
	assert.EqualValues(t, 1, n.svc.metrics.RepairFailed.Get())

	rr, ok, err := n.replicas.Range(ctx, 0, "node-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ReplicaStale, rr.State)
}

func TestRepair_RemoteLeafListDoesNotMatchItsHash(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)
	ctx := context.Background()

	// The peer advertises a tree with one non-empty leaf but lists no keys for it.
	remote, err := merkle.New(n.svc.layout.Depth())
	require.NoError(t, err)
	require.NoError(t, remote.SetLeaf(3, merkle.Hash{0xaa}))
	children, err := remote.Children(0)
	require.NoError(t, err)

	peers.EXPECT().RootHash(gomock.Any(), gomock.Any(), 0).Return(remote.Root(), nil)
	peers.EXPECT().ChildHashes(gomock.Any(), gomock.Any(), 0, []int{0}).
		Return(map[int][]merkle.Hash{0: children}, nil)
	peers.EXPECT().LeafKeys(gomock.Any(), gomock.Any(), 0, 3).
		Return(nil, merkle.Hash{0xaa}, nil)

	_, err = n.svc.RepairPartition(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrCorruptDigest)
	assert.EqualValues(t, 1, n.svc.metrics.CorruptDigests.Get())
}

func TestRepair_PeerUnreachable(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)

	peers.EXPECT().RootHash(gomock.Any(), gomock.Any(), 1).Return(merkle.Hash{}, domain.ErrNodeUnreachable)

	reports, err := n.svc.RepairPartition(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNodeUnreachable)
	require.Len(t, reports, 1)
	assert.NotEmpty(t, reports[0].Error)
	assert.NotEmpty(t, reports[0].SessionID)
}

// keyIn returns a key of namespace users that lands in partition.
func keyIn(t *testing.T, n *testNode, prefix string, partition int) domain.Key {
	t.Helper()
	for i := 0; i < 10000; i++ {
		k := domain.NewKey("users", []byte(fmt.Sprintf("%s-%d", prefix, i)))
		if n.svc.layout.Partition(k.Token()) == partition {
			return k
		}
	}
	t.Fatalf("no key for partition %d", partition)
	return domain.Key{}
}

func recordFor(t *testing.T, key domain.Key, value, origin string, ts int64) domain.Record {
	t.Helper()
	r, err := domain.NewRecord(key, []byte(value), version.Version{}.Bump(origin, ts))
	require.NoError(t, err)
	return r
}

// hookedLink runs a callback once, right after the first RootHash or
// LeafKeys answer, to land writes in the middle of a session.
type hookedLink struct {
	peerLink
	afterRoot func()
	afterLeaf func()
}

func (h *hookedLink) RootHash(ctx context.Context, target shard.Node, partition int) (merkle.Hash, error) {
	root, err := h.peerLink.RootHash(ctx, target, partition)
	if h.afterRoot != nil {
		h.afterRoot()
		h.afterRoot = nil
	}
	return root, err
}

func (h *hookedLink) LeafKeys(ctx context.Context, target shard.Node, partition, leaf int) ([]domain.KeyDigest, merkle.Hash, error) {
	digests, hash, err := h.peerLink.LeafKeys(ctx, target, partition, leaf)
	if h.afterLeaf != nil {
		h.afterLeaf()
		h.afterLeaf = nil
	}
	return digests, hash, err
}

func TestRepair_PeerWriteDuringDescentRestarts(t *testing.T) {
	c := newTestCluster(t, policyPair, "node-a", "node-b")
	a, b := c.node("node-a"), c.node("node-b")
	ctx := context.Background()

	applyAll(t, a, recordFor(t, keyIn(t, a, "only-a", 0), "a", "node-a", 100))
	late := recordFor(t, keyIn(t, a, "late", 0), "b", "node-b", 200)

	a.svc.peers = &hookedLink{
		peerLink:  peerLink{net: c.net, from: "node-a"},
		afterRoot: func() { applyAll(t, b, late) },
	}

	reports, err := a.svc.RepairPartition(ctx, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].CorruptDigests)
	assert.Equal(t, 1, reports[0].KeysPulled)
	assert.Equal(t, 1, reports[0].KeysPushed)
	assert.Zero(t, a.svc.metrics.CorruptDigests.Get())

	_, ok := storedValue(t, a, late.Key)
	assert.True(t, ok)
	requireRootsEqual(t, a, b)
}

func TestRepair_PeerKeepsMovingGivesUpWithoutCorruption(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)

	// Every root read returns a new root whose children never combine to it.
	roots := 0
	peers.EXPECT().RootHash(gomock.Any(), gomock.Any(), 0).DoAndReturn(
		func(context.Context, shard.Node, int) (merkle.Hash, error) {
			roots++
			return merkle.Hash{byte(roots)}, nil
		}).AnyTimes()
	peers.EXPECT().ChildHashes(gomock.Any(), gomock.Any(), 0, []int{0}).
		Return(map[int][]merkle.Hash{0: make([]merkle.Hash, merkle.Fanout)}, nil).AnyTimes()

	_, err := n.svc.RepairPartition(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRepairSessionFailure)
	assert.NotErrorIs(t, err, domain.ErrCorruptDigest)
	assert.Zero(t, n.svc.metrics.CorruptDigests.Get())
}

func TestRepair_LocalWriteAfterSnapshotIsNotCorruption(t *testing.T) {
	c := newTestCluster(t, policyPair, "node-a", "node-b")
	a, b := c.node("node-a"), c.node("node-b")

	missing := recordFor(t, keyIn(t, a, "missing", 2), "v", "node-b", 100)
	applyAll(t, b, missing)

	// The same write reaches node-a while the session compares leaves.
	a.svc.peers = &hookedLink{
		peerLink:  peerLink{net: c.net, from: "node-a"},
		afterLeaf: func() { applyAll(t, a, missing) },
	}

	reports, err := a.svc.RepairPartition(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].CorruptDigests)
	assert.Zero(t, a.svc.metrics.CorruptDigests.Get())
	requireRootsEqual(t, a, b)
}

func TestRepair_SameVersionDifferentBytesIsCorrupt(t *testing.T) {
	c := newTestCluster(t, policyPair, "node-a", "node-b")
	a, b := c.node("node-a"), c.node("node-b")
	ctx := context.Background()

	key := keyIn(t, a, "x", 1)
	good := recordFor(t, key, "good", "node-a", 100)
	rotted, err := domain.NewRecord(key, []byte("rotted"), good.Version)
	require.NoError(t, err)
	applyAll(t, a, good)
	applyAll(t, b, rotted)

	reports, err := a.svc.RepairPartition(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCorruptDigest)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].LeavesDiffered)
	assert.Equal(t, 1, reports[0].CorruptDigests)
	assert.Zero(t, reports[0].KeysPulled+reports[0].KeysPushed)
	assert.EqualValues(t, 1, a.svc.metrics.CorruptDigests.Get())

	rr, ok, err := a.replicas.Range(ctx, 1, "node-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ReplicaStale, rr.State)

	// Neither side is overwritten.
	r, ok := storedValue(t, a, key)
	require.True(t, ok)
	assert.Equal(t, []byte("good"), r.Value)
	r, ok = storedValue(t, b, key)
	require.True(t, ok)
	assert.Equal(t, []byte("rotted"), r.Value)
}
