package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/boltdb"
	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/lsm"
	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	"github.com/stretchr/testify/require"
)

// network routes peer calls between in-process nodes. A node marked down
// fails every call addressed to it.
type network struct {
	mu    sync.RWMutex
	nodes map[string]*NodeServiceImpl
	down  map[string]bool
}

func newNetwork() *network {
	return &network{nodes: make(map[string]*NodeServiceImpl), down: make(map[string]bool)}
}

func (n *network) setDown(id string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[id] = down
}

func (n *network) lookup(id string) (*NodeServiceImpl, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	svc, ok := n.nodes[id]
	if !ok || n.down[id] {
		return nil, fmt.Errorf("%w: %s", domain.ErrNodeUnreachable, id)
	}
	return svc, nil
}

// peerLink is the PeerClient one node uses to reach the others.
type peerLink struct {
	net  *network
	from string
}

func (p peerLink) Put(ctx context.Context, target shard.Node, record domain.Record) (bool, error) {
	svc, err := p.net.lookup(target.ID)
	if err != nil {
		return false, err
	}
	return svc.ApplyReplica(ctx, p.from, domain.RingStamp{}, record)
}

func (p peerLink) Get(ctx context.Context, target shard.Node, key domain.Key) (domain.Record, bool, error) {
	svc, err := p.net.lookup(target.ID)
	if err != nil {
		return domain.Record{}, false, err
	}
	return svc.ReadReplica(ctx, p.from, domain.RingStamp{}, key)
}

func (p peerLink) RootHash(ctx context.Context, target shard.Node, partition int) (merkle.Hash, error) {
	svc, err := p.net.lookup(target.ID)
	if err != nil {
		return merkle.Hash{}, err
	}
	return svc.RootHash(ctx, p.from, domain.RingStamp{}, partition)
}

func (p peerLink) ChildHashes(ctx context.Context, target shard.Node, partition int, indices []int) (map[int][]merkle.Hash, error) {
	svc, err := p.net.lookup(target.ID)
	if err != nil {
		return nil, err
	}
	return svc.ChildHashes(ctx, partition, indices)
}

func (p peerLink) LeafKeys(ctx context.Context, target shard.Node, partition, leaf int) ([]domain.KeyDigest, merkle.Hash, error) {
	svc, err := p.net.lookup(target.ID)
	if err != nil {
		return nil, merkle.Hash{}, err
	}
	return svc.LeafKeys(ctx, partition, leaf)
}

func (p peerLink) FetchKeys(ctx context.Context, target shard.Node, keys []domain.Key) ([]domain.Record, error) {
	svc, err := p.net.lookup(target.ID)
	if err != nil {
		return nil, err
	}
	return svc.FetchKeys(ctx, keys)
}

type testNode struct {
	svc      *NodeServiceImpl
	store    *lsm.Store
	hints    *boltdb.HintQueue
	replicas *boltdb.ReplicaStore
	tracker  *membership.Tracker
}

type testCluster struct {
	net   *network
	nodes map[string]*testNode
}

func (c *testCluster) node(id string) *testNode {
	return c.nodes[id]
}

func testConfig(t *testing.T, policy domain.Policy) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Ring.Partitions = 4
	cfg.Ring.MerkleDepth = 1
	cfg.Ring.VNodes = 16
	cfg.Replication.Default = policy
	cfg.Replication.WriteTimeoutMs = 1000
	cfg.Replication.ReadTimeoutMs = 1000
	cfg.Replication.RPCTimeoutMs = 1000
	cfg.Storage.DataDir = t.TempDir()
	return cfg
}

// newTestCluster starts one node per id on real disk-backed adapters. Every
// membership view already knows every node as alive.
func newTestCluster(t *testing.T, policy domain.Policy, ids ...string) *testCluster {
	t.Helper()
	c := &testCluster{net: newNetwork(), nodes: make(map[string]*testNode)}

	trackers := make(map[string]*membership.Tracker, len(ids))
	var states []membership.State
	for _, id := range ids {
		tr := membership.NewTracker(membership.State{NodeID: id, Addr: id + ":8081"}, membership.Config{})
		trackers[id] = tr
		states = append(states, tr.Self())
	}
	for _, tr := range trackers {
		tr.Merge(states)
	}

	for _, id := range ids {
		cfg := testConfig(t, policy)
		cfg.Server.NodeID = id

		store, hints, replicas := openAdapters(t, cfg)
		svc, err := NewNodeService(cfg, Deps{
			Store:    store,
			Hints:    hints,
			Replicas: replicas,
			Peers:    peerLink{net: c.net, from: id},
			Members:  trackers[id],
		})
		require.NoError(t, err)
		trackers[id].OnChange(svc.OnMembershipChange)

		c.nodes[id] = &testNode{svc: svc, store: store, hints: hints, replicas: replicas, tracker: trackers[id]}
		c.net.nodes[id] = svc
	}

	t.Cleanup(func() {
		for _, n := range c.nodes {
			n.svc.Close()
		}
	})
	return c
}

// openAdapters opens the disk-backed stores of one node; they are closed
// when the test ends.
func openAdapters(t *testing.T, cfg *config.Config) (*lsm.Store, *boltdb.HintQueue, *boltdb.ReplicaStore) {
	t.Helper()
	store, err := lsm.Open(cfg.Storage, cfg.Layout())
	require.NoError(t, err)
	hints, err := boltdb.OpenHintQueue(cfg.Storage.DataDir)
	require.NoError(t, err)
	replicas, err := boltdb.OpenReplicaStore(cfg.Storage.DataDir)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
		_ = hints.Close()
		_ = replicas.Close()
	})
	return store, hints, replicas
}

func testRecord(t *testing.T, ns, key, value, origin string, ts int64) domain.Record {
	t.Helper()
	v := version.Version{}.Bump(origin, ts)
	r, err := domain.NewRecord(domain.NewKey(ns, []byte(key)), []byte(value), v)
	require.NoError(t, err)
	return r
}

func storedValue(t *testing.T, n *testNode, key domain.Key) (domain.Record, bool) {
	t.Helper()
	r, err := n.store.Get(context.Background(), key)
	if err != nil {
		require.ErrorIs(t, err, domain.ErrKeyNotFound)
		return domain.Record{}, false
	}
	return r, true
}
