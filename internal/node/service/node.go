package service

import (
	"context"
	"errors"
	"sync"

	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/metrics"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/pkg/idgen"
	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/resilience"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
)

// Deps are the adapters a node service runs on.
type Deps struct {
	Store    port.RecordRepository
	Hints    port.HintQueue
	Replicas port.ReplicaStore
	Peers    port.PeerClient
	Members  port.MembershipView

	// Optional
	Publisher port.RingPublisher
	Metrics   *metrics.Metrics
	IDClock   idgen.Clock
}

// NodeServiceImpl is a facade that composes the node's use-case services.
type NodeServiceImpl struct {
	cfg      *config.Config
	nodeID   string
	layout   shard.Layout
	policies domain.PolicySet

	store     port.RecordRepository
	hints     port.HintQueue
	replicas  port.ReplicaStore
	peers     port.PeerClient
	members   port.MembershipView
	publisher port.RingPublisher
	metrics   *metrics.Metrics

	clock      *version.Clock
	ids        *idgen.Generator
	readRepair *resilience.WorkerPool

	ring        *ringService
	replication *replicationService
	handoff     *handoffService
	merkle      *merkleService
	repair      *repairService
	antiEntropy *antiEntropyService
	load        *loadMeter
	peerOps     *peerService
}

// Ensure NodeServiceImpl implements port.NodeService.
var _ port.NodeService = (*NodeServiceImpl)(nil)

// NewNodeService builds the node facade and all use-case services, and
// publishes the first ring from the current membership view.
func NewNodeService(cfg *config.Config, deps Deps) (*NodeServiceImpl, error) {
	if deps.Store == nil || deps.Hints == nil || deps.Replicas == nil || deps.Peers == nil || deps.Members == nil {
		return nil, errors.New("node service: missing dependency")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.IDClock == nil {
		deps.IDClock = idgen.SystemClock{}
	}

	nodeID := deps.Members.Self().NodeID
	ids, err := idgen.New(idgen.NodeIndex(nodeID), deps.IDClock)
	if err != nil {
		return nil, err
	}

	svc := &NodeServiceImpl{
		cfg:       cfg,
		nodeID:    nodeID,
		layout:    cfg.Layout(),
		policies:  cfg.Policies(),
		store:     deps.Store,
		hints:     deps.Hints,
		replicas:  deps.Replicas,
		peers:     deps.Peers,
		members:   deps.Members,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     version.NewClock(),
		ids:       ids,
		readRepair: resilience.NewWorkerPool(
			cfg.Replication.ReadRepairWorkers,
			cfg.Replication.ReadRepairQueue,
		),
	}

	svc.load = newLoadMeter(svc)
	svc.ring = newRingService(svc)
	svc.merkle = newMerkleService(svc)
	svc.replication = newReplicationService(svc)
	svc.handoff = newHandoffService(svc)
	svc.repair = newRepairService(svc)
	svc.antiEntropy = newAntiEntropyService(svc)
	svc.peerOps = newPeerService(svc)

	svc.store.OnApply(svc.merkle.markDirty)
	svc.metrics.Gauge(`kv_hints_pending`, svc.handoff.pendingGauge)
	svc.metrics.Gauge(`kv_ring_version`, func() float64 { return float64(svc.ring.current().Version()) })
	svc.metrics.Gauge(`kv_stored_keys`, func() float64 { return float64(svc.store.Len()) })

	svc.ring.rebuild(nodesOf(deps.Members.States()), nil)
	return svc, nil
}

func nodesOf(states []membership.State) []shard.Node {
	nodes := make([]shard.Node, len(states))
	for i, s := range states {
		nodes[i] = s.Node()
	}
	return nodes
}

// Run drives the background workers until ctx is done.
func (s *NodeServiceImpl) Run(ctx context.Context) {
	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	start(s.handoff.run)
	start(s.merkle.run)
	start(s.load.run)
	if s.cfg.AntiEntropy.Enabled {
		start(s.antiEntropy.run)
	}
	wg.Wait()
}

// Close stops the read-repair workers after queued repairs finish.
func (s *NodeServiceImpl) Close() {
	s.readRepair.Close()
	s.readRepair.Wait()
}

// OnMembershipChange is registered as a membership listener.
func (s *NodeServiceImpl) OnMembershipChange(nodes []shard.Node, changes []membership.Change) {
	s.ring.onChange(nodes, changes)
}

// ObserveRingStamp compares a stamp seen on a peer response with the local ring.
func (s *NodeServiceImpl) ObserveRingStamp(peer string, stamp domain.RingStamp) {
	s.ring.checkStamp(peer, stamp)
}

// Metrics returns the node's metric set.
func (s *NodeServiceImpl) Metrics() *metrics.Metrics {
	return s.metrics
}

// Put writes value through the replication controller.
func (s *NodeServiceImpl) Put(ctx context.Context, key domain.Key, value []byte, base *version.Version) (version.Version, error) {
	return s.replication.put(ctx, key, value, base)
}

// Get reads key with the namespace read quorum.
func (s *NodeServiceImpl) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	return s.replication.get(ctx, key)
}

// Delete writes a tombstone through the replication controller.
func (s *NodeServiceImpl) Delete(ctx context.Context, key domain.Key, base *version.Version) (version.Version, error) {
	return s.replication.delete(ctx, key, base)
}

// Scan lists live local records with a key prefix.
func (s *NodeServiceImpl) Scan(ctx context.Context, namespace string, prefix []byte, limit int) ([]domain.Record, error) {
	return s.store.Scan(ctx, namespace, prefix, limit)
}

// ApplyReplica stores a record sent by a coordinator, repair or handoff.
func (s *NodeServiceImpl) ApplyReplica(ctx context.Context, sender string, stamp domain.RingStamp, record domain.Record) (bool, error) {
	return s.peerOps.applyReplica(ctx, sender, stamp, record)
}

// ReadReplica returns the local copy of key for a coordinator.
func (s *NodeServiceImpl) ReadReplica(ctx context.Context, sender string, stamp domain.RingStamp, key domain.Key) (domain.Record, bool, error) {
	return s.peerOps.readReplica(ctx, sender, stamp, key)
}

// RootHash returns the root of the local tree for a partition.
func (s *NodeServiceImpl) RootHash(ctx context.Context, sender string, stamp domain.RingStamp, partition int) (merkle.Hash, error) {
	s.ring.checkStamp(sender, stamp)
	return s.merkle.rootHash(ctx, partition)
}

// ChildHashes returns the children of the requested tree nodes.
func (s *NodeServiceImpl) ChildHashes(ctx context.Context, partition int, indices []int) (map[int][]merkle.Hash, error) {
	return s.merkle.childHashes(ctx, partition, indices)
}

// LeafKeys lists the key digests of one leaf bucket and their leaf hash.
func (s *NodeServiceImpl) LeafKeys(ctx context.Context, partition, leaf int) ([]domain.KeyDigest, merkle.Hash, error) {
	return s.merkle.leafKeys(ctx, partition, leaf)
}

// FetchKeys returns the stored records of keys, tombstones included.
func (s *NodeServiceImpl) FetchKeys(ctx context.Context, keys []domain.Key) ([]domain.Record, error) {
	return s.peerOps.fetchKeys(ctx, keys)
}

func (s *NodeServiceImpl) RingStamp() domain.RingStamp {
	return s.ring.stamp()
}

func (s *NodeServiceImpl) Ring() *shard.Snapshot {
	return s.ring.current()
}

// Resolve returns the preference list of key under its namespace policy.
func (s *NodeServiceImpl) Resolve(key domain.Key) shard.Route {
	return s.ring.route(key, s.policies.For(key.Namespace).N)
}

func (s *NodeServiceImpl) Members() []membership.State {
	return s.members.States()
}

// Hints returns pending hint counts per target.
func (s *NodeServiceImpl) Hints(ctx context.Context) ([]domain.HintStats, error) {
	return s.hints.Targets(ctx)
}

// RepairPartition runs one repair session per peer replica of partition.
func (s *NodeServiceImpl) RepairPartition(ctx context.Context, partition int) ([]domain.RepairReport, error) {
	return s.repair.repairPartition(ctx, partition)
}
