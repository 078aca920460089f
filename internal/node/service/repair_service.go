package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	"github.com/anthanhphan/gosdk/logger"
)

// rangeKey identifies a partition range held by a peer.
type rangeKey struct {
	partition int
	peer      string
}

// repairService runs Merkle anti-entropy sessions against one peer at a time.
type repairService struct {
	core         *NodeServiceImpl
	descentBatch int
	fetchBatch   int
	rpcTimeout   time.Duration
}

func newRepairService(core *NodeServiceImpl) *repairService {
	descent := core.cfg.AntiEntropy.DescentBatch
	if descent <= 0 {
		descent = 64
	}
	fetch := core.cfg.AntiEntropy.FetchBatch
	if fetch <= 0 {
		fetch = 128
	}
	return &repairService{
		core:         core,
		descentBatch: descent,
		fetchBatch:   fetch,
		rpcTimeout:   config.Millis(core.cfg.Replication.RPCTimeoutMs),
	}
}

// repairPartition runs a session with every other replica of partition.
func (s *repairService) repairPartition(ctx context.Context, partition int) ([]domain.RepairReport, error) {
	if err := s.core.merkle.checkPartition(partition); err != nil {
		return nil, err
	}
	snap := s.core.ring.current()
	n := s.core.policies.MaxN()
	if !snap.IsPartitionReplica(s.core.layout, partition, s.core.nodeID, n) {
		return nil, fmt.Errorf("%w: partition %d", domain.ErrNotReplica, partition)
	}

	var (
		reports []domain.RepairReport
		errs    []error
	)
	for _, peer := range snap.PartitionReplicas(s.core.layout, partition, n) {
		if peer.ID == s.core.nodeID {
			continue
		}
		report, err := s.session(ctx, partition, peer)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// session reconciles one partition with one peer. A failed session leaves the
// range stale; the next attempt starts again from the roots.
func (s *repairService) session(ctx context.Context, partition int, peer shard.Node) (domain.RepairReport, error) {
	start := time.Now()
	id, err := s.core.ids.NextString()
	if err != nil {
		id = fmt.Sprintf("%s-%d", s.core.nodeID, start.UnixNano())
	}
	report := domain.RepairReport{SessionID: id, Partition: partition, Peer: peer.ID}

	s.beginRange(ctx, partition, peer.ID)
	err = s.reconcile(ctx, partition, peer, &report)
	report.Duration = time.Since(start)
	s.core.metrics.RepairLatency.UpdateDuration(start)

	if err != nil {
		report.Error = err.Error()
		s.core.metrics.RepairFailed.Inc()
		s.endRange(partition, peer.ID, domain.ReplicaStale)
		logger.Warnw("Repair session failed",
			"session", id,
			"partition", partition,
			"peer", peer.ID,
			"error", err.Error(),
		)
		return report, &domain.RepairError{SessionID: id, Partition: partition, Peer: peer.ID, Err: err}
	}

	s.core.metrics.RepairOK.Inc()
	s.endRange(partition, peer.ID, domain.ReplicaFresh)
	if !report.RootsEqual {
		logger.Infow("Repair session finished",
			"session", id,
			"partition", partition,
			"peer", peer.ID,
			"leaves", report.LeavesDiffered,
			"pulled", report.KeysPulled,
			"pushed", report.KeysPushed,
			"bytes", report.BytesMoved,
			"duration", report.Duration.String(),
		)
	}
	return report, nil
}

func (s *repairService) beginRange(ctx context.Context, partition int, peer string) {
	current, ok, err := s.core.replicas.Range(ctx, partition, peer)
	if err != nil || (ok && current.State != domain.ReplicaStale) {
		return
	}
	_ = s.core.replicas.MarkRange(ctx, domain.ReplicaRecord{
		Partition: partition,
		NodeID:    peer,
		State:     domain.ReplicaSyncing,
	})
}

func (s *repairService) endRange(partition int, peer string, state domain.ReplicaState) {
	now := time.Now()
	record := domain.ReplicaRecord{
		Partition:     partition,
		NodeID:        peer,
		State:         state,
		LastCheckedAt: now,
	}
	if state == domain.ReplicaFresh {
		record.LastSyncedAt = now
	}
	if err := s.core.replicas.MarkRange(context.Background(), record); err != nil {
		logger.Debugw("Range state not updated", "partition", partition, "peer", peer, "state", state, "error", err.Error())
	}
}

// maxDescents bounds how often one session restarts because the peer's
// tree moved while it was being walked.
const maxDescents = 3

// errTreeMoved means the peer's children stopped combining to the root the
// descent started from.
var errTreeMoved = errors.New("peer tree changed during descent")

func (s *repairService) reconcile(ctx context.Context, partition int, peer shard.Node, report *domain.RepairReport) error {
	var (
		local  *merkle.Tree
		leaves []int
	)
	for attempt := 1; ; attempt++ {
		var err error
		local, err = s.core.merkle.snapshot(ctx, partition)
		if err != nil {
			return err
		}
		remoteRoot, err := s.remoteRoot(ctx, partition, peer)
		if err != nil {
			return err
		}
		report.NodesCompared++
		if remoteRoot == local.Root() {
			report.RootsEqual = true
			return nil
		}

		leaves, err = s.descend(ctx, partition, peer, local, remoteRoot, report)
		if err == nil {
			break
		}
		if !errors.Is(err, errTreeMoved) {
			return err
		}

		// A write on the peer explains the mismatch only if its root moved.
		current, rerr := s.remoteRoot(ctx, partition, peer)
		if rerr != nil {
			return rerr
		}
		if current == remoteRoot {
			s.flagCorrupt(partition, peer.ID, err.Error(), report)
			return fmt.Errorf("%w: %v", domain.ErrCorruptDigest, err)
		}
		if attempt >= maxDescents {
			return fmt.Errorf("partition %d: %w %d times", partition, errTreeMoved, attempt)
		}
		logger.Debugw("Peer tree moved, restarting descent",
			"partition", partition,
			"peer", peer.ID,
			"attempt", attempt,
		)
	}
	report.LeavesDiffered = len(leaves)

	for _, leaf := range leaves {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.repairLeaf(ctx, partition, leaf, peer, local, report); err != nil {
			return err
		}
	}
	if report.CorruptDigests > 0 {
		return fmt.Errorf("%w: %d in partition %d", domain.ErrCorruptDigest, report.CorruptDigests, partition)
	}
	return nil
}

func (s *repairService) remoteRoot(ctx context.Context, partition int, peer shard.Node) (merkle.Hash, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	root, err := s.core.peers.RootHash(rpcCtx, peer, partition)
	if err != nil {
		return merkle.Hash{}, fmt.Errorf("failed to fetch root hash: %w", err)
	}
	return root, nil
}

// descend walks both trees level by level and returns the differing leaves.
func (s *repairService) descend(ctx context.Context, partition int, peer shard.Node, local *merkle.Tree, remoteRoot merkle.Hash, report *domain.RepairReport) ([]int, error) {
	walk := merkle.NewWalk(local, remoteRoot)
	for !walk.Done() {
		pending := walk.Pending()
		for len(pending) > 0 {
			batch := pending
			if len(batch) > s.descentBatch {
				batch = pending[:s.descentBatch]
			}
			pending = pending[len(batch):]

			rpcCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
			children, err := s.core.peers.ChildHashes(rpcCtx, peer, partition, batch)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("failed to fetch child hashes: %w", err)
			}

			for _, idx := range batch {
				report.NodesCompared += merkle.Fanout
				err := walk.Expand(idx, children[idx])
				if errors.Is(err, merkle.ErrCorrupt) {
					return nil, fmt.Errorf("%w: %v", errTreeMoved, err)
				}
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return walk.Leaves(), nil
}

func (s *repairService) flagCorrupt(partition int, peer, where string, report *domain.RepairReport) {
	report.CorruptDigests++
	s.core.metrics.CorruptDigests.Inc()
	logger.Errorw("Corrupt merkle digest",
		"partition", partition,
		"peer", peer,
		"at", where,
	)
}

// repairLeaf compares the key lists of one leaf and moves every key whose
// newest version lives on only one side.
func (s *repairService) repairLeaf(ctx context.Context, partition, leaf int, peer shard.Node, local *merkle.Tree, report *domain.RepairReport) error {
	rpcCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	remote, remoteHash, err := s.core.peers.LeafKeys(rpcCtx, peer, partition, leaf)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to fetch leaf %d keys: %w", leaf, err)
	}

	if digestHash(remote) != remoteHash {
		s.flagCorrupt(partition, peer.ID, fmt.Sprintf("leaf %d (remote list)", leaf), report)
		return nil
	}

	mine, myHash, err := s.core.merkle.leafKeys(ctx, partition, leaf)
	if err != nil {
		return err
	}
	if myHash == remoteHash {
		snapHash, _ := local.Leaf(leaf)
		if snapHash == myHash {
			return nil
		}
		// A local write since the snapshot explains the difference as long
		// as the live tree agrees with the store.
		current, err := s.core.merkle.leafCurrent(ctx, partition, leaf)
		if err != nil {
			return err
		}
		if !current {
			s.flagCorrupt(partition, peer.ID, fmt.Sprintf("leaf %d (local tree)", leaf), report)
			s.core.merkle.markLeaf(partition, leaf)
		}
		return nil
	}

	pull, push, conflicting := s.compare(mine, remote, peer.ID)
	if len(conflicting) > 0 {
		// Same version, different bytes: no version rule can pick a side.
		for _, key := range conflicting {
			s.flagCorrupt(partition, peer.ID, fmt.Sprintf("leaf %d key %s", leaf, key), report)
		}
		s.core.merkle.markLeaf(partition, leaf)
	}
	if err := s.pull(ctx, peer, pull, report); err != nil {
		return err
	}
	return s.push(ctx, peer, push, report)
}

func digestHash(digests []domain.KeyDigest) merkle.Hash {
	entries := make([]merkle.Entry, len(digests))
	for i, d := range digests {
		entries[i] = d.MerkleEntry()
	}
	return merkle.LeafHash(entries)
}

// compare returns the keys to fetch from the peer, the keys to send to it,
// and the keys both sides hold at the same version with different digests.
// Keys neither side should hold under the current ring are left alone.
func (s *repairService) compare(mine, remote []domain.KeyDigest, peer string) (pull, push, conflicting []domain.Key) {
	snap := s.core.ring.current()
	local := make(map[string]domain.KeyDigest, len(mine))
	for _, d := range mine {
		local[string(d.Key.Encode())] = d
	}

	for _, r := range remote {
		enc := string(r.Key.Encode())
		l, ok := local[enc]
		delete(local, enc)
		if ok && l.Digest == r.Digest {
			continue
		}
		n := s.core.policies.For(r.Key.Namespace).N
		token := r.Key.Token()
		switch {
		case !ok || version.Newer(r.Version, l.Version):
			if snap.IsReplica(token, s.core.nodeID, n) {
				pull = append(pull, r.Key)
			}
		case version.Newer(l.Version, r.Version):
			if snap.IsReplica(token, peer, n) {
				push = append(push, l.Key)
			}
		default:
			conflicting = append(conflicting, r.Key)
		}
	}

	for _, l := range local {
		if snap.IsReplica(l.Key.Token(), peer, s.core.policies.For(l.Key.Namespace).N) {
			push = append(push, l.Key)
		}
	}
	return pull, push, conflicting
}

func (s *repairService) pull(ctx context.Context, peer shard.Node, keys []domain.Key, report *domain.RepairReport) error {
	for len(keys) > 0 {
		batch := keys
		if len(batch) > s.fetchBatch {
			batch = keys[:s.fetchBatch]
		}
		keys = keys[len(batch):]

		rpcCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
		records, err := s.core.peers.FetchKeys(rpcCtx, peer, batch)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to fetch keys: %w", err)
		}

		for _, record := range records {
			if err := record.Validate(); err != nil {
				return fmt.Errorf("%w: fetched %s: %v", domain.ErrCorruptDigest, record.Key, err)
			}
			s.core.clock.Observe(record.Version.Timestamp)
			applied, err := s.core.store.Apply(ctx, record)
			if err != nil {
				return err
			}
			s.settled(ctx, peer.ID, record)
			if applied {
				report.KeysPulled++
				report.BytesMoved += record.Size()
				s.core.metrics.KeysTransferred.Inc()
				s.core.metrics.BytesTransferred.Add(record.Size())
			}
		}
	}
	return nil
}

func (s *repairService) push(ctx context.Context, peer shard.Node, keys []domain.Key, report *domain.RepairReport) error {
	for _, key := range keys {
		record, err := s.core.store.Get(ctx, key)
		if errors.Is(err, domain.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		rpcCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
		applied, err := s.core.peers.Put(rpcCtx, peer, record)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to push %s: %w", key, err)
		}
		s.settled(ctx, peer.ID, record)
		if applied {
			report.KeysPushed++
			report.BytesMoved += record.Size()
			s.core.metrics.KeysTransferred.Inc()
			s.core.metrics.BytesTransferred.Add(record.Size())
		}
	}
	return nil
}

// settled records that peer now holds record and drops hints it covers.
func (s *repairService) settled(ctx context.Context, peer string, record domain.Record) {
	if _, err := s.core.hints.RemoveCovered(ctx, peer, record.Key, record.Version); err != nil {
		logger.Debugw("Covered hints not removed", "peer", peer, "key", record.Key.String(), "error", err.Error())
	}
	s.core.replication.markKey(peer, record, ackedState(record))
}
