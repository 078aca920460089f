package service

import (
	"context"
	"errors"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	"github.com/anthanhphan/gosdk/logger"
)

// replicationService coordinates quorum writes and reads for keys.
type replicationService struct {
	core         *NodeServiceImpl
	writeTimeout time.Duration
	readTimeout  time.Duration
	rpcTimeout   time.Duration
}

func newReplicationService(core *NodeServiceImpl) *replicationService {
	return &replicationService{
		core:         core,
		writeTimeout: config.Millis(core.cfg.Replication.WriteTimeoutMs),
		readTimeout:  config.Millis(core.cfg.Replication.ReadTimeoutMs),
		rpcTimeout:   config.Millis(core.cfg.Replication.RPCTimeoutMs),
	}
}

// nextVersion derives the version of a new write from base, or from the
// locally stored version when base is nil.
func (s *replicationService) nextVersion(ctx context.Context, key domain.Key, base *version.Version) (version.Version, error) {
	var from version.Version
	if base != nil {
		from = *base
	} else {
		current, err := s.core.store.Get(ctx, key)
		switch {
		case err == nil:
			from = current.Version
		case !errors.Is(err, domain.ErrKeyNotFound):
			return version.Version{}, err
		}
	}
	return from.Bump(s.core.nodeID, s.core.clock.Next()), nil
}

func (s *replicationService) put(ctx context.Context, key domain.Key, value []byte, base *version.Version) (version.Version, error) {
	v, err := s.nextVersion(ctx, key, base)
	if err != nil {
		return version.Version{}, err
	}
	record, err := domain.NewRecord(key, value, v)
	if err != nil {
		return version.Version{}, err
	}
	if err := s.write(ctx, record); err != nil {
		return version.Version{}, err
	}
	return v, nil
}

func (s *replicationService) delete(ctx context.Context, key domain.Key, base *version.Version) (version.Version, error) {
	if err := key.Validate(); err != nil {
		return version.Version{}, err
	}
	v, err := s.nextVersion(ctx, key, base)
	if err != nil {
		return version.Version{}, err
	}
	if err := s.write(ctx, domain.NewTombstone(key, v)); err != nil {
		return version.Version{}, err
	}
	return v, nil
}

// write fans record out to the key's N replicas and returns once W of them
// acknowledged. Sends still outstanding at that point keep running on a
// detached context; each turns into a hint if its target cannot be reached.
func (s *replicationService) write(ctx context.Context, record domain.Record) error {
	start := time.Now()
	policy := s.core.policies.For(record.Key.Namespace)
	targets := s.core.ring.replicas(record.Key, policy.N)
	s.core.load.markToken(record.Key.Token())

	if len(targets) < policy.W {
		s.core.metrics.WritesFailed.Inc()
		return &domain.QuorumError{
			Op:       "write",
			Key:      record.Key,
			Required: policy.W,
			Failed:   map[string]error{"ring": domain.ErrNoReplicas},
		}
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	results := make(chan ackResult, len(targets))
	for _, target := range targets {
		go func(target shard.Node) {
			results <- ackResult{node: target.ID, err: s.sendReplica(sendCtx, target, record)}
		}(target)
	}

	tracker := newQuorumTracker(policy.W, len(targets))
	received := 0
	deadline := time.NewTimer(s.writeTimeout)
	defer deadline.Stop()

wait:
	for received < len(targets) {
		select {
		case res := <-results:
			received++
			if tracker.record(res) {
				break wait
			}
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	// The rest of the fan-out finishes in the background.
	go func(outstanding int) {
		for i := 0; i < outstanding; i++ {
			<-results
		}
		cancel()
	}(len(targets) - received)

	s.core.metrics.WriteLatency.UpdateDuration(start)
	if tracker.reached() {
		s.core.metrics.WritesOK.Inc()
		return nil
	}

	s.core.metrics.WritesFailed.Inc()
	s.core.metrics.QuorumTimeouts.Inc()
	logger.Warnw("Write quorum not reached",
		"key", record.Key.String(),
		"required", policy.W,
		"acked", tracker.ackCount(),
		"targets", len(targets),
	)
	return &domain.QuorumError{
		Op:       "write",
		Key:      record.Key,
		Required: policy.W,
		Acked:    tracker.ackCount(),
		Failed:   tracker.failures(),
	}
}

// sendReplica delivers record to one target and records the outcome in the
// replica metadata. A send that failed for lack of a reachable target becomes
// a hint; one the target refused is left to anti-entropy.
func (s *replicationService) sendReplica(ctx context.Context, target shard.Node, record domain.Record) error {
	if target.ID == s.core.nodeID {
		_, err := s.core.store.Apply(ctx, record)
		return err
	}

	_, err := s.core.peers.Put(ctx, target, record)
	if err == nil {
		s.markKey(target.ID, record, ackedState(record))
		return nil
	}
	if !retryable(err) {
		logger.Warnw("Replica rejected write", "target", target.ID, "key", record.Key.String(), "error", err.Error())
		s.markKey(target.ID, record, domain.ReplicaStale)
		return err
	}

	logger.Debugw("Replica write failed, queueing hint", "target", target.ID, "key", record.Key.String(), "error", err.Error())
	if _, herr := s.core.hints.Enqueue(context.Background(), domain.Hint{Target: target.ID, Record: record}); herr != nil {
		logger.Errorw("Failed to enqueue hint", "target", target.ID, "key", record.Key.String(), "error", herr.Error())
	} else {
		s.core.metrics.HintsEnqueued.Inc()
	}
	s.markKey(target.ID, record, domain.ReplicaStale)
	return err
}

// retryable reports whether a failed send may succeed later unchanged.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrNodeUnreachable) || errors.Is(err, context.DeadlineExceeded)
}

func ackedState(record domain.Record) domain.ReplicaState {
	if record.Tombstone {
		return domain.ReplicaTombstoned
	}
	return domain.ReplicaFresh
}

func (s *replicationService) markKey(nodeID string, record domain.Record, state domain.ReplicaState) {
	key := record.Key
	err := s.core.replicas.MarkKey(context.Background(), domain.ReplicaRecord{
		Partition:    s.core.layout.Partition(key.Token()),
		NodeID:       nodeID,
		Key:          &key,
		State:        state,
		Version:      record.Version,
		Digest:       record.Digest(),
		LastSyncedAt: syncedAt(state),
	})
	if err != nil {
		logger.Debugw("Replica metadata not updated", "node", nodeID, "key", key.String(), "state", state, "error", err.Error())
	}
}

func syncedAt(state domain.ReplicaState) time.Time {
	if state == domain.ReplicaStale {
		return time.Time{}
	}
	return time.Now()
}

type readResult struct {
	node   shard.Node
	record domain.Record
	found  bool
	err    error
}

// candidates orders the preference list for a read: the local node, then
// replicas not known to be stale for the key, then the rest.
func (s *replicationService) candidates(ctx context.Context, key domain.Key, targets []shard.Node) []shard.Node {
	partition := s.core.layout.Partition(key.Token())
	var local, fresh, lagging []shard.Node
	for _, t := range targets {
		if t.ID == s.core.nodeID {
			local = append(local, t)
			continue
		}
		meta, ok, err := s.core.replicas.KeyState(ctx, partition, t.ID, key)
		if (err == nil && ok && meta.State == domain.ReplicaStale) || t.Status != shard.NodeStatusAlive {
			lagging = append(lagging, t)
			continue
		}
		fresh = append(fresh, t)
	}
	return append(append(local, fresh...), lagging...)
}

func (s *replicationService) readOne(ctx context.Context, target shard.Node, key domain.Key) readResult {
	if target.ID == s.core.nodeID {
		record, err := s.core.store.Get(ctx, key)
		if errors.Is(err, domain.ErrKeyNotFound) {
			return readResult{node: target}
		}
		return readResult{node: target, record: record, found: err == nil, err: err}
	}
	record, found, err := s.core.peers.Get(ctx, target, key)
	return readResult{node: target, record: record, found: found, err: err}
}

// get queries R replicas, moving on to the next candidate when one fails,
// and resolves the winner with the shared version rule.
func (s *replicationService) get(ctx context.Context, key domain.Key) (domain.Record, error) {
	if err := key.Validate(); err != nil {
		return domain.Record{}, err
	}
	start := time.Now()
	defer s.core.metrics.ReadLatency.UpdateDuration(start)

	policy := s.core.policies.For(key.Namespace)
	s.core.load.markToken(key.Token())
	candidates := s.candidates(ctx, key, s.core.ring.replicas(key, policy.N))
	if len(candidates) < policy.R {
		return domain.Record{}, &domain.QuorumError{
			Op:       "read",
			Key:      key,
			Required: policy.R,
			Failed:   map[string]error{"ring": domain.ErrNoReplicas},
		}
	}

	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	results := make(chan readResult, len(candidates))
	next, inflight := 0, 0
	launch := func() {
		target := candidates[next]
		next++
		inflight++
		go func() { results <- s.readOne(readCtx, target, key) }()
	}
	for next < policy.R {
		launch()
	}

	var responses []readResult
	failed := make(map[string]error)
collect:
	for len(responses) < policy.R && inflight > 0 {
		select {
		case res := <-results:
			inflight--
			if res.err != nil {
				failed[res.node.ID] = res.err
				if next < len(candidates) {
					launch()
				}
				continue
			}
			responses = append(responses, res)
		case <-readCtx.Done():
			break collect
		}
	}

	if len(responses) < policy.R {
		s.core.metrics.QuorumTimeouts.Inc()
		return domain.Record{}, &domain.QuorumError{
			Op:       "read",
			Key:      key,
			Required: policy.R,
			Acked:    len(responses),
			Failed:   failed,
		}
	}

	winner, ok := resolve(responses)
	s.flagLostAcks(ctx, key, winner, ok, responses)
	if !ok {
		s.core.metrics.ReadsNotFound.Inc()
		return domain.Record{}, domain.ErrKeyNotFound
	}
	s.repairLagging(winner, responses)

	if winner.Tombstone {
		s.core.metrics.ReadsNotFound.Inc()
		return domain.Record{}, domain.ErrKeyNotFound
	}
	s.core.metrics.Reads.Inc()
	return winner, nil
}

// resolve picks the winning record among the found responses.
func resolve(responses []readResult) (domain.Record, bool) {
	var (
		records  []domain.Record
		versions []version.Version
	)
	for _, r := range responses {
		if r.found {
			records = append(records, r.record)
			versions = append(versions, r.record.Version)
		}
	}
	idx := version.Resolve(versions)
	if idx < 0 {
		return domain.Record{}, false
	}
	for _, v := range versions {
		if version.Compare(records[idx].Version, v) == version.Concurrent {
			logger.Debugw("Concurrent versions settled by tie-break",
				"key", records[idx].Key.String(),
				"winner", records[idx].Version.String(),
				"loser", v.String(),
				"error", domain.ErrVersionConflict.Error())
		}
	}
	return records[idx], true
}

// repairLagging schedules a background write of winner to every responder
// that returned nothing or an older version.
func (s *replicationService) repairLagging(winner domain.Record, responses []readResult) {
	for _, r := range responses {
		if r.found && !version.Newer(winner.Version, r.record.Version) {
			continue
		}
		target := r.node
		if target.ID != s.core.nodeID {
			s.markKey(target.ID, domain.Record{Key: winner.Key, Version: r.record.Version}, domain.ReplicaStale)
		}
		err := s.core.readRepair.TrySubmit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.rpcTimeout)
			defer cancel()
			if target.ID == s.core.nodeID {
				if _, err := s.core.store.Apply(ctx, winner); err != nil {
					logger.Warnw("Local read repair failed", "key", winner.Key.String(), "error", err.Error())
					return
				}
			} else if _, err := s.core.peers.Put(ctx, target, winner); err != nil {
				logger.Debugw("Read repair failed", "target", target.ID, "key", winner.Key.String(), "error", err.Error())
				return
			} else {
				s.markKey(target.ID, winner, ackedState(winner))
			}
			s.core.metrics.ReadRepairs.Inc()
		})
		if err != nil {
			s.core.metrics.ReadRepairDropped.Inc()
		}
	}
}

// flagLostAcks finds responders that answered with less than the metadata
// says they acknowledged. Those behind the winner are left to read repair;
// for the rest the read cannot supply the lost version, so the key and its
// range are marked stale for anti-entropy to settle.
func (s *replicationService) flagLostAcks(ctx context.Context, key domain.Key, winner domain.Record, found bool, responses []readResult) {
	partition := s.core.layout.Partition(key.Token())
	for _, r := range responses {
		if r.node.ID == s.core.nodeID {
			continue
		}
		if found && (!r.found || version.Newer(winner.Version, r.record.Version)) {
			continue
		}
		meta, ok, err := s.core.replicas.KeyState(ctx, partition, r.node.ID, key)
		if err != nil || !ok || meta.State == domain.ReplicaStale {
			continue
		}
		lost := version.Newer(meta.Version, r.record.Version)
		if !r.found {
			lost = meta.State == domain.ReplicaFresh && !meta.Version.IsZero()
		}
		if !lost {
			continue
		}
		logger.Warnw("Replica answered behind its acknowledged version",
			"target", r.node.ID,
			"key", key.String(),
			"acked", meta.Version.String(),
			"returned", r.record.Version.String(),
		)
		s.markKey(r.node.ID, domain.Record{Key: key, Version: meta.Version}, domain.ReplicaStale)
		if err := s.core.replicas.MarkRange(ctx, domain.ReplicaRecord{
			Partition: partition,
			NodeID:    r.node.ID,
			State:     domain.ReplicaStale,
		}); err != nil {
			logger.Debugw("Range state not updated", "partition", partition, "peer", r.node.ID, "error", err.Error())
		}
	}
}
