package service

import (
	"context"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// handoffService replays hinted writes to targets that are reachable again.
type handoffService struct {
	core     *NodeServiceImpl
	inflight *xsync.MapOf[string, struct{}]
	wake     chan string

	interval  time.Duration
	batchSize int
	ttl       time.Duration
}

func newHandoffService(core *NodeServiceImpl) *handoffService {
	batch := core.cfg.Handoff.BatchSize
	if batch <= 0 {
		batch = 128
	}
	return &handoffService{
		core:      core,
		inflight:  xsync.NewMapOf[string, struct{}](),
		wake:      make(chan string, 64),
		interval:  config.Millis(core.cfg.Handoff.IntervalMs),
		batchSize: batch,
		ttl:       config.Millis(core.cfg.Handoff.TTLMs),
	}
}

// trigger asks the reconciler to replay target's hints now. It never blocks.
func (s *handoffService) trigger(target string) {
	select {
	case s.wake <- target:
	default:
	}
}

func (s *handoffService) run(ctx context.Context) {
	interval := s.interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case target := <-s.wake:
			go s.replayTarget(ctx, target)
		case <-ticker.C:
			s.expire(ctx)
			s.replayAll(ctx)
		}
	}
}

// replayAll replays every target the membership view considers alive.
func (s *handoffService) replayAll(ctx context.Context) {
	targets, err := s.core.hints.Targets(ctx)
	if err != nil {
		logger.Warnw("Failed to list hint targets", "error", err.Error())
		return
	}
	for _, t := range targets {
		if s.core.members.IsAlive(t.Target) {
			s.replayTarget(ctx, t.Target)
		}
	}
}

// replayTarget sends target's hints in enqueue order and stops at the first
// transient failure so ordering per target is preserved. A hint the target
// rejects outright is dropped. Only one replay per target runs at a time.
func (s *handoffService) replayTarget(ctx context.Context, target string) int {
	if _, running := s.inflight.LoadOrStore(target, struct{}{}); running {
		return 0
	}
	defer s.inflight.Delete(target)

	node, ok := s.core.ring.current().Node(target)
	if !ok {
		logger.Debugw("Hint target not on the ring, replay deferred", "target", target)
		return 0
	}

	replayed := 0
	for {
		batch, err := s.core.hints.Pending(ctx, target, s.batchSize)
		if err != nil {
			logger.Warnw("Failed to read hints", "target", target, "error", err.Error())
			return replayed
		}
		for _, h := range batch {
			err := s.deliver(ctx, node, h)
			if err == nil {
				replayed++
				continue
			}
			if retryable(err) {
				logger.Infow("Hint replay paused", "target", target, "replayed", replayed, "error", err.Error())
				return replayed
			}
			if !s.reject(ctx, h, err) {
				return replayed
			}
		}
		if len(batch) < s.batchSize {
			break
		}
	}
	if replayed > 0 {
		logger.Infow("Hints replayed", "target", target, "count", replayed)
	}
	return replayed
}

func (s *handoffService) deliver(ctx context.Context, node shard.Node, h domain.Hint) error {
	rpcCtx, cancel := context.WithTimeout(ctx, s.core.replication.rpcTimeout)
	defer cancel()

	if _, err := s.core.peers.Put(rpcCtx, node, h.Record); err != nil {
		return err
	}
	// Remove exactly this hint; a newer one for the key has another seq.
	if err := s.core.hints.Remove(ctx, h.Target, h.Seq); err != nil {
		logger.Warnw("Failed to remove delivered hint", "target", h.Target, "seq", h.Seq, "error", err.Error())
	}
	s.core.metrics.HintsReplayed.Inc()
	s.core.replication.markKey(h.Target, h.Record, ackedState(h.Record))
	return nil
}

// reject drops a hint the target will never accept and marks the key stale
// so anti-entropy settles it.
func (s *handoffService) reject(ctx context.Context, h domain.Hint, cause error) bool {
	logger.Warnw("Hint rejected by target, dropping",
		"target", h.Target,
		"seq", h.Seq,
		"key", h.Record.Key.String(),
		"error", cause.Error(),
	)
	if err := s.core.hints.Remove(ctx, h.Target, h.Seq); err != nil {
		logger.Warnw("Failed to remove rejected hint", "target", h.Target, "seq", h.Seq, "error", err.Error())
		return false
	}
	s.core.metrics.HintsRejected.Inc()
	s.core.replication.markKey(h.Target, h.Record, domain.ReplicaStale)
	return true
}

// expire drops hints older than the TTL and leaves their ranges to
// anti-entropy by marking them stale.
func (s *handoffService) expire(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	expired, err := s.core.hints.Expire(ctx, time.Now().Add(-s.ttl))
	if err != nil {
		logger.Warnw("Failed to expire hints", "error", err.Error())
		return
	}
	if len(expired) == 0 {
		return
	}

	s.core.metrics.HintsExpired.Add(len(expired))
	marked := make(map[rangeKey]struct{})
	for _, h := range expired {
		rk := rangeKey{partition: s.core.layout.Partition(h.Record.Key.Token()), peer: h.Target}
		if _, done := marked[rk]; done {
			continue
		}
		marked[rk] = struct{}{}
		err := s.core.replicas.MarkRange(ctx, domain.ReplicaRecord{
			Partition: rk.partition,
			NodeID:    rk.peer,
			State:     domain.ReplicaStale,
		})
		if err != nil {
			logger.Debugw("Range not marked stale", "partition", rk.partition, "peer", rk.peer, "error", err.Error())
		}
	}
	logger.Warnw("Expired undelivered hints", "count", len(expired), "ranges", len(marked))
}

// pendingGauge reports the total number of queued hints.
func (s *handoffService) pendingGauge() float64 {
	targets, err := s.core.hints.Targets(context.Background())
	if err != nil {
		return 0
	}
	total := 0
	for _, t := range targets {
		total += t.Pending
	}
	return float64(total)
}
