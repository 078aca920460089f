package service

import (
	"context"
	"sort"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// antiEntropyService picks (partition, peer) ranges and hands them to the
// repair executor at a rate-limited pace.
type antiEntropyService struct {
	core        *NodeServiceImpl
	limiter     *rate.Limiter
	lastChecked *xsync.MapOf[rangeKey, time.Time]

	interval      time.Duration
	maxStaleness  time.Duration
	loadThreshold float64
	now           func() time.Time
}

type repairCandidate struct {
	rangeKey
	peer        shard.Node
	stale       bool
	lastChecked time.Time
}

func newAntiEntropyService(core *NodeServiceImpl) *antiEntropyService {
	ae := core.cfg.AntiEntropy
	return &antiEntropyService{
		core:          core,
		limiter:       rate.NewLimiter(rate.Limit(ae.SessionsPerSecond), max(ae.Burst, 1)),
		lastChecked:   xsync.NewMapOf[rangeKey, time.Time](),
		interval:      config.Millis(ae.IntervalMs),
		maxStaleness:  config.Millis(ae.MaxStalenessMs),
		loadThreshold: ae.LoadThreshold,
		now:           time.Now,
	}
}

func (s *antiEntropyService) run(ctx context.Context) {
	interval := s.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs as many sessions as the limiter admits, most urgent first.
func (s *antiEntropyService) tick(ctx context.Context) int {
	ran := 0
	for _, c := range s.candidates(ctx) {
		if ctx.Err() != nil {
			break
		}
		if s.busy(c) {
			s.core.metrics.RepairSkipped.Inc()
			logger.Debugw("Repair deferred, partition busy", "partition", c.partition, "peer", c.peer.ID)
			continue
		}
		if !s.limiter.AllowN(s.now(), 1) {
			break
		}
		_, _ = s.core.repair.session(ctx, c.partition, c.peer)
		s.lastChecked.Store(c.rangeKey, s.now())
		ran++
	}
	return ran
}

// busy reports whether a range should wait for foreground load to drop.
// Ranges unchecked for longer than the staleness bound are never deferred.
func (s *antiEntropyService) busy(c repairCandidate) bool {
	if s.loadThreshold <= 0 || s.core.load.rate(c.partition) <= s.loadThreshold {
		return false
	}
	if c.lastChecked.IsZero() {
		return false
	}
	return s.maxStaleness <= 0 || s.now().Sub(c.lastChecked) < s.maxStaleness
}

// candidates lists every range this node shares with an alive peer: stale
// ranges first, then least recently checked.
func (s *antiEntropyService) candidates(ctx context.Context) []repairCandidate {
	known := make(map[rangeKey]domain.ReplicaRecord)
	ranges, err := s.core.replicas.Ranges(ctx)
	if err != nil {
		logger.Warnw("Failed to load replica ranges", "error", err.Error())
	}
	for _, r := range ranges {
		known[rangeKey{partition: r.Partition, peer: r.NodeID}] = r
	}

	snap := s.core.ring.current()
	n := s.core.policies.MaxN()
	var out []repairCandidate
	for p := 0; p < s.core.layout.Partitions(); p++ {
		replicas := snap.PartitionReplicas(s.core.layout, p, n)
		if !containsNode(replicas, s.core.nodeID) {
			continue
		}
		for _, peer := range replicas {
			if peer.ID == s.core.nodeID || !s.core.members.IsAlive(peer.ID) {
				continue
			}
			key := rangeKey{partition: p, peer: peer.ID}
			c := repairCandidate{rangeKey: key, peer: peer}
			if meta, ok := known[key]; ok {
				c.stale = meta.State == domain.ReplicaStale || meta.State == domain.ReplicaSyncing
				c.lastChecked = meta.LastCheckedAt
			}
			if t, ok := s.lastChecked.Load(key); ok && t.After(c.lastChecked) {
				c.lastChecked = t
			}
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].stale != out[j].stale {
			return out[i].stale
		}
		return out[i].lastChecked.Before(out[j].lastChecked)
	})
	return out
}

func containsNode(nodes []shard.Node, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
