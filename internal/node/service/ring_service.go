package service

import (
	"context"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/gosdk/logger"
)

// remapSamples is how many evenly spaced tokens per partition are checked
// when estimating how much of the key space moved.
const remapSamples = 16

const publishTimeout = 2 * time.Second

// ringService owns the node's ring snapshot and rebuilds it on membership changes.
type ringService struct {
	core   *NodeServiceImpl
	holder *shard.Holder
}

func newRingService(core *NodeServiceImpl) *ringService {
	return &ringService{
		core:   core,
		holder: shard.NewHolder(core.cfg.Ring.VNodes),
	}
}

func (s *ringService) current() *shard.Snapshot {
	return s.holder.Current()
}

func (s *ringService) stamp() domain.RingStamp {
	snap := s.current()
	return domain.RingStamp{Version: snap.Version(), Checksum: snap.Checksum()}
}

func (s *ringService) replicas(key domain.Key, n int) []shard.Node {
	return s.current().PreferenceList(key.Token(), n)
}

func (s *ringService) route(key domain.Key, n int) shard.Route {
	return shard.NewRouter(s.holder, n).Resolve(key.Namespace, key.Key)
}

// onChange republishes the ring and wakes hinted handoff for nodes that came back.
func (s *ringService) onChange(nodes []shard.Node, changes []membership.Change) {
	s.rebuild(nodes, changes)

	for _, c := range changes {
		if c.To == shard.NodeStatusAlive && c.From != shard.NodeStatusAlive && c.NodeID != s.core.nodeID {
			s.core.handoff.trigger(c.NodeID)
		}
	}
}

func (s *ringService) rebuild(nodes []shard.Node, changes []membership.Change) {
	prev, next := s.holder.Publish(nodes)
	if prev.Checksum() == next.Checksum() && prev.Len() > 0 {
		return
	}

	remapped := 0
	if prev.Len() > 0 {
		remapped = s.remappedSamples(prev, next)
		s.core.metrics.RemappedKeys.Add(remapped)
	}
	logger.Infow("Ring snapshot published",
		"version", next.Version(),
		"checksum", next.Checksum(),
		"nodes", next.Len(),
		"changes", len(changes),
		"remapped_samples", remapped,
	)

	if s.core.publisher == nil {
		return
	}
	export := next.Export()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.core.publisher.PublishRing(ctx, export); err != nil {
			logger.Warnw("Failed to publish ring snapshot", "version", export.Version, "error", err.Error())
			return
		}
		s.core.metrics.RingPublished.Inc()
	}()
}

// remappedSamples counts sampled tokens whose preference list changed.
func (s *ringService) remappedSamples(prev, next *shard.Snapshot) int {
	n := s.core.policies.MaxN()
	layout := s.core.layout
	changed := 0
	for p := 0; p < layout.Partitions(); p++ {
		start, end := layout.Bounds(p)
		step := (end - start) / remapSamples
		for i := uint64(0); i < remapSamples; i++ {
			token := start + i*step
			if !sameNodes(prev.PreferenceList(token, n), next.PreferenceList(token, n)) {
				changed++
			}
		}
	}
	return changed
}

func sameNodes(a, b []shard.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// checkStamp warns when a peer routes with a different ring. Routing never
// waits for convergence.
func (s *ringService) checkStamp(peer string, remote domain.RingStamp) {
	local := s.stamp()
	if local.Matches(remote) {
		return
	}
	s.core.metrics.RingMismatch.Inc()
	logger.Warnw("Ring snapshot differs from peer",
		"peer", peer,
		"local_version", local.Version,
		"local_checksum", local.Checksum,
		"remote_version", remote.Version,
		"remote_checksum", remote.Checksum,
		"error", domain.ErrRingVersionMismatch.Error(),
	)
}
