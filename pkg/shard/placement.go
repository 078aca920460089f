package shard

import (
	"sort"
)

// PreferenceList walks the ring clockwise from token and returns the first n
// distinct physical nodes. When n exceeds the node count every node is
// returned, still in walk order.
func (s *Snapshot) PreferenceList(token uint64, n int) []Node {
	if len(s.vnodes) == 0 || n <= 0 {
		return nil
	}
	if n > len(s.nodes) {
		n = len(s.nodes)
	}

	// Binary search start index
	idx := sort.Search(len(s.vnodes), func(i int) bool {
		return s.vnodes[i].Token >= token
	})
	if idx == len(s.vnodes) {
		idx = 0
	}

	replicas := make([]Node, 0, n)
	seen := make(map[string]struct{}, n)
	for i := 0; i < len(s.vnodes) && len(replicas) < n; i++ {
		vnode := s.vnodes[(idx+i)%len(s.vnodes)]
		if _, ok := seen[vnode.NodeID]; ok {
			continue
		}
		seen[vnode.NodeID] = struct{}{}
		replicas = append(replicas, s.nodes[vnode.NodeID])
	}
	return replicas
}

// Resolve returns the preference list of a namespaced key.
func (s *Snapshot) Resolve(namespace string, key []byte, n int) []Node {
	return s.PreferenceList(KeyToken(namespace, key), n)
}

// IsReplica reports whether nodeID is among the first n owners of token.
func (s *Snapshot) IsReplica(token uint64, nodeID string, n int) bool {
	for _, node := range s.PreferenceList(token, n) {
		if node.ID == nodeID {
			return true
		}
	}
	return false
}

// SnapshotSource hands out the snapshot routing decisions are made against.
type SnapshotSource interface {
	Current() *Snapshot
}

// Static is a SnapshotSource that always returns the same snapshot.
type Static struct {
	Snap *Snapshot
}

func (s Static) Current() *Snapshot { return s.Snap }

// Router answers placement questions against whatever snapshot is current.
// Each call pins one snapshot so the answer never mixes two ring versions.
type Router struct {
	source            SnapshotSource
	replicationFactor int
}

func NewRouter(source SnapshotSource, replicationFactor int) *Router {
	return &Router{source: source, replicationFactor: replicationFactor}
}

// Route is a resolved preference list and the ring it was computed on.
type Route struct {
	Token    uint64 `json:"token"`
	Version  uint64 `json:"ring_version"`
	Checksum string `json:"ring_checksum"`
	Replicas []Node `json:"replicas"`
}

// Resolve returns the replica set of a key.
func (r *Router) Resolve(namespace string, key []byte) Route {
	snap := r.source.Current()
	token := KeyToken(namespace, key)
	return Route{
		Token:    token,
		Version:  snap.Version(),
		Checksum: snap.Checksum(),
		Replicas: snap.PreferenceList(token, r.replicationFactor),
	}
}

// ReplicationFactor returns the configured N.
func (r *Router) ReplicationFactor() int {
	return r.replicationFactor
}

// Snapshot returns the snapshot the router currently routes against.
func (r *Router) Snapshot() *Snapshot {
	return r.source.Current()
}
