package shard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

var ErrChecksumMismatch = errors.New("ring snapshot checksum mismatch")

// Snapshot is an immutable view of the ring at one version.
// It must never be modified after NewSnapshot returns.
type Snapshot struct {
	version  uint64
	checksum string
	vnodes   []VNode // Sorted by token, one owner per token
	nodes    map[string]Node
}

// NewSnapshot builds a ring from the routable nodes in the list.
// Nodes without tokens get vnodesPerNode generated tokens.
func NewSnapshot(version uint64, nodes []Node, vnodesPerNode int) *Snapshot {
	s := &Snapshot{
		version: version,
		nodes:   make(map[string]Node, len(nodes)),
	}

	for _, n := range nodes {
		if n.Status == "" {
			n.Status = NodeStatusAlive
		}
		if !n.Status.Routable() {
			continue
		}
		if len(n.Tokens) == 0 {
			n.Tokens = GenerateTokens(n.ID, vnodesPerNode)
		} else {
			n.Tokens = append([]uint64(nil), n.Tokens...)
		}
		sort.Slice(n.Tokens, func(i, j int) bool { return n.Tokens[i] < n.Tokens[j] })
		s.nodes[n.ID] = n
		for _, token := range n.Tokens {
			s.vnodes = append(s.vnodes, VNode{Token: token, NodeID: n.ID})
		}
	}

	sort.Slice(s.vnodes, func(i, j int) bool {
		if s.vnodes[i].Token != s.vnodes[j].Token {
			return s.vnodes[i].Token < s.vnodes[j].Token
		}
		return s.vnodes[i].NodeID < s.vnodes[j].NodeID
	})

	// A token claimed twice keeps its lowest node ID.
	deduped := s.vnodes[:0]
	for i, vn := range s.vnodes {
		if i > 0 && vn.Token == s.vnodes[i-1].Token {
			continue
		}
		deduped = append(deduped, vn)
	}
	s.vnodes = deduped
	s.checksum = tokenChecksum(s.vnodes)

	return s
}

// Version returns the monotonically increasing snapshot version.
func (s *Snapshot) Version() uint64 { return s.version }

// Checksum returns the digest of the token set.
func (s *Snapshot) Checksum() string { return s.checksum }

// Len returns the number of physical nodes on the ring.
func (s *Snapshot) Len() int { return len(s.nodes) }

// Node returns a node by ID.
func (s *Snapshot) Node(id string) (Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Nodes returns all physical nodes sorted by ID.
func (s *Snapshot) Nodes() []Node {
	nodes := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// VNodes returns a copy of the sorted token list.
func (s *Snapshot) VNodes() []VNode {
	return append([]VNode(nil), s.vnodes...)
}

func tokenChecksum(vnodes []VNode) string {
	h := murmur3.New128()
	buf := make([]byte, 8)
	for _, vn := range vnodes {
		binary.BigEndian.PutUint64(buf, vn.Token)
		_, _ = h.Write(buf)
		_, _ = h.Write([]byte(vn.NodeID))
		_, _ = h.Write([]byte{0})
	}
	hi, lo := h.Sum128()
	return fmt.Sprintf("%016x%016x", hi, lo)
}

// Holder owns the current snapshot of a node and swaps it atomically.
type Holder struct {
	mu            sync.Mutex // Serializes publishers only
	current       atomic.Pointer[Snapshot]
	vnodesPerNode int
}

// NewHolder creates a holder with an empty version-0 snapshot.
func NewHolder(vnodesPerNode int) *Holder {
	if vnodesPerNode <= 0 {
		vnodesPerNode = DefaultVNodesPerNode
	}
	h := &Holder{vnodesPerNode: vnodesPerNode}
	h.current.Store(NewSnapshot(0, nil, vnodesPerNode))
	return h
}

// Current returns the latest published snapshot without locking.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// VNodesPerNode returns the token count used for nodes that gossip none.
func (h *Holder) VNodesPerNode() int {
	return h.vnodesPerNode
}

// Publish rebuilds the ring from nodes and installs it as version+1.
func (h *Holder) Publish(nodes []Node) (prev, next *Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev = h.current.Load()
	next = NewSnapshot(prev.version+1, nodes, h.vnodesPerNode)
	h.current.Store(next)
	return prev, next
}

// Export is the shareable form of a snapshot.
type Export struct {
	Version  uint64  `json:"version"`
	Checksum string  `json:"checksum"`
	Tokens   []VNode `json:"tokens"`
	Nodes    []Node  `json:"nodes"`
}

// Export returns the snapshot in transferable form.
func (s *Snapshot) Export() Export {
	nodes := s.Nodes()
	for i := range nodes {
		nodes[i].Tokens = nil
	}
	return Export{
		Version:  s.version,
		Checksum: s.checksum,
		Tokens:   s.VNodes(),
		Nodes:    nodes,
	}
}

// FromExport rebuilds a snapshot from its exported form and verifies the checksum.
func FromExport(e Export) (*Snapshot, error) {
	byID := make(map[string]*Node, len(e.Nodes))
	nodes := make([]Node, len(e.Nodes))
	for i, n := range e.Nodes {
		n.Tokens = nil
		nodes[i] = n
		byID[n.ID] = &nodes[i]
	}
	for _, vn := range e.Tokens {
		n, ok := byID[vn.NodeID]
		if !ok {
			return nil, fmt.Errorf("token %d references unknown node %s", vn.Token, vn.NodeID)
		}
		n.Tokens = append(n.Tokens, vn.Token)
	}

	snap := NewSnapshot(e.Version, nodes, DefaultVNodesPerNode)
	if snap.checksum != e.Checksum {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, e.Checksum, snap.checksum)
	}
	return snap, nil
}
