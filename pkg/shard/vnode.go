package shard

import (
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

const (
	// DefaultVNodesPerNode is the default number of ring tokens per physical node.
	DefaultVNodesPerNode = 64
)

// NodeStatus is the liveness of a node as seen by the local membership view.
type NodeStatus string

const (
	NodeStatusAlive   NodeStatus = "alive"
	NodeStatusSuspect NodeStatus = "suspect"
	NodeStatusDead    NodeStatus = "dead"
)

// Rank orders statuses by severity so that equal-clock updates settle the same way everywhere.
func (s NodeStatus) Rank() int {
	switch s {
	case NodeStatusAlive:
		return 0
	case NodeStatusSuspect:
		return 1
	case NodeStatusDead:
		return 2
	default:
		return -1
	}
}

// Routable reports whether nodes with this status own ring positions.
func (s NodeStatus) Routable() bool {
	return s == NodeStatusAlive || s == NodeStatusSuspect
}

// Capability carries advisory capacity/load hints gossiped by a node.
type Capability struct {
	Capacity int64   `json:"capacity"`
	Load     float64 `json:"load"`
}

// Node represents a physical node in the cluster.
type Node struct {
	ID         string     `json:"id"`
	Addr       string     `json:"addr"`
	Status     NodeStatus `json:"status"`
	Tokens     []uint64   `json:"tokens,omitempty"`
	Capability Capability `json:"capability"`
}

func (n Node) String() string {
	return fmt.Sprintf("%s@%s[%s]", n.ID, n.Addr, n.Status)
}

// VNode is one token on the ring, pointing at a physical node.
type VNode struct {
	Token  uint64 `json:"token"`
	NodeID string `json:"node_id"`
}

// GenerateTokens derives count pseudo-random ring positions for a node.
// Positions only depend on the node ID so they survive restarts.
func GenerateTokens(nodeID string, count int) []uint64 {
	if count <= 0 {
		count = DefaultVNodesPerNode
	}
	tokens := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		tokens = append(tokens, HashKey([]byte(fmt.Sprintf("%s-%d", nodeID, i))))
	}
	return tokens
}

// HashKey maps arbitrary bytes onto the ring space.
func HashKey(data []byte) uint64 {
	return murmur3.Sum64(data)
}

// KeyToken returns the ring position of a namespaced key.
func KeyToken(namespace string, key []byte) uint64 {
	var sb strings.Builder
	sb.Grow(len(namespace) + 1 + len(key))
	sb.WriteString(namespace)
	sb.WriteByte(0)
	sb.Write(key)
	return HashKey([]byte(sb.String()))
}
