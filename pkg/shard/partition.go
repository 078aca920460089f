package shard

import (
	"fmt"
	"math/bits"
	"sort"
)

const (
	DefaultPartitions  = 64
	DefaultMerkleDepth = 2
	maxPartitionBits   = 16
	maxMerkleDepth     = 4
)

// Layout divides the token space into a fixed number of partitions and each
// partition into 16^depth leaf buckets. The layout is independent of the
// ring so leaf indices stay stable across membership changes.
type Layout struct {
	partitionBits uint
	leafBits      uint
}

// NewLayout validates partitions (a power of two) and depth.
func NewLayout(partitions, merkleDepth int) (Layout, error) {
	if partitions <= 0 || partitions&(partitions-1) != 0 {
		return Layout{}, fmt.Errorf("partitions must be a power of two, got %d", partitions)
	}
	pb := uint(bits.TrailingZeros(uint(partitions)))
	if pb > maxPartitionBits {
		return Layout{}, fmt.Errorf("partitions must not exceed %d, got %d", 1<<maxPartitionBits, partitions)
	}
	if merkleDepth < 1 || merkleDepth > maxMerkleDepth {
		return Layout{}, fmt.Errorf("merkle depth must be within [1, %d], got %d", maxMerkleDepth, merkleDepth)
	}
	return Layout{partitionBits: pb, leafBits: uint(4 * merkleDepth)}, nil
}

// MustLayout is NewLayout for constants known to be valid.
func MustLayout(partitions, merkleDepth int) Layout {
	l, err := NewLayout(partitions, merkleDepth)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Layout) Partitions() int { return 1 << l.partitionBits }

func (l Layout) Depth() int { return int(l.leafBits / 4) }

func (l Layout) LeavesPerPartition() int { return 1 << l.leafBits }

// Partition returns the partition owning token.
func (l Layout) Partition(token uint64) int {
	return int(token >> (64 - l.partitionBits))
}

// Leaf returns the leaf bucket of token inside its partition.
func (l Layout) Leaf(token uint64) int {
	return int((token << l.partitionBits) >> (64 - l.leafBits))
}

// Bounds returns the inclusive token range of partition p.
func (l Layout) Bounds(p int) (start, end uint64) {
	size := uint64(1) << (64 - l.partitionBits) // wraps to 0 for a single partition
	start = uint64(p) << (64 - l.partitionBits)
	end = start + size - 1
	return start, end
}

// PartitionReplicas returns every node that holds at least one key range
// inside partition p, in first-seen walk order.
func (s *Snapshot) PartitionReplicas(l Layout, p int, n int) []Node {
	if len(s.vnodes) == 0 {
		return nil
	}
	start, end := l.Bounds(p)

	var replicas []Node
	seen := make(map[string]struct{})
	add := func(nodes []Node) {
		for _, node := range nodes {
			if _, ok := seen[node.ID]; ok {
				continue
			}
			seen[node.ID] = struct{}{}
			replicas = append(replicas, node)
		}
	}

	add(s.PreferenceList(start, n))
	idx := sort.Search(len(s.vnodes), func(i int) bool {
		return s.vnodes[i].Token >= start
	})
	for ; idx < len(s.vnodes) && s.vnodes[idx].Token < end; idx++ {
		add(s.PreferenceList(s.vnodes[idx].Token+1, n))
		if len(replicas) == len(s.nodes) {
			break
		}
	}
	return replicas
}

// IsPartitionReplica reports whether nodeID holds some range of partition p.
func (s *Snapshot) IsPartitionReplica(l Layout, p int, nodeID string, n int) bool {
	for _, node := range s.PartitionReplicas(l, p, n) {
		if node.ID == nodeID {
			return true
		}
	}
	return false
}
