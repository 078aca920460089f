package merkle

import (
	"fmt"
	"sort"
)

// Walk descends a local tree against a remote one a level at a time. It holds
// no remote state beyond the frontier, so an interrupted walk is simply
// restarted from the roots.
type Walk struct {
	local    *Tree
	frontier map[int]Hash // internal node index -> hash advertised by the peer
	leaves   map[int]struct{}
}

// NewWalk starts a descent from the peer's root hash.
func NewWalk(local *Tree, remoteRoot Hash) *Walk {
	w := &Walk{
		local:    local,
		frontier: make(map[int]Hash),
		leaves:   make(map[int]struct{}),
	}
	if local.Root() != remoteRoot {
		w.frontier[0] = remoteRoot
	}
	return w
}

// Pending returns the node indices whose remote children are needed next.
func (w *Walk) Pending() []int {
	out := make([]int, 0, len(w.frontier))
	for idx := range w.frontier {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Done reports whether no internal nodes remain to expand.
func (w *Walk) Done() bool { return len(w.frontier) == 0 }

// Expand consumes the peer's children for a pending node. Children that match
// locally are pruned; differing internal children join the frontier and
// differing leaves are collected. Children that do not hash to the hash the
// peer advertised for their parent yield ErrCorrupt.
func (w *Walk) Expand(idx int, remoteChildren []Hash) error {
	expected, ok := w.frontier[idx]
	if !ok {
		return fmt.Errorf("%w: node %d is not pending", ErrOutOfRange, idx)
	}
	delete(w.frontier, idx)

	if len(remoteChildren) != Fanout {
		return fmt.Errorf("%w: node %d has %d children", ErrCorrupt, idx, len(remoteChildren))
	}
	if CombineHashes(remoteChildren) != expected {
		return fmt.Errorf("%w: node %d", ErrCorrupt, idx)
	}

	localChildren, err := w.local.Children(idx)
	if err != nil {
		return err
	}
	for i, remote := range remoteChildren {
		if localChildren[i] == remote {
			continue
		}
		child := idx*Fanout + 1 + i
		if w.local.IsLeaf(child) {
			w.leaves[w.local.LeafOf(child)] = struct{}{}
		} else {
			w.frontier[child] = remote
		}
	}
	return nil
}

// Leaves returns the mismatched leaf numbers found so far, ascending.
func (w *Walk) Leaves() []int {
	out := make([]int, 0, len(w.leaves))
	for leaf := range w.leaves {
		out = append(out, leaf)
	}
	sort.Ints(out)
	return out
}

// Diff returns the leaves at which local and remote differ.
func Diff(local, remote *Tree) ([]int, error) {
	if local.Depth() != remote.Depth() {
		return nil, fmt.Errorf("depth mismatch: %d vs %d", local.Depth(), remote.Depth())
	}

	w := NewWalk(local, remote.Root())
	for !w.Done() {
		for _, idx := range w.Pending() {
			children, err := remote.Children(idx)
			if err != nil {
				return nil, err
			}
			if err := w.Expand(idx, children); err != nil {
				return nil, err
			}
		}
	}
	return w.Leaves(), nil
}
