package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// partitionTree is the lazily built tree of one partition.
type partitionTree struct {
	mu    sync.Mutex
	tree  *merkle.Tree
	built bool
}

// merkleService keeps one tree per partition. Writes only mark leaves dirty;
// dirty leaves are rehashed by a throttled builder and before any comparison.
type merkleService struct {
	core  *NodeServiceImpl
	trees *xsync.MapOf[int, *partitionTree]
	dirty *xsync.MapOf[int, *xsync.MapOf[int, struct{}]]
}

func newMerkleService(core *NodeServiceImpl) *merkleService {
	return &merkleService{
		core:  core,
		trees: xsync.NewMapOf[int, *partitionTree](),
		dirty: xsync.NewMapOf[int, *xsync.MapOf[int, struct{}]](),
	}
}

func (s *merkleService) dirtyLeaves(partition int) *xsync.MapOf[int, struct{}] {
	leaves, _ := s.dirty.LoadOrCompute(partition, func() *xsync.MapOf[int, struct{}] {
		return xsync.NewMapOf[int, struct{}]()
	})
	return leaves
}

// markDirty runs after every applied record.
func (s *merkleService) markDirty(record domain.Record) {
	token := record.Key.Token()
	s.markLeaf(s.core.layout.Partition(token), s.core.layout.Leaf(token))
}

func (s *merkleService) markLeaf(partition, leaf int) {
	s.dirtyLeaves(partition).Store(leaf, struct{}{})
}

func (s *merkleService) checkPartition(partition int) error {
	if partition < 0 || partition >= s.core.layout.Partitions() {
		return fmt.Errorf("%w: partition %d", merkle.ErrOutOfRange, partition)
	}
	return nil
}

func (s *merkleService) leafHash(ctx context.Context, partition, leaf int) (merkle.Hash, []domain.KeyDigest, error) {
	digests, err := s.core.store.LeafEntries(ctx, partition, leaf)
	if err != nil {
		return merkle.Hash{}, nil, err
	}
	entries := make([]merkle.Entry, len(digests))
	for i, d := range digests {
		entries[i] = d.MerkleEntry()
	}
	return merkle.LeafHash(entries), digests, nil
}

// tree returns the current tree of a partition, building or refreshing it first.
func (s *merkleService) tree(ctx context.Context, partition int) (*merkle.Tree, error) {
	if err := s.checkPartition(partition); err != nil {
		return nil, err
	}
	pt, _ := s.trees.LoadOrCompute(partition, func() *partitionTree { return &partitionTree{} })

	pt.mu.Lock()
	defer pt.mu.Unlock()

	if !pt.built {
		tree, err := merkle.New(s.core.layout.Depth())
		if err != nil {
			return nil, err
		}
		// Marks set from here on are picked up by the next flush.
		s.dirtyLeaves(partition).Clear()
		for leaf := 0; leaf < tree.NumLeaves(); leaf++ {
			h, _, err := s.leafHash(ctx, partition, leaf)
			if err != nil {
				return nil, err
			}
			if err := tree.SetLeaf(leaf, h); err != nil {
				return nil, err
			}
		}
		pt.tree = tree
		pt.built = true
		return tree, nil
	}

	if _, err := s.flushLocked(ctx, partition, pt.tree, -1); err != nil {
		return nil, err
	}
	return pt.tree, nil
}

// flushLocked rehashes up to limit dirty leaves (all when limit < 0) and
// returns how many it processed.
func (s *merkleService) flushLocked(ctx context.Context, partition int, tree *merkle.Tree, limit int) (int, error) {
	leaves := s.dirtyLeaves(partition)
	var pending []int
	leaves.Range(func(leaf int, _ struct{}) bool {
		pending = append(pending, leaf)
		return limit < 0 || len(pending) < limit
	})

	for _, leaf := range pending {
		// Clear the mark before reading so a concurrent write re-marks it.
		leaves.Delete(leaf)
		h, _, err := s.leafHash(ctx, partition, leaf)
		if err != nil {
			s.markLeaf(partition, leaf)
			return 0, err
		}
		if err := tree.SetLeaf(leaf, h); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// buildTick rehashes at most budget dirty leaves across built trees.
func (s *merkleService) buildTick(ctx context.Context, budget int) int {
	done := 0
	s.trees.Range(func(partition int, pt *partitionTree) bool {
		if done >= budget {
			return false
		}
		pt.mu.Lock()
		if pt.built {
			n, err := s.flushLocked(ctx, partition, pt.tree, budget-done)
			if err != nil {
				logger.Warnw("Merkle leaf rebuild failed", "partition", partition, "error", err.Error())
			}
			done += n
		}
		pt.mu.Unlock()
		return true
	})
	return done
}

func (s *merkleService) run(ctx context.Context) {
	interval := time.Duration(s.core.cfg.AntiEntropy.BuildIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	budget := s.core.cfg.AntiEntropy.LeavesPerTick
	if budget <= 0 {
		budget = 256
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.buildTick(ctx, budget)
		}
	}
}

func (s *merkleService) rootHash(ctx context.Context, partition int) (merkle.Hash, error) {
	tree, err := s.tree(ctx, partition)
	if err != nil {
		return merkle.Hash{}, err
	}
	return tree.Root(), nil
}

// snapshot returns a copy of the partition tree that later writes do not touch.
func (s *merkleService) snapshot(ctx context.Context, partition int) (*merkle.Tree, error) {
	tree, err := s.tree(ctx, partition)
	if err != nil {
		return nil, err
	}
	return tree.Clone(), nil
}

// leafCurrent reports whether the live tree holds the hash the store yields
// for leaf. A write racing the check gets one more flush.
func (s *merkleService) leafCurrent(ctx context.Context, partition, leaf int) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		tree, err := s.tree(ctx, partition)
		if err != nil {
			return false, err
		}
		cached, err := tree.Leaf(leaf)
		if err != nil {
			return false, err
		}
		stored, _, err := s.leafHash(ctx, partition, leaf)
		if err != nil {
			return false, err
		}
		if cached == stored {
			return true, nil
		}
	}
	return false, nil
}

func (s *merkleService) childHashes(ctx context.Context, partition int, indices []int) (map[int][]merkle.Hash, error) {
	tree, err := s.tree(ctx, partition)
	if err != nil {
		return nil, err
	}
	out := make(map[int][]merkle.Hash, len(indices))
	for _, idx := range indices {
		children, err := tree.Children(idx)
		if err != nil {
			return nil, err
		}
		out[idx] = children
	}
	return out, nil
}

// leafKeys lists one bucket. The returned hash is computed from exactly the
// returned entries.
func (s *merkleService) leafKeys(ctx context.Context, partition, leaf int) ([]domain.KeyDigest, merkle.Hash, error) {
	if err := s.checkPartition(partition); err != nil {
		return nil, merkle.Hash{}, err
	}
	if leaf < 0 || leaf >= s.core.layout.LeavesPerPartition() {
		return nil, merkle.Hash{}, fmt.Errorf("%w: leaf %d", merkle.ErrOutOfRange, leaf)
	}
	h, digests, err := s.leafHash(ctx, partition, leaf)
	if err != nil {
		return nil, merkle.Hash{}, err
	}
	return digests, h, nil
}
