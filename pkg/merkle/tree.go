package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Fanout is the number of children of every internal node.
const Fanout = 16

const (
	MaxDepth = 4

	encodingMagic   = 'M'
	encodingVersion = 1
)

var (
	ErrInvalidDepth = errors.New("merkle depth out of range")
	ErrOutOfRange   = errors.New("merkle index out of range")
	ErrCorrupt      = errors.New("merkle children do not match parent hash")
	ErrBadEncoding  = errors.New("invalid merkle encoding")
)

// Hash is a SHA-256 digest.
type Hash [sha256.Size]byte

// EmptyHash is the hash of an empty leaf and of any subtree with only empty leaves.
var EmptyHash = Hash(sha256.Sum256([]byte("merkle:empty")))

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsEmpty() bool { return h == EmptyHash }

// HashFromBytes converts a raw 32 byte digest.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != len(h) {
		return h, fmt.Errorf("%w: hash must be %d bytes, got %d", ErrBadEncoding, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// CombineHashes derives a parent hash from its children in child order.
func CombineHashes(children []Hash) Hash {
	allEmpty := true
	for _, c := range children {
		if c != EmptyHash {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return EmptyHash
	}

	h := sha256.New()
	for _, c := range children {
		h.Write(c[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Entry is one key in a leaf bucket. Digest covers value, version and tombstone.
type Entry struct {
	Key    []byte
	Digest Hash
}

// LeafHash summarizes a bucket. The result does not depend on entry order.
func LeafHash(entries []Entry) Hash {
	if len(entries) == 0 {
		return EmptyHash
	}

	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	h := sha256.New()
	var lenBuf [4]byte
	for _, e := range sorted {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Key)))
		h.Write(lenBuf[:])
		h.Write(e.Key)
		h.Write(e.Digest[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Tree implements a fixed-shape 16-ary Merkle tree.
// The tree is stored as a flattened array where:
// - Index 0 is the root.
// - Children of i: 16i + 1 ... 16i + 16
// - Parent of i: (i-1) / 16
type Tree struct {
	mu         sync.RWMutex
	nodes      []Hash
	depth      int
	numLeaves  int
	leafOffset int // Index in nodes where leaves start
}

// New creates an empty tree with 16^depth leaves.
func New(depth int) (*Tree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}

	numLeaves := 1
	for i := 0; i < depth; i++ {
		numLeaves *= Fanout
	}
	leafOffset := (numLeaves - 1) / (Fanout - 1)

	nodes := make([]Hash, leafOffset+numLeaves)
	for i := range nodes {
		nodes[i] = EmptyHash
	}

	return &Tree{
		nodes:      nodes,
		depth:      depth,
		numLeaves:  numLeaves,
		leafOffset: leafOffset,
	}, nil
}

func (t *Tree) Depth() int { return t.depth }

func (t *Tree) NumLeaves() int { return t.numLeaves }

// Size returns the total number of nodes.
func (t *Tree) Size() int { return len(t.nodes) }

// IsLeaf reports whether the node index is on the leaf level.
func (t *Tree) IsLeaf(idx int) bool { return idx >= t.leafOffset }

// LeafOf converts a node index on the leaf level to a leaf number.
func (t *Tree) LeafOf(idx int) int { return idx - t.leafOffset }

// NodeOfLeaf converts a leaf number to its node index.
func (t *Tree) NodeOfLeaf(leaf int) int { return t.leafOffset + leaf }

// SetLeaf stores a leaf hash and recomputes only the path to the root.
func (t *Tree) SetLeaf(leaf int, h Hash) error {
	if leaf < 0 || leaf >= t.numLeaves {
		return fmt.Errorf("%w: leaf %d", ErrOutOfRange, leaf)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.leafOffset + leaf
	if t.nodes[idx] == h {
		return nil
	}
	t.nodes[idx] = h

	// Propagate up to root
	for idx > 0 {
		parent := (idx - 1) / Fanout
		first := parent*Fanout + 1
		t.nodes[parent] = CombineHashes(t.nodes[first : first+Fanout])
		idx = parent
	}
	return nil
}

// Root returns the current root hash.
func (t *Tree) Root() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[0]
}

// Node returns the hash at a node index.
func (t *Tree) Node(idx int) (Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.nodes) {
		return Hash{}, fmt.Errorf("%w: node %d", ErrOutOfRange, idx)
	}
	return t.nodes[idx], nil
}

// Leaf returns the hash of a leaf bucket.
func (t *Tree) Leaf(leaf int) (Hash, error) {
	if leaf < 0 || leaf >= t.numLeaves {
		return Hash{}, fmt.Errorf("%w: leaf %d", ErrOutOfRange, leaf)
	}
	return t.Node(t.leafOffset + leaf)
}

// Children returns the 16 child hashes of an internal node.
func (t *Tree) Children(idx int) ([]Hash, error) {
	if idx < 0 || idx >= t.leafOffset {
		return nil, fmt.Errorf("%w: node %d has no children", ErrOutOfRange, idx)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	first := idx*Fanout + 1
	out := make([]Hash, Fanout)
	copy(out, t.nodes[first:first+Fanout])
	return out, nil
}

// Clone returns an independent copy of the tree.
func (t *Tree) Clone() *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Tree{
		nodes:      append([]Hash(nil), t.nodes...),
		depth:      t.depth,
		numLeaves:  t.numLeaves,
		leafOffset: t.leafOffset,
	}
}

// MarshalBinary encodes the tree as magic, format version, depth and every node hash.
func (t *Tree) MarshalBinary() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	buf := make([]byte, 0, 3+len(t.nodes)*sha256.Size)
	buf = append(buf, encodingMagic, encodingVersion, byte(t.depth))
	for _, n := range t.nodes {
		buf = append(buf, n[:]...)
	}
	return buf, nil
}

// UnmarshalBinary restores a tree from MarshalBinary output and checks
// every internal node against its children.
func (t *Tree) UnmarshalBinary(data []byte) error {
	if len(data) < 3 || data[0] != encodingMagic || data[1] != encodingVersion {
		return fmt.Errorf("%w: bad header", ErrBadEncoding)
	}
	fresh, err := New(int(data[2]))
	if err != nil {
		return err
	}
	body := data[3:]
	if len(body) != len(fresh.nodes)*sha256.Size {
		return fmt.Errorf("%w: expected %d hashes, got %d bytes", ErrBadEncoding, len(fresh.nodes), len(body))
	}
	for i := range fresh.nodes {
		copy(fresh.nodes[i][:], body[i*sha256.Size:])
	}
	for idx := 0; idx < fresh.leafOffset; idx++ {
		first := idx*Fanout + 1
		if CombineHashes(fresh.nodes[first:first+Fanout]) != fresh.nodes[idx] {
			return fmt.Errorf("%w: node %d", ErrCorrupt, idx)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = fresh.nodes
	t.depth = fresh.depth
	t.numLeaves = fresh.numLeaves
	t.leafOffset = fresh.leafOffset
	return nil
}
