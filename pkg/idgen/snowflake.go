package idgen

import (
	"errors"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"
)

const (
	// 64-bit layout:
	// 1 bit: Unused (sign bit)
	// 41 bits: Timestamp (milliseconds since Epoch)
	// 10 bits: Node index
	// 12 bits: Sequence

	nodeBits     = 10
	sequenceBits = 12

	MaxNodeIndex = -1 ^ (-1 << nodeBits)
	maxSequence  = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits

	// Epoch is 2024-01-01 00:00:00 UTC.
	Epoch = 1704067200000
)

var (
	ErrNodeIndexTooLarge = errors.New("node index too large")
	ErrClockMovedBack    = errors.New("clock moved backwards")
)

// NodeIndex folds a string node ID into the 10-bit node field.
func NodeIndex(nodeID string) int64 {
	return int64(murmur3.Sum32([]byte(nodeID)) & MaxNodeIndex)
}

// Generator hands out time-ordered unique IDs, used for repair session IDs.
type Generator struct {
	mu       sync.Mutex
	clock    Clock
	node     int64
	lastTime int64
	sequence int64
}

// New creates a generator for a node index.
func New(node int64, clock Clock) (*Generator, error) {
	if node < 0 || node > MaxNodeIndex {
		return nil, ErrNodeIndexTooLarge
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Generator{
		clock:    clock,
		node:     node,
		lastTime: -1,
	}, nil
}

// Next generates the next ID.
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if now < g.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted, wait for next millisecond
			for now <= g.lastTime {
				now = g.clock.Now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	return ((now - Epoch) << timestampShift) | (g.node << nodeShift) | g.sequence, nil
}

// NextString returns the next ID in base 36.
func (g *Generator) NextString() (string, error) {
	id, err := g.Next()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

// Timestamp extracts the millisecond timestamp from an ID.
func Timestamp(id int64) int64 {
	return (id >> timestampShift) + Epoch
}
