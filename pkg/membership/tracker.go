package membership

import (
	"sort"
	"sync"
	"time"

	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
)

const (
	DefaultSuspectAfter = 3
	DefaultDeadAfter    = 6
	DefaultDeadTimeout  = 5 * time.Minute
)

// State is the gossiped view of one node.
type State struct {
	NodeID     string           `json:"node_id"`
	Addr       string           `json:"addr"`
	Status     shard.NodeStatus `json:"status"`
	Clock      uint64           `json:"clock"`
	Reporter   string           `json:"reporter"`
	Tokens     []uint64         `json:"tokens,omitempty"`
	Capability shard.Capability `json:"capability"`
}

// Node converts the state into a ring node.
func (s State) Node() shard.Node {
	return shard.Node{
		ID:         s.NodeID,
		Addr:       s.Addr,
		Status:     s.Status,
		Tokens:     append([]uint64(nil), s.Tokens...),
		Capability: s.Capability,
	}
}

// supersedes reports whether a must replace b in the local view.
func supersedes(a, b State) bool {
	if a.Clock != b.Clock {
		return a.Clock > b.Clock
	}
	if a.Status.Rank() != b.Status.Rank() {
		return a.Status.Rank() > b.Status.Rank()
	}
	return a.Reporter > b.Reporter
}

// Change describes a status transition. To is empty when the node was removed.
type Change struct {
	NodeID string
	From   shard.NodeStatus
	To     shard.NodeStatus
}

// Listener receives the full member list after every batch of changes.
type Listener func(nodes []shard.Node, changes []Change)

type Config struct {
	SuspectAfter int           // Missed exchanges before suspect
	DeadAfter    int           // Missed exchanges before dead
	DeadTimeout  time.Duration // How long a dead node is remembered
}

func (c Config) withDefaults() Config {
	if c.SuspectAfter <= 0 {
		c.SuspectAfter = DefaultSuspectAfter
	}
	if c.DeadAfter <= c.SuspectAfter {
		c.DeadAfter = c.SuspectAfter * 2
	}
	if c.DeadTimeout <= 0 {
		c.DeadTimeout = DefaultDeadTimeout
	}
	return c
}

type member struct {
	state     State
	seenClock uint64 // Clock at the previous tick
	misses    int
	deadSince time.Time
}

// Tracker merges gossiped states and runs the miss-count failure detector.
type Tracker struct {
	mu        sync.Mutex
	self      string
	cfg       Config
	members   map[string]*member
	listeners []Listener
	pending   []Change
	now       func() time.Time

	// notifyMu orders deliveries; a view is captured only while holding it.
	notifyMu sync.Mutex
}

// NewTracker creates a tracker seeded with the local node as alive.
func NewTracker(self State, cfg Config) *Tracker {
	self.Status = shard.NodeStatusAlive
	self.Reporter = self.NodeID
	if self.Clock == 0 {
		self.Clock = 1
	}
	return &Tracker{
		self:    self.NodeID,
		cfg:     cfg.withDefaults(),
		members: map[string]*member{self.NodeID: {state: self, seenClock: self.Clock}},
		now:     time.Now,
	}
}

// OnChange registers a listener. Listeners run outside the tracker lock, one
// delivery at a time, and never see an older view after a newer one. They
// must not call Merge or Tick.
func (t *Tracker) OnChange(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Self returns the local node's state.
func (t *Tracker) Self() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.members[t.self].state
}

// SetCapability publishes new capacity/load hints for the local node.
func (t *Tracker) SetCapability(c shard.Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	self := t.members[t.self]
	self.state.Capability = c
	self.state.Clock++
}

// SetAddr changes the advertised RPC address of the local node.
func (t *Tracker) SetAddr(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	self := t.members[t.self]
	if self.state.Addr == addr {
		return
	}
	self.state.Addr = addr
	self.state.Clock++
}

// Merge folds remote states into the local view.
func (t *Tracker) Merge(states []State) {
	t.mu.Lock()
	var changes []Change
	for _, remote := range states {
		if remote.NodeID == "" {
			continue
		}
		if remote.NodeID == t.self {
			t.refuteLocked(remote)
			continue
		}

		local, ok := t.members[remote.NodeID]
		if !ok {
			m := &member{state: remote, seenClock: remote.Clock}
			if remote.Status == shard.NodeStatusDead {
				m.deadSince = t.now()
			}
			t.members[remote.NodeID] = m
			changes = append(changes, Change{NodeID: remote.NodeID, To: remote.Status})
			continue
		}
		if !supersedes(remote, local.state) {
			// Tokens learned late (a node first seen through node meta).
			if len(local.state.Tokens) == 0 && len(remote.Tokens) > 0 {
				local.state.Tokens = append([]uint64(nil), remote.Tokens...)
				changes = append(changes, Change{NodeID: remote.NodeID, From: local.state.Status, To: local.state.Status})
			}
			continue
		}

		from := local.state.Status
		if remote.Clock > local.state.Clock {
			local.misses = 0
			local.seenClock = remote.Clock
		}
		if len(remote.Tokens) == 0 {
			remote.Tokens = local.state.Tokens
		}
		local.state = remote
		if from != remote.Status {
			if remote.Status == shard.NodeStatusDead {
				local.deadSince = t.now()
			}
			changes = append(changes, Change{NodeID: remote.NodeID, From: from, To: remote.Status})
		}
	}
	t.notifyAndUnlock(changes)
}

// refuteLocked overrides rumours that the local node is suspect or dead by
// moving its own clock past them.
func (t *Tracker) refuteLocked(remote State) {
	self := t.members[t.self]
	if remote.Status == shard.NodeStatusAlive || self.state.Status != shard.NodeStatusAlive {
		return
	}
	if remote.Clock >= self.state.Clock {
		self.state.Clock = remote.Clock + 1
	}
}

// Tick advances the local clock and ages peers that did not advance theirs.
func (t *Tracker) Tick() {
	t.mu.Lock()
	now := t.now()
	var changes []Change

	self := t.members[t.self]
	self.state.Clock++
	self.seenClock = self.state.Clock

	for id, m := range t.members {
		if id == t.self {
			continue
		}
		if m.state.Clock > m.seenClock {
			m.seenClock = m.state.Clock
			m.misses = 0
			continue
		}

		m.misses++
		from := m.state.Status
		switch {
		case from == shard.NodeStatusDead:
			if now.Sub(m.deadSince) > t.cfg.DeadTimeout {
				delete(t.members, id)
				changes = append(changes, Change{NodeID: id, From: from})
			}
			continue
		case m.misses >= t.cfg.DeadAfter:
			m.state.Status = shard.NodeStatusDead
			m.deadSince = now
		case m.misses >= t.cfg.SuspectAfter && from == shard.NodeStatusAlive:
			m.state.Status = shard.NodeStatusSuspect
		default:
			continue
		}
		m.state.Reporter = t.self
		changes = append(changes, Change{NodeID: id, From: from, To: m.state.Status})
	}
	t.notifyAndUnlock(changes)
}

// Leave marks the local node dead so peers drop it without waiting for misses.
func (t *Tracker) Leave() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	self := t.members[t.self]
	self.state.Status = shard.NodeStatusDead
	self.state.Clock++
	return self.state
}

// States returns every known state, local node included, sorted by node ID.
func (t *Tracker) States() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statesLocked()
}

func (t *Tracker) statesLocked() []State {
	out := make([]State, 0, len(t.members))
	for _, m := range t.members {
		s := m.state
		s.Tokens = append([]uint64(nil), s.Tokens...)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Nodes returns every known node as a ring node, dead ones included.
func (t *Tracker) Nodes() []shard.Node {
	states := t.States()
	nodes := make([]shard.Node, len(states))
	for i, s := range states {
		nodes[i] = s.Node()
	}
	return nodes
}

// Status returns the current status of a node.
func (t *Tracker) Status(nodeID string) (shard.NodeStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.members[nodeID]
	if !ok {
		return "", false
	}
	return m.state.Status, true
}

// IsAlive reports whether a node is currently considered alive.
func (t *Tracker) IsAlive(nodeID string) bool {
	status, ok := t.Status(nodeID)
	return ok && status == shard.NodeStatusAlive
}

func (t *Tracker) notifyAndUnlock(changes []Change) {
	t.pending = append(t.pending, changes...)
	t.mu.Unlock()
	if len(changes) == 0 {
		return
	}

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	// A later caller may already have delivered these changes with its view.
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	changes = t.pending
	t.pending = nil
	states := t.statesLocked()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	nodes := make([]shard.Node, len(states))
	for i, s := range states {
		nodes[i] = s.Node()
	}
	for _, l := range listeners {
		l(nodes, changes)
	}
}
