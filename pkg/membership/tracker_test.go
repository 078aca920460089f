package membership

import (
	"sync"
	"testing"
	"time"

	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(cfg Config) (*Tracker, *time.Time) {
	now := time.Unix(1000, 0)
	tr := NewTracker(State{NodeID: "self", Addr: "self:7000"}, cfg)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func status(t *testing.T, tr *Tracker, id string) shard.NodeStatus {
	t.Helper()
	s, ok := tr.Status(id)
	require.True(t, ok, "node %s unknown", id)
	return s
}

func TestTracker_MergeHighestClockWins(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	tr.Merge([]State{{NodeID: "a", Status: shard.NodeStatusAlive, Clock: 5, Reporter: "a"}})
	assert.Equal(t, shard.NodeStatusAlive, status(t, tr, "a"))

	// Stale report is ignored.
	tr.Merge([]State{{NodeID: "a", Status: shard.NodeStatusDead, Clock: 4, Reporter: "b"}})
	assert.Equal(t, shard.NodeStatusAlive, status(t, tr, "a"))

	tr.Merge([]State{{NodeID: "a", Status: shard.NodeStatusSuspect, Clock: 6, Reporter: "b"}})
	assert.Equal(t, shard.NodeStatusSuspect, status(t, tr, "a"))
}

func TestTracker_MergeTieBreak(t *testing.T) {
	tests := []struct {
		name     string
		local    State
		remote   State
		expected shard.NodeStatus
	}{
		{
			name:     "more severe status wins on equal clock",
			local:    State{NodeID: "a", Status: shard.NodeStatusAlive, Clock: 3, Reporter: "z"},
			remote:   State{NodeID: "a", Status: shard.NodeStatusSuspect, Clock: 3, Reporter: "b"},
			expected: shard.NodeStatusSuspect,
		},
		{
			name:     "less severe status loses on equal clock",
			local:    State{NodeID: "a", Status: shard.NodeStatusDead, Clock: 3, Reporter: "b"},
			remote:   State{NodeID: "a", Status: shard.NodeStatusAlive, Clock: 3, Reporter: "z"},
			expected: shard.NodeStatusDead,
		},
		{
			name:     "higher reporter wins on full tie",
			local:    State{NodeID: "a", Status: shard.NodeStatusAlive, Clock: 3, Reporter: "b", Addr: "old"},
			remote:   State{NodeID: "a", Status: shard.NodeStatusAlive, Clock: 3, Reporter: "c", Addr: "new"},
			expected: shard.NodeStatusAlive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker(Config{})
			tr.Merge([]State{tt.local})
			tr.Merge([]State{tt.remote})
			assert.Equal(t, tt.expected, status(t, tr, "a"))

			// Merging in the opposite order converges to the same view.
			other, _ := newTestTracker(Config{})
			other.Merge([]State{tt.remote})
			other.Merge([]State{tt.local})
			assert.Equal(t, tr.States(), other.States())
		})
	}
}

func TestTracker_TickDetectsFailures(t *testing.T) {
	tr, now := newTestTracker(Config{SuspectAfter: 2, DeadAfter: 4, DeadTimeout: time.Minute})

	var changes []Change
	tr.OnChange(func(nodes []shard.Node, c []Change) { changes = append(changes, c...) })

	tr.Merge([]State{{NodeID: "a", Addr: "a:7000", Status: shard.NodeStatusAlive, Clock: 1, Reporter: "a"}})
	require.Len(t, changes, 1)

	tr.Tick()
	assert.Equal(t, shard.NodeStatusAlive, status(t, tr, "a"))
	tr.Tick()
	assert.Equal(t, shard.NodeStatusSuspect, status(t, tr, "a"))

	// A fresh exchange resets the miss count and the node's own alive claim wins.
	tr.Merge([]State{{NodeID: "a", Status: shard.NodeStatusAlive, Clock: 2, Reporter: "a"}})
	assert.Equal(t, shard.NodeStatusAlive, status(t, tr, "a"))
	tr.Tick()
	assert.Equal(t, shard.NodeStatusAlive, status(t, tr, "a"))

	for i := 0; i < 4; i++ {
		tr.Tick()
	}
	assert.Equal(t, shard.NodeStatusDead, status(t, tr, "a"))

	*now = now.Add(2 * time.Minute)
	tr.Tick()
	_, ok := tr.Status("a")
	assert.False(t, ok, "dead node should be forgotten after the dead timeout")

	last := changes[len(changes)-1]
	assert.Equal(t, Change{NodeID: "a", From: shard.NodeStatusDead}, last)
}

func TestTracker_RefutesRumours(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	before := tr.Self().Clock

	tr.Merge([]State{{NodeID: "self", Status: shard.NodeStatusSuspect, Clock: before + 3, Reporter: "b"}})

	self := tr.Self()
	assert.Equal(t, shard.NodeStatusAlive, self.Status)
	assert.Equal(t, before+4, self.Clock)
}

func TestTracker_ListenersSeeRoutableNodes(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	var got []shard.Node
	tr.OnChange(func(nodes []shard.Node, _ []Change) { got = nodes })

	tr.Merge([]State{
		{NodeID: "b", Addr: "b:7000", Status: shard.NodeStatusAlive, Clock: 1, Reporter: "b", Tokens: []uint64{1, 2}},
		{NodeID: "c", Addr: "c:7000", Status: shard.NodeStatusDead, Clock: 1, Reporter: "c"},
	})

	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, []uint64{1, 2}, got[0].Tokens)
	assert.Equal(t, shard.NodeStatusDead, got[1].Status)

	snap := shard.NewSnapshot(1, got, 4)
	assert.Equal(t, 2, snap.Len())
}

func TestTracker_Leave(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	clock := tr.Self().Clock

	left := tr.Leave()
	assert.Equal(t, shard.NodeStatusDead, left.Status)
	assert.Equal(t, clock+1, left.Clock)
	assert.False(t, tr.IsAlive("self"))
}

func TestTracker_AdoptsLateTokens(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	calls := 0
	tr.OnChange(func([]shard.Node, []Change) { calls++ })

	tr.Merge([]State{{NodeID: "a", Status: shard.NodeStatusAlive, Clock: 2, Reporter: "a"}})
	tr.Merge([]State{{NodeID: "a", Status: shard.NodeStatusAlive, Clock: 2, Reporter: "a", Tokens: []uint64{7, 9}}})

	assert.Equal(t, 2, calls)
	for _, n := range tr.Nodes() {
		if n.ID == "a" {
			assert.Equal(t, []uint64{7, 9}, n.Tokens)
		}
	}
}

func TestTracker_DeliversViewsInOrder(t *testing.T) {
	tr, _ := newTestTracker(Config{SuspectAfter: 1, DeadAfter: 2})

	var (
		mu      sync.Mutex
		views   [][]shard.Node
		entered = make(chan struct{})
		release = make(chan struct{})
		once    sync.Once
	)
	tr.OnChange(func(nodes []shard.Node, _ []Change) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
		mu.Lock()
		views = append(views, nodes)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Merge([]State{{NodeID: "b", Addr: "b:7000", Status: shard.NodeStatusAlive, Clock: 1, Reporter: "b"}})
	}()
	<-entered

	// Both ticks land while the first delivery is still in the listener.
	wg.Add(2)
	go func() { defer wg.Done(); tr.Tick() }()
	require.Eventually(t, func() bool { return status(t, tr, "b") == shard.NodeStatusSuspect }, time.Second, time.Millisecond)
	go func() { defer wg.Done(); tr.Tick() }()
	require.Eventually(t, func() bool { return status(t, tr, "b") == shard.NodeStatusDead }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, views)
	last := views[len(views)-1]
	require.Len(t, last, 2)
	assert.Equal(t, "b", last[0].ID)
	assert.Equal(t, shard.NodeStatusDead, last[0].Status)
}
