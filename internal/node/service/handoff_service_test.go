package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/service/mocks"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func enqueueHints(t *testing.T, n *testNode, target string, count int) []domain.Record {
	t.Helper()
	var records []domain.Record
	for i := 0; i < count; i++ {
		r := testRecord(t, "users", fmt.Sprintf("k-%d", i), "v", "node-a", int64(100+i))
		_, err := n.hints.Enqueue(context.Background(), domain.Hint{Target: target, Record: r})
		require.NoError(t, err)
		records = append(records, r)
	}
	return records
}

// keyIs matches a domain.Record argument by key.
type keyIs domain.Key

func (m keyIs) Matches(x any) bool {
	r, ok := x.(domain.Record)
	return ok && r.Key.Equal(domain.Key(m))
}

func (m keyIs) String() string {
	return "record for " + domain.Key(m).String()
}

func TestHandoff_ReplayStopsAtFirstFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)
	ctx := context.Background()
	records := enqueueHints(t, n, "node-b", 3)

	gomock.InOrder(
		peers.EXPECT().Put(gomock.Any(), gomock.Any(), keyIs(records[0].Key)).Return(true, nil),
		peers.EXPECT().Put(gomock.Any(), gomock.Any(), keyIs(records[1].Key)).Return(false, fmt.Errorf("%w: connection refused", domain.ErrNodeUnreachable)),
	)

	assert.Equal(t, 1, n.svc.handoff.replayTarget(ctx, "node-b"))

	pending, err := n.hints.Pending(ctx, "node-b", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.True(t, pending[0].Record.Key.Equal(records[1].Key))
	assert.EqualValues(t, 1, n.svc.metrics.HintsReplayed.Get())

	// The next attempt resumes where the previous one stopped.
	peers.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).Times(2)
	assert.Equal(t, 2, n.svc.handoff.replayTarget(ctx, "node-b"))

	stats, err := n.hints.Targets(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestHandoff_RejectedHintIsDroppedAndReplayContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)
	ctx := context.Background()
	records := enqueueHints(t, n, "node-b", 3)

	gomock.InOrder(
		peers.EXPECT().Put(gomock.Any(), gomock.Any(), keyIs(records[0].Key)).Return(true, nil),
		peers.EXPECT().Put(gomock.Any(), gomock.Any(), keyIs(records[1].Key)).Return(false, domain.ErrInvalidChecksum),
		peers.EXPECT().Put(gomock.Any(), gomock.Any(), keyIs(records[2].Key)).Return(true, nil),
	)

	assert.Equal(t, 2, n.svc.handoff.replayTarget(ctx, "node-b"))
	assert.EqualValues(t, 2, n.svc.metrics.HintsReplayed.Get())
	assert.EqualValues(t, 1, n.svc.metrics.HintsRejected.Get())

	stats, err := n.hints.Targets(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)

	// The refused key is left to anti-entropy.
	meta, ok, err := n.replicas.KeyState(ctx, n.svc.layout.Partition(records[1].Key.Token()), "node-b", records[1].Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ReplicaStale, meta.State)
}

func TestHandoff_ReplayAddressesRingNode(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)
	enqueueHints(t, n, "node-b", 1)

	peers.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, target shard.Node, _ domain.Record) (bool, error) {
			assert.Equal(t, "node-b", target.ID)
			assert.Equal(t, "node-b:8081", target.Addr)
			return true, nil
		})

	n.svc.handoff.replayAll(context.Background())
}

func TestHandoff_UnknownTargetIsDeferred(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)
	enqueueHints(t, n, "node-z", 2)

	assert.Zero(t, n.svc.handoff.replayTarget(context.Background(), "node-z"))
	pending, err := n.hints.Pending(context.Background(), "node-z", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestHandoff_ExpireMarksRangeStale(t *testing.T) {
	ctrl := gomock.NewController(t)
	peers := mocks.NewMockPeerClient(ctrl)
	n := newMockedPeerNode(t, peers)
	ctx := context.Background()
	records := enqueueHints(t, n, "node-b", 2)

	n.svc.handoff.ttl = time.Millisecond
	time.Sleep(5 * time.Millisecond)
	n.svc.handoff.expire(ctx)

	stats, err := n.hints.Targets(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
	assert.EqualValues(t, 2, n.svc.metrics.HintsExpired.Get())

	for _, r := range records {
		p := n.svc.layout.Partition(r.Key.Token())
		rr, ok, err := n.replicas.Range(ctx, p, "node-b")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.ReplicaStale, rr.State)
	}
}

func TestHandoff_TriggerNeverBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	n := newMockedPeerNode(t, mocks.NewMockPeerClient(ctrl))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			n.svc.handoff.trigger("node-b")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trigger blocked")
	}
}

func TestHandoff_PendingGauge(t *testing.T) {
	ctrl := gomock.NewController(t)
	n := newMockedPeerNode(t, mocks.NewMockPeerClient(ctrl))
	enqueueHints(t, n, "node-b", 3)
	enqueueHints(t, n, "node-c", 2)

	assert.Equal(t, float64(5), n.svc.handoff.pendingGauge())
}
