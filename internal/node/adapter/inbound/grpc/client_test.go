package grpc_handler

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/boltdb"
	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/lsm"
	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/service"
	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/resilience"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	kvv1 "github.com/anthanhphan/go-replicated-kv/proto/kv/v1"
)

func TestNormalizeRPCErr(t *testing.T) {
	t.Run("grpc canceled to context canceled", func(t *testing.T) {
		err := normalizeRPCErr(context.Background(), status.Error(codes.Canceled, "canceled"))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("eof with canceled context to context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, normalizeRPCErr(ctx, io.EOF), context.Canceled)
	})

	t.Run("unavailable is unreachable", func(t *testing.T) {
		err := normalizeRPCErr(context.Background(), status.Error(codes.Unavailable, "unavailable"))
		assert.ErrorIs(t, err, domain.ErrNodeUnreachable)
	})

	t.Run("deadline is unreachable", func(t *testing.T) {
		err := normalizeRPCErr(context.Background(), status.Error(codes.DeadlineExceeded, "slow"))
		assert.ErrorIs(t, err, domain.ErrNodeUnreachable)
	})

	t.Run("data loss is a corrupt digest", func(t *testing.T) {
		err := normalizeRPCErr(context.Background(), status.Error(codes.DataLoss, "bad"))
		assert.ErrorIs(t, err, domain.ErrCorruptDigest)
		assert.NotErrorIs(t, err, domain.ErrNodeUnreachable)
	})

	t.Run("out of range and not replica", func(t *testing.T) {
		assert.ErrorIs(t, normalizeRPCErr(context.Background(), status.Error(codes.OutOfRange, "x")), merkle.ErrOutOfRange)
		assert.ErrorIs(t, normalizeRPCErr(context.Background(), status.Error(codes.FailedPrecondition, "x")), domain.ErrNotReplica)
	})

	t.Run("plain errors pass through", func(t *testing.T) {
		in := errors.New("boom")
		assert.Equal(t, in, normalizeRPCErr(context.Background(), in))
		assert.NoError(t, normalizeRPCErr(context.Background(), nil))
	})
}

type stampRecorder struct {
	mu    sync.Mutex
	local domain.RingStamp
	seen  map[string]domain.RingStamp
}

func (r *stampRecorder) RingStamp() domain.RingStamp { return r.local }

func (r *stampRecorder) ObserveRingStamp(peer string, stamp domain.RingStamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[peer] = stamp
}

func (r *stampRecorder) observed(peer string) domain.RingStamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[peer]
}

// startPeer serves one real node over an in-memory listener.
func startPeer(t *testing.T) (*service.NodeServiceImpl, *bufconn.Listener) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.NodeID = "node-b"
	cfg.Ring.Partitions = 4
	cfg.Ring.MerkleDepth = 1
	cfg.Ring.VNodes = 8
	cfg.Replication.Default = domain.Policy{N: 1, W: 1, R: 1}
	cfg.Storage.DataDir = t.TempDir()

	store, err := lsm.Open(cfg.Storage, cfg.Layout())
	require.NoError(t, err)
	hints, err := boltdb.OpenHintQueue(cfg.Storage.DataDir)
	require.NoError(t, err)
	replicas, err := boltdb.OpenReplicaStore(cfg.Storage.DataDir)
	require.NoError(t, err)

	tracker := membership.NewTracker(membership.State{NodeID: "node-b", Addr: "bufnet"}, membership.Config{})
	svc, err := service.NewNodeService(cfg, service.Deps{
		Store:    store,
		Hints:    hints,
		Replicas: replicas,
		Peers:    NewClientAdapter(ClientConfig{NodeID: "node-b"}),
		Members:  tracker,
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	kvv1.RegisterPeerServiceServer(srv, NewServer(svc))
	go func() { _ = srv.Serve(lis) }()

	t.Cleanup(func() {
		srv.Stop()
		svc.Close()
		_ = store.Close()
		_ = hints.Close()
		_ = replicas.Close()
	})
	return svc, lis
}

func dialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func newRecord(t *testing.T, key, value string, ts int64) domain.Record {
	t.Helper()
	r, err := domain.NewRecord(domain.NewKey("maps", []byte(key)), []byte(value), version.Version{}.Bump("node-a", ts))
	require.NoError(t, err)
	return r
}

func TestClient_PeerRoundTrip(t *testing.T) {
	svc, lis := startPeer(t)
	ctx := context.Background()

	ring := &stampRecorder{seen: make(map[string]domain.RingStamp)}
	client := NewClientAdapter(ClientConfig{
		NodeID:      "node-a",
		Timeout:     2 * time.Second,
		DialOptions: []grpc.DialOption{dialer(lis), grpc.WithTransportCredentials(insecure.NewCredentials())},
	})
	client.SetRingSource(ring)
	defer func() { _ = client.Close() }()
	target := shard.Node{ID: "node-b", Addr: "passthrough:///bufnet"}

	rec := newRecord(t, "flood_map", "v1", 1_000)
	applied, err := client.Put(ctx, target, rec)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, svc.RingStamp(), ring.observed("node-b"))

	applied, err = client.Put(ctx, target, rec)
	require.NoError(t, err)
	assert.False(t, applied, "the same version applies once")

	got, found, err := client.Get(ctx, target, rec.Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Value, got.Value)
	assert.Equal(t, version.Equal, version.Compare(rec.Version, got.Version))

	_, found, err = client.Get(ctx, target, domain.NewKey("maps", []byte("missing")))
	require.NoError(t, err)
	assert.False(t, found)

	layout := shard.MustLayout(4, 1)
	partition := layout.Partition(rec.Key.Token())

	root, err := client.RootHash(ctx, target, partition)
	require.NoError(t, err)
	localRoot, err := svc.RootHash(ctx, "", domain.RingStamp{}, partition)
	require.NoError(t, err)
	assert.Equal(t, localRoot, root)

	children, err := client.ChildHashes(ctx, target, partition, []int{0})
	require.NoError(t, err)
	require.Len(t, children[0], merkle.Fanout)
	assert.Equal(t, root, merkle.CombineHashes(children[0]))

	digests, leafHash, err := client.LeafKeys(ctx, target, partition, layout.Leaf(rec.Key.Token()))
	require.NoError(t, err)
	require.Len(t, digests, 1)
	assert.True(t, digests[0].Key.Equal(rec.Key))
	assert.Equal(t, rec.Digest(), digests[0].Digest)
	assert.False(t, leafHash.IsEmpty())

	records, err := client.FetchKeys(ctx, target, []domain.Key{rec.Key, domain.NewKey("maps", []byte("missing"))})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.Value, records[0].Value)
}

func TestClient_RejectionsDoNotTripTheBreaker(t *testing.T) {
	_, lis := startPeer(t)
	ctx := context.Background()

	client := NewClientAdapter(ClientConfig{
		NodeID:      "node-a",
		Timeout:     2 * time.Second,
		Breaker:     resilience.CircuitBreakerConfig{FailureThreshold: 1},
		DialOptions: []grpc.DialOption{dialer(lis), grpc.WithTransportCredentials(insecure.NewCredentials())},
	})
	defer func() { _ = client.Close() }()
	target := shard.Node{ID: "node-b", Addr: "passthrough:///bufnet"}

	for i := 0; i < 3; i++ {
		_, err := client.RootHash(ctx, target, 99)
		require.ErrorIs(t, err, merkle.ErrOutOfRange)
		assert.NotErrorIs(t, err, domain.ErrNodeUnreachable)
	}

	corrupt := newRecord(t, "k", "v", 1)
	corrupt.Checksum++
	_, err := client.Put(ctx, target, corrupt)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.RootHash(ctx, target, 0)
	assert.NoError(t, err)
}

func TestClient_UnreachablePeerOpensBreaker(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())

	client := NewClientAdapter(ClientConfig{
		NodeID:  "node-a",
		Timeout: time.Second,
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute},
		DialOptions: []grpc.DialOption{
			dialer(lis),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	defer func() { _ = client.Close() }()
	target := shard.Node{ID: "node-c", Addr: "passthrough:///down"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := client.Get(ctx, target, domain.NewKey("maps", []byte("k")))
		require.ErrorIs(t, err, domain.ErrNodeUnreachable)
	}

	_, _, err := client.Get(ctx, target, domain.NewKey("maps", []byte("k")))
	assert.ErrorIs(t, err, domain.ErrNodeUnreachable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
