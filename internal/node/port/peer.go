package port

import (
	"context"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
)

//go:generate mockgen -destination=../service/mocks/peer_mock.go -package=mocks -source=peer.go

// PeerClient defines the calls a node makes to other replicas.
type PeerClient interface {
	// Put applies a record on the target with apply-if-newer semantics.
	Put(ctx context.Context, target shard.Node, record domain.Record) (applied bool, err error)

	// Get reads the target's local copy of a key.
	Get(ctx context.Context, target shard.Node, key domain.Key) (record domain.Record, found bool, err error)

	// Merkle exchange
	RootHash(ctx context.Context, target shard.Node, partition int) (merkle.Hash, error)
	ChildHashes(ctx context.Context, target shard.Node, partition int, indices []int) (map[int][]merkle.Hash, error)
	LeafKeys(ctx context.Context, target shard.Node, partition, leaf int) ([]domain.KeyDigest, merkle.Hash, error)
	FetchKeys(ctx context.Context, target shard.Node, keys []domain.Key) ([]domain.Record, error)
}
