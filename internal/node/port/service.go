package port

import (
	"context"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
)

// NodeService defines the business logic of one store node.
type NodeService interface {
	// Coordinated operations. A nil base version means "whatever this
	// node has seen for the key".
	Put(ctx context.Context, key domain.Key, value []byte, base *version.Version) (version.Version, error)
	Get(ctx context.Context, key domain.Key) (domain.Record, error)
	Delete(ctx context.Context, key domain.Key, base *version.Version) (version.Version, error)
	Scan(ctx context.Context, namespace string, prefix []byte, limit int) ([]domain.Record, error)

	// Peer operations, called by other replicas.
	ApplyReplica(ctx context.Context, sender string, stamp domain.RingStamp, record domain.Record) (bool, error)
	ReadReplica(ctx context.Context, sender string, stamp domain.RingStamp, key domain.Key) (domain.Record, bool, error)
	RootHash(ctx context.Context, sender string, stamp domain.RingStamp, partition int) (merkle.Hash, error)
	ChildHashes(ctx context.Context, partition int, indices []int) (map[int][]merkle.Hash, error)
	LeafKeys(ctx context.Context, partition, leaf int) ([]domain.KeyDigest, merkle.Hash, error)
	FetchKeys(ctx context.Context, keys []domain.Key) ([]domain.Record, error)

	// Operator views.
	RingStamp() domain.RingStamp
	Ring() *shard.Snapshot
	Resolve(key domain.Key) shard.Route
	Members() []membership.State
	Hints(ctx context.Context) ([]domain.HintStats, error)
	RepairPartition(ctx context.Context, partition int) ([]domain.RepairReport, error)
}
