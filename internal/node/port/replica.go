package port

import (
	"context"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
)

//go:generate mockgen -destination=../service/mocks/replica_mock.go -package=mocks -source=replica.go

// ReplicaStore persists what this node believes about its peers' replicas.
type ReplicaStore interface {
	// MarkKey records the state of one key on one replica. Invalid state
	// transitions fail with domain.ErrInvalidTransition.
	MarkKey(ctx context.Context, record domain.ReplicaRecord) error

	// MarkRange records the state of a whole partition on one replica.
	MarkRange(ctx context.Context, record domain.ReplicaRecord) error

	// Range returns the range record for (partition, node).
	Range(ctx context.Context, partition int, nodeID string) (domain.ReplicaRecord, bool, error)

	// KeyState returns the key record for (partition, node, key).
	KeyState(ctx context.Context, partition int, nodeID string, key domain.Key) (domain.ReplicaRecord, bool, error)

	// Ranges returns every range record.
	Ranges(ctx context.Context) ([]domain.ReplicaRecord, error)

	Close() error
}
