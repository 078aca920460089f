package port

import (
	"context"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
)

//go:generate mockgen -destination=../service/mocks/storage_mock.go -package=mocks -source=storage.go

// RecordRepository defines the local record store of a node.
type RecordRepository interface {
	// Apply stores the record if its version is newer than the stored one.
	// Applying the same record twice is a no-op that reports applied=false.
	Apply(ctx context.Context, record domain.Record) (applied bool, err error)

	// Get returns the stored record, tombstones included, or domain.ErrKeyNotFound.
	Get(ctx context.Context, key domain.Key) (domain.Record, error)

	// LeafEntries returns the digests of every key in one Merkle leaf bucket.
	LeafEntries(ctx context.Context, partition, leaf int) ([]domain.KeyDigest, error)

	// Scan returns live records of a namespace with the given key prefix, in key order.
	Scan(ctx context.Context, namespace string, prefix []byte, limit int) ([]domain.Record, error)

	// OnApply registers a callback run after every applied record.
	OnApply(fn func(domain.Record))

	// Len returns the number of stored keys.
	Len() int

	// Compact reclaims disk space from superseded records.
	Compact() error

	Close() error
}
