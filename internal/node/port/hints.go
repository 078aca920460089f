package port

import (
	"context"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
)

//go:generate mockgen -destination=../service/mocks/hints_mock.go -package=mocks -source=hints.go

// HintQueue defines the durable per-target queue of undelivered writes.
type HintQueue interface {
	// Enqueue appends a hint and assigns its sequence number. An older hint
	// for the same key and target is replaced.
	Enqueue(ctx context.Context, hint domain.Hint) (domain.Hint, error)

	// Pending returns up to limit hints for target in enqueue order.
	Pending(ctx context.Context, target string, limit int) ([]domain.Hint, error)

	// Remove deletes exactly one hint.
	Remove(ctx context.Context, target string, seq uint64) error

	// RemoveCovered deletes hints for key whose version the target already holds.
	RemoveCovered(ctx context.Context, target string, key domain.Key, v version.Version) (int, error)

	// Targets lists every target with pending hints.
	Targets(ctx context.Context) ([]domain.HintStats, error)

	// Expire deletes and returns hints enqueued before the cutoff.
	Expire(ctx context.Context, before time.Time) ([]domain.Hint, error)

	Close() error
}
