package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	"go.etcd.io/bbolt"
)

// Layout: replicas/<be64 partition>/<node>/{_range, k:<encoded key>} -> json ReplicaRecord
var (
	replicasBucket = []byte("replicas")
	rangeKey       = []byte("_range")
	keyPrefix      = []byte("k:")
)

// ReplicaStore persists per-replica freshness so it survives restarts.
type ReplicaStore struct {
	db *bbolt.DB
}

var _ port.ReplicaStore = (*ReplicaStore)(nil)

// OpenReplicaStore opens or creates replicas.db inside dataDir.
func OpenReplicaStore(dataDir string) (*ReplicaStore, error) {
	db, err := openDB(filepath.Join(dataDir, "replicas.db"), replicasBucket)
	if err != nil {
		return nil, err
	}
	return &ReplicaStore{db: db}, nil
}

func (s *ReplicaStore) Close() error {
	return s.db.Close()
}

func nodeBucket(tx *bbolt.Tx, partition int, nodeID string, create bool) (*bbolt.Bucket, error) {
	root := tx.Bucket(replicasBucket)
	pk := uint64ToBytes(uint64(partition)) // #nosec G115
	if !create {
		p := root.Bucket(pk)
		if p == nil {
			return nil, nil
		}
		return p.Bucket([]byte(nodeID)), nil
	}
	p, err := root.CreateBucketIfNotExists(pk)
	if err != nil {
		return nil, err
	}
	return p.CreateBucketIfNotExists([]byte(nodeID))
}

func recordKey(key *domain.Key) []byte {
	if key == nil {
		return rangeKey
	}
	return append(append([]byte(nil), keyPrefix...), key.Encode()...)
}

// put stores rec unless the transition from the stored state is invalid.
// Records older than the stored version are ignored.
func put(tx *bbolt.Tx, rec domain.ReplicaRecord) error {
	b, err := nodeBucket(tx, rec.Partition, rec.NodeID, true)
	if err != nil {
		return err
	}
	k := recordKey(rec.Key)

	if data := b.Get(k); data != nil {
		var existing domain.ReplicaRecord
		if err := json.Unmarshal(data, &existing); err == nil {
			if rec.Key != nil && version.Newer(existing.Version, rec.Version) {
				return nil
			}
			if !existing.State.CanTransition(rec.State) {
				return fmt.Errorf("%w: %s -> %s for %s on partition %d", domain.ErrInvalidTransition,
					existing.State, rec.State, rec.NodeID, rec.Partition)
			}
			if rec.LastSyncedAt.IsZero() {
				rec.LastSyncedAt = existing.LastSyncedAt
			}
			if rec.LastCheckedAt.IsZero() {
				rec.LastCheckedAt = existing.LastCheckedAt
			}
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(k, data)
}

// MarkKey records the state of one key. Calls from concurrent writes are
// coalesced into shared transactions.
func (s *ReplicaStore) MarkKey(ctx context.Context, rec domain.ReplicaRecord) error {
	if rec.Key == nil {
		return fmt.Errorf("key record without key")
	}
	return s.db.Batch(func(tx *bbolt.Tx) error {
		return put(tx, rec)
	})
}

// MarkRange records the state of a partition range on one node.
func (s *ReplicaStore) MarkRange(ctx context.Context, rec domain.ReplicaRecord) error {
	rec.Key = nil
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, rec)
	})
}

func (s *ReplicaStore) get(partition int, nodeID string, key *domain.Key) (domain.ReplicaRecord, bool, error) {
	var (
		rec   domain.ReplicaRecord
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := nodeBucket(tx, partition, nodeID, false)
		if err != nil || b == nil {
			return err
		}
		data := b.Get(recordKey(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

func (s *ReplicaStore) Range(ctx context.Context, partition int, nodeID string) (domain.ReplicaRecord, bool, error) {
	return s.get(partition, nodeID, nil)
}

func (s *ReplicaStore) KeyState(ctx context.Context, partition int, nodeID string, key domain.Key) (domain.ReplicaRecord, bool, error) {
	return s.get(partition, nodeID, &key)
}

// Ranges returns every range record, ordered by partition then node.
func (s *ReplicaStore) Ranges(ctx context.Context) ([]domain.ReplicaRecord, error) {
	var out []domain.ReplicaRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(replicasBucket)
		return root.ForEachBucket(func(pk []byte) error {
			p := root.Bucket(pk)
			return p.ForEachBucket(func(node []byte) error {
				data := p.Bucket(node).Get(rangeKey)
				if data == nil {
					return nil
				}
				var rec domain.ReplicaRecord
				if err := json.Unmarshal(data, &rec); err != nil {
					return fmt.Errorf("failed to decode range %x/%s: %w", pk, node, err)
				}
				out = append(out, rec)
				return nil
			})
		})
	})
	return out, err
}
