package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	"go.etcd.io/bbolt"
)

// Layout: hints/<target>/seq/<be64 seq> -> entry, hints/<target>/keys/<encoded key> -> be64 seq
var (
	hintsBucket = []byte("hints")
	seqBucket   = []byte("seq")
	keysBucket  = []byte("keys")
)

var ErrHintNotFound = errors.New("hint not found")

type hintEntry struct {
	EnqueuedAt int64  `json:"enqueued_at"`
	Record     []byte `json:"record"`
}

// HintQueue is a durable per-target queue of writes owed to unreachable replicas.
type HintQueue struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ port.HintQueue = (*HintQueue)(nil)

// OpenHintQueue opens or creates hints.db inside dataDir.
func OpenHintQueue(dataDir string) (*HintQueue, error) {
	db, err := openDB(filepath.Join(dataDir, "hints.db"), hintsBucket)
	if err != nil {
		return nil, err
	}
	return &HintQueue{db: db, now: time.Now}, nil
}

func (q *HintQueue) Close() error {
	return q.db.Close()
}

func encodeHint(h domain.Hint) ([]byte, error) {
	return json.Marshal(hintEntry{
		EnqueuedAt: h.EnqueuedAt.UnixNano(),
		Record:     domain.EncodeRecord(h.Record),
	})
}

func decodeHint(target string, seq uint64, data []byte) (domain.Hint, error) {
	var entry hintEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.Hint{}, fmt.Errorf("failed to decode hint %d: %w", seq, err)
	}
	record, err := domain.DecodeRecord(entry.Record)
	if err != nil {
		return domain.Hint{}, fmt.Errorf("failed to decode hint %d: %w", seq, err)
	}
	return domain.Hint{
		Seq:        seq,
		Target:     target,
		Record:     record,
		EnqueuedAt: time.Unix(0, entry.EnqueuedAt),
	}, nil
}

// targetBuckets returns the seq and keys buckets of a target, or nils when
// the target has never had a hint.
func targetBuckets(tx *bbolt.Tx, target string) (seqs, keys *bbolt.Bucket) {
	t := tx.Bucket(hintsBucket).Bucket([]byte(target))
	if t == nil {
		return nil, nil
	}
	return t.Bucket(seqBucket), t.Bucket(keysBucket)
}

// Enqueue stores the hint. When the target already owes a hint for the same
// key, only the newer version is kept.
func (q *HintQueue) Enqueue(ctx context.Context, hint domain.Hint) (domain.Hint, error) {
	if hint.Target == "" {
		return domain.Hint{}, fmt.Errorf("hint without target")
	}
	if hint.EnqueuedAt.IsZero() {
		hint.EnqueuedAt = q.now()
	}

	stored := hint
	err := q.db.Update(func(tx *bbolt.Tx) error {
		t, err := tx.Bucket(hintsBucket).CreateBucketIfNotExists([]byte(hint.Target))
		if err != nil {
			return err
		}
		seqs, err := t.CreateBucketIfNotExists(seqBucket)
		if err != nil {
			return err
		}
		keys, err := t.CreateBucketIfNotExists(keysBucket)
		if err != nil {
			return err
		}

		k := hint.Record.Key.Encode()
		if prev := keys.Get(k); prev != nil {
			prevSeq := bytesToUint64(prev)
			if data := seqs.Get(prev); data != nil {
				existing, err := decodeHint(hint.Target, prevSeq, data)
				if err == nil && !version.Newer(hint.Record.Version, existing.Record.Version) {
					stored = existing
					return nil
				}
			}
			if err := seqs.Delete(prev); err != nil {
				return err
			}
		}

		seq, err := t.NextSequence()
		if err != nil {
			return err
		}
		stored.Seq = seq
		data, err := encodeHint(stored)
		if err != nil {
			return err
		}
		if err := seqs.Put(uint64ToBytes(seq), data); err != nil {
			return err
		}
		return keys.Put(k, uint64ToBytes(seq))
	})
	if err != nil {
		return domain.Hint{}, fmt.Errorf("failed to enqueue hint: %w", err)
	}
	return stored, nil
}

// Pending returns up to limit hints for target, oldest first.
func (q *HintQueue) Pending(ctx context.Context, target string, limit int) ([]domain.Hint, error) {
	var out []domain.Hint
	err := q.db.View(func(tx *bbolt.Tx) error {
		seqs, _ := targetBuckets(tx, target)
		if seqs == nil {
			return nil
		}
		c := seqs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			h, err := decodeHint(target, bytesToUint64(k), v)
			if err != nil {
				return err
			}
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

// Remove deletes exactly the hint with seq. A newer hint for the same key
// enqueued in the meantime has a different seq and survives.
func (q *HintQueue) Remove(ctx context.Context, target string, seq uint64) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		seqs, keys := targetBuckets(tx, target)
		if seqs == nil {
			return ErrHintNotFound
		}
		return removeLocked(seqs, keys, target, seq)
	})
}

func removeLocked(seqs, keys *bbolt.Bucket, target string, seq uint64) error {
	sk := uint64ToBytes(seq)
	data := seqs.Get(sk)
	if data == nil {
		return ErrHintNotFound
	}
	if h, err := decodeHint(target, seq, data); err == nil {
		k := h.Record.Key.Encode()
		if cur := keys.Get(k); cur != nil && bytesToUint64(cur) == seq {
			if err := keys.Delete(k); err != nil {
				return err
			}
		}
	}
	return seqs.Delete(sk)
}

// RemoveCovered drops the hint for key when the target already holds v and
// v is at least as new as the hinted version.
func (q *HintQueue) RemoveCovered(ctx context.Context, target string, key domain.Key, v version.Version) (int, error) {
	removed := 0
	err := q.db.Update(func(tx *bbolt.Tx) error {
		seqs, keys := targetBuckets(tx, target)
		if seqs == nil {
			return nil
		}
		cur := keys.Get(key.Encode())
		if cur == nil {
			return nil
		}
		seq := bytesToUint64(cur)
		data := seqs.Get(cur)
		if data == nil {
			return keys.Delete(key.Encode())
		}
		h, err := decodeHint(target, seq, data)
		if err != nil {
			return err
		}
		if version.Newer(h.Record.Version, v) {
			return nil
		}
		removed = 1
		return removeLocked(seqs, keys, target, seq)
	})
	return removed, err
}

// Targets lists every target that still has hints.
func (q *HintQueue) Targets(ctx context.Context) ([]domain.HintStats, error) {
	var out []domain.HintStats
	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(hintsBucket).ForEachBucket(func(name []byte) error {
			seqs, _ := targetBuckets(tx, string(name))
			if seqs == nil {
				return nil
			}
			stats := domain.HintStats{Target: string(name)}
			c := seqs.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				stats.Pending++
				var entry hintEntry
				if err := json.Unmarshal(v, &entry); err != nil {
					continue
				}
				at := time.Unix(0, entry.EnqueuedAt)
				if stats.Oldest.IsZero() || at.Before(stats.Oldest) {
					stats.Oldest = at
				}
			}
			if stats.Pending > 0 {
				out = append(out, stats)
			}
			return nil
		})
	})
	return out, err
}

// Expire deletes and returns every hint enqueued before the cutoff.
func (q *HintQueue) Expire(ctx context.Context, before time.Time) ([]domain.Hint, error) {
	var expired []domain.Hint
	err := q.db.Update(func(tx *bbolt.Tx) error {
		var targets []string
		if err := tx.Bucket(hintsBucket).ForEachBucket(func(name []byte) error {
			targets = append(targets, string(name))
			return nil
		}); err != nil {
			return err
		}

		for _, target := range targets {
			seqs, keys := targetBuckets(tx, target)
			if seqs == nil {
				continue
			}
			var victims []domain.Hint
			c := seqs.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				h, err := decodeHint(target, bytesToUint64(k), v)
				if err != nil {
					return err
				}
				if h.EnqueuedAt.Before(before) {
					victims = append(victims, h)
				}
			}
			for _, h := range victims {
				if err := removeLocked(seqs, keys, target, h.Seq); err != nil {
					return err
				}
			}
			expired = append(expired, victims...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}
