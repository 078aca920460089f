package domain

import (
	"fmt"
	"sort"

	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	kvv1 "github.com/anthanhphan/go-replicated-kv/proto/kv/v1"
)

// Records are persisted with the same wire form the peers exchange.

func VersionToProto(v version.Version) *kvv1.Version {
	pv := &kvv1.Version{Timestamp: v.Timestamp, Origin: v.Origin}
	origins := make([]string, 0, len(v.Vector))
	for origin := range v.Vector {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	for _, origin := range origins {
		pv.Vector = append(pv.Vector, &kvv1.VectorEntry{Origin: origin, Counter: v.Vector[origin]})
	}
	return pv
}

func VersionFromProto(pv *kvv1.Version) version.Version {
	if pv == nil {
		return version.Version{}
	}
	v := version.Version{Timestamp: pv.Timestamp, Origin: pv.Origin}
	if len(pv.Vector) > 0 {
		v.Vector = make(version.Vector, len(pv.Vector))
		for _, e := range pv.Vector {
			v.Vector[e.Origin] = e.Counter
		}
	}
	return v
}

func RecordToProto(r Record) *kvv1.Record {
	return &kvv1.Record{
		Namespace: r.Key.Namespace,
		Key:       r.Key.Key,
		Value:     r.Value,
		Tombstone: r.Tombstone,
		Checksum:  r.Checksum,
		Version:   VersionToProto(r.Version),
	}
}

func RecordFromProto(pr *kvv1.Record) (Record, error) {
	if pr == nil {
		return Record{}, fmt.Errorf("missing record")
	}
	r := Record{
		Key:       Key{Namespace: pr.Namespace, Key: pr.Key},
		Value:     pr.Value,
		Tombstone: pr.Tombstone,
		Checksum:  pr.Checksum,
		Version:   VersionFromProto(pr.Version),
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

func KeyDigestToProto(d KeyDigest) *kvv1.KeyDigest {
	return &kvv1.KeyDigest{
		Namespace: d.Key.Namespace,
		Key:       d.Key.Key,
		Version:   VersionToProto(d.Version),
		Digest:    d.Digest[:],
		Tombstone: d.Tombstone,
	}
}

func KeyDigestFromProto(pd *kvv1.KeyDigest) (KeyDigest, error) {
	digest, err := merkle.HashFromBytes(pd.Digest)
	if err != nil {
		return KeyDigest{}, fmt.Errorf("%w: %v", ErrCorruptDigest, err)
	}
	return KeyDigest{
		Key:       Key{Namespace: pd.Namespace, Key: pd.Key},
		Version:   VersionFromProto(pd.Version),
		Digest:    digest,
		Tombstone: pd.Tombstone,
	}, nil
}

// EncodeRecord returns the storage form of r.
func EncodeRecord(r Record) []byte {
	return RecordToProto(r).MarshalWire()
}

// DecodeRecord parses and validates the storage form of a record.
func DecodeRecord(b []byte) (Record, error) {
	pr := &kvv1.Record{}
	if err := pr.UnmarshalWire(b); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return RecordFromProto(pr)
}
