package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"

	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
)

// Record is one stored version of a key. A tombstone has no value.
type Record struct {
	Key       Key             `json:"key"`
	Value     []byte          `json:"value,omitempty"`
	Version   version.Version `json:"version"`
	Tombstone bool            `json:"tombstone,omitempty"`
	// Checksum is the CRC32 checksum of Value.
	Checksum uint32 `json:"checksum"`
}

// NewRecord creates a live record and validates its size.
func NewRecord(key Key, value []byte, v version.Version) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, err
	}
	if len(value) > MaxValueSize {
		return Record{}, ErrValueTooLarge
	}
	return Record{
		Key:      key,
		Value:    value,
		Version:  v,
		Checksum: crc32.ChecksumIEEE(value),
	}, nil
}

// NewTombstone creates a deletion marker.
func NewTombstone(key Key, v version.Version) Record {
	return Record{Key: key, Version: v, Tombstone: true, Checksum: crc32.ChecksumIEEE(nil)}
}

// Validate checks that the value matches its checksum.
func (r Record) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if len(r.Value) > MaxValueSize {
		return ErrValueTooLarge
	}
	if crc32.ChecksumIEEE(r.Value) != r.Checksum {
		return ErrInvalidChecksum
	}
	return nil
}

// Digest summarizes value, version and tombstone for Merkle leaves.
func (r Record) Digest() merkle.Hash {
	h := sha256.New()
	if r.Tombstone {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte(r.Version.String()))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.Value))) // #nosec G115
	h.Write(lenBuf[:])
	h.Write(r.Value)

	var out merkle.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Size is the number of payload bytes a transfer of this record moves.
func (r Record) Size() int {
	return len(r.Key.Namespace) + len(r.Key.Key) + len(r.Value)
}

// KeyDigest is a leaf bucket entry as exchanged during repair.
type KeyDigest struct {
	Key       Key             `json:"key"`
	Version   version.Version `json:"version"`
	Digest    merkle.Hash     `json:"digest"`
	Tombstone bool            `json:"tombstone,omitempty"`
}

// MerkleEntry converts the digest into a leaf hash input.
func (d KeyDigest) MerkleEntry() merkle.Entry {
	return merkle.Entry{Key: d.Key.Encode(), Digest: d.Digest}
}
