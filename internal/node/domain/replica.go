package domain

import (
	"time"

	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
)

// ReplicaState tracks how current a replica is believed to be.
type ReplicaState string

const (
	ReplicaFresh      ReplicaState = "fresh"
	ReplicaSyncing    ReplicaState = "syncing"
	ReplicaStale      ReplicaState = "stale"
	ReplicaTombstoned ReplicaState = "tombstoned"
)

// CanTransition reports whether from -> to is an allowed change.
// Tombstoned is reachable from any state; a repeated state is a no-op.
func (from ReplicaState) CanTransition(to ReplicaState) bool {
	if from == to || from == "" || to == ReplicaTombstoned {
		return true
	}
	switch from {
	case ReplicaFresh:
		return to == ReplicaStale
	case ReplicaStale:
		return to == ReplicaSyncing || to == ReplicaFresh
	case ReplicaSyncing:
		return to == ReplicaFresh || to == ReplicaStale
	case ReplicaTombstoned:
		// a newer write resurrects the key
		return to == ReplicaFresh || to == ReplicaStale
	}
	return false
}

// ReplicaRecord is what a node believes about one replica of a key or,
// when Key is nil, of a whole partition range on a peer.
type ReplicaRecord struct {
	Partition     int             `json:"partition"`
	NodeID        string          `json:"node_id"`
	Key           *Key            `json:"key,omitempty"`
	State         ReplicaState    `json:"state"`
	Version       version.Version `json:"version"`
	Digest        merkle.Hash     `json:"digest"`
	LastSyncedAt  time.Time       `json:"last_synced_at"`
	LastCheckedAt time.Time       `json:"last_checked_at"`
}
