package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrQuorumTimeout        = errors.New("quorum not reached")
	ErrNodeUnreachable      = errors.New("node unreachable")
	ErrRingVersionMismatch  = errors.New("ring version mismatch")
	ErrVersionConflict      = errors.New("version conflict")
	ErrRepairSessionFailure = errors.New("repair session failed")
	ErrCorruptDigest        = errors.New("corrupt merkle digest")
	ErrKeyNotFound          = errors.New("key not found")
	ErrInvalidPolicy        = errors.New("invalid consistency policy")
	ErrInvalidChecksum      = errors.New("value checksum mismatch")
	ErrNoReplicas           = errors.New("no replicas available")
	ErrNotReplica           = errors.New("node is not a replica of the partition")
	ErrInvalidTransition    = errors.New("invalid replica state transition")
)

// QuorumError reports a write or read that gathered fewer acks than needed.
type QuorumError struct {
	Op       string
	Key      Key
	Required int
	Acked    int
	Failed   map[string]error
}

func (e *QuorumError) Error() string {
	var failed []string
	for node, err := range e.Failed {
		failed = append(failed, fmt.Sprintf("%s: %v", node, err))
	}
	msg := fmt.Sprintf("%s %s: quorum not reached (%d/%d acks)", e.Op, e.Key, e.Acked, e.Required)
	if len(failed) > 0 {
		msg += " [" + strings.Join(failed, "; ") + "]"
	}
	return msg
}

func (e *QuorumError) Is(target error) bool {
	return target == ErrQuorumTimeout
}

// RepairError reports an interrupted anti-entropy session.
type RepairError struct {
	SessionID string
	Partition int
	Peer      string
	Err       error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("repair session %s (partition %d, peer %s) failed: %v", e.SessionID, e.Partition, e.Peer, e.Err)
}

func (e *RepairError) Is(target error) bool {
	return target == ErrRepairSessionFailure
}

func (e *RepairError) Unwrap() error {
	return e.Err
}
