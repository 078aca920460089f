package domain

import "time"

// RingStamp identifies a ring snapshot by version and token checksum.
type RingStamp struct {
	Version  uint64 `json:"ring_version"`
	Checksum string `json:"ring_checksum"`
}

// Matches reports whether two nodes route with the same ring. Versions are
// local publish counters, so only the token checksum is compared. A zero
// stamp (external clients) matches anything.
func (s RingStamp) Matches(o RingStamp) bool {
	if s.Checksum == "" || o.Checksum == "" {
		return true
	}
	return s.Checksum == o.Checksum
}

// RepairReport summarizes one anti-entropy session.
type RepairReport struct {
	SessionID      string        `json:"session_id"`
	Partition      int           `json:"partition"`
	Peer           string        `json:"peer"`
	RootsEqual     bool          `json:"roots_equal"`
	NodesCompared  int           `json:"nodes_compared"`
	LeavesDiffered int           `json:"leaves_differed"`
	KeysPulled     int           `json:"keys_pulled"`
	KeysPushed     int           `json:"keys_pushed"`
	BytesMoved     int           `json:"bytes_moved"`
	CorruptDigests int           `json:"corrupt_digests"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}
