package domain

import "time"

// Hint is a write a coordinator owes to a replica that did not acknowledge it.
type Hint struct {
	Seq        uint64    `json:"seq"`
	Target     string    `json:"target"`
	Record     Record    `json:"record"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// HintStats summarizes the queue for one target.
type HintStats struct {
	Target  string    `json:"target"`
	Pending int       `json:"pending"`
	Oldest  time.Time `json:"oldest"`
}
