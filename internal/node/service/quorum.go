package service

// ackResult is the outcome of one replica send.
type ackResult struct {
	node string
	err  error
}

// quorumTracker counts distinct acknowledgments for one coordinated write.
// It decides as soon as the outcome is certain: success at required acks,
// failure once the outstanding sends cannot reach required any more.
type quorumTracker struct {
	required int
	total    int
	acked    map[string]struct{}
	failed   map[string]error
}

func newQuorumTracker(required, total int) *quorumTracker {
	return &quorumTracker{
		required: required,
		total:    total,
		acked:    make(map[string]struct{}, total),
		failed:   make(map[string]error),
	}
}

// record folds in one result and reports whether the outcome is decided.
// Repeated results from the same node count once.
func (q *quorumTracker) record(res ackResult) bool {
	if _, seen := q.acked[res.node]; seen {
		return q.decided()
	}
	if _, seen := q.failed[res.node]; seen {
		return q.decided()
	}
	if res.err != nil {
		q.failed[res.node] = res.err
	} else {
		q.acked[res.node] = struct{}{}
	}
	return q.decided()
}

func (q *quorumTracker) reached() bool {
	return len(q.acked) >= q.required
}

// impossible reports whether more than total-required sends failed.
func (q *quorumTracker) impossible() bool {
	return len(q.failed) > q.total-q.required
}

func (q *quorumTracker) decided() bool {
	return q.reached() || q.impossible()
}

func (q *quorumTracker) ackCount() int {
	return len(q.acked)
}

// failures returns a copy of the per-node errors seen so far.
func (q *quorumTracker) failures() map[string]error {
	out := make(map[string]error, len(q.failed))
	for k, v := range q.failed {
		out[k] = v
	}
	return out
}
