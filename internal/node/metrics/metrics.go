package metrics

import (
	"fmt"
	"io"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
)

// Metrics holds the counters of one node. Every node owns its own set so
// several nodes in one process do not share values.
type Metrics struct {
	set *vm.Set

	WritesOK          *vm.Counter
	WritesFailed      *vm.Counter
	Reads             *vm.Counter
	ReadsNotFound     *vm.Counter
	QuorumTimeouts    *vm.Counter
	HintsEnqueued     *vm.Counter
	HintsReplayed     *vm.Counter
	HintsExpired      *vm.Counter
	HintsRejected     *vm.Counter
	ReadRepairs       *vm.Counter
	ReadRepairDropped *vm.Counter
	RepairOK          *vm.Counter
	RepairFailed      *vm.Counter
	RepairSkipped     *vm.Counter
	KeysTransferred   *vm.Counter
	BytesTransferred  *vm.Counter
	CorruptDigests    *vm.Counter
	RingMismatch      *vm.Counter
	RingPublished     *vm.Counter
	RemappedKeys      *vm.Counter

	WriteLatency  *vm.Histogram
	ReadLatency   *vm.Histogram
	RepairLatency *vm.Histogram
}

func New() *Metrics {
	s := vm.NewSet()
	return &Metrics{
		set:               s,
		WritesOK:          s.NewCounter(`kv_writes_total{result="ok"}`),
		WritesFailed:      s.NewCounter(`kv_writes_total{result="failed"}`),
		Reads:             s.NewCounter(`kv_reads_total{result="found"}`),
		ReadsNotFound:     s.NewCounter(`kv_reads_total{result="not_found"}`),
		QuorumTimeouts:    s.NewCounter(`kv_quorum_timeouts_total`),
		HintsEnqueued:     s.NewCounter(`kv_hints_enqueued_total`),
		HintsReplayed:     s.NewCounter(`kv_hints_replayed_total`),
		HintsExpired:      s.NewCounter(`kv_hints_expired_total`),
		HintsRejected:     s.NewCounter(`kv_hints_rejected_total`),
		ReadRepairs:       s.NewCounter(`kv_read_repairs_total`),
		ReadRepairDropped: s.NewCounter(`kv_read_repairs_dropped_total`),
		RepairOK:          s.NewCounter(`kv_repair_sessions_total{result="ok"}`),
		RepairFailed:      s.NewCounter(`kv_repair_sessions_total{result="failed"}`),
		RepairSkipped:     s.NewCounter(`kv_repair_sessions_total{result="skipped"}`),
		KeysTransferred:   s.NewCounter(`kv_repair_keys_transferred_total`),
		BytesTransferred:  s.NewCounter(`kv_repair_bytes_total`),
		CorruptDigests:    s.NewCounter(`kv_corrupt_digest_total`),
		RingMismatch:      s.NewCounter(`kv_ring_version_mismatch_total`),
		RingPublished:     s.NewCounter(`kv_ring_snapshots_total`),
		RemappedKeys:      s.NewCounter(`kv_ring_remapped_keys_total`),
		WriteLatency:      s.NewHistogram(`kv_write_duration_seconds`),
		ReadLatency:       s.NewHistogram(`kv_read_duration_seconds`),
		RepairLatency:     s.NewHistogram(`kv_repair_duration_seconds`),
	}
}

// Gauge registers a gauge computed on every scrape.
func (m *Metrics) Gauge(name string, f func() float64) {
	m.set.GetOrCreateGauge(name, f)
}

// BreakerTransition counts circuit breaker state changes per peer.
func (m *Metrics) BreakerTransition(peer, to string) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`kv_breaker_transitions_total{peer=%q,to=%q}`, peer, to)).Inc()
}

// ObserveSince records the time elapsed since start.
func ObserveSince(h *vm.Histogram, start time.Time) {
	h.UpdateDuration(start)
}

// WritePrometheus writes the node's metrics followed by process metrics.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
	vm.WriteProcessMetrics(w)
}
