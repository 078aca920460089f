package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_WritePrometheus(t *testing.T) {
	m := New()
	m.WritesOK.Inc()
	m.QuorumTimeouts.Add(2)
	m.BreakerTransition("node-b", "open")
	m.Gauge(`kv_hints_pending`, func() float64 { return 7 })
	ObserveSince(m.WriteLatency, time.Now())

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, `kv_writes_total{result="ok"} 1`)
	assert.Contains(t, out, `kv_quorum_timeouts_total 2`)
	assert.Contains(t, out, `kv_breaker_transitions_total{peer="node-b",to="open"} 1`)
	assert.Contains(t, out, `kv_hints_pending 7`)
}

func TestMetrics_SetsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ReadRepairs.Inc()
	assert.Equal(t, uint64(1), a.ReadRepairs.Get())
	assert.Equal(t, uint64(0), b.ReadRepairs.Get())
}
