package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecordTransactionAndOccupancy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordTransaction("GET", OutcomeCacheHit, 5*time.Millisecond)
	m.SetCacheOccupancy(2048, 3)
	m.RecordEviction()
	m.RecordBytesRelayed(512)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one metric family registered")
	}
}

func TestIncrementDecrementConnections(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementConnections()
	m.IncrementConnections()
	m.DecrementConnections()

	// No direct accessor is exposed; this exercises the calls without
	// panicking, matching the teacher's style of testing through
	// behavior rather than internal state for gauge-only instruments.
}
