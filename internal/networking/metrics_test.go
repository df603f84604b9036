package networking

import (
	"math"
	"testing"
)

func TestSnapshotMetricsObserveAndForget(t *testing.T) {
	metrics := NewSnapshotMetrics()
	metrics.Observe(1, 400, 100)
	metrics.Observe(2, 100, 100)
	metrics.Dropped(1)
	metrics.Throttled(2)

	bytes := metrics.BytesPerClient()
	if bytes[1] != 100 || bytes[2] != 100 {
		t.Fatalf("unexpected bytes recorded: %+v", bytes)
	}
	if got := metrics.CompressionSavings(); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("expected 60%% savings, got %v", got)
	}
	if metrics.DropCounts()[1] != 1 || metrics.ThrottleCounts()[2] != 1 {
		t.Fatalf("unexpected failure counters")
	}
	if metrics.Deliveries() != 2 {
		t.Fatalf("expected two deliveries")
	}

	metrics.ForgetClient(1)
	if _, ok := metrics.BytesPerClient()[1]; ok {
		t.Fatalf("expected client removal")
	}
	if len(metrics.DropCounts()) != 0 {
		t.Fatalf("expected drop counters cleared")
	}
}

func TestNilSnapshotMetricsIsSafe(t *testing.T) {
	var metrics *SnapshotMetrics
	metrics.Observe(1, 10, 10)
	metrics.Dropped(1)
	if metrics.BytesPerClient() != nil || metrics.CompressionSavings() != 0 {
		t.Fatalf("expected nil metrics to report nothing")
	}
}
