// Package networking accounts for outbound world-update traffic per client.
package networking

import (
	"sync"

	"voxelstrike/netcore/internal/state"
)

// SnapshotMetrics tracks encoded world-update sizes and delivery failures.
type SnapshotMetrics struct {
	mu         sync.RWMutex
	bytes      map[state.EntityID]int64
	rawBytes   int64
	wireBytes  int64
	dropped    map[state.EntityID]int64
	throttled  map[state.EntityID]int64
	deliveries int64
}

// NewSnapshotMetrics constructs an empty metrics tracker.
func NewSnapshotMetrics() *SnapshotMetrics {
	return &SnapshotMetrics{
		bytes:     make(map[state.EntityID]int64),
		dropped:   make(map[state.EntityID]int64),
		throttled: make(map[state.EntityID]int64),
	}
}

// Observe records a delivered update of wireBytes encoded from rawBytes.
func (m *SnapshotMetrics) Observe(client state.EntityID, rawBytes, wireBytes int) {
	if m == nil {
		return
	}
	if rawBytes < wireBytes {
		rawBytes = wireBytes
	}
	m.mu.Lock()
	//1.- The per-client gauge holds the latest size; totals feed the savings ratio.
	m.bytes[client] = int64(wireBytes)
	m.rawBytes += int64(rawBytes)
	m.wireBytes += int64(wireBytes)
	m.deliveries++
	m.mu.Unlock()
}

// Dropped counts an update the transport refused.
func (m *SnapshotMetrics) Dropped(client state.EntityID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.dropped[client]++
	m.mu.Unlock()
}

// Throttled counts an update skipped by the bandwidth budget.
func (m *SnapshotMetrics) Throttled(client state.EntityID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.throttled[client]++
	m.mu.Unlock()
}

// ForgetClient removes the tracked gauges for a disconnected client.
func (m *SnapshotMetrics) ForgetClient(client state.EntityID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.bytes, client)
	delete(m.dropped, client)
	delete(m.throttled, client)
	m.mu.Unlock()
}

// BytesPerClient returns a copy of the latest encoded update size per client.
func (m *SnapshotMetrics) BytesPerClient() map[state.EntityID]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyCounts(m.bytes)
}

// DropCounts returns refused updates per client.
func (m *SnapshotMetrics) DropCounts() map[state.EntityID]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyCounts(m.dropped)
}

// ThrottleCounts returns budget-skipped updates per client.
func (m *SnapshotMetrics) ThrottleCounts() map[state.EntityID]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyCounts(m.throttled)
}

// CompressionSavings is the fraction of raw bytes removed by compression.
func (m *SnapshotMetrics) CompressionSavings() float64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rawBytes == 0 {
		return 0
	}
	return 1 - float64(m.wireBytes)/float64(m.rawBytes)
}

// Deliveries counts observed updates.
func (m *SnapshotMetrics) Deliveries() int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deliveries
}

func copyCounts(in map[state.EntityID]int64) map[state.EntityID]int64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[state.EntityID]int64, len(in))
	for id, n := range in {
		out[id] = n
	}
	return out
}
