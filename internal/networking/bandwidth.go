package networking

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"voxelstrike/netcore/internal/state"
)

// DefaultBandwidthLimitBytesPerSecond caps per-client world updates at 2 Mbit/s.
const DefaultBandwidthLimitBytesPerSecond = 2_000_000.0 / 8.0

// BandwidthUsage captures the throttling state for a single client.
type BandwidthUsage struct {
	ClientID             state.EntityID
	AvailableBytes       float64
	BytesPerSecond       float64
	ObservedSeconds      float64
	DeniedDeliveries     int64
	LastUpdatedTimestamp time.Time
}

type clientBudget struct {
	limiter *rate.Limiter
	since   time.Time
	last    time.Time
	sent    int64
	denied  int64
}

// BandwidthRegulator holds a byte-denominated limiter per client. Updates over
// budget are skipped; the next tick carries a complete snapshot anyway.
type BandwidthRegulator struct {
	mu      sync.Mutex
	clients map[state.EntityID]*clientBudget
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewBandwidthRegulator allows targetBytesPerSecond per client with one
// second of burst.
func NewBandwidthRegulator(targetBytesPerSecond float64, clock func() time.Time) *BandwidthRegulator {
	if targetBytesPerSecond <= 0 {
		targetBytesPerSecond = DefaultBandwidthLimitBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	return &BandwidthRegulator{
		clients: make(map[state.EntityID]*clientBudget),
		limit:   rate.Limit(targetBytesPerSecond),
		burst:   int(math.Ceil(targetBytesPerSecond)),
		now:     clock,
	}
}

// Allow charges payloadBytes against the client's budget. A refused payload
// costs nothing.
func (r *BandwidthRegulator) Allow(clientID state.EntityID, payloadBytes int) bool {
	if r == nil || payloadBytes <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	budget := r.clients[clientID]
	if budget == nil {
		//1.- New clients start with a full burst.
		budget = &clientBudget{limiter: rate.NewLimiter(r.limit, r.burst), since: now}
		r.clients[clientID] = budget
	}
	budget.last = now
	if !budget.limiter.AllowN(now, payloadBytes) {
		budget.denied++
		return false
	}
	budget.sent += int64(payloadBytes)
	return true
}

// Forget drops the budget of a disconnected client.
func (r *BandwidthRegulator) Forget(clientID state.EntityID) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// SnapshotUsage reports the throttling state per client.
func (r *BandwidthRegulator) SnapshotUsage() map[state.EntityID]BandwidthUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) == 0 {
		return nil
	}

	now := r.now()
	snapshot := make(map[state.EntityID]BandwidthUsage, len(r.clients))
	for clientID, budget := range r.clients {
		observed := now.Sub(budget.since).Seconds()
		if observed < 0 {
			observed = 0
		}
		throughput := 0.0
		if observed > 0 {
			throughput = float64(budget.sent) / observed
		}
		snapshot[clientID] = BandwidthUsage{
			ClientID:             clientID,
			AvailableBytes:       math.Max(budget.limiter.TokensAt(now), 0),
			BytesPerSecond:       throughput,
			ObservedSeconds:      observed,
			DeniedDeliveries:     budget.denied,
			LastUpdatedTimestamp: budget.last,
		}
	}
	return snapshot
}
