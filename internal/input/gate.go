package input

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/state"
)

// Clock exposes the current time for rate limiting decisions.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

// Now implements Clock for functional adapters.
func (c clockFunc) Now() time.Time { return c() }

// systemClock relies on time.Now for production code paths.
type systemClock struct{}

// Now implements Clock by delegating to time.Now.
func (systemClock) Now() time.Time { return time.Now() }

const (
	// DefaultMaxSequenceGap bounds how far ahead a new sequence id may jump.
	DefaultMaxSequenceGap = 256
	// DefaultMaxGapStrikes is how many consecutive gap drops force a resync.
	DefaultMaxGapStrikes = 8
)

// Config controls the sequencing and throughput gates applied to client inputs.
type Config struct {
	MaxSequenceGap uint32
	MaxGapStrikes  int
	// Rate is the sustained number of new inputs per second a client may send.
	Rate  rate.Limit
	Burst int
}

// ConfigForTickRate derives the flood limits from the simulation rate: half
// again the tick rate with a burst of two full input buffers.
func ConfigForTickRate(tickRate int, bufferSize int) Config {
	return Config{
		MaxSequenceGap: DefaultMaxSequenceGap,
		MaxGapStrikes:  DefaultMaxGapStrikes,
		Rate:           rate.Limit(float64(tickRate) * 1.5),
		Burst:          2 * bufferSize,
	}
}

// DropReason enumerates why a frame was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonGap         DropReason = "gap"
	DropReasonRateLimited DropReason = "rate_limit"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether a frame passed validation.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Frame captures the metadata required to validate one input. LastConsumed
// is the newest id the simulation has already applied for the client.
type Frame struct {
	ClientID     state.EntityID
	SequenceID   uint32
	LastConsumed uint32
	SentAt       time.Time
}

type clientState struct {
	seen         bool
	lastSequence uint32
	gapStrikes   int
	limiter      *rate.Limiter
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Gap         uint64 `json:"gap"`
	RateLimited uint64 `json:"rate_limited"`
}

// Total sums every reason.
func (c DropCounters) Total() uint64 { return c.Sequence + c.Gap + c.RateLimited }

// Metrics stores per-client drop counters for diagnostics.
type Metrics struct {
	mu    sync.RWMutex
	drops map[state.EntityID]DropCounters
}

// newMetrics provisions an empty metrics container.
func newMetrics() *Metrics {
	return &Metrics{drops: make(map[state.EntityID]DropCounters)}
}

// observe increments the counter for the supplied reason.
func (m *Metrics) observe(clientID state.EntityID, reason DropReason) {
	if m == nil || reason == DropReasonNone {
		return
	}
	//1.- Lock while mutating the counters so concurrent readers stay consistent.
	m.mu.Lock()
	current := m.drops[clientID]
	switch reason {
	case DropReasonSequence:
		current.Sequence++
	case DropReasonGap:
		current.Gap++
	case DropReasonRateLimited:
		current.RateLimited++
	}
	m.drops[clientID] = current
	m.mu.Unlock()
}

// snapshot returns a copy of the counters for external consumption.
func (m *Metrics) snapshot() map[state.EntityID]DropCounters {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.drops) == 0 {
		return nil
	}
	clone := make(map[state.EntityID]DropCounters, len(m.drops))
	for clientID, counters := range m.drops {
		clone[clientID] = counters
	}
	return clone
}

// forget removes a client's counters when the connection closes.
func (m *Metrics) forget(clientID state.EntityID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.drops, clientID)
	m.mu.Unlock()
}

// Gate validates sequencing and throughput for inbound inputs. Only ids newer
// than any seen before spend rate tokens or count toward gaps, because every
// batch resends recent inputs and unreliable packets may arrive out of order.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	logger  *logging.Logger
	metrics *Metrics
	clients map[state.EntityID]*clientState
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for latency and rate calculations.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithMetrics injects a pre-built metrics container, enabling shared aggregation across gates.
func WithMetrics(metrics *Metrics) Option {
	return func(g *Gate) {
		if metrics != nil {
			g.metrics = metrics
		}
	}
}

// NewGate constructs a gate with the supplied configuration and logger.
func NewGate(cfg Config, logger *logging.Logger, opts ...Option) *Gate {
	//1.- Normalise missing limits to the defaults.
	if cfg.MaxSequenceGap == 0 {
		cfg.MaxSequenceGap = DefaultMaxSequenceGap
	}
	if cfg.MaxGapStrikes <= 0 {
		cfg.MaxGapStrikes = DefaultMaxGapStrikes
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		metrics: newMetrics(),
		clients: make(map[state.EntityID]*clientState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies sequencing and throughput guards to the frame.
func (g *Gate) Evaluate(frame Frame) Decision {
	decision := Decision{Accepted: true}
	if g == nil {
		return decision
	}
	now := g.clock.Now()
	if !frame.SentAt.IsZero() {
		delay := now.Sub(frame.SentAt)
		if delay < 0 {
			delay = 0
		}
		decision.Delay = delay
	}

	g.mu.Lock()
	client := g.clients[frame.ClientID]
	if client == nil {
		//1.- Track the newly observed client with its own token bucket.
		client = &clientState{}
		if g.cfg.Rate > 0 {
			client.limiter = rate.NewLimiter(g.cfg.Rate, g.cfg.Burst)
		}
		g.clients[frame.ClientID] = client
	}

	switch {
	case frame.SequenceID == 0:
		decision.Accepted, decision.Reason = false, DropReasonSequence
	case frame.LastConsumed != 0 && state.SeqAtMost(frame.SequenceID, frame.LastConsumed):
		//2.- Inputs the simulation already applied are never replayed.
		decision.Accepted, decision.Reason = false, DropReasonSequence
	case client.seen && state.SeqAtMost(frame.SequenceID, client.lastSequence):
		//3.- Late or resent ids still ahead of the simulation pass without a
		// token; the input buffer discards the copies it already holds.
	case client.seen && frame.SequenceID-client.lastSequence > g.cfg.MaxSequenceGap && client.gapStrikes+1 < g.cfg.MaxGapStrikes:
		client.gapStrikes++
		decision.Accepted, decision.Reason = false, DropReasonGap
	case client.limiter != nil && !client.limiter.AllowN(now, 1):
		decision.Accepted, decision.Reason = false, DropReasonRateLimited
	default:
		//4.- Promote the frame as the latest accepted input.
		if client.gapStrikes > 0 && frame.SequenceID-client.lastSequence > g.cfg.MaxSequenceGap {
			g.logger.Warn("input sequence resynchronised",
				logging.Uint32("client", uint32(frame.ClientID)),
				logging.Uint32("from", client.lastSequence),
				logging.Uint32("to", frame.SequenceID))
		}
		client.seen = true
		client.lastSequence = frame.SequenceID
		client.gapStrikes = 0
	}
	g.mu.Unlock()

	if !decision.Accepted {
		g.metrics.observe(frame.ClientID, decision.Reason)
		if decision.Reason != DropReasonSequence {
			g.logger.Debug("input dropped",
				logging.Uint32("client", uint32(frame.ClientID)),
				logging.Uint32("sequence", frame.SequenceID),
				logging.String("reason", decision.Reason.String()))
		}
	}
	return decision
}

// Forget clears cached sequencing and metrics for a disconnected client.
func (g *Gate) Forget(clientID state.EntityID) {
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	g.mu.Unlock()
	g.metrics.forget(clientID)
}

// Metrics returns a snapshot of the latest drop counters.
func (g *Gate) Metrics() map[state.EntityID]DropCounters {
	if g == nil {
		return nil
	}
	return g.metrics.snapshot()
}
