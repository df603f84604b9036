// Package prediction runs the local player ahead of the server and reconciles
// against authoritative acknowledgements without visible snapping.
package prediction

import (
	"time"

	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/physics"
	"voxelstrike/netcore/internal/ring"
	"voxelstrike/netcore/internal/state"
)

const (
	// DefaultHistory is the prediction ring capacity in ticks.
	DefaultHistory = 128
	// DefaultCorrectionDuration is how long a visual correction takes to fade.
	DefaultCorrectionDuration = 3 * time.Second
)

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Camera is the view state sampled with each input.
type Camera struct {
	Yaw         float32
	Pitch       float32
	FOV         float32
	AspectRatio float32
}

// Record is one locally simulated tick.
type Record struct {
	Input     state.InputRequest
	Origin    state.PlayerState
	Predicted state.PlayerState
	WallClock time.Time
}

// Config tunes an engine.
type Config struct {
	TickInterval       time.Duration
	History            int
	CorrectionDuration time.Duration
}

// Stats summarises reconciliation activity.
type Stats struct {
	Corrections      uint64
	LastCorrection   float32
	Pending          int
	NextSequence     uint32
	LastAcknowledged uint32
}

type ack struct {
	id    uint32
	state state.PlayerState
}

// Engine owns the prediction ring of the local player. It is not safe for
// concurrent use; drive it from the frame loop.
type Engine struct {
	cfg      Config
	resolver physics.Resolver
	world    physics.World
	clock    Clock
	logger   *logging.Logger

	history          *ring.Ring[Record]
	sequence         uint32
	lastAcknowledged uint32
	pending          *ack
	authoritative    state.PlayerState
	spawned          bool

	offset          state.Transform
	correctionStart time.Time
	camera          Camera
	lastRendered    state.PlayerState

	corrections    uint64
	lastCorrection float32
}

// Option customises engine construction.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs an engine simulating with resolver against world.
func NewEngine(cfg Config, resolver physics.Resolver, world physics.World, opts ...Option) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second / 30
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.CorrectionDuration <= 0 {
		cfg.CorrectionDuration = DefaultCorrectionDuration
	}
	e := &Engine{
		cfg:      cfg,
		resolver: resolver,
		world:    world,
		clock:    systemClock{},
		logger:   logging.L(),
		history:  ring.New[Record](cfg.History),
		sequence: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SetTickInterval changes the simulation step, typically after Welcome.
func (e *Engine) SetTickInterval(d time.Duration) {
	if d > 0 {
		e.cfg.TickInterval = d
	}
}

// Spawned reports whether an authoritative state has been received.
func (e *Engine) Spawned() bool { return e.spawned }

// Acknowledge records the server's last consumed input and the authoritative
// state after it. The first acknowledgement spawns the player. Stale
// acknowledgements are ignored unless they carry a new life.
func (e *Engine) Acknowledge(lastConsumedID uint32, authoritative state.PlayerState) {
	if !e.spawned {
		e.Reset(authoritative)
		e.lastAcknowledged = lastConsumedID
		return
	}
	newLife := authoritative.LifeSequence != e.authoritative.LifeSequence
	latest := e.lastAcknowledged
	if e.pending != nil {
		latest = e.pending.id
	}
	if state.SeqAtMost(lastConsumedID, latest) && !newLife {
		return
	}
	e.pending = &ack{id: lastConsumedID, state: authoritative}
}

// Reconcile applies a pending acknowledgement: acknowledged records are
// pruned and, when the prediction for the acknowledged input diverged, every
// remaining record is replayed from the authoritative state. It reports
// whether a correction happened.
func (e *Engine) Reconcile() bool {
	if e.pending == nil {
		return false
	}
	ack := *e.pending
	e.pending = nil
	now := e.clock.Now()

	//1.- A new life invalidates every record predicted before it.
	if ack.state.LifeSequence != e.authoritative.LifeSequence {
		e.logger.Debug("prediction reset on respawn",
			logging.Uint32("ack", ack.id),
			logging.Int("life", int(ack.state.LifeSequence)))
		e.Reset(ack.state)
		e.lastAcknowledged = ack.id
		return true
	}

	//2.- Capture what is on screen before touching the history.
	before := e.render(now)

	//3.- Prune acknowledged records, remembering the last one popped.
	var popped *Record
	for {
		front, ok := e.history.Front()
		if !ok || state.SeqNewer(front.Input.SequenceID, ack.id) {
			break
		}
		e.history.PopFront()
		rec := front
		popped = &rec
	}
	e.lastAcknowledged = ack.id
	e.authoritative = ack.state

	//4.- A matching prediction needs no replay.
	matched := popped != nil && popped.Input.SequenceID == ack.id
	if matched && !state.Diverges(popped.Predicted, ack.state) {
		return false
	}

	//5.- Replay the surviving records in place from ground truth.
	base := ack.state
	for i := 0; i < e.history.Len(); i++ {
		rec, _ := e.history.At(i)
		rec.Origin = base
		rec.Predicted = e.step(base, rec.Input, e.cfg.TickInterval)
		e.history.Set(i, rec)
		base = rec.Predicted
	}

	//6.- Carry the visual difference as a decaying offset.
	after := e.raw(now)
	e.offset = before.Transform.Sub(after.Transform)
	e.correctionStart = now
	if !state.Diverges(before.WithTransform(after.Transform), before) {
		e.offset = state.Transform{}
		return false
	}
	e.corrections++
	e.lastCorrection = e.offset.Magnitude()
	e.logger.Debug("prediction corrected",
		logging.Uint32("ack", ack.id),
		logging.Bool("matched", matched),
		logging.Int("replayed", e.history.Len()),
		logging.Float64("offset", float64(e.lastCorrection)))
	return true
}

// Predict reconciles, simulates one tick of buttons from the newest predicted
// state and records it. The returned request must be sent to the server.
// Before the first acknowledgement it does nothing and reports false.
func (e *Engine) Predict(buttons state.Buttons, cam Camera, clientRenderTime time.Duration) (state.InputRequest, bool) {
	if !e.spawned {
		return state.InputRequest{}, false
	}
	e.Reconcile()

	origin := e.authoritative
	if back, ok := e.history.Back(); ok {
		origin = back.Predicted
	}
	req := state.InputRequest{
		SequenceID:       e.sequence,
		Buttons:          buttons,
		CamYaw:           cam.Yaw,
		CamPitch:         cam.Pitch,
		FOV:              cam.FOV,
		AspectRatio:      cam.AspectRatio,
		ClientRenderTime: clientRenderTime,
	}
	rec := Record{
		Input:     req,
		Origin:    origin,
		Predicted: e.step(origin, req, e.cfg.TickInterval),
		WallClock: e.clock.Now(),
	}
	if evicted, ok := e.history.PushBack(rec); ok {
		e.logger.Debug("prediction history overflow", logging.Uint32("evicted", evicted.Input.SequenceID))
	}
	e.camera = cam
	e.sequence++
	if e.sequence == 0 {
		e.sequence = 1
	}
	return req, true
}

// SmoothRender returns the state to draw now: the newest record advanced by
// the wall time since it was predicted, plus the fading correction offset. It
// does not change the simulation and is idempotent for a fixed clock.
func (e *Engine) SmoothRender(cam Camera) (state.PlayerState, bool) {
	e.camera = cam
	if !e.spawned {
		return e.lastRendered, false
	}
	e.lastRendered = e.render(e.clock.Now())
	return e.lastRendered, true
}

// Reset discards all history and restarts prediction from spawn.
func (e *Engine) Reset(spawn state.PlayerState) {
	e.history.Clear()
	e.pending = nil
	e.authoritative = spawn
	e.offset = state.Transform{}
	e.correctionStart = time.Time{}
	e.lastRendered = spawn
	e.spawned = true
}

// Clear forgets the player entirely. Nothing is predicted or rendered until
// the next acknowledgement spawns it again.
func (e *Engine) Clear() {
	e.Reset(state.PlayerState{})
	e.spawned = false
}

// Records returns a copy of the prediction history, oldest first.
func (e *Engine) Records() []Record { return e.history.Values() }

// Offset returns the current correction offset before weighting.
func (e *Engine) Offset() state.Transform { return e.offset }

// Authoritative returns the last acknowledged server state.
func (e *Engine) Authoritative() state.PlayerState { return e.authoritative }

// Stats returns reconciliation counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Corrections:      e.corrections,
		LastCorrection:   e.lastCorrection,
		Pending:          e.history.Len(),
		NextSequence:     e.sequence,
		LastAcknowledged: e.lastAcknowledged,
	}
}

func (e *Engine) step(base state.PlayerState, in state.InputRequest, dt time.Duration) state.PlayerState {
	return e.resolver.Advance(base, in, in.CamYaw, dt, e.world)
}

// raw is the uncorrected render state at now.
func (e *Engine) raw(now time.Time) state.PlayerState {
	last, ok := e.history.Back()
	if !ok {
		out := e.authoritative
		out.Pitch = e.camera.Pitch
		return out
	}
	elapsed := now.Sub(last.WallClock)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > e.cfg.TickInterval {
		elapsed = e.cfg.TickInterval
	}
	out := e.resolver.Advance(last.Origin, last.Input, last.Input.CamYaw, elapsed, e.world)
	out.Pitch = e.camera.Pitch
	return out
}

func (e *Engine) render(now time.Time) state.PlayerState {
	out := e.raw(now)
	if e.offset.IsZero() {
		return out
	}
	return out.WithTransform(out.Transform.Add(e.offset.Scale(e.weight(now))))
}

func (e *Engine) weight(now time.Time) float32 {
	since := now.Sub(e.correctionStart)
	if since < 0 {
		since = 0
	}
	w := 1 - float32(since.Seconds()/e.cfg.CorrectionDuration.Seconds())
	if w < 0 {
		return 0
	}
	return w
}
