// Package interp renders remote entities from the server snapshot stream.
// Samples are taken a fixed delay behind the newest snapshot so two bracketing
// snapshots are normally available; when they are not, motion is extrapolated
// for a bounded time and then frozen.
package interp

import (
	"time"

	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/ring"
	"voxelstrike/netcore/internal/state"
)

const (
	// DefaultHistory is the snapshot history capacity.
	DefaultHistory = 32
	// MinHistory is the smallest history accepted.
	MinHistory = 16
	// RenderDelayTicks is how far render time trails the newest snapshot.
	RenderDelayTicks = 2
	// DefaultExtrapolationDuration bounds dead reckoning past the newest data.
	DefaultExtrapolationDuration = 250 * time.Millisecond
	// DefaultBlendDuration is how long a return from extrapolation takes.
	DefaultBlendDuration = 100 * time.Millisecond
)

// Mode describes how a sample was produced.
type Mode uint8

const (
	ModeInterpolated Mode = iota
	ModeExtrapolated
	ModeFrozen
)

func (m Mode) String() string {
	switch m {
	case ModeInterpolated:
		return "interpolated"
	case ModeExtrapolated:
		return "extrapolated"
	case ModeFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// Events flags one-shot changes observed between snapshots.
type Events uint8

const (
	EventWeaponFired Events = 1 << iota
	EventWeaponSwitched
	EventRespawned
)

// Has reports whether every bit of e is set.
func (ev Events) Has(e Events) bool { return ev&e == e }

// Sample is the render state of one remote entity.
type Sample struct {
	State  state.PlayerState
	Mode   Mode
	Events Events
}

// Config tunes an engine.
type Config struct {
	TickInterval          time.Duration
	History               int
	ExtrapolationDuration time.Duration
	BlendDuration         time.Duration
}

// Stats summarises the snapshot stream.
type Stats struct {
	Snapshots    uint64
	Duplicates   uint64
	OutOfOrder   uint64
	Depth        int
	RenderOffset time.Duration
}

type track struct {
	last      state.PlayerState
	hasLast   bool
	reckoned  bool
	blending  bool
	blendGap  state.Transform
	blendFrom time.Duration
	eventTick uint32
	hasEvents bool
}

// Engine keeps the snapshot history and per-entity blend bookkeeping. It is
// not safe for concurrent use.
type Engine struct {
	cfg          Config
	logger       *logging.Logger
	history      *ring.Ring[state.Snapshot]
	renderOffset time.Duration
	tracks       map[state.EntityID]*track

	snapshots  uint64
	duplicates uint64
	outOfOrder uint64
}

// NewEngine constructs an engine. A nil logger falls back to the global one.
func NewEngine(cfg Config, logger *logging.Logger) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second / 30
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.History < MinHistory {
		cfg.History = MinHistory
	}
	if cfg.ExtrapolationDuration <= 0 {
		cfg.ExtrapolationDuration = DefaultExtrapolationDuration
	}
	if cfg.BlendDuration <= 0 {
		cfg.BlendDuration = DefaultBlendDuration
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		history: ring.New[state.Snapshot](cfg.History),
		tracks:  make(map[state.EntityID]*track),
	}
}

// SetTickInterval changes the tick duration, typically after Welcome.
func (e *Engine) SetTickInterval(d time.Duration) {
	if d > 0 {
		e.cfg.TickInterval = d
		e.renderOffset = e.clampOffset(e.renderOffset)
	}
}

// AddSnapshot inserts s into the history. Duplicate ticks are dropped and
// reported as false. A newer tick moves the clock forward while the render
// offset absorbs the jump; an older tick is only slotted into place.
func (e *Engine) AddSnapshot(s state.Snapshot) bool {
	tick := s.ServerTick
	if _, ok := e.history.FindFirst(func(h state.Snapshot) bool { return h.ServerTick == tick }); ok {
		e.duplicates++
		return false
	}

	latest, hasLatest := e.history.Back()
	newer := !hasLatest || state.SeqNewer(tick, latest.ServerTick)
	if !newer {
		//1.- An old snapshot never displaces newer history from a full ring.
		if front, ok := e.history.Front(); ok && e.history.Full() && state.SeqNewer(front.ServerTick, tick) {
			e.outOfOrder++
			return false
		}
		e.outOfOrder++
	}

	e.history.PushBack(s)
	e.history.Sort(func(a, b state.Snapshot) bool { return state.SeqNewer(b.ServerTick, a.ServerTick) })
	e.snapshots++

	if newer && hasLatest {
		delta := state.TickToTime(tick-latest.ServerTick, e.cfg.TickInterval)
		e.renderOffset = e.clampOffset(e.renderOffset - delta)
		e.pruneTracks()
	}
	return true
}

// Advance accumulates frame time into the render offset.
func (e *Engine) Advance(dt time.Duration) {
	if dt <= 0 {
		return
	}
	e.renderOffset = e.clampOffset(e.renderOffset + dt)
}

// CurrentTime is the newest snapshot time plus the render offset.
func (e *Engine) CurrentTime() time.Duration {
	latest, ok := e.history.Back()
	if !ok {
		return 0
	}
	return state.TickToTime(latest.ServerTick, e.cfg.TickInterval) + e.renderOffset
}

// RenderTime is the time remote entities are drawn at.
func (e *Engine) RenderTime() time.Duration {
	return e.CurrentTime() - RenderDelayTicks*e.cfg.TickInterval
}

// Sample returns the render state of id at RenderTime.
func (e *Engine) Sample(id state.EntityID) (Sample, bool) {
	if e.history.Empty() {
		return Sample{}, false
	}
	rt := e.RenderTime()
	at := func(s state.Snapshot) time.Duration { return state.TickToTime(s.ServerTick, e.cfg.TickInterval) }

	//1.- Bracket render time: s1 is the last snapshot strictly before it.
	i1, s1, ok1 := e.history.FindLastPair(func(s state.Snapshot) bool { return at(s) < rt })
	if ok1 {
		if s2, ok2 := e.history.At(i1 + 1); ok2 {
			p1, has1 := s1.Players[id]
			p2, has2 := s2.Players[id]
			if has1 && has2 {
				t1, t2 := at(s1), at(s2)
				w := float32(float64(rt-t1) / float64(t2-t1))
				out := state.Lerp(p1, p2, w)
				if p1.LifeSequence != p2.LifeSequence && w > 0 {
					out = p2
				}
				return e.emit(id, out, ModeInterpolated, p1, s2.ServerTick, rt, false), true
			}
		}
	}

	//2.- Dead-reckon from the newest snapshot before render time holding id.
	if _, base, ok := e.history.FindLastPair(func(s state.Snapshot) bool {
		_, has := s.Players[id]
		return has && at(s) < rt
	}); ok {
		p := base.Players[id]
		dt := rt - at(base)
		mode := ModeExtrapolated
		if dt > e.cfg.ExtrapolationDuration {
			dt = e.cfg.ExtrapolationDuration
			mode = ModeFrozen
		}
		p.Position = p.Position.Add(p.Velocity.Mul(float32(dt.Seconds())))
		return e.emit(id, p, mode, p, base.ServerTick, rt, true), true
	}

	//3.- Render time precedes everything known about id.
	if _, first, ok := e.history.FindFirstPair(func(s state.Snapshot) bool {
		_, has := s.Players[id]
		return has
	}); ok {
		p := first.Players[id]
		return e.emit(id, p, ModeFrozen, p, first.ServerTick, rt, false), true
	}
	return Sample{}, false
}

// Entities lists the players in the newest snapshot in ascending order.
func (e *Engine) Entities() []state.EntityID {
	latest, ok := e.history.Back()
	if !ok {
		return nil
	}
	return latest.PlayerIDs()
}

// Latest returns the newest snapshot.
func (e *Engine) Latest() (state.Snapshot, bool) { return e.history.Back() }

// Reset drops all history and bookkeeping.
func (e *Engine) Reset() {
	e.history.Clear()
	e.renderOffset = 0
	e.tracks = make(map[state.EntityID]*track)
}

// Stats returns counters for the snapshot stream.
func (e *Engine) Stats() Stats {
	return Stats{
		Snapshots:    e.snapshots,
		Duplicates:   e.duplicates,
		OutOfOrder:   e.outOfOrder,
		Depth:        e.history.Len(),
		RenderOffset: e.renderOffset,
	}
}

// emit applies blend-back and one-shot events, then remembers the output.
// reckoned marks output produced by dead reckoning.
func (e *Engine) emit(id state.EntityID, out state.PlayerState, mode Mode, prev state.PlayerState, tick uint32, rt time.Duration, reckoned bool) Sample {
	tr, ok := e.tracks[id]
	if !ok {
		tr = &track{}
		e.tracks[id] = tr
	}
	var events Events
	if mode == ModeInterpolated {
		events = diff(prev, out)
		if events != 0 && tr.hasEvents && tr.eventTick == tick {
			events = 0
		} else if events != 0 {
			tr.eventTick = tick
			tr.hasEvents = true
		}
	}

	switch {
	case mode != ModeInterpolated || events.Has(EventRespawned):
		tr.blending = false
	case tr.hasLast && tr.reckoned:
		//1.- Bracketed data is back: fade out the gap to the last output.
		tr.blending = true
		tr.blendGap = tr.last.Transform.Sub(out.Transform)
		tr.blendFrom = rt
		e.logger.Debug("interpolation resumed",
			logging.Uint64("entity", uint64(id)),
			logging.Float64("gap", float64(tr.blendGap.Magnitude())))
	}
	if tr.blending {
		w := 1 - float32(float64(rt-tr.blendFrom)/float64(e.cfg.BlendDuration))
		if w <= 0 {
			tr.blending = false
		} else {
			out = out.WithTransform(out.Transform.Add(tr.blendGap.Scale(w)))
		}
	}

	tr.last = out
	tr.hasLast = true
	tr.reckoned = reckoned
	return Sample{State: out, Mode: mode, Events: events}
}

func diff(prev, cur state.PlayerState) Events {
	var ev Events
	if cur.LifeSequence != prev.LifeSequence {
		return EventRespawned
	}
	if cur.ActiveWeapon != prev.ActiveWeapon {
		ev |= EventWeaponSwitched
	} else if cur.Active().Ammo < prev.Active().Ammo {
		ev |= EventWeaponFired
	}
	if cur.Grenades < prev.Grenades {
		ev |= EventWeaponFired
	}
	return ev
}

func (e *Engine) clampOffset(offset time.Duration) time.Duration {
	limit := e.cfg.TickInterval
	if offset > limit {
		return limit
	}
	if offset < -limit {
		return -limit
	}
	return offset
}

func (e *Engine) pruneTracks() {
	if len(e.tracks) == 0 {
		return
	}
	seen := make(map[state.EntityID]struct{}, len(e.tracks))
	for _, s := range e.history.All() {
		for id := range s.Players {
			seen[id] = struct{}{}
		}
	}
	for id := range e.tracks {
		if _, ok := seen[id]; !ok {
			delete(e.tracks, id)
		}
	}
}
