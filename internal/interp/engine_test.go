package interp

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/state"
)

const tick = 100 * time.Millisecond

func newTestEngine(cfg Config) *Engine {
	cfg.TickInterval = tick
	return NewEngine(cfg, logging.NewTestLogger())
}

func player(x, vx float32) state.PlayerState {
	p := state.PlayerState{LifeSequence: 1}
	p.Position = mgl32.Vec3{x, 0, 0}
	p.Velocity = mgl32.Vec3{vx, 0, 0}
	p.Weapons[0].Ammo = 30
	return p
}

func snapshot(tick uint32, players map[state.EntityID]state.PlayerState) state.Snapshot {
	s := state.NewSnapshot(tick)
	for id, p := range players {
		s.Players[id] = p
	}
	return s
}

func near(a, b float32) bool {
	d := a - b
	return d < 1e-4 && d > -1e-4
}

func TestInterpolationBoundaries(t *testing.T) {
	engine := newTestEngine(Config{})
	a, b, c := player(-4.137, 0.21), player(6.0917, -1.3), player(13.58203, 2.75)
	a.Yaw, b.Yaw, c.Yaw = -123.653076, 161.0427, 97.113
	engine.AddSnapshot(snapshot(10, map[state.EntityID]state.PlayerState{1: a}))
	engine.AddSnapshot(snapshot(11, map[state.EntityID]state.PlayerState{1: b}))
	engine.AddSnapshot(snapshot(12, map[state.EntityID]state.PlayerState{1: c}))

	//1.- Render time still precedes the history: hold the earliest state.
	sample, ok := engine.Sample(1)
	if !ok || sample.Mode != ModeFrozen || sample.State != a {
		t.Fatalf("expected frozen at the first state, got %+v ok=%v", sample, ok)
	}

	engine.Advance(150 * time.Millisecond)
	sample, _ = engine.Sample(1)
	if sample.Mode != ModeInterpolated || !near(sample.State.Position.X(), (a.Position.X()+b.Position.X())/2) {
		t.Fatalf("expected the midpoint between ticks, got %v (%s)", sample.State.Position, sample.Mode)
	}

	engine.Advance(50 * time.Millisecond)
	sample, _ = engine.Sample(1)
	if sample.State != b {
		t.Fatalf("expected exactly the upper bracket state, got %+v", sample.State)
	}
}

func TestSnapshotOrdering(t *testing.T) {
	engine := newTestEngine(Config{})
	for _, tick := range []uint32{5, 3, 4} {
		if !engine.AddSnapshot(state.NewSnapshot(tick)) {
			t.Fatalf("snapshot %d rejected", tick)
		}
	}
	var ticks []uint32
	for _, s := range engine.history.Values() {
		ticks = append(ticks, s.ServerTick)
	}
	if len(ticks) != 3 || ticks[0] != 3 || ticks[1] != 4 || ticks[2] != 5 {
		t.Fatalf("expected [3 4 5], got %v", ticks)
	}
	if engine.AddSnapshot(state.NewSnapshot(4)) {
		t.Fatalf("expected duplicate tick to be dropped")
	}
	stats := engine.Stats()
	if stats.OutOfOrder != 2 || stats.Duplicates != 1 || stats.Depth != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if engine.CurrentTime() != 500*time.Millisecond {
		t.Fatalf("late snapshots must not move the clock, got %v", engine.CurrentTime())
	}
}

func TestRenderOffsetClampedAndNudged(t *testing.T) {
	engine := newTestEngine(Config{})
	engine.AddSnapshot(state.NewSnapshot(10))
	engine.Advance(time.Second)
	if got := engine.Stats().RenderOffset; got != tick {
		t.Fatalf("expected offset clamped to one tick, got %v", got)
	}
	before := engine.CurrentTime()
	engine.AddSnapshot(state.NewSnapshot(11))
	if got := engine.Stats().RenderOffset; got != 0 {
		t.Fatalf("expected offset nudged to zero, got %v", got)
	}
	if engine.CurrentTime() != before {
		t.Fatalf("clock jumped from %v to %v", before, engine.CurrentTime())
	}
	if engine.RenderTime() != before-2*tick {
		t.Fatalf("unexpected render time %v", engine.RenderTime())
	}
}

func TestExtrapolationBoundedThenBlendsBack(t *testing.T) {
	engine := newTestEngine(Config{BlendDuration: 200 * time.Millisecond})
	step := func(tick uint32, players map[state.EntityID]state.PlayerState) Sample {
		engine.AddSnapshot(snapshot(tick, players))
		engine.Advance(100 * time.Millisecond)
		sample, _ := engine.Sample(1)
		return sample
	}
	with := func(x, vx float32) map[state.EntityID]state.PlayerState {
		return map[state.EntityID]state.PlayerState{1: player(x, vx)}
	}
	other := map[state.EntityID]state.PlayerState{2: player(0, 0)}

	step(10, with(0, 10))
	step(11, with(1, 10))
	if s := step(12, other); s.Mode != ModeInterpolated || !near(s.State.Position.X(), 1) {
		t.Fatalf("expected interpolated x=1, got %+v", s)
	}
	if s := step(13, other); s.Mode != ModeExtrapolated || !near(s.State.Position.X(), 2) {
		t.Fatalf("expected extrapolated x=2, got %v (%s)", s.State.Position, s.Mode)
	}
	if s := step(14, other); s.Mode != ModeExtrapolated || !near(s.State.Position.X(), 3) {
		t.Fatalf("expected extrapolated x=3, got %v (%s)", s.State.Position, s.Mode)
	}
	if s := step(15, other); s.Mode != ModeFrozen || !near(s.State.Position.X(), 3.5) {
		t.Fatalf("expected frozen at the 250ms bound, got %v (%s)", s.State.Position, s.Mode)
	}
	step(16, with(10, 0))
	if s := step(17, with(10, 0)); s.Mode != ModeFrozen || !near(s.State.Position.X(), 3.5) {
		t.Fatalf("expected to stay frozen without a bracket, got %v (%s)", s.State.Position, s.Mode)
	}
	if s := step(18, with(10, 0)); s.Mode != ModeInterpolated || !near(s.State.Position.X(), 3.5) {
		t.Fatalf("expected blend to start at the frozen position, got %v (%s)", s.State.Position, s.Mode)
	}
	if s := step(19, with(10, 0)); !near(s.State.Position.X(), 6.75) {
		t.Fatalf("expected half-blended x=6.75, got %v", s.State.Position)
	}
	if s := step(20, with(10, 0)); !near(s.State.Position.X(), 10) {
		t.Fatalf("expected blend to finish at x=10, got %v", s.State.Position)
	}
}

func TestEventsFireOncePerSnapshot(t *testing.T) {
	engine := newTestEngine(Config{})
	step := func(tick uint32, p state.PlayerState) {
		engine.AddSnapshot(snapshot(tick, map[state.EntityID]state.PlayerState{1: p}))
		engine.Advance(100 * time.Millisecond)
	}
	fired := player(0, 0)
	fired.Weapons[0].Ammo = 29

	step(10, player(0, 0))
	step(11, fired)
	step(12, fired)
	sample, _ := engine.Sample(1)
	if !sample.Events.Has(EventWeaponFired) {
		t.Fatalf("expected weapon fired event, got %v", sample.Events)
	}
	if again, _ := engine.Sample(1); again.Events != 0 {
		t.Fatalf("expected events only once, got %v", again.Events)
	}

	respawned := player(50, 0)
	respawned.LifeSequence = 2
	step(13, respawned)
	step(14, respawned)
	sample, _ = engine.Sample(1)
	if !sample.Events.Has(EventRespawned) {
		t.Fatalf("expected respawn event, got %v", sample.Events)
	}
	if sample.State.Position.X() != 50 {
		t.Fatalf("respawn must not interpolate across the teleport, got %v", sample.State.Position)
	}
}

func TestEntitiesAndReset(t *testing.T) {
	engine := newTestEngine(Config{})
	if _, ok := engine.Sample(1); ok {
		t.Fatalf("expected no sample without history")
	}
	engine.AddSnapshot(snapshot(1, map[state.EntityID]state.PlayerState{3: player(0, 0), 1: player(0, 0)}))
	ids := engine.Entities()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("unexpected entities %v", ids)
	}
	engine.Reset()
	if engine.Entities() != nil || engine.Stats().Depth != 0 {
		t.Fatalf("expected reset to clear history")
	}
}
