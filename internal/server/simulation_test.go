package server

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/physics"
	"voxelstrike/netcore/internal/protocol"
	"voxelstrike/netcore/internal/state"
)

type sent struct {
	to     state.EntityID
	packet protocol.Packet
}

type recordingOutbox struct {
	sent []sent
}

func (o *recordingOutbox) Send(id state.EntityID, p protocol.Packet) {
	o.sent = append(o.sent, sent{to: id, packet: p})
}

func newTestSimulation(t *testing.T, opts ...SimulationOption) *Simulation {
	t.Helper()
	opts = append([]SimulationOption{WithSimulationLogger(logging.NewTestLogger())}, opts...)
	return NewSimulation(SimulationConfig{TickRate: 30}, physics.NewMovement(physics.DefaultTuning()), nil, opts...)
}

func TestTickBroadcastsThenAcknowledges(t *testing.T) {
	sim := newTestSimulation(t)
	sim.Join(1, "alpha")
	sim.Join(2, "bravo")
	out := &recordingOutbox{}
	snap := sim.Tick(out)

	if snap.ServerTick != 0 || len(snap.Players) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(out.sent) != 4 {
		t.Fatalf("expected four packets, got %d", len(out.sent))
	}
	wantKinds := []protocol.Kind{protocol.KindWorldUpdate, protocol.KindWorldUpdate, protocol.KindPlayerInputAck, protocol.KindPlayerInputAck}
	wantTo := []state.EntityID{1, 2, 1, 2}
	for i, s := range out.sent {
		if s.packet.Kind() != wantKinds[i] || s.to != wantTo[i] {
			t.Fatalf("packet %d: got %s to %d", i, s.packet.Kind(), s.to)
		}
	}
	if sim.CurrentTick() != 1 || len(sim.History()) != 1 {
		t.Fatalf("expected one snapshot appended per tick")
	}
}

func TestTickConsumesOneInputPerPlayer(t *testing.T) {
	sim := newTestSimulation(t)
	p, _ := sim.Join(1, "alpha")
	for id := uint32(1); id <= 4; id++ {
		sim.Push(1, state.InputRequest{SequenceID: id, Buttons: state.ButtonForward})
	}
	sim.Tick(nil)
	if p.Buffer.LastConsumedID() != 1 || p.Buffer.Len() != 3 {
		t.Fatalf("expected exactly one input consumed, last=%d len=%d", p.Buffer.LastConsumedID(), p.Buffer.Len())
	}
	out := &recordingOutbox{}
	sim.Tick(out)
	ack := out.sent[len(out.sent)-1].packet.(*protocol.PlayerInputAck)
	if ack.LastConsumedID != 2 || ack.ServerTick != 1 || ack.State != p.State {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestStarvingPlayerHoldsAndLogsOnce(t *testing.T) {
	sim := newTestSimulation(t)
	p, _ := sim.Join(1, "alpha")
	start := p.State
	stalls := 0
	for i := 0; i < StallLogTicks+5; i++ {
		sim.Tick(nil)
		for _, ev := range sim.DrainEvents() {
			if ev.Kind == "stall" {
				stalls++
			}
		}
	}
	if p.State != start {
		t.Fatalf("starving player must hold its state")
	}
	if stalls != 1 {
		t.Fatalf("expected one stall event, got %d", stalls)
	}
	if _, ok := sim.Player(1); !ok {
		t.Fatalf("starvation must not disconnect")
	}
	if sim.Stats().Starving != 1 {
		t.Fatalf("expected one starving player")
	}
}

func TestGrenadeSpawnsProjectile(t *testing.T) {
	sim := newTestSimulation(t)
	p, _ := sim.Join(1, "alpha")
	sim.Push(1, state.InputRequest{SequenceID: 1, Buttons: state.ButtonGrenade})
	sim.Push(1, state.InputRequest{SequenceID: 2})
	snap := sim.Tick(nil)
	if p.State.Grenades != DefaultGrenades-1 {
		t.Fatalf("expected one grenade thrown, have %d", p.State.Grenades)
	}
	if len(snap.Projectiles) != 1 {
		t.Fatalf("expected the grenade in the snapshot, got %d", len(snap.Projectiles))
	}
	for id, proj := range snap.Projectiles {
		if id < projectileIDBase || proj.Owner != 1 || proj.Kind != state.ProjectileGrenade {
			t.Fatalf("unexpected projectile %+v", proj)
		}
	}
}

func TestTeamsRoundRobinAndLeave(t *testing.T) {
	sim := newTestSimulation(t, WithSpawnPoints(NewSpawnRing(mgl32.Vec3{1, 0, 1}, mgl32.Vec3{5, 0, 5})))
	a, _ := sim.Join(1, "a")
	b, _ := sim.Join(2, "b")
	c, _ := sim.Join(3, "c")
	if a.Team != 0 || b.Team != 1 || c.Team != 0 {
		t.Fatalf("unexpected teams %d %d %d", a.Team, b.Team, c.Team)
	}
	if a.State.Position != (mgl32.Vec3{1, 0, 1}) || b.State.Position != (mgl32.Vec3{5, 0, 5}) {
		t.Fatalf("expected spawn ring to cycle")
	}
	if _, err := sim.Join(1, "dup"); err != ErrPlayerExists {
		t.Fatalf("expected duplicate join error, got %v", err)
	}
	if !sim.Leave(2) || sim.Leave(2) {
		t.Fatalf("expected leave to evict exactly once")
	}
	if sim.Push(2, state.InputRequest{SequenceID: 1}) {
		t.Fatalf("expected inputs for a departed player to be ignored")
	}
	if snap := sim.Tick(nil); len(snap.Players) != 2 {
		t.Fatalf("expected departed player out of the snapshot")
	}
}

func TestHistoryBoundedAndRespawn(t *testing.T) {
	sim := newTestSimulation(t)
	p, _ := sim.Join(1, "alpha")
	for i := 0; i < DefaultHistory+6; i++ {
		sim.Tick(nil)
	}
	history := sim.History()
	if len(history) != DefaultHistory || history[0].ServerTick != 6 {
		t.Fatalf("unexpected history window starting at %d (len %d)", history[0].ServerTick, len(history))
	}
	if _, ok := sim.SnapshotAt(DefaultHistory + 5); !ok {
		t.Fatalf("expected newest snapshot to be retained")
	}
	if err := sim.Respawn(1); err != nil {
		t.Fatalf("respawn: %v", err)
	}
	if p.State.LifeSequence != 2 {
		t.Fatalf("expected life sequence to advance, got %d", p.State.LifeSequence)
	}
	if err := sim.Respawn(9); err != ErrUnknownPlayer {
		t.Fatalf("expected unknown player error")
	}
}

func TestDeathmatchSplash(t *testing.T) {
	mode := NewDeathmatch()
	players := map[state.EntityID]state.PlayerState{
		1: {Transform: state.Transform{Position: mgl32.Vec3{0, 0, 0}}},
		2: {Transform: state.Transform{Position: mgl32.Vec3{1, 0, 0}}},
		3: {Transform: state.Transform{Position: mgl32.Vec3{10, 0, 0}}},
	}
	blast := state.ProjectileState{Owner: 1, Position: mgl32.Vec3{0.5, 0, 0}}
	killed := mode.Update(0, players, []state.ProjectileState{blast})
	if len(killed) != 2 || killed[0] != 1 || killed[1] != 2 {
		t.Fatalf("unexpected casualties %v", killed)
	}
	frags := mode.Frags()
	if frags[1] != 0 {
		t.Fatalf("expected +1 for the kill and -1 for the suicide, got %d", frags[1])
	}
	if mode.Update(1, players, nil) != nil {
		t.Fatalf("expected no casualties without detonations")
	}
}
