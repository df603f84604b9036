package physics

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstrike/netcore/internal/state"
)

const tick = time.Second / 30

func TestAdvanceIsDeterministic(t *testing.T) {
	//1.- Feed identical arguments twice and require identical output.
	m := NewMovement(DefaultTuning())
	world := NewVoxelGrid(16, 8, 16)
	world.Fill(5, 0, 0, 5, 3, 15, true)
	start := m.Spawn(mgl32.Vec3{2, 0, 2}, 45, 1, 2)
	in := state.InputRequest{SequenceID: 1, Buttons: state.ButtonForward | state.ButtonFire | state.ButtonJump, CamPitch: 10}
	a, b := start, start
	for i := 0; i < 60; i++ {
		a = m.Advance(a, in, 45, tick, world)
		b = m.Advance(b, in, 45, tick, world)
	}
	if a != b {
		t.Fatalf("expected identical results, got %+v vs %+v", a, b)
	}
}

func TestAdvanceLandsOnFloor(t *testing.T) {
	m := NewMovement(DefaultTuning())
	s := m.Spawn(mgl32.Vec3{1, 3, 1}, 0, 1, 0)
	for i := 0; i < 90; i++ {
		s = m.Advance(s, state.InputRequest{}, 0, tick, nil)
	}
	if !s.Grounded {
		t.Fatalf("expected player to land, got %+v", s)
	}
	if s.Position.Y() < 0 || s.Position.Y() > 0.01 {
		t.Fatalf("expected feet on the floor, got y=%.4f", s.Position.Y())
	}
	jumped := m.Advance(s, state.InputRequest{Buttons: state.ButtonJump}, 0, tick, nil)
	if jumped.Grounded || jumped.Velocity.Y() <= 0 {
		t.Fatalf("expected jump to leave the ground, got %+v", jumped)
	}
}

func TestAdvanceStopsAtWall(t *testing.T) {
	m := NewMovement(DefaultTuning())
	world := NewVoxelGrid(8, 4, 8)
	world.Fill(0, 0, 4, 7, 3, 4, true)
	s := m.Spawn(mgl32.Vec3{2, 0, 2}, 0, 1, 0)
	s.Grounded = true
	for i := 0; i < 60; i++ {
		s = m.Advance(s, state.InputRequest{Buttons: state.ButtonForward}, 0, tick, world)
	}
	if s.Position.Z()+m.Tuning.Radius > 4.001 {
		t.Fatalf("expected wall to block movement, z=%.3f", s.Position.Z())
	}
}

func TestWeaponsFireAndReload(t *testing.T) {
	tuning := DefaultTuning()
	m := NewMovement(tuning)
	s := m.Spawn(mgl32.Vec3{}, 0, 1, 1)
	s = m.Advance(s, state.InputRequest{Buttons: state.ButtonFire}, 0, tick, nil)
	if got := s.Weapons[0].Ammo; got != tuning.MagazineSize[0]-1 {
		t.Fatalf("expected one round spent, ammo=%d", got)
	}
	if s.Weapons[0].State != state.WeaponFiring {
		t.Fatalf("expected firing state, got %v", s.Weapons[0].State)
	}
	for i := 0; i < 10; i++ {
		s = m.Advance(s, state.InputRequest{}, 0, tick, nil)
	}
	s = m.Advance(s, state.InputRequest{Buttons: state.ButtonReload}, 0, tick, nil)
	if s.Weapons[0].State != state.WeaponReloading {
		t.Fatalf("expected reload, got %v", s.Weapons[0].State)
	}
	for i := 0; i < 60; i++ {
		s = m.Advance(s, state.InputRequest{}, 0, tick, nil)
	}
	if s.Weapons[0].Ammo != tuning.MagazineSize[0] || s.Weapons[0].State != state.WeaponIdle {
		t.Fatalf("expected full magazine after reload, got %+v", s.Weapons[0])
	}
	s = m.Advance(s, state.InputRequest{Buttons: state.ButtonGrenade}, 0, tick, nil)
	if s.Grenades != 0 {
		t.Fatalf("expected grenade thrown")
	}
	s = m.Advance(s, state.InputRequest{}, 0, time.Second, nil)
	s = m.Advance(s, state.InputRequest{Buttons: state.ButtonNextWeapon}, 0, tick, nil)
	if s.ActiveWeapon != 1 || s.Weapons[1].State != state.WeaponSwitching {
		t.Fatalf("expected switch to slot 1, got %+v", s)
	}
}

func TestAdvanceIgnoresNonPositiveStep(t *testing.T) {
	m := NewMovement(DefaultTuning())
	s := m.Spawn(mgl32.Vec3{1, 5, 1}, 0, 1, 0)
	if got := m.Advance(s, state.InputRequest{Buttons: state.ButtonForward}, 90, 0, nil); got != s {
		t.Fatalf("expected zero dt to be a no-op")
	}
}

func TestProjectileStepBouncesAndExpires(t *testing.T) {
	tuning := DefaultTuning()
	m := NewMovement(tuning)
	p := m.GrenadeLaunch(7, m.Spawn(mgl32.Vec3{0, 0, 0}, 0, 1, 1))
	if p.Owner != 7 || p.Velocity.Z() <= 0 {
		t.Fatalf("unexpected launch %+v", p)
	}
	step := ProjectileStep(tuning, nil, float32(tick.Seconds()))
	expired := false
	for i := 0; i < 120 && !expired; i++ {
		p, expired = step(p)
		if p.Position.Y() < 0 {
			t.Fatalf("projectile fell through the floor at step %d", i)
		}
	}
	if !expired {
		t.Fatalf("expected fuse to expire")
	}
}

func TestClampVec3Magnitude(t *testing.T) {
	got := clampVec3Magnitude(mgl32.Vec3{3, 4, 0}, 2.5)
	if l := got.Len(); l < 2.499 || l > 2.501 {
		t.Fatalf("expected clamped length 2.5, got %.4f", l)
	}
	if got := clampVec3Magnitude(mgl32.Vec3{1, 0, 0}, 0); got.X() != 1 {
		t.Fatalf("expected disabled clamp to pass through")
	}
}
