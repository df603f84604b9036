// Package physics hosts the deterministic movement resolver shared by client
// prediction and the authoritative server simulation.
package physics

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstrike/netcore/internal/state"
)

// Resolver advances a player state by one input over dt. Implementations must
// be pure: the same arguments always produce the same result.
type Resolver interface {
	Advance(s state.PlayerState, in state.InputRequest, yaw float32, dt time.Duration, world World) state.PlayerState
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(s state.PlayerState, in state.InputRequest, yaw float32, dt time.Duration, world World) state.PlayerState

// Advance calls f.
func (f ResolverFunc) Advance(s state.PlayerState, in state.InputRequest, yaw float32, dt time.Duration, world World) state.PlayerState {
	return f(s, in, yaw, dt, world)
}

// Tuning captures movement and weapon constants.
type Tuning struct {
	WalkSpeed             float32
	CrouchSpeed           float32
	JumpSpeed             float32
	Gravity               float32
	MaxFallSpeed          float32
	Radius                float32
	Height                float32
	MaxPitch              float32
	FireInterval          [state.WeaponSlots]float32
	MagazineSize          [state.WeaponSlots]uint16
	ReloadTime            float32
	SwitchTime            float32
	ThrowInterval         float32
	ThrowSpeed            float32
	GrenadeFuse           float32
	ProjectileMaxSpeed    float32
	ProjectileRestitution float32
}

// DefaultTuning returns the stock movement constants in metres and seconds.
func DefaultTuning() Tuning {
	return Tuning{
		WalkSpeed:             6,
		CrouchSpeed:           3,
		JumpSpeed:             7,
		Gravity:               20,
		MaxFallSpeed:          40,
		Radius:                0.3,
		Height:                1.8,
		MaxPitch:              89,
		FireInterval:          [state.WeaponSlots]float32{0.1, 0.9, 0.35},
		MagazineSize:          [state.WeaponSlots]uint16{30, 5, 12},
		ReloadTime:            1.5,
		SwitchTime:            0.4,
		ThrowInterval:         0.8,
		ThrowSpeed:            15,
		GrenadeFuse:           2.5,
		ProjectileMaxSpeed:    50,
		ProjectileRestitution: 0.4,
	}
}

// Movement is the default voxel resolver.
type Movement struct {
	Tuning Tuning
}

// NewMovement constructs a resolver with tuning.
func NewMovement(tuning Tuning) *Movement {
	return &Movement{Tuning: tuning}
}

// Spawn returns a freshly spawned player at position with full magazines.
func (m *Movement) Spawn(position mgl32.Vec3, yaw float32, life uint16, grenades uint8) state.PlayerState {
	s := state.PlayerState{
		Transform:    state.Transform{Position: position, Yaw: state.WrapAngle(yaw)},
		LifeSequence: life,
		Grenades:     grenades,
	}
	for i := range s.Weapons {
		s.Weapons[i].Ammo = m.Tuning.MagazineSize[i]
	}
	return s
}

// Advance implements Resolver.
func (m *Movement) Advance(s state.PlayerState, in state.InputRequest, yaw float32, dt time.Duration, world World) state.PlayerState {
	step := float32(dt.Seconds())
	if step <= 0 {
		return s
	}
	if world == nil {
		world = flatWorld{}
	}
	t := m.Tuning

	//1.- Orientation follows the camera.
	s.Yaw = state.WrapAngle(yaw)
	s.Pitch = mgl32.Clamp(in.CamPitch, -t.MaxPitch, t.MaxPitch)

	//2.- Horizontal velocity comes straight from the wish direction.
	forward, right := forwardRight(s.Yaw)
	wish := mgl32.Vec3{}
	if in.Buttons.Has(state.ButtonForward) {
		wish = wish.Add(forward)
	}
	if in.Buttons.Has(state.ButtonBack) {
		wish = wish.Sub(forward)
	}
	if in.Buttons.Has(state.ButtonRight) {
		wish = wish.Add(right)
	}
	if in.Buttons.Has(state.ButtonLeft) {
		wish = wish.Sub(right)
	}
	speed := t.WalkSpeed
	if in.Buttons.Has(state.ButtonCrouch) {
		speed = t.CrouchSpeed
	}
	if wish.Len() > 0 {
		wish = wish.Normalize().Mul(speed)
	}
	s.Velocity[0], s.Velocity[2] = wish[0], wish[2]

	//3.- Jump only from the ground, then apply gravity.
	if s.Grounded && in.Buttons.Has(state.ButtonJump) {
		s.Velocity[1] = t.JumpSpeed
		s.Grounded = false
	}
	s.Velocity[1] -= t.Gravity * step
	if s.Velocity[1] < -t.MaxFallSpeed {
		s.Velocity[1] = -t.MaxFallSpeed
	}

	//4.- Sweep each axis independently against the voxel grid.
	s.Grounded = false
	for axis := 0; axis < 3; axis++ {
		next := s.Position
		next[axis] += s.Velocity[axis] * step
		if m.collides(world, next) {
			if axis == 1 && s.Velocity[1] < 0 {
				s.Grounded = true
				next[1] = float32(floorInt(s.Position[1]+1e-4))
				if !m.collides(world, next) {
					s.Position = next
				}
			}
			s.Velocity[axis] = 0
			continue
		}
		s.Position = next
	}

	//5.- Weapons tick down and react to the held buttons.
	s = m.advanceWeapons(s, in.Buttons, step)
	return s
}

func (m *Movement) advanceWeapons(s state.PlayerState, buttons state.Buttons, step float32) state.PlayerState {
	t := m.Tuning
	for i := range s.Weapons {
		slot := &s.Weapons[i]
		if slot.Cooldown > 0 {
			slot.Cooldown -= step
		}
		if slot.Cooldown > 0 {
			continue
		}
		slot.Cooldown = 0
		if slot.State == state.WeaponReloading {
			slot.Ammo = t.MagazineSize[i]
		}
		slot.State = state.WeaponIdle
	}

	idx := int(s.ActiveWeapon) % state.WeaponSlots
	active := &s.Weapons[idx]
	if active.State != state.WeaponIdle {
		return s
	}
	switch {
	case buttons.Has(state.ButtonNextWeapon):
		s.ActiveWeapon = uint8((idx + 1) % state.WeaponSlots)
		next := &s.Weapons[s.ActiveWeapon]
		next.State = state.WeaponSwitching
		next.Cooldown = t.SwitchTime
	case buttons.Has(state.ButtonGrenade) && s.Grenades > 0:
		s.Grenades--
		active.State = state.WeaponFiring
		active.Cooldown = t.ThrowInterval
	case buttons.Has(state.ButtonReload) && active.Ammo < t.MagazineSize[idx]:
		active.State = state.WeaponReloading
		active.Cooldown = t.ReloadTime
	case buttons.Has(state.ButtonFire) && active.Ammo > 0:
		active.Ammo--
		active.State = state.WeaponFiring
		active.Cooldown = t.FireInterval[idx]
	case buttons.Has(state.ButtonFire):
		active.State = state.WeaponReloading
		active.Cooldown = t.ReloadTime
	}
	return s
}

// GrenadeLaunch returns the projectile thrown by s along its aim.
func (m *Movement) GrenadeLaunch(owner state.EntityID, s state.PlayerState) state.ProjectileState {
	dir := aimDirection(s.Yaw, s.Pitch)
	eye := s.Position.Add(mgl32.Vec3{0, m.Tuning.Height * 0.9, 0})
	return state.ProjectileState{
		Owner:    owner,
		Kind:     state.ProjectileGrenade,
		Position: eye.Add(dir.Mul(m.Tuning.Radius * 2)),
		Velocity: s.Velocity.Add(dir.Mul(m.Tuning.ThrowSpeed)),
		Fuse:     m.Tuning.GrenadeFuse,
	}
}

func (m *Movement) collides(world World, feet mgl32.Vec3) bool {
	r, h := m.Tuning.Radius, m.Tuning.Height
	const skin = 1e-4
	x0, x1 := floorInt(feet[0]-r), floorInt(feet[0]+r-skin)
	y0, y1 := floorInt(feet[1]), floorInt(feet[1]+h-skin)
	z0, z1 := floorInt(feet[2]-r), floorInt(feet[2]+r-skin)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for z := z0; z <= z1; z++ {
				if world.Solid(x, y, z) {
					return true
				}
			}
		}
	}
	return false
}
