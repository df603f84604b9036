package state

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Divergence tolerances applied by Diverges. Discrete fields always compare
// exactly.
var (
	PositionEpsilon float32 = 1e-3
	AngleEpsilon    float32 = 1e-2
	CooldownEpsilon float32 = 1e-3
)

// WeaponSlots is the number of weapon slots carried by a player.
const WeaponSlots = 3

// WeaponState enumerates the discrete weapon phases.
type WeaponState uint8

const (
	WeaponIdle WeaponState = iota
	WeaponFiring
	WeaponReloading
	WeaponSwitching
)

func (w WeaponState) String() string {
	switch w {
	case WeaponIdle:
		return "idle"
	case WeaponFiring:
		return "firing"
	case WeaponReloading:
		return "reloading"
	case WeaponSwitching:
		return "switching"
	default:
		return "unknown"
	}
}

// WeaponSlot holds the per-weapon ammo and cooldown state.
type WeaponSlot struct {
	Ammo     uint16
	State    WeaponState
	Cooldown float32
}

// Transform is the continuous kinematic part of a player. Angles are degrees.
type Transform struct {
	Position mgl32.Vec3
	Velocity mgl32.Vec3
	Yaw      float32
	Pitch    float32
}

// Add composes two transforms. Angles wrap to [-180, 180).
func (t Transform) Add(o Transform) Transform {
	return Transform{
		Position: t.Position.Add(o.Position),
		Velocity: t.Velocity.Add(o.Velocity),
		Yaw:      WrapAngle(t.Yaw + o.Yaw),
		Pitch:    WrapAngle(t.Pitch + o.Pitch),
	}
}

// Sub returns t - o using the shortest angular difference.
func (t Transform) Sub(o Transform) Transform {
	return Transform{
		Position: t.Position.Sub(o.Position),
		Velocity: t.Velocity.Sub(o.Velocity),
		Yaw:      WrapAngle(t.Yaw - o.Yaw),
		Pitch:    WrapAngle(t.Pitch - o.Pitch),
	}
}

// Scale multiplies every component by f.
func (t Transform) Scale(f float32) Transform {
	return Transform{
		Position: t.Position.Mul(f),
		Velocity: t.Velocity.Mul(f),
		Yaw:      t.Yaw * f,
		Pitch:    t.Pitch * f,
	}
}

// IsZero reports whether the transform carries no offset.
func (t Transform) IsZero() bool {
	return t == Transform{}
}

// Magnitude returns the positional length of the transform.
func (t Transform) Magnitude() float32 {
	return t.Position.Len()
}

// PlayerState is the authoritative or predicted state of one player.
type PlayerState struct {
	Transform
	Grounded     bool
	LifeSequence uint16
	ActiveWeapon uint8
	Weapons      [WeaponSlots]WeaponSlot
	Grenades     uint8
}

// Active returns the currently selected weapon slot.
func (s PlayerState) Active() WeaponSlot {
	return s.Weapons[int(s.ActiveWeapon)%WeaponSlots]
}

// WithTransform returns a copy of s carrying t.
func (s PlayerState) WithTransform(t Transform) PlayerState {
	s.Transform = t
	return s
}

// Add applies the continuous fields of o to s. Discrete fields keep s's values.
func (s PlayerState) Add(o PlayerState) PlayerState {
	out := s
	out.Transform = s.Transform.Add(o.Transform)
	for i := range out.Weapons {
		out.Weapons[i].Cooldown = s.Weapons[i].Cooldown + o.Weapons[i].Cooldown
	}
	return out
}

// Sub subtracts the continuous fields of o from s. Discrete fields keep s's values.
func (s PlayerState) Sub(o PlayerState) PlayerState {
	out := s
	out.Transform = s.Transform.Sub(o.Transform)
	for i := range out.Weapons {
		out.Weapons[i].Cooldown = s.Weapons[i].Cooldown - o.Weapons[i].Cooldown
	}
	return out
}

// Scale multiplies the continuous fields by f.
func (s PlayerState) Scale(f float32) PlayerState {
	out := s
	out.Transform = s.Transform.Scale(f)
	for i := range out.Weapons {
		out.Weapons[i].Cooldown = s.Weapons[i].Cooldown * f
	}
	return out
}

// Diverges reports whether two states differ beyond tolerance. Discrete fields
// compare exactly and continuous fields use the package epsilons.
func Diverges(a, b PlayerState) bool {
	//1.- Any discrete mismatch is a divergence regardless of magnitudes.
	if a.Grounded != b.Grounded || a.LifeSequence != b.LifeSequence ||
		a.ActiveWeapon != b.ActiveWeapon || a.Grenades != b.Grenades {
		return true
	}
	for i := range a.Weapons {
		wa, wb := a.Weapons[i], b.Weapons[i]
		if wa.Ammo != wb.Ammo || wa.State != wb.State {
			return true
		}
		if absf(wa.Cooldown-wb.Cooldown) > CooldownEpsilon {
			return true
		}
	}
	//2.- Continuous fields compare per axis.
	for i := 0; i < 3; i++ {
		if absf(a.Position[i]-b.Position[i]) > PositionEpsilon {
			return true
		}
		if absf(a.Velocity[i]-b.Velocity[i]) > PositionEpsilon {
			return true
		}
	}
	if absf(WrapAngle(a.Yaw-b.Yaw)) > AngleEpsilon || absf(WrapAngle(a.Pitch-b.Pitch)) > AngleEpsilon {
		return true
	}
	return false
}

// Lerp blends from s1 toward s2 by w in [0, 1]. Positions and velocities are
// linear and angles follow the shortest arc. Discrete fields come from s1 when
// w is zero and from s2 otherwise.
func Lerp(s1, s2 PlayerState, w float32) PlayerState {
	w = clamp01(w)
	//1.- The brackets themselves come back untouched.
	switch w {
	case 0:
		return s1
	case 1:
		return s2
	}
	out := s2
	out.Position = lerpVec(s1.Position, s2.Position, w)
	out.Velocity = lerpVec(s1.Velocity, s2.Velocity, w)
	out.Yaw = LerpAngle(s1.Yaw, s2.Yaw, w)
	out.Pitch = LerpAngle(s1.Pitch, s2.Pitch, w)
	for i := range out.Weapons {
		out.Weapons[i].Cooldown = s1.Weapons[i].Cooldown + (s2.Weapons[i].Cooldown-s1.Weapons[i].Cooldown)*w
	}
	return out
}

// WrapAngle normalizes degrees to [-180, 180).
func WrapAngle(angle float32) float32 {
	if angle >= -180 && angle < 180 {
		return angle
	}
	wrapped := float32(math.Mod(float64(angle)+180, 360))
	if wrapped < 0 {
		wrapped += 360
	}
	return wrapped - 180
}

// LerpAngle interpolates along the shortest arc between two angles.
func LerpAngle(a, b, w float32) float32 {
	return WrapAngle(a + WrapAngle(b-a)*w)
}

func lerpVec(a, b mgl32.Vec3, w float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(w))
}

func clamp01(w float32) float32 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
