package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstrike/netcore/internal/state"
)

func clampVec3Magnitude(vector mgl32.Vec3, limit float32) mgl32.Vec3 {
	//1.- Skip clamping when the limit disables the guard.
	if !(limit > 0) {
		return vector
	}
	magnitudeSq := vector.Dot(vector)
	if magnitudeSq == 0 || magnitudeSq <= limit*limit {
		return vector
	}
	//2.- Scale each axis uniformly so the resulting magnitude matches the limit.
	return vector.Mul(limit / float32(math.Sqrt(float64(magnitudeSq))))
}

// forwardRight returns the horizontal basis for a yaw in degrees.
func forwardRight(yawDeg float32) (mgl32.Vec3, mgl32.Vec3) {
	rad := float64(mgl32.DegToRad(yawDeg))
	sin, cos := float32(math.Sin(rad)), float32(math.Cos(rad))
	return mgl32.Vec3{sin, 0, cos}, mgl32.Vec3{cos, 0, -sin}
}

// aimDirection returns the unit vector for a yaw and pitch in degrees.
func aimDirection(yawDeg, pitchDeg float32) mgl32.Vec3 {
	yaw := float64(mgl32.DegToRad(yawDeg))
	pitch := float64(mgl32.DegToRad(pitchDeg))
	cp := math.Cos(pitch)
	return mgl32.Vec3{float32(math.Sin(yaw) * cp), float32(math.Sin(pitch)), float32(math.Cos(yaw) * cp)}
}

// ProjectileStep returns a step function integrating ballistic projectiles for
// dt seconds against world.
func ProjectileStep(tuning Tuning, world World, dt float32) state.ProjectileStepFunc {
	if world == nil {
		world = flatWorld{}
	}
	return func(p state.ProjectileState) (state.ProjectileState, bool) {
		//1.- Apply gravity and clamp to the terminal velocity.
		p.Velocity[1] -= tuning.Gravity * dt
		p.Velocity = clampVec3Magnitude(p.Velocity, tuning.ProjectileMaxSpeed)
		//2.- Integrate each axis and bounce on solid voxels.
		for axis := 0; axis < 3; axis++ {
			next := p.Position
			next[axis] += p.Velocity[axis] * dt
			if pointSolid(world, next) {
				p.Velocity[axis] = -p.Velocity[axis] * tuning.ProjectileRestitution
				continue
			}
			p.Position = next
		}
		//3.- Burn the fuse and report expiry.
		p.Fuse -= dt
		return p, p.Fuse <= 0
	}
}

func pointSolid(world World, p mgl32.Vec3) bool {
	return world.Solid(floorInt(p[0]), floorInt(p[1]), floorInt(p[2]))
}

func floorInt(v float32) int {
	return int(math.Floor(float64(v)))
}
