package state

import "time"

// EntityID identifies a player or projectile within a match.
type EntityID uint32

// Buttons is the bitmask of held inputs for one simulation step.
type Buttons uint16

const (
	ButtonForward Buttons = 1 << iota
	ButtonBack
	ButtonLeft
	ButtonRight
	ButtonJump
	ButtonCrouch
	ButtonFire
	ButtonReload
	ButtonGrenade
	ButtonNextWeapon
)

// Has reports whether every bit in b is held.
func (m Buttons) Has(b Buttons) bool { return m&b == b }

// InputRequest is one sampled input. It identifies exactly one simulation step
// and is never mutated after creation.
type InputRequest struct {
	SequenceID       uint32
	Buttons          Buttons
	CamYaw           float32
	CamPitch         float32
	FOV              float32
	AspectRatio      float32
	ClientRenderTime time.Duration
}

// SeqNewer reports whether sequence a is strictly newer than b, tolerating
// 32-bit wrap-around.
func SeqNewer(a, b uint32) bool {
	return int32(a-b) > 0
}

// SeqAtMost reports whether a is older than or equal to b.
func SeqAtMost(a, b uint32) bool {
	return !SeqNewer(a, b)
}
