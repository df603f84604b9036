package input

import (
	"math"

	"voxelstrike/netcore/internal/state"
)

const (
	knownButtons = state.ButtonForward | state.ButtonBack | state.ButtonLeft | state.ButtonRight |
		state.ButtonJump | state.ButtonCrouch | state.ButtonFire | state.ButtonReload |
		state.ButtonGrenade | state.ButtonNextWeapon
	maxPitch = 89
)

// Sanitize normalises a decoded input before simulation. Non-finite camera
// values reject the input; unknown buttons are masked and angles wrapped.
func Sanitize(req state.InputRequest) (state.InputRequest, bool) {
	for _, v := range []float32{req.CamYaw, req.CamPitch, req.FOV, req.AspectRatio} {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return req, false
		}
	}
	req.Buttons &= knownButtons
	req.CamYaw = state.WrapAngle(req.CamYaw)
	if req.CamPitch > maxPitch {
		req.CamPitch = maxPitch
	}
	if req.CamPitch < -maxPitch {
		req.CamPitch = -maxPitch
	}
	return req, true
}
