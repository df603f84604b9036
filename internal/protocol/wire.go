package protocol

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"google.golang.org/protobuf/encoding/protowire"

	"voxelstrike/netcore/internal/state"
)

// fieldFunc consumes the value of one field and returns the bytes used. A zero
// return leaves the field to be skipped and a negative one reports corruption.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d", ErrTruncated, num)
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int) {
	if typ != protowire.VarintType {
		return 0, -1
	}
	return protowire.ConsumeVarint(b)
}

func consumeFloat(typ protowire.Type, b []byte) (float32, int) {
	if typ != protowire.Fixed32Type {
		return 0, -1
	}
	v, n := protowire.ConsumeFixed32(b)
	return math.Float32frombits(v), n
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, -1
	}
	return protowire.ConsumeBytes(b)
}

// nested decodes a length-delimited submessage with decode.
func nested(typ protowire.Type, b []byte, decode func([]byte) error) int {
	body, n := consumeBytes(typ, b)
	if n < 0 {
		return n
	}
	if err := decode(body); err != nil {
		return -1
	}
	return n
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendMessage writes a length-delimited submessage produced by fn.
func appendMessage(b []byte, num protowire.Number, fn func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, fn(nil))
}

func appendVec3(b []byte, v mgl32.Vec3) []byte {
	b = appendFloat(b, 1, v[0])
	b = appendFloat(b, 2, v[1])
	return appendFloat(b, 3, v[2])
}

func decodeVec3(b []byte, v *mgl32.Vec3) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num < 1 || num > 3 {
			return 0
		}
		f, n := consumeFloat(typ, b)
		if n >= 0 {
			v[num-1] = f
		}
		return n
	})
}

func appendInput(b []byte, in state.InputRequest) []byte {
	b = appendVarint(b, 1, uint64(in.SequenceID))
	b = appendVarint(b, 2, uint64(in.Buttons))
	b = appendFloat(b, 3, in.CamYaw)
	b = appendFloat(b, 4, in.CamPitch)
	b = appendFloat(b, 5, in.FOV)
	b = appendFloat(b, 6, in.AspectRatio)
	return appendVarint(b, 7, protowire.EncodeZigZag(int64(in.ClientRenderTime)))
}

func decodeInput(b []byte, in *state.InputRequest) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1, 2, 7:
			v, n := consumeVarint(typ, b)
			if n < 0 {
				return n
			}
			switch num {
			case 1:
				in.SequenceID = uint32(v)
			case 2:
				in.Buttons = state.Buttons(v)
			case 7:
				in.ClientRenderTime = time.Duration(protowire.DecodeZigZag(v))
			}
			return n
		case 3, 4, 5, 6:
			f, n := consumeFloat(typ, b)
			if n < 0 {
				return n
			}
			switch num {
			case 3:
				in.CamYaw = f
			case 4:
				in.CamPitch = f
			case 5:
				in.FOV = f
			case 6:
				in.AspectRatio = f
			}
			return n
		}
		return 0
	})
}

func appendWeapon(b []byte, w state.WeaponSlot) []byte {
	b = appendVarint(b, 1, uint64(w.Ammo))
	b = appendVarint(b, 2, uint64(w.State))
	return appendFloat(b, 3, w.Cooldown)
}

func decodeWeapon(b []byte, w *state.WeaponSlot) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			v, n := consumeVarint(typ, b)
			w.Ammo = uint16(v)
			return n
		case 2:
			v, n := consumeVarint(typ, b)
			w.State = state.WeaponState(v)
			return n
		case 3:
			f, n := consumeFloat(typ, b)
			w.Cooldown = f
			return n
		}
		return 0
	})
}

func appendPlayer(b []byte, s state.PlayerState) []byte {
	b = appendMessage(b, 1, func(m []byte) []byte { return appendVec3(m, s.Position) })
	b = appendMessage(b, 2, func(m []byte) []byte { return appendVec3(m, s.Velocity) })
	b = appendFloat(b, 3, s.Yaw)
	b = appendFloat(b, 4, s.Pitch)
	grounded := uint64(0)
	if s.Grounded {
		grounded = 1
	}
	b = appendVarint(b, 5, grounded)
	b = appendVarint(b, 6, uint64(s.LifeSequence))
	b = appendVarint(b, 7, uint64(s.ActiveWeapon))
	for _, w := range s.Weapons {
		b = appendMessage(b, 8, func(m []byte) []byte { return appendWeapon(m, w) })
	}
	return appendVarint(b, 9, uint64(s.Grenades))
}

func decodePlayer(b []byte, s *state.PlayerState) error {
	weapon := 0
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return nested(typ, b, func(m []byte) error { return decodeVec3(m, &s.Position) })
		case 2:
			return nested(typ, b, func(m []byte) error { return decodeVec3(m, &s.Velocity) })
		case 3:
			f, n := consumeFloat(typ, b)
			s.Yaw = f
			return n
		case 4:
			f, n := consumeFloat(typ, b)
			s.Pitch = f
			return n
		case 5, 6, 7, 9:
			v, n := consumeVarint(typ, b)
			switch num {
			case 5:
				s.Grounded = v != 0
			case 6:
				s.LifeSequence = uint16(v)
			case 7:
				s.ActiveWeapon = uint8(v)
			case 9:
				s.Grenades = uint8(v)
			}
			return n
		case 8:
			if weapon >= len(s.Weapons) {
				return 0
			}
			idx := weapon
			weapon++
			return nested(typ, b, func(m []byte) error { return decodeWeapon(m, &s.Weapons[idx]) })
		}
		return 0
	})
}

func appendProjectile(b []byte, p state.ProjectileState) []byte {
	b = appendVarint(b, 1, uint64(p.ID))
	b = appendVarint(b, 2, uint64(p.Owner))
	b = appendVarint(b, 3, uint64(p.Kind))
	b = appendMessage(b, 4, func(m []byte) []byte { return appendVec3(m, p.Position) })
	b = appendMessage(b, 5, func(m []byte) []byte { return appendVec3(m, p.Velocity) })
	return appendFloat(b, 6, p.Fuse)
}

func decodeProjectile(b []byte, p *state.ProjectileState) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1, 2, 3:
			v, n := consumeVarint(typ, b)
			switch num {
			case 1:
				p.ID = state.EntityID(v)
			case 2:
				p.Owner = state.EntityID(v)
			case 3:
				p.Kind = state.ProjectileKind(v)
			}
			return n
		case 4:
			return nested(typ, b, func(m []byte) error { return decodeVec3(m, &p.Position) })
		case 5:
			return nested(typ, b, func(m []byte) error { return decodeVec3(m, &p.Velocity) })
		case 6:
			f, n := consumeFloat(typ, b)
			p.Fuse = f
			return n
		}
		return 0
	})
}

// AppendSnapshot encodes s with entities in ascending identifier order so the
// output is stable.
func AppendSnapshot(b []byte, s state.Snapshot) []byte {
	b = appendVarint(b, 1, uint64(s.ServerTick))
	for _, id := range s.PlayerIDs() {
		player := s.Players[id]
		b = appendMessage(b, 2, func(m []byte) []byte {
			m = appendVarint(m, 1, uint64(id))
			return appendMessage(m, 2, func(inner []byte) []byte { return appendPlayer(inner, player) })
		})
	}
	projectileIDs := make([]state.EntityID, 0, len(s.Projectiles))
	for id := range s.Projectiles {
		projectileIDs = append(projectileIDs, id)
	}
	sort.Slice(projectileIDs, func(i, j int) bool { return projectileIDs[i] < projectileIDs[j] })
	for _, id := range projectileIDs {
		p := s.Projectiles[id]
		b = appendMessage(b, 3, func(m []byte) []byte { return appendProjectile(m, p) })
	}
	return b
}

// DecodeSnapshot parses a snapshot written by AppendSnapshot.
func DecodeSnapshot(b []byte) (state.Snapshot, error) {
	s := state.NewSnapshot(0)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			v, n := consumeVarint(typ, b)
			s.ServerTick = uint32(v)
			return n
		case 2:
			return nested(typ, b, func(m []byte) error {
				var id state.EntityID
				var player state.PlayerState
				if err := walk(m, func(num protowire.Number, typ protowire.Type, b []byte) int {
					switch num {
					case 1:
						v, n := consumeVarint(typ, b)
						id = state.EntityID(v)
						return n
					case 2:
						return nested(typ, b, func(inner []byte) error { return decodePlayer(inner, &player) })
					}
					return 0
				}); err != nil {
					return err
				}
				s.Players[id] = player
				return nil
			})
		case 3:
			return nested(typ, b, func(m []byte) error {
				var p state.ProjectileState
				if err := decodeProjectile(m, &p); err != nil {
					return err
				}
				s.Projectiles[p.ID] = p
				return nil
			})
		}
		return 0
	})
	return s, err
}
