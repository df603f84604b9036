package state

import (
	"sort"
	"time"
)

// Snapshot is the authoritative world state for one server tick.
type Snapshot struct {
	ServerTick  uint32
	Players     map[EntityID]PlayerState
	Projectiles map[EntityID]ProjectileState
}

// NewSnapshot allocates an empty snapshot for tick.
func NewSnapshot(tick uint32) Snapshot {
	return Snapshot{
		ServerTick:  tick,
		Players:     make(map[EntityID]PlayerState),
		Projectiles: make(map[EntityID]ProjectileState),
	}
}

// Clone deep copies the entity maps so the result can be stored in history.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		ServerTick:  s.ServerTick,
		Players:     make(map[EntityID]PlayerState, len(s.Players)),
		Projectiles: make(map[EntityID]ProjectileState, len(s.Projectiles)),
	}
	for id, p := range s.Players {
		out.Players[id] = p
	}
	for id, p := range s.Projectiles {
		out.Projectiles[id] = p
	}
	return out
}

// Player returns the state of id when present.
func (s Snapshot) Player(id EntityID) (PlayerState, bool) {
	p, ok := s.Players[id]
	return p, ok
}

// PlayerIDs returns the player identifiers in ascending order.
func (s Snapshot) PlayerIDs() []EntityID {
	ids := make([]EntityID, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TickToTime converts a server tick to simulation time.
func TickToTime(tick uint32, interval time.Duration) time.Duration {
	return time.Duration(tick) * interval
}

// TickInterval returns the duration of one tick at rate Hz.
func TickInterval(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Second / time.Duration(rate)
}
