package server

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstrike/netcore/internal/state"
)

// GameMode applies match rules after movement each tick. It returns the
// players that must respawn.
type GameMode interface {
	Name() string
	Update(tick uint32, players map[state.EntityID]state.PlayerState, detonated []state.ProjectileState) []state.EntityID
}

// SpawnPoints chooses where a player enters the world.
type SpawnPoints interface {
	Next(id state.EntityID, team uint8) (position mgl32.Vec3, yaw float32)
}

// SpawnRing cycles through a fixed list of points.
type SpawnRing struct {
	mu     sync.Mutex
	points []mgl32.Vec3
	next   int
}

// NewSpawnRing returns a ring over points, or the origin when empty.
func NewSpawnRing(points ...mgl32.Vec3) *SpawnRing {
	if len(points) == 0 {
		points = []mgl32.Vec3{{0, 0, 0}}
	}
	return &SpawnRing{points: append([]mgl32.Vec3(nil), points...)}
}

// Next implements SpawnPoints.
func (r *SpawnRing) Next(_ state.EntityID, _ uint8) (mgl32.Vec3, float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.points[r.next%len(r.points)]
	r.next++
	return p, 0
}

// DefaultSplashRadius is the grenade kill radius of Deathmatch.
const DefaultSplashRadius float32 = 3

// Deathmatch respawns every player caught in a grenade detonation and keeps a
// frag count per thrower.
type Deathmatch struct {
	SplashRadius float32

	mu    sync.Mutex
	frags map[state.EntityID]int
}

// NewDeathmatch returns the default mode.
func NewDeathmatch() *Deathmatch {
	return &Deathmatch{SplashRadius: DefaultSplashRadius, frags: make(map[state.EntityID]int)}
}

// Name implements GameMode.
func (d *Deathmatch) Name() string { return "deathmatch" }

// Update implements GameMode.
func (d *Deathmatch) Update(_ uint32, players map[state.EntityID]state.PlayerState, detonated []state.ProjectileState) []state.EntityID {
	if len(detonated) == 0 {
		return nil
	}
	seen := make(map[state.EntityID]struct{})
	var killed []state.EntityID
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, blast := range detonated {
		for id, p := range players {
			if _, done := seen[id]; done {
				continue
			}
			if p.Position.Sub(blast.Position).Len() > d.SplashRadius {
				continue
			}
			seen[id] = struct{}{}
			killed = append(killed, id)
			if id != blast.Owner {
				d.frags[blast.Owner]++
			} else {
				d.frags[id]--
			}
		}
	}
	sort.Slice(killed, func(i, j int) bool { return killed[i] < killed[j] })
	return killed
}

// Frags returns a copy of the scoreboard.
func (d *Deathmatch) Frags() map[state.EntityID]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[state.EntityID]int, len(d.frags))
	for id, n := range d.frags {
		out[id] = n
	}
	return out
}

// Forget drops a departed player's score.
func (d *Deathmatch) Forget(id state.EntityID) {
	d.mu.Lock()
	delete(d.frags, id)
	d.mu.Unlock()
}
