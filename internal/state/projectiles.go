package state

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// ProjectileKind enumerates simulated projectile types.
type ProjectileKind uint8

const (
	ProjectileGrenade ProjectileKind = iota + 1
)

// ProjectileState tracks projectile kinematics for snapshots.
type ProjectileState struct {
	ID       EntityID
	Owner    EntityID
	Kind     ProjectileKind
	Position mgl32.Vec3
	Velocity mgl32.Vec3
	Fuse     float32
}

// ProjectileStepFunc advances one projectile and reports whether it expired.
type ProjectileStepFunc func(p ProjectileState) (next ProjectileState, expired bool)

// ProjectileStore owns the live projectiles of a simulation.
type ProjectileStore struct {
	mu     sync.RWMutex
	states map[EntityID]ProjectileState
	nextID EntityID
}

// NewProjectileStore constructs a projectile container. Identifiers start at
// base so they never collide with player identifiers.
func NewProjectileStore(base EntityID) *ProjectileStore {
	return &ProjectileStore{
		states: make(map[EntityID]ProjectileState),
		nextID: base,
	}
}

// Spawn assigns an identifier to p and stores it.
func (s *ProjectileStore) Spawn(p ProjectileState) ProjectileState {
	s.mu.Lock()
	defer s.mu.Unlock()
	//1.- Allocate the next identifier and record the projectile.
	s.nextID++
	p.ID = s.nextID
	s.states[p.ID] = p
	return p
}

// Remove deletes a projectile.
func (s *ProjectileStore) Remove(id EntityID) {
	s.mu.Lock()
	delete(s.states, id)
	s.mu.Unlock()
}

// Advance runs step over every projectile in identifier order and returns the
// projectiles that expired during this step.
func (s *ProjectileStore) Advance(step ProjectileStepFunc) []ProjectileState {
	if step == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	//1.- Iterate deterministically so replays see the same expiry order.
	ids := make([]EntityID, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var expired []ProjectileState
	for _, id := range ids {
		next, done := step(s.states[id])
		//2.- Expired projectiles leave the store and are reported to the caller.
		if done {
			delete(s.states, id)
			expired = append(expired, next)
			continue
		}
		s.states[id] = next
	}
	return expired
}

// Len reports the number of live projectiles.
func (s *ProjectileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Snapshot copies every live projectile into dst.
func (s *ProjectileStore) Snapshot(dst map[EntityID]ProjectileState) {
	s.mu.RLock()
	for id, p := range s.states {
		dst[id] = p
	}
	s.mu.RUnlock()
}
