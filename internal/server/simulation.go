// Package server hosts the authoritative side of the netcode: per-client input
// buffers, the fixed-tick simulation and the glue that feeds it from the
// transport.
package server

import (
	"errors"
	"sort"
	"time"

	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/physics"
	"voxelstrike/netcore/internal/protocol"
	"voxelstrike/netcore/internal/ring"
	"voxelstrike/netcore/internal/state"
)

const (
	// DefaultHistory is the number of server snapshots retained.
	DefaultHistory = 64
	// StallLogTicks is how long a client may starve before a warning.
	StallLogTicks = 10
	// TeamCount is the number of teams players are spread over.
	TeamCount = 2
	// DefaultGrenades is the grenade count of a fresh spawn.
	DefaultGrenades uint8 = 2
	// projectileIDBase keeps projectile ids clear of player ids.
	projectileIDBase state.EntityID = 1 << 20
)

var (
	// ErrPlayerExists reports a join for an id already simulated.
	ErrPlayerExists = errors.New("server: player already joined")
	// ErrUnknownPlayer reports an operation on an id that is not simulated.
	ErrUnknownPlayer = errors.New("server: unknown player")
)

// Outbox delivers packets produced by a tick.
type Outbox interface {
	Send(id state.EntityID, p protocol.Packet)
}

// SimulationConfig tunes the authoritative simulation.
type SimulationConfig struct {
	TickRate      int
	History       int
	StallLogTicks int
	TeamCount     int
	Grenades      uint8
}

func (c SimulationConfig) withDefaults() SimulationConfig {
	if c.TickRate <= 0 {
		c.TickRate = 30
	}
	if c.History <= 0 {
		c.History = DefaultHistory
	}
	if c.StallLogTicks <= 0 {
		c.StallLogTicks = StallLogTicks
	}
	if c.TeamCount <= 0 {
		c.TeamCount = TeamCount
	}
	if c.Grenades == 0 {
		c.Grenades = DefaultGrenades
	}
	return c
}

// Player is one simulated client.
type Player struct {
	ID        state.EntityID
	Name      string
	Team      uint8
	State     state.PlayerState
	Buffer    *InputBuffer
	LastInput state.InputRequest
	stalled   bool
}

// SimulationStats summarises one tick for monitoring.
type SimulationStats struct {
	Tick        uint32
	Players     int
	Starving    int
	Projectiles int
	Respawns    uint64
}

// TickEvent is a notable occurrence during a tick.
type TickEvent struct {
	Kind   string
	Player state.EntityID
	Detail map[string]any
}

// Simulation owns every authoritative player state and the snapshot history.
// It is driven from a single goroutine.
type Simulation struct {
	cfg      SimulationConfig
	interval time.Duration
	resolver physics.Resolver
	movement *physics.Movement
	world    physics.World
	mode     GameMode
	spawns   SpawnPoints
	logger   *logging.Logger

	tick        uint32
	players     map[state.EntityID]*Player
	projectiles *state.ProjectileStore
	history     *ring.Ring[state.Snapshot]
	nextTeam    int
	respawns    uint64
	events      []TickEvent
}

// SimulationOption customises a simulation.
type SimulationOption func(*Simulation)

// WithResolver swaps the movement resolver. The movement tuning still drives
// spawns and grenades.
func WithResolver(r physics.Resolver) SimulationOption {
	return func(s *Simulation) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithGameMode installs the match rules.
func WithGameMode(m GameMode) SimulationOption {
	return func(s *Simulation) {
		if m != nil {
			s.mode = m
		}
	}
}

// WithSpawnPoints installs the spawn selector.
func WithSpawnPoints(sp SpawnPoints) SimulationOption {
	return func(s *Simulation) {
		if sp != nil {
			s.spawns = sp
		}
	}
}

// WithSimulationLogger attaches a logger.
func WithSimulationLogger(l *logging.Logger) SimulationOption {
	return func(s *Simulation) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSimulation constructs a simulation over world.
func NewSimulation(cfg SimulationConfig, movement *physics.Movement, world physics.World, opts ...SimulationOption) *Simulation {
	cfg = cfg.withDefaults()
	if movement == nil {
		movement = physics.NewMovement(physics.DefaultTuning())
	}
	s := &Simulation{
		cfg:         cfg,
		interval:    state.TickInterval(cfg.TickRate),
		resolver:    movement,
		movement:    movement,
		world:       world,
		mode:        NewDeathmatch(),
		spawns:      NewSpawnRing(),
		logger:      logging.L(),
		players:     make(map[state.EntityID]*Player),
		projectiles: state.NewProjectileStore(projectileIDBase),
		history:     ring.New[state.Snapshot](cfg.History),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Join spawns a player on the next team in rotation.
func (s *Simulation) Join(id state.EntityID, name string) (*Player, error) {
	team := uint8(s.nextTeam % s.cfg.TeamCount)
	p, err := s.JoinTeam(id, name, team)
	if err == nil {
		s.nextTeam++
	}
	return p, err
}

// JoinTeam spawns a player on a given team, used for reconnects.
func (s *Simulation) JoinTeam(id state.EntityID, name string, team uint8) (*Player, error) {
	if _, ok := s.players[id]; ok {
		return nil, ErrPlayerExists
	}
	pos, yaw := s.spawns.Next(id, team)
	p := &Player{
		ID:     id,
		Name:   name,
		Team:   team % uint8(s.cfg.TeamCount),
		State:  s.movement.Spawn(pos, yaw, 1, s.cfg.Grenades),
		Buffer: NewInputBuffer(),
	}
	s.players[id] = p
	s.events = append(s.events, TickEvent{Kind: "join", Player: id, Detail: map[string]any{"name": name, "team": p.Team}})
	s.logger.Info("player joined",
		logging.Uint32("player", uint32(id)),
		logging.String("name", name),
		logging.Int("team", int(p.Team)))
	return p, nil
}

// Leave evicts a player and its input buffer immediately.
func (s *Simulation) Leave(id state.EntityID) bool {
	if _, ok := s.players[id]; !ok {
		return false
	}
	delete(s.players, id)
	if f, ok := s.mode.(interface{ Forget(state.EntityID) }); ok {
		f.Forget(id)
	}
	s.events = append(s.events, TickEvent{Kind: "leave", Player: id})
	s.logger.Info("player left", logging.Uint32("player", uint32(id)))
	return true
}

// Push buffers an input for id.
func (s *Simulation) Push(id state.EntityID, req state.InputRequest) bool {
	p, ok := s.players[id]
	if !ok {
		return false
	}
	return p.Buffer.Push(req)
}

// LastConsumed is the id of the newest input simulated for id, zero when
// none has been or the player is unknown.
func (s *Simulation) LastConsumed(id state.EntityID) uint32 {
	p, ok := s.players[id]
	if !ok {
		return 0
	}
	return p.Buffer.LastConsumedID()
}

// Respawn moves a player to a fresh spawn with a new life.
func (s *Simulation) Respawn(id state.EntityID) error {
	p, ok := s.players[id]
	if !ok {
		return ErrUnknownPlayer
	}
	pos, yaw := s.spawns.Next(id, p.Team)
	p.State = s.movement.Spawn(pos, yaw, p.State.LifeSequence+1, s.cfg.Grenades)
	s.respawns++
	s.events = append(s.events, TickEvent{Kind: "respawn", Player: id, Detail: map[string]any{"life": p.State.LifeSequence}})
	return nil
}

// Tick advances the world by one step in fixed order: drain one input per
// player, advance movement, update the world, append the snapshot, then
// broadcast world updates followed by per-player acknowledgements.
func (s *Simulation) Tick(out Outbox) state.Snapshot {
	ids := s.playerIDs()

	//1.- Drain and advance; a starving player holds its last state.
	for _, id := range ids {
		p := s.players[id]
		in, ok := p.Buffer.Consume()
		if !ok {
			s.noteStarving(p)
			continue
		}
		if p.stalled {
			p.stalled = false
			s.logger.Info("input stream recovered", logging.Uint32("player", uint32(id)))
		}
		prev := p.State
		p.State = s.resolver.Advance(p.State, in, in.CamYaw, s.interval, s.world)
		p.LastInput = in
		if p.State.Grenades < prev.Grenades && p.State.LifeSequence == prev.LifeSequence {
			s.projectiles.Spawn(s.movement.GrenadeLaunch(id, p.State))
		}
	}

	//2.- World update: projectiles then match rules.
	detonated := s.projectiles.Advance(physics.ProjectileStep(s.movement.Tuning, s.world, float32(s.interval.Seconds())))
	states := make(map[state.EntityID]state.PlayerState, len(ids))
	for _, id := range ids {
		states[id] = s.players[id].State
	}
	for _, id := range s.mode.Update(s.tick, states, detonated) {
		if err := s.Respawn(id); err != nil {
			s.logger.Debug("respawn skipped", logging.Uint32("player", uint32(id)), logging.Error(err))
		}
	}

	//3.- Record exactly one snapshot for this tick.
	snap := state.NewSnapshot(s.tick)
	for _, id := range ids {
		snap.Players[id] = s.players[id].State
	}
	s.projectiles.Snapshot(snap.Projectiles)
	s.history.PushBack(snap)

	//4.- Broadcast, then acknowledge.
	if out != nil {
		for _, id := range ids {
			out.Send(id, &protocol.WorldUpdate{LastAckedInput: s.players[id].Buffer.LastConsumedID(), Snapshot: snap})
		}
		for _, id := range ids {
			p := s.players[id]
			out.Send(id, &protocol.PlayerInputAck{LastConsumedID: p.Buffer.LastConsumedID(), ServerTick: s.tick, State: p.State})
		}
	}
	s.tick++
	return snap
}

// DrainEvents returns and clears the events recorded since the last call.
func (s *Simulation) DrainEvents() []TickEvent {
	events := s.events
	s.events = nil
	return events
}

// CurrentTick is the tick the next call to Tick will simulate.
func (s *Simulation) CurrentTick() uint32 { return s.tick }

// TickRate returns the configured rate in Hz.
func (s *Simulation) TickRate() int { return s.cfg.TickRate }

// ModeName names the active game mode.
func (s *Simulation) ModeName() string { return s.mode.Name() }

// Player returns the simulated player id.
func (s *Simulation) Player(id state.EntityID) (*Player, bool) {
	p, ok := s.players[id]
	return p, ok
}

// History returns the retained snapshots, oldest first.
func (s *Simulation) History() []state.Snapshot { return s.history.Values() }

// SnapshotAt returns the retained snapshot for tick.
func (s *Simulation) SnapshotAt(tick uint32) (state.Snapshot, bool) {
	return s.history.FindLast(func(snap state.Snapshot) bool { return snap.ServerTick == tick })
}

// Stats summarises the current simulation.
func (s *Simulation) Stats() SimulationStats {
	starving := 0
	for _, p := range s.players {
		if p.Buffer.StarvedTicks() > 0 {
			starving++
		}
	}
	return SimulationStats{
		Tick:        s.tick,
		Players:     len(s.players),
		Starving:    starving,
		Projectiles: s.projectiles.Len(),
		Respawns:    s.respawns,
	}
}

func (s *Simulation) noteStarving(p *Player) {
	if p.stalled || p.Buffer.StarvedTicks() <= s.cfg.StallLogTicks {
		return
	}
	p.stalled = true
	s.events = append(s.events, TickEvent{Kind: "stall", Player: p.ID, Detail: map[string]any{"ticks": p.Buffer.StarvedTicks()}})
	s.logger.Warn("input stream stalled",
		logging.Uint32("player", uint32(p.ID)),
		logging.Int("starved_ticks", p.Buffer.StarvedTicks()),
		logging.Uint32("last_consumed", p.Buffer.LastConsumedID()))
}

func (s *Simulation) playerIDs() []state.EntityID {
	ids := make([]state.EntityID, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
