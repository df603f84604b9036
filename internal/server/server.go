package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"voxelstrike/netcore/internal/auth"
	"voxelstrike/netcore/internal/input"
	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/networking"
	"voxelstrike/netcore/internal/protocol"
	"voxelstrike/netcore/internal/state"
	"voxelstrike/netcore/internal/transport"
)

const maxNameLength = 32

// DemoSink receives the recorded match stream.
type DemoSink interface {
	AppendFrame(tick uint32, payload []byte) error
	AppendEvent(tick uint32, kind string, payload any) error
}

// Config tunes the server glue.
type Config struct {
	MaxClients int
	ServerName string
}

// Stats is the operator view of the server, refreshed every tick.
type Stats struct {
	Tick           uint32
	Clients        int
	Peers          int
	Starving       int
	Projectiles    int
	Respawns       uint64
	GateDrops      uint64
	RejectedInputs uint64
	DecodeErrors   uint64
	StartedAt      time.Time
	LastTickAt     time.Time
}

type session struct {
	peer     transport.PeerID
	player   state.EntityID
	name     string
	welcomed bool
}

type kicker interface {
	Kick(peer transport.PeerID)
}

// Server feeds the simulation from a transport. Step must be called from one
// goroutine, normally the fixed-step loop; Stats is safe from any goroutine.
type Server struct {
	cfg       Config
	transport transport.Transport
	codec     *protocol.Codec
	sim       *Simulation
	gate      *input.Gate
	issuer    *auth.Issuer
	sinks     []DemoSink
	metrics   *networking.SnapshotMetrics
	bandwidth *networking.BandwidthRegulator
	logger    *logging.Logger
	now       func() time.Time

	peers   map[transport.PeerID]*session
	players map[state.EntityID]transport.PeerID
	nextID  state.EntityID

	rejected     uint64
	decodeErrors uint64

	mu    sync.RWMutex
	stats Stats
}

// Option customises a server.
type Option func(*Server)

// WithCodec overrides the packet codec.
func WithCodec(c *protocol.Codec) Option {
	return func(s *Server) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithGate overrides the input gate.
func WithGate(g *input.Gate) Option {
	return func(s *Server) {
		if g != nil {
			s.gate = g
		}
	}
}

// WithIssuer enables session tokens and reconnects.
func WithIssuer(i *auth.Issuer) Option {
	return func(s *Server) { s.issuer = i }
}

// WithDemoSink records frames and events into sink.
func WithDemoSink(sink DemoSink) Option {
	return func(s *Server) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithSnapshotMetrics records world-update sizes.
func WithSnapshotMetrics(m *networking.SnapshotMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithBandwidth enforces a per-client outbound budget on world updates.
func WithBandwidth(r *networking.BandwidthRegulator) Option {
	return func(s *Server) { s.bandwidth = r }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the wall clock used for stats.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New wires a server over tr and sim.
func New(cfg Config, tr transport.Transport, sim *Simulation, opts ...Option) (*Server, error) {
	if tr == nil || sim == nil {
		return nil, fmt.Errorf("server requires a transport and a simulation")
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 16
	}
	s := &Server{
		cfg:       cfg,
		transport: tr,
		sim:       sim,
		logger:    logging.L(),
		now:       time.Now,
		peers:     make(map[transport.PeerID]*session),
		players:   make(map[state.EntityID]transport.PeerID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.codec == nil {
		codec, err := protocol.NewCodec(nil, protocol.DefaultCompressThreshold)
		if err != nil {
			return nil, fmt.Errorf("build codec: %w", err)
		}
		s.codec = codec
	}
	if s.gate == nil {
		s.gate = input.NewGate(input.ConfigForTickRate(sim.TickRate(), MaxInputBuffer), s.logger)
	}
	s.stats.StartedAt = s.now()
	return s, nil
}

// Step runs one server tick: drain transport events, simulate, record and
// refresh stats. Its signature matches simulation.StepFunc.
func (s *Server) Step(_ uint32, _ time.Duration) {
	for _, ev := range s.transport.Poll() {
		s.handle(ev)
	}
	snap := s.sim.Tick(s)
	s.record(snap)
	s.refreshStats()
}

// Send implements Outbox.
func (s *Server) Send(id state.EntityID, p protocol.Packet) {
	peer, ok := s.players[id]
	if !ok {
		return
	}
	payload, raw, err := s.codec.EncodeSized(p)
	if err != nil {
		s.logger.Error("encode packet failed", logging.String("kind", p.Kind().String()), logging.Error(err))
		return
	}
	world := p.Kind() == protocol.KindWorldUpdate
	if world && !s.bandwidth.Allow(id, len(payload)) {
		s.metrics.Throttled(id)
		return
	}
	channel, reliability := protocol.Route(p.Kind())
	if err := s.transport.Send(peer, channel, payload, reliability); err != nil {
		if world {
			s.metrics.Dropped(id)
		}
		s.logger.Debug("send failed",
			logging.Uint32("player", uint32(id)),
			logging.String("kind", p.Kind().String()),
			logging.Error(err))
		return
	}
	if world {
		s.metrics.Observe(id, raw, len(payload))
	}
}

// Shutdown tells every welcomed player the server is going away.
func (s *Server) Shutdown(reason string) {
	for peer, sess := range s.peers {
		if sess.welcomed {
			s.sendTo(peer, &protocol.Disconnect{Reason: reason})
		}
	}
}

// Stats returns the latest operator view.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// GateMetrics exposes the input gate drop counters.
func (s *Server) GateMetrics() map[state.EntityID]input.DropCounters {
	return s.gate.Metrics()
}

func (s *Server) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnect:
		s.peers[ev.Peer] = &session{peer: ev.Peer}
		s.logger.Debug("peer connected", logging.Uint64("peer", uint64(ev.Peer)))
	case transport.EventReceive:
		sess, ok := s.peers[ev.Peer]
		if !ok {
			sess = &session{peer: ev.Peer}
			s.peers[ev.Peer] = sess
		}
		pkt, err := s.codec.Decode(ev.Payload)
		if err != nil {
			s.decodeErrors++
			s.logger.Debug("dropping undecodable packet", logging.Uint64("peer", uint64(ev.Peer)), logging.Error(err))
			return
		}
		switch p := pkt.(type) {
		case *protocol.Hello:
			s.handleHello(sess, p)
		case *protocol.InputBatch:
			s.handleInputs(sess, p)
		case *protocol.Disconnect:
			s.drop(sess, "client: "+p.Reason)
			s.kick(sess.peer)
		default:
			s.logger.Debug("unexpected packet from client",
				logging.Uint64("peer", uint64(ev.Peer)),
				logging.String("kind", pkt.Kind().String()))
		}
	case transport.EventDisconnect:
		if sess, ok := s.peers[ev.Peer]; ok {
			reason := "transport closed"
			if ev.Err != nil {
				reason = ev.Err.Error()
			}
			s.drop(sess, reason)
		}
	}
}

func (s *Server) handleHello(sess *session, hello *protocol.Hello) {
	if sess.welcomed {
		return
	}
	if hello.Version != protocol.Version {
		s.reject(sess, fmt.Sprintf("unsupported protocol version %d", hello.Version))
		return
	}
	if len(s.players) >= s.cfg.MaxClients {
		s.reject(sess, "server full")
		return
	}

	//1.- A valid token for a free slot reclaims the previous identity.
	name := cleanName(hello.Name)
	var (
		player *Player
		err    error
	)
	if id, team, ok := s.reclaim(hello.SessionToken); ok {
		player, err = s.sim.JoinTeam(id, name, team)
	} else {
		player, err = s.sim.Join(s.allocate(), name)
	}
	if err != nil {
		s.logger.Error("join failed", logging.Error(err))
		s.reject(sess, "join failed")
		return
	}
	if name == "" {
		player.Name = fmt.Sprintf("player-%d", player.ID)
	}

	//2.- Register the session and send the welcome with a fresh token.
	sess.player = player.ID
	sess.name = player.Name
	sess.welcomed = true
	s.players[player.ID] = sess.peer
	token := ""
	if s.issuer != nil {
		if token, err = s.issuer.Issue(player.ID, player.Team); err != nil {
			s.logger.Warn("session token not issued", logging.Error(err))
			token = ""
		}
	}
	s.Send(player.ID, &protocol.Welcome{
		PlayerID:     player.ID,
		TeamID:       player.Team,
		TickRate:     uint16(s.sim.TickRate()),
		Mode:         s.sim.ModeName(),
		SessionToken: token,
		ServerTick:   s.sim.CurrentTick(),
	})
}

func (s *Server) handleInputs(sess *session, batch *protocol.InputBatch) {
	if !sess.welcomed {
		return
	}
	consumed := s.sim.LastConsumed(sess.player)
	for _, req := range batch.Inputs {
		decision := s.gate.Evaluate(input.Frame{ClientID: sess.player, SequenceID: req.SequenceID, LastConsumed: consumed})
		if !decision.Accepted {
			continue
		}
		clean, ok := input.Sanitize(req)
		if !ok {
			s.rejected++
			continue
		}
		s.sim.Push(sess.player, clean)
	}
}

func (s *Server) reclaim(token string) (state.EntityID, uint8, bool) {
	if s.issuer == nil || token == "" {
		return 0, 0, false
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		s.logger.Debug("session token rejected", logging.Error(err))
		return 0, 0, false
	}
	if _, taken := s.players[claims.PlayerID]; taken {
		return 0, 0, false
	}
	if _, exists := s.sim.Player(claims.PlayerID); exists {
		return 0, 0, false
	}
	return claims.PlayerID, claims.Team, true
}

func (s *Server) allocate() state.EntityID {
	for {
		s.nextID++
		if _, taken := s.players[s.nextID]; taken {
			continue
		}
		if _, exists := s.sim.Player(s.nextID); exists {
			continue
		}
		return s.nextID
	}
}

func (s *Server) reject(sess *session, reason string) {
	s.logger.Info("rejecting peer", logging.Uint64("peer", uint64(sess.peer)), logging.String("reason", reason))
	s.sendTo(sess.peer, &protocol.Disconnect{Reason: reason})
	delete(s.peers, sess.peer)
	s.kick(sess.peer)
}

func (s *Server) drop(sess *session, reason string) {
	delete(s.peers, sess.peer)
	if !sess.welcomed {
		return
	}
	delete(s.players, sess.player)
	s.sim.Leave(sess.player)
	s.gate.Forget(sess.player)
	s.metrics.ForgetClient(sess.player)
	s.bandwidth.Forget(sess.player)
	s.logger.Info("player disconnected",
		logging.Uint32("player", uint32(sess.player)),
		logging.String("name", sess.name),
		logging.String("reason", reason))
}

func (s *Server) sendTo(peer transport.PeerID, p protocol.Packet) {
	payload, err := s.codec.Encode(p)
	if err != nil {
		return
	}
	channel, reliability := protocol.Route(p.Kind())
	if err := s.transport.Send(peer, channel, payload, reliability); err != nil {
		s.logger.Debug("send failed", logging.Uint64("peer", uint64(peer)), logging.Error(err))
	}
}

func (s *Server) kick(peer transport.PeerID) {
	if k, ok := s.transport.(kicker); ok {
		k.Kick(peer)
	}
}

func (s *Server) record(snap state.Snapshot) {
	events := s.sim.DrainEvents()
	if len(s.sinks) == 0 {
		return
	}
	frame, err := s.codec.Encode(&protocol.WorldUpdate{Snapshot: snap})
	if err != nil {
		s.logger.Error("encode demo frame failed", logging.Error(err))
		return
	}
	for _, sink := range s.sinks {
		if err := sink.AppendFrame(snap.ServerTick, frame); err != nil {
			s.logger.Warn("demo frame not recorded", logging.Error(err))
		}
		for _, ev := range events {
			payload := map[string]any{"player": ev.Player}
			for k, v := range ev.Detail {
				payload[k] = v
			}
			if err := sink.AppendEvent(snap.ServerTick, ev.Kind, payload); err != nil {
				s.logger.Warn("demo event not recorded", logging.String("event", ev.Kind), logging.Error(err))
			}
		}
	}
}

func (s *Server) refreshStats() {
	sim := s.sim.Stats()
	var drops uint64
	for _, c := range s.gate.Metrics() {
		drops += c.Total()
	}
	s.mu.Lock()
	s.stats.Tick = sim.Tick
	s.stats.Clients = sim.Players
	s.stats.Peers = len(s.peers)
	s.stats.Starving = sim.Starving
	s.stats.Projectiles = sim.Projectiles
	s.stats.Respawns = sim.Respawns
	s.stats.GateDrops = drops
	s.stats.RejectedInputs = s.rejected
	s.stats.DecodeErrors = s.decodeErrors
	s.stats.LastTickAt = s.now()
	s.mu.Unlock()
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return name
}
