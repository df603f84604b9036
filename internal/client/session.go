// Package client glues a transport connection to the prediction and
// interpolation engines. A renderer drives a Session once per frame and reads
// only the Frame it returns.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxelstrike/netcore/internal/input"
	"voxelstrike/netcore/internal/interp"
	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/physics"
	"voxelstrike/netcore/internal/prediction"
	"voxelstrike/netcore/internal/protocol"
	"voxelstrike/netcore/internal/state"
	"voxelstrike/netcore/internal/transport"
)

// DefaultWelcomeTimeout bounds how long Dial waits for the server's Welcome.
const DefaultWelcomeTimeout = 5 * time.Second

var (
	// ErrNotWelcomed reports use of a session before the server accepted it.
	ErrNotWelcomed = errors.New("client: not welcomed")
	// ErrDisconnected reports use of a session the server has closed.
	ErrDisconnected = errors.New("client: disconnected")
)

// Identity is what the server assigned in Welcome.
type Identity struct {
	PlayerID     state.EntityID
	Team         uint8
	TickRate     int
	Mode         string
	SessionToken string
}

// Frame is the render view for one frame.
type Frame struct {
	Local      state.PlayerState
	LocalReady bool
	Remote     map[state.EntityID]interp.Sample
}

// Stats summarises the session for diagnostics.
type Stats struct {
	Welcomed   bool
	InputsSent uint64
	Pending    int
	Prediction prediction.Stats
	Interp     interp.Stats
}

// Session is one connection to a server. It is not safe for concurrent use.
type Session struct {
	transport transport.Transport
	server    transport.PeerID
	codec     *protocol.Codec
	logger    *logging.Logger

	prediction *prediction.Engine
	interp     *interp.Engine
	batcher    *input.Batcher

	identity   Identity
	welcomed   bool
	closed     bool
	reason     string
	camera     prediction.Camera
	inputsSent uint64
}

type options struct {
	codec      *protocol.Codec
	logger     *logging.Logger
	clock      prediction.Clock
	resolver   physics.Resolver
	world      physics.World
	redundancy int
	transport  transport.Options
}

// Option customises a session.
type Option func(*options)

// WithCodec overrides the packet codec.
func WithCodec(c *protocol.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the wall clock used by prediction.
func WithClock(c prediction.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithWorld sets the voxel world used for local prediction. It must match the
// server's world or every tick will be corrected.
func WithWorld(w physics.World) Option {
	return func(o *options) { o.world = w }
}

// WithResolver overrides the movement resolver.
func WithResolver(r physics.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithRedundancy sets how many recent inputs every batch repeats.
func WithRedundancy(n int) Option {
	return func(o *options) { o.redundancy = n }
}

// WithTransportOptions tunes the dialled connection.
func WithTransportOptions(t transport.Options) Option {
	return func(o *options) { o.transport = t }
}

// NewSession wraps an established transport whose server peer is server.
func NewSession(tr transport.Transport, server transport.PeerID, opts ...Option) (*Session, error) {
	if tr == nil {
		return nil, fmt.Errorf("client session requires a transport")
	}
	o := collect(opts)
	if o.codec == nil {
		codec, err := protocol.NewCodec(nil, protocol.DefaultCompressThreshold)
		if err != nil {
			return nil, fmt.Errorf("build codec: %w", err)
		}
		o.codec = codec
	}
	if o.resolver == nil {
		o.resolver = physics.NewMovement(physics.DefaultTuning())
	}
	predOpts := []prediction.Option{prediction.WithLogger(o.logger)}
	if o.clock != nil {
		predOpts = append(predOpts, prediction.WithClock(o.clock))
	}
	return &Session{
		transport:  tr,
		server:     server,
		codec:      o.codec,
		logger:     o.logger,
		prediction: prediction.NewEngine(prediction.Config{}, o.resolver, o.world, predOpts...),
		interp:     interp.NewEngine(interp.Config{}, o.logger),
		batcher:    input.NewBatcher(o.redundancy),
	}, nil
}

func collect(opts []Option) options {
	o := options{logger: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = logging.L()
	}
	return o
}

// Dial connects with proto to addr, sends Hello and waits for Welcome until
// ctx expires or DefaultWelcomeTimeout passes.
func Dial(ctx context.Context, proto, addr, name, token string, opts ...Option) (*Session, error) {
	o := collect(opts)
	if o.transport.Logger.GetSink() == nil {
		o.transport.Logger = o.logger.Logr()
	}
	conn, err := transport.Dial(ctx, proto, addr, o.transport)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(conn, conn.Server(), opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := s.Hello(name, token); err != nil {
		_ = conn.Close()
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, DefaultWelcomeTimeout)
	defer cancel()
	if err := s.AwaitWelcome(waitCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Hello asks the server for an identity. A non-empty token asks to reclaim a
// previous one.
func (s *Session) Hello(name, token string) error {
	return s.send(&protocol.Hello{Version: protocol.Version, Name: name, SessionToken: token})
}

// AwaitWelcome polls the transport until Welcome arrives or ctx ends.
func (s *Session) AwaitWelcome(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.Update(0)
		if s.welcomed {
			return nil
		}
		if s.closed {
			return fmt.Errorf("%w: %s", ErrDisconnected, s.reason)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotWelcomed, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Update drains transport events, dispatches them and advances interpolation
// by frameDelta. Call it once per render frame.
func (s *Session) Update(frameDelta time.Duration) {
	for _, ev := range s.transport.Poll() {
		switch ev.Kind {
		case transport.EventReceive:
			s.dispatch(ev.Payload)
		case transport.EventDisconnect:
			reason := "connection lost"
			if ev.Err != nil {
				reason = ev.Err.Error()
			}
			s.teardown(reason)
		}
	}
	if s.welcomed && frameDelta > 0 {
		s.interp.Advance(frameDelta)
	}
}

func (s *Session) dispatch(payload []byte) {
	pkt, err := s.codec.Decode(payload)
	if err != nil {
		s.logger.Debug("dropping undecodable packet", logging.Error(err))
		return
	}
	switch p := pkt.(type) {
	case *protocol.Welcome:
		s.welcome(p)
	case *protocol.WorldUpdate:
		if !s.welcomed {
			return
		}
		//1.- The local player is rendered from prediction, never from snapshots.
		snap := p.Snapshot.Clone()
		delete(snap.Players, s.identity.PlayerID)
		s.interp.AddSnapshot(snap)
	case *protocol.PlayerInputAck:
		if !s.welcomed {
			return
		}
		s.prediction.Acknowledge(p.LastConsumedID, p.State)
		s.batcher.Ack(p.LastConsumedID)
	case *protocol.Disconnect:
		s.teardown(p.Reason)
	}
}

func (s *Session) welcome(w *protocol.Welcome) {
	if s.welcomed {
		return
	}
	s.identity = Identity{
		PlayerID:     w.PlayerID,
		Team:         w.TeamID,
		TickRate:     int(w.TickRate),
		Mode:         w.Mode,
		SessionToken: w.SessionToken,
	}
	interval := state.TickInterval(int(w.TickRate))
	s.prediction.SetTickInterval(interval)
	s.interp.SetTickInterval(interval)
	s.welcomed = true
	s.logger.Info("joined server",
		logging.Uint32("player", uint32(w.PlayerID)),
		logging.Int("team", int(w.TeamID)),
		logging.Int("tick_rate", int(w.TickRate)),
		logging.String("mode", w.Mode))
}

func (s *Session) teardown(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	s.batcher.Reset()
	s.prediction.Clear()
	s.interp.Reset()
	s.logger.Info("disconnected from server", logging.String("reason", reason))
}

// Tick predicts one simulation tick of buttons and sends the redundant input
// batch. Before the first acknowledgement spawns the player it only records
// the camera.
func (s *Session) Tick(buttons state.Buttons, cam prediction.Camera) error {
	if s.closed {
		return fmt.Errorf("%w: %s", ErrDisconnected, s.reason)
	}
	if !s.welcomed {
		return ErrNotWelcomed
	}
	s.camera = cam
	req, ok := s.prediction.Predict(buttons, cam, s.interp.RenderTime())
	if !ok {
		return nil
	}
	s.batcher.Push(req)
	if err := s.send(&protocol.InputBatch{Inputs: s.batcher.Batch()}); err != nil {
		return err
	}
	s.inputsSent++
	return nil
}

// Render returns the frame to draw. A closed session renders nothing.
func (s *Session) Render() Frame {
	local, ready := s.prediction.SmoothRender(s.camera)
	frame := Frame{Local: local, LocalReady: ready, Remote: make(map[state.EntityID]interp.Sample)}
	for _, id := range s.interp.Entities() {
		if id == s.identity.PlayerID {
			continue
		}
		if sample, ok := s.interp.Sample(id); ok {
			frame.Remote[id] = sample
		}
	}
	return frame
}

// Close tells the server goodbye and releases the transport.
func (s *Session) Close() error {
	if !s.closed && s.welcomed {
		_ = s.send(&protocol.Disconnect{Reason: "client quit"})
	}
	s.teardown("closed by client")
	return s.transport.Close()
}

// Identity returns the Welcome assignment.
func (s *Session) Identity() Identity { return s.identity }

// Welcomed reports whether the server accepted the session.
func (s *Session) Welcomed() bool { return s.welcomed }

// Closed reports whether the session ended and why.
func (s *Session) Closed() (bool, string) { return s.closed, s.reason }

// Prediction exposes the local prediction engine.
func (s *Session) Prediction() *prediction.Engine { return s.prediction }

// Stats returns a diagnostic snapshot.
func (s *Session) Stats() Stats {
	return Stats{
		Welcomed:   s.welcomed,
		InputsSent: s.inputsSent,
		Pending:    s.batcher.Len(),
		Prediction: s.prediction.Stats(),
		Interp:     s.interp.Stats(),
	}
}

func (s *Session) send(p protocol.Packet) error {
	payload, err := s.codec.Encode(p)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	channel, reliability := protocol.Route(p.Kind())
	if err := s.transport.Send(s.server, channel, payload, reliability); err != nil {
		return fmt.Errorf("send %s: %w", p.Kind(), err)
	}
	return nil
}
