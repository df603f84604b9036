package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
)

// hub owns the peers of one endpoint and the queue of pending events.
type hub struct {
	opts Options
	log  logr.Logger

	mu      sync.Mutex
	peers   map[PeerID]*peer
	pending []Event
	closed  bool

	nextID         atomic.Uint64
	droppedInbound atomic.Uint64
	droppedEvents  atomic.Uint64
	droppedSends   atomic.Uint64

	wg sync.WaitGroup
}

func newHub(opts Options) *hub {
	opts = opts.withDefaults()
	return &hub{opts: opts, log: opts.Logger, peers: make(map[PeerID]*peer)}
}

// attach registers conn as a new peer, queues its Connect event and starts
// its read and write loops.
func (h *hub) attach(conn frameConn) (*peer, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	p := &peer{
		id:      PeerID(h.nextID.Add(1)),
		conn:    conn,
		hub:     h,
		send:    make(chan outbound, h.opts.SendQueue),
		closed:  make(chan struct{}),
		limiter: rate.NewLimiter(h.opts.InboundRate, h.opts.InboundBurst),
	}
	h.peers[p.id] = p
	h.pending = append(h.pending, Event{Kind: EventConnect, Peer: p.id})
	h.mu.Unlock()

	h.log.V(1).Info("peer connected", "peer", p.id, "remote", conn.RemoteAddr().String())
	h.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

func (h *hub) push(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	//1.- Receive events are shed once the caller stops polling; lifecycle events never are.
	if ev.Kind == EventReceive && len(h.pending) >= h.opts.MaxPending {
		h.droppedEvents.Add(1)
		return
	}
	h.pending = append(h.pending, ev)
}

func (h *hub) detach(p *peer, err error) {
	h.mu.Lock()
	_, ok := h.peers[p.id]
	delete(h.peers, p.id)
	if ok {
		h.pending = append(h.pending, Event{Kind: EventDisconnect, Peer: p.id, Err: err})
	}
	h.mu.Unlock()
	if ok {
		h.log.V(1).Info("peer disconnected", "peer", p.id, "reason", fmt.Sprint(err))
	}
}

// Poll implements Transport.
func (h *hub) Poll() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return nil
	}
	events := h.pending
	h.pending = nil
	return events
}

// Send implements Transport.
func (h *hub) Send(id PeerID, channel Channel, payload []byte, reliability Reliability) error {
	h.mu.Lock()
	p, ok := h.peers[id]
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("send to %d: %w", id, ErrUnknownPeer)
	}
	err := p.enqueue(outbound{channel: channel, payload: payload})
	if errors.Is(err, ErrSendQueueFull) {
		h.droppedSends.Add(1)
		//1.- A reliable frame that cannot be queued means the peer is hopelessly behind.
		if reliability == Reliable {
			p.close(err)
		}
	}
	return err
}

// Kick closes one peer. Its Disconnect event is queued as usual.
func (h *hub) Kick(id PeerID) {
	h.mu.Lock()
	p, ok := h.peers[id]
	h.mu.Unlock()
	if ok {
		p.close(errKicked)
	}
}

// Stats reports endpoint counters.
func (h *hub) Stats() Stats {
	h.mu.Lock()
	peers := len(h.peers)
	h.mu.Unlock()
	return Stats{
		Peers:          peers,
		DroppedInbound: h.droppedInbound.Load(),
		DroppedEvents:  h.droppedEvents.Load(),
		DroppedSends:   h.droppedSends.Load(),
	}
}

func (h *hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		p.close(ErrClosed)
	}
	h.wg.Wait()
}

var errKicked = errors.New("transport: kicked")

type outbound struct {
	channel Channel
	payload []byte
}

type peer struct {
	id      PeerID
	conn    frameConn
	hub     *hub
	send    chan outbound
	closed  chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func (p *peer) enqueue(frame outbound) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (p *peer) close(err error) {
	p.once.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
		p.hub.detach(p, err)
	})
}

func (p *peer) readLoop() {
	defer p.hub.wg.Done()
	opts := p.hub.opts
	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(opts.HeartbeatTimeout))
		channel, payload, err := p.conn.ReadFrame()
		if err != nil {
			p.close(classify(err))
			return
		}
		if channel == keepaliveChannel {
			continue
		}
		//1.- Floods beyond the token bucket are dropped before they reach the caller.
		if !p.limiter.Allow() {
			p.hub.droppedInbound.Add(1)
			continue
		}
		p.hub.push(Event{Kind: EventReceive, Peer: p.id, Channel: channel, Payload: payload})
	}
}

func (p *peer) writeLoop() {
	defer p.hub.wg.Done()
	opts := p.hub.opts
	ticker := time.NewTicker(opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		var frame outbound
		select {
		case <-p.closed:
			return
		case frame = <-p.send:
		case <-ticker.C:
			frame = outbound{channel: keepaliveChannel}
		}
		_ = p.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
		if err := p.conn.WriteFrame(frame.channel, frame.payload); err != nil {
			p.close(err)
			return
		}
	}
}

// classify maps read errors to the ones callers care about.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return io.EOF
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("heartbeat timeout: %w", err)
	default:
		return err
	}
}
