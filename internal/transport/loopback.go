package transport

import (
	"sync"
)

// DropFunc decides whether an unreliable frame from one peer to another is
// lost. It runs under the loopback lock and must not call back into it.
type DropFunc func(from, to PeerID, channel Channel) bool

// HoldFunc decides whether an unreliable frame is held back. A held frame is
// delivered right after the next unreliable frame on the same route, so the
// two arrive swapped. Like DropFunc it runs under the loopback lock.
type HoldFunc func(from, to PeerID, channel Channel) bool

type route struct {
	from, to PeerID
}

// Loopback is an in-memory network with one server endpoint and any number of
// client endpoints. Delivery is immediate and ordered unless a hold filter
// reorders unreliable frames; those also pass through the optional drop filter.
type Loopback struct {
	mu      sync.Mutex
	server  *LoopbackEndpoint
	clients map[PeerID]*LoopbackEndpoint
	nextID  PeerID
	drop    DropFunc
	hold    HoldFunc
	held    map[route][]Event
}

// LoopbackEndpoint is one side of the loopback network.
type LoopbackEndpoint struct {
	net     *Loopback
	id      PeerID
	pending []Event
	closed  bool
}

// ServerPeer is the peer identifier clients use to address the server.
const ServerPeer PeerID = 0

// NewLoopback creates an empty loopback network.
func NewLoopback() *Loopback {
	lb := &Loopback{clients: make(map[PeerID]*LoopbackEndpoint), held: make(map[route][]Event)}
	lb.server = &LoopbackEndpoint{net: lb, id: ServerPeer}
	return lb
}

// SetDrop installs a loss filter for unreliable frames.
func (lb *Loopback) SetDrop(drop DropFunc) {
	lb.mu.Lock()
	lb.drop = drop
	lb.mu.Unlock()
}

// SetHold installs a reorder filter for unreliable frames.
func (lb *Loopback) SetHold(hold HoldFunc) {
	lb.mu.Lock()
	lb.hold = hold
	lb.mu.Unlock()
}

// Server returns the server endpoint.
func (lb *Loopback) Server() *LoopbackEndpoint { return lb.server }

// Connect creates a client endpoint and queues its Connect event on the server.
func (lb *Loopback) Connect() *LoopbackEndpoint {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.nextID++
	client := &LoopbackEndpoint{net: lb, id: lb.nextID}
	lb.clients[client.id] = client
	lb.server.pending = append(lb.server.pending, Event{Kind: EventConnect, Peer: client.id})
	client.pending = append(client.pending, Event{Kind: EventConnect, Peer: ServerPeer})
	return client
}

// ID returns the endpoint's peer identifier as seen by the server.
func (e *LoopbackEndpoint) ID() PeerID { return e.id }

// Server returns the peer the client endpoint should address.
func (e *LoopbackEndpoint) Server() PeerID { return ServerPeer }

// Send implements Transport.
func (e *LoopbackEndpoint) Send(peer PeerID, channel Channel, payload []byte, reliability Reliability) error {
	lb := e.net
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	//1.- Resolve the destination endpoint.
	var dst *LoopbackEndpoint
	if e == lb.server {
		dst = lb.clients[peer]
	} else if peer == ServerPeer {
		dst = lb.server
	}
	if dst == nil || dst.closed {
		return ErrUnknownPeer
	}
	//2.- Apply loss to unreliable frames only.
	if reliability == Unreliable && lb.drop != nil && lb.drop(e.id, dst.id, channel) {
		return nil
	}
	data := append([]byte(nil), payload...)
	ev := Event{Kind: EventReceive, Peer: e.id, Channel: channel, Payload: data}
	if reliability != Unreliable {
		dst.pending = append(dst.pending, ev)
		return nil
	}
	//3.- Held frames trail the next unreliable frame on their route.
	key := route{from: e.id, to: dst.id}
	if lb.hold != nil && lb.hold(e.id, dst.id, channel) {
		lb.held[key] = append(lb.held[key], ev)
		return nil
	}
	dst.pending = append(dst.pending, ev)
	dst.pending = append(dst.pending, lb.held[key]...)
	delete(lb.held, key)
	return nil
}

// Poll implements Transport.
func (e *LoopbackEndpoint) Poll() []Event {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	events := e.pending
	e.pending = nil
	return events
}

// Kick disconnects a client from the server side.
func (e *LoopbackEndpoint) Kick(peer PeerID) {
	lb := e.net
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if client, ok := lb.clients[peer]; ok && e == lb.server {
		lb.disconnectLocked(client, errKicked)
	}
}

// Close implements Transport. Closing the server disconnects every client.
func (e *LoopbackEndpoint) Close() error {
	lb := e.net
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if e.closed {
		return nil
	}
	if e == lb.server {
		for _, client := range lb.clients {
			lb.disconnectLocked(client, ErrClosed)
		}
		e.closed = true
		return nil
	}
	lb.disconnectLocked(e, ErrClosed)
	return nil
}

func (lb *Loopback) disconnectLocked(client *LoopbackEndpoint, err error) {
	if client.closed {
		return
	}
	client.closed = true
	delete(lb.clients, client.id)
	delete(lb.held, route{from: client.id, to: ServerPeer})
	delete(lb.held, route{from: ServerPeer, to: client.id})
	lb.server.pending = append(lb.server.pending, Event{Kind: EventDisconnect, Peer: client.id, Err: err})
	client.pending = append(client.pending, Event{Kind: EventDisconnect, Peer: ServerPeer, Err: err})
}
