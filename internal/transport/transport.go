// Package transport moves framed payloads between peers over TCP, KCP,
// WebSocket or an in-memory loopback. Network goroutines only queue events;
// callers drain them with Poll from their simulation loop.
package transport

import (
	"errors"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
)

// PeerID identifies one connection on an endpoint.
type PeerID uint64

// Channel multiplexes logical streams over one connection.
type Channel uint8

// keepaliveChannel frames refresh read deadlines and never surface as events.
const keepaliveChannel Channel = 0xFF

// Reliability is the delivery guarantee requested for a send.
type Reliability uint8

const (
	// Reliable sends fail loudly when they cannot be queued.
	Reliable Reliability = iota
	// Unreliable sends may be dropped under backpressure or loss.
	Unreliable
)

// EventKind discriminates transport events.
type EventKind uint8

const (
	EventConnect EventKind = iota + 1
	EventReceive
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventReceive:
		return "receive"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one occurrence reported by Poll.
type Event struct {
	Kind    EventKind
	Peer    PeerID
	Channel Channel
	Payload []byte
	Err     error
}

// Transport is the collaborator used by the client and server glue.
type Transport interface {
	Send(peer PeerID, channel Channel, payload []byte, reliability Reliability) error
	// Poll returns every event queued since the last call without blocking.
	Poll() []Event
	Close() error
}

var (
	// ErrSendQueueFull reports backpressure on a peer's outbound queue.
	ErrSendQueueFull = errors.New("transport: send queue full")
	// ErrClosed reports use of a closed endpoint or peer.
	ErrClosed = errors.New("transport: closed")
	// ErrUnknownPeer reports a send to a peer that is not connected.
	ErrUnknownPeer = errors.New("transport: unknown peer")
	// ErrFrameTooLarge reports an inbound or outbound frame above the limit.
	ErrFrameTooLarge = errors.New("transport: frame too large")
	// ErrUnsupportedProto reports an unknown protocol name.
	ErrUnsupportedProto = errors.New("transport: unsupported protocol")
)

const (
	DefaultSendQueue         = 256
	DefaultMaxFrameBytes     = 1<<20 + 64
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
	DefaultWriteTimeout      = time.Second
	DefaultInboundRate       = rate.Limit(240)
	DefaultInboundBurst      = 64
	DefaultMaxPending        = 4096
	DefaultWebSocketPath     = "/ws"
)

// Options tunes an endpoint. Zero values select the defaults.
type Options struct {
	Logger            logr.Logger
	SendQueue         int
	MaxFrameBytes     int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	InboundRate       rate.Limit
	InboundBurst      int
	MaxPending        int
	WebSocketPath     string
}

func (o Options) withDefaults() Options {
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	if o.SendQueue <= 0 {
		o.SendQueue = DefaultSendQueue
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.InboundRate <= 0 {
		o.InboundRate = DefaultInboundRate
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = DefaultInboundBurst
	}
	if o.MaxPending <= 0 {
		o.MaxPending = DefaultMaxPending
	}
	if o.WebSocketPath == "" {
		o.WebSocketPath = DefaultWebSocketPath
	}
	return o
}

// Stats summarises endpoint counters.
type Stats struct {
	Peers          int
	DroppedInbound uint64
	DroppedEvents  uint64
	DroppedSends   uint64
}
