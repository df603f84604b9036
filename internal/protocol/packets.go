// Package protocol defines the packets exchanged between client and server and
// encodes them with the protobuf wire format.
package protocol

import (
	"voxelstrike/netcore/internal/state"
)

// Kind tags the packet carried by an envelope.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindWelcome
	KindInputBatch
	KindWorldUpdate
	KindPlayerInputAck
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindWelcome:
		return "welcome"
	case KindInputBatch:
		return "input_batch"
	case KindWorldUpdate:
		return "world_update"
	case KindPlayerInputAck:
		return "player_input_ack"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Version is the protocol revision exchanged in Hello.
const Version = 1

// Packet is implemented by every message type.
type Packet interface {
	Kind() Kind
	appendBody(b []byte) []byte
	decodeBody(b []byte) error
}

// Hello opens a session. A non-empty SessionToken asks to reclaim an identity.
type Hello struct {
	Version      uint32
	Name         string
	SessionToken string
}

// Welcome assigns the client its identity and the server tick rate.
type Welcome struct {
	PlayerID     state.EntityID
	TeamID       uint8
	TickRate     uint16
	Mode         string
	SessionToken string
	ServerTick   uint32
}

// InputBatch carries the most recent unacknowledged inputs, oldest first.
type InputBatch struct {
	Inputs []state.InputRequest
}

// WorldUpdate is broadcast once per server tick.
type WorldUpdate struct {
	LastAckedInput uint32
	Snapshot       state.Snapshot
}

// PlayerInputAck tells one client the last input consumed for it and the
// resulting authoritative state.
type PlayerInputAck struct {
	LastConsumedID uint32
	ServerTick     uint32
	State          state.PlayerState
}

// Disconnect announces a graceful teardown.
type Disconnect struct {
	Reason string
}

func (*Hello) Kind() Kind          { return KindHello }
func (*Welcome) Kind() Kind        { return KindWelcome }
func (*InputBatch) Kind() Kind     { return KindInputBatch }
func (*WorldUpdate) Kind() Kind    { return KindWorldUpdate }
func (*PlayerInputAck) Kind() Kind { return KindPlayerInputAck }
func (*Disconnect) Kind() Kind     { return KindDisconnect }

func newPacket(kind Kind) (Packet, bool) {
	switch kind {
	case KindHello:
		return &Hello{}, true
	case KindWelcome:
		return &Welcome{}, true
	case KindInputBatch:
		return &InputBatch{}, true
	case KindWorldUpdate:
		return &WorldUpdate{}, true
	case KindPlayerInputAck:
		return &PlayerInputAck{}, true
	case KindDisconnect:
		return &Disconnect{}, true
	default:
		return nil, false
	}
}
