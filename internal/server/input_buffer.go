package server

import (
	"voxelstrike/netcore/internal/ring"
	"voxelstrike/netcore/internal/state"
)

const (
	// MaxInputBuffer is the per-client jitter buffer capacity.
	MaxInputBuffer = 5
	// MinInputBuffer is the depth a refilling buffer needs before consuming.
	MinInputBuffer = 2
)

// Mode is the input buffer state.
type Mode uint8

const (
	ModeRefilling Mode = iota
	ModeConsuming
)

func (m Mode) String() string {
	if m == ModeConsuming {
		return "consuming"
	}
	return "refilling"
}

// InputBuffer absorbs network jitter between a client's input stream and the
// fixed simulation tick. At most one input leaves per tick and ids never go
// backwards.
type InputBuffer struct {
	inputs       *ring.Ring[state.InputRequest]
	mode         Mode
	lastConsumed uint32
	starved      int
}

// NewInputBuffer returns an empty buffer in Refilling mode.
func NewInputBuffer() *InputBuffer {
	return &InputBuffer{inputs: ring.New[state.InputRequest](MaxInputBuffer)}
}

// Push stores req in sequence order. Consumed or already buffered ids are
// rejected, as are ids older than a full buffer.
func (b *InputBuffer) Push(req state.InputRequest) bool {
	id := req.SequenceID
	if state.SeqAtMost(id, b.lastConsumed) {
		return false
	}
	if _, ok := b.inputs.FindFirst(func(in state.InputRequest) bool { return in.SequenceID == id }); ok {
		return false
	}
	if front, ok := b.inputs.Front(); ok && b.inputs.Full() && state.SeqNewer(front.SequenceID, id) {
		return false
	}
	b.inputs.PushBack(req)
	b.inputs.Sort(func(x, y state.InputRequest) bool { return state.SeqNewer(y.SequenceID, x.SequenceID) })
	if b.mode == ModeRefilling && b.inputs.Len() >= MinInputBuffer {
		b.mode = ModeConsuming
	}
	return true
}

// Consume pops the oldest input while Consuming. An empty buffer flips back
// to Refilling and the caller holds the player for this tick.
func (b *InputBuffer) Consume() (state.InputRequest, bool) {
	if b.mode == ModeConsuming {
		if req, ok := b.inputs.PopFront(); ok {
			b.lastConsumed = req.SequenceID
			b.starved = 0
			return req, true
		}
		b.mode = ModeRefilling
	}
	b.starved++
	return state.InputRequest{}, false
}

// Mode reports the current state.
func (b *InputBuffer) Mode() Mode { return b.mode }

// Len reports buffered inputs.
func (b *InputBuffer) Len() int { return b.inputs.Len() }

// LastConsumedID is the id of the newest simulated input, zero before any.
func (b *InputBuffer) LastConsumedID() uint32 { return b.lastConsumed }

// StarvedTicks counts consecutive ticks without an input.
func (b *InputBuffer) StarvedTicks() int { return b.starved }
