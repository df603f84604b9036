// Package input handles the client side redundancy window for outgoing
// inputs and the server side gate that filters them on arrival.
package input

import (
	"voxelstrike/netcore/internal/ring"
	"voxelstrike/netcore/internal/state"
)

// DefaultRedundancy is how many recent inputs every batch carries.
const DefaultRedundancy = 4

// Batcher keeps the most recent unacknowledged inputs so each send repeats
// them. Lost datagrams are covered by the next batch.
type Batcher struct {
	window *ring.Ring[state.InputRequest]
}

// NewBatcher creates a window of size inputs.
func NewBatcher(size int) *Batcher {
	if size <= 0 {
		size = DefaultRedundancy
	}
	return &Batcher{window: ring.New[state.InputRequest](size)}
}

// Push adds a freshly predicted input, evicting the oldest beyond the window.
func (b *Batcher) Push(req state.InputRequest) {
	b.window.PushBack(req)
}

// Ack discards inputs the server has consumed.
func (b *Batcher) Ack(lastConsumed uint32) {
	for {
		front, ok := b.window.Front()
		if !ok || state.SeqNewer(front.SequenceID, lastConsumed) {
			return
		}
		b.window.PopFront()
	}
}

// Batch returns the pending inputs oldest first.
func (b *Batcher) Batch() []state.InputRequest {
	return b.window.Values()
}

// Len reports the pending input count.
func (b *Batcher) Len() int { return b.window.Len() }

// Reset drops every pending input.
func (b *Batcher) Reset() { b.window.Clear() }
