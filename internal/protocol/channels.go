package protocol

import "voxelstrike/netcore/internal/transport"

const (
	// ChannelControl carries session setup and teardown.
	ChannelControl transport.Channel = iota
	// ChannelInput carries client input batches.
	ChannelInput
	// ChannelWorld carries world updates and input acknowledgements.
	ChannelWorld
)

// Route returns the channel and delivery guarantee used for kind.
func Route(kind Kind) (transport.Channel, transport.Reliability) {
	switch kind {
	case KindInputBatch:
		return ChannelInput, transport.Unreliable
	case KindWorldUpdate, KindPlayerInputAck:
		return ChannelWorld, transport.Unreliable
	default:
		return ChannelControl, transport.Reliable
	}
}
