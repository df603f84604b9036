package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"voxelstrike/netcore/internal/state"
)

const (
	// MaxPayloadBytes bounds a decoded packet body.
	MaxPayloadBytes = 1 << 20
	// DefaultCompressThreshold is the body size above which compression is tried.
	DefaultCompressThreshold = 512

	headerSize     = 2
	flagCompressed = 0x01
)

var (
	// ErrUnknownPacket reports an envelope with an unrecognised kind.
	ErrUnknownPacket = errors.New("protocol: unknown packet kind")
	// ErrTruncated reports a malformed or short packet.
	ErrTruncated = errors.New("protocol: truncated packet")
	// ErrPayloadTooLarge reports a packet above MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	// ErrUnsupportedCompression reports a compressed body using an unknown codec.
	ErrUnsupportedCompression = errors.New("protocol: unsupported compression")
)

// compressorIDs assigns the high nibble of the flags byte.
var compressorIDs = map[string]byte{"gzip": 1, "snappy": 2, "zstd": 3}

// Codec turns packets into envelopes: [kind][flags][protobuf body].
type Codec struct {
	compressor Compressor
	threshold  int
	decoders   map[byte]Compressor
}

// NewCodec builds a codec compressing bodies larger than threshold with c. A
// nil compressor disables compression on encode; decode accepts every
// built-in codec regardless.
func NewCodec(c Compressor, threshold int) (*Codec, error) {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	zstdCodec, err := NewZstdCompressor()
	if err != nil {
		return nil, err
	}
	codec := &Codec{
		compressor: c,
		threshold:  threshold,
		decoders: map[byte]Compressor{
			1: NewGZIPCompressor(),
			2: NewSnappyCompressor(),
			3: zstdCodec,
		},
	}
	if c != nil {
		if _, ok := compressorIDs[c.Name()]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, c.Name())
		}
	}
	return codec, nil
}

// Encode serialises p into an envelope.
func (c *Codec) Encode(p Packet) ([]byte, error) {
	out, _, err := c.EncodeSized(p)
	return out, err
}

// EncodeSized is Encode that also reports the uncompressed envelope size.
func (c *Codec) EncodeSized(p Packet) ([]byte, int, error) {
	if p == nil {
		return nil, 0, fmt.Errorf("encode: nil packet")
	}
	//1.- Serialise the body with the protobuf wire format.
	body := p.appendBody(nil)
	raw := headerSize + len(body)
	if len(body) > MaxPayloadBytes {
		return nil, 0, fmt.Errorf("encode %s: %w", p.Kind(), ErrPayloadTooLarge)
	}
	flags := byte(0)
	//2.- Compress larger bodies when it actually saves space.
	if c != nil && c.compressor != nil && len(body) > c.threshold {
		packed, err := c.compressor.Compress(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s: %w", p.Kind(), err)
		}
		if len(packed) < len(body) {
			body = packed
			flags = flagCompressed | compressorIDs[c.compressor.Name()]<<4
		}
	}
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, byte(p.Kind()), flags)
	return append(out, body...), raw, nil
}

// Decode parses an envelope produced by Encode.
func (c *Codec) Decode(data []byte) (Packet, error) {
	if len(data) < headerSize {
		return nil, ErrTruncated
	}
	if len(data) > MaxPayloadBytes+headerSize {
		return nil, ErrPayloadTooLarge
	}
	kind, flags := Kind(data[0]), data[1]
	packet, ok := newPacket(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacket, kind)
	}
	body := data[headerSize:]
	//1.- Inflate compressed bodies with the codec named in the flags.
	if flags&flagCompressed != 0 {
		decoder, ok := c.decoders[flags>>4]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrUnsupportedCompression, flags>>4)
		}
		inflated, err := decoder.Decompress(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if len(inflated) > MaxPayloadBytes {
			return nil, ErrPayloadTooLarge
		}
		body = inflated
	}
	//2.- Parse the protobuf body into the packet.
	if err := packet.decodeBody(body); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return packet, nil
}

func (p *Hello) appendBody(b []byte) []byte {
	b = appendVarint(b, 1, uint64(p.Version))
	b = appendString(b, 2, p.Name)
	return appendString(b, 3, p.SessionToken)
}

func (p *Hello) decodeBody(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			v, n := consumeVarint(typ, b)
			p.Version = uint32(v)
			return n
		case 2:
			v, n := consumeBytes(typ, b)
			p.Name = string(v)
			return n
		case 3:
			v, n := consumeBytes(typ, b)
			p.SessionToken = string(v)
			return n
		}
		return 0
	})
}

func (p *Welcome) appendBody(b []byte) []byte {
	b = appendVarint(b, 1, uint64(p.PlayerID))
	b = appendVarint(b, 2, uint64(p.TeamID))
	b = appendVarint(b, 3, uint64(p.TickRate))
	b = appendString(b, 4, p.Mode)
	b = appendString(b, 5, p.SessionToken)
	return appendVarint(b, 6, uint64(p.ServerTick))
}

func (p *Welcome) decodeBody(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1, 2, 3, 6:
			v, n := consumeVarint(typ, b)
			switch num {
			case 1:
				p.PlayerID = state.EntityID(v)
			case 2:
				p.TeamID = uint8(v)
			case 3:
				p.TickRate = uint16(v)
			case 6:
				p.ServerTick = uint32(v)
			}
			return n
		case 4:
			v, n := consumeBytes(typ, b)
			p.Mode = string(v)
			return n
		case 5:
			v, n := consumeBytes(typ, b)
			p.SessionToken = string(v)
			return n
		}
		return 0
	})
}

func (p *InputBatch) appendBody(b []byte) []byte {
	for _, in := range p.Inputs {
		b = appendMessage(b, 1, func(m []byte) []byte { return appendInput(m, in) })
	}
	return b
}

func (p *InputBatch) decodeBody(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 {
			return 0
		}
		return nested(typ, b, func(m []byte) error {
			var in state.InputRequest
			if err := decodeInput(m, &in); err != nil {
				return err
			}
			p.Inputs = append(p.Inputs, in)
			return nil
		})
	})
}

func (p *WorldUpdate) appendBody(b []byte) []byte {
	b = appendVarint(b, 1, uint64(p.LastAckedInput))
	return appendMessage(b, 2, func(m []byte) []byte { return AppendSnapshot(m, p.Snapshot) })
}

func (p *WorldUpdate) decodeBody(b []byte) error {
	p.Snapshot = state.NewSnapshot(0)
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			v, n := consumeVarint(typ, b)
			p.LastAckedInput = uint32(v)
			return n
		case 2:
			return nested(typ, b, func(m []byte) error {
				snap, err := DecodeSnapshot(m)
				p.Snapshot = snap
				return err
			})
		}
		return 0
	})
}

func (p *PlayerInputAck) appendBody(b []byte) []byte {
	b = appendVarint(b, 1, uint64(p.LastConsumedID))
	b = appendVarint(b, 2, uint64(p.ServerTick))
	return appendMessage(b, 3, func(m []byte) []byte { return appendPlayer(m, p.State) })
}

func (p *PlayerInputAck) decodeBody(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1, 2:
			v, n := consumeVarint(typ, b)
			if num == 1 {
				p.LastConsumedID = uint32(v)
			} else {
				p.ServerTick = uint32(v)
			}
			return n
		case 3:
			return nested(typ, b, func(m []byte) error { return decodePlayer(m, &p.State) })
		}
		return 0
	})
}

func (p *Disconnect) appendBody(b []byte) []byte {
	return appendString(b, 1, p.Reason)
}

func (p *Disconnect) decodeBody(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 {
			return 0
		}
		v, n := consumeBytes(typ, b)
		p.Reason = string(v)
		return n
	})
}
