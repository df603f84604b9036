package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstrike/netcore/internal/state"
	"voxelstrike/netcore/internal/transport"
)

func newTestCodec(t *testing.T, c Compressor) *Codec {
	t.Helper()
	codec, err := NewCodec(c, 64)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func sampleSnapshot(players int) state.Snapshot {
	snap := state.NewSnapshot(42)
	for i := 1; i <= players; i++ {
		s := state.PlayerState{
			Transform: state.Transform{
				Position: mgl32.Vec3{float32(i), 1.5, -float32(i)},
				Velocity: mgl32.Vec3{0, -3, 1},
				Yaw:      float32(i * 10),
				Pitch:    -12.5,
			},
			Grounded:     i%2 == 0,
			LifeSequence: 3,
			ActiveWeapon: 1,
			Grenades:     2,
		}
		s.Weapons[1] = state.WeaponSlot{Ammo: 4, State: state.WeaponReloading, Cooldown: 0.75}
		snap.Players[state.EntityID(i)] = s
	}
	snap.Projectiles[9001] = state.ProjectileState{ID: 9001, Owner: 1, Kind: state.ProjectileGrenade, Position: mgl32.Vec3{1, 2, 3}, Fuse: 1.25}
	return snap
}

func TestWorldUpdateRoundTrip(t *testing.T) {
	codec := newTestCodec(t, nil)
	in := &WorldUpdate{LastAckedInput: 17, Snapshot: sampleSnapshot(3)}
	data, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if Kind(data[0]) != KindWorldUpdate || data[1] != 0 {
		t.Fatalf("unexpected header %v", data[:2])
	}
	packet, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, ok := packet.(*WorldUpdate)
	if !ok {
		t.Fatalf("unexpected packet %T", packet)
	}
	if out.LastAckedInput != 17 || out.Snapshot.ServerTick != 42 {
		t.Fatalf("header fields lost: %+v", out)
	}
	for id, want := range in.Snapshot.Players {
		got, ok := out.Snapshot.Players[id]
		if !ok || got != want {
			t.Fatalf("player %d mismatch: got %+v want %+v", id, got, want)
		}
	}
	if got := out.Snapshot.Projectiles[9001]; got != in.Snapshot.Projectiles[9001] {
		t.Fatalf("projectile mismatch: %+v", got)
	}
}

func TestInputBatchPreservesOrder(t *testing.T) {
	codec := newTestCodec(t, nil)
	batch := &InputBatch{}
	for i := uint32(5); i <= 8; i++ {
		batch.Inputs = append(batch.Inputs, state.InputRequest{
			SequenceID:       i,
			Buttons:          state.ButtonForward | state.ButtonFire,
			CamYaw:           90,
			CamPitch:         -5,
			FOV:              90,
			AspectRatio:      16.0 / 9.0,
			ClientRenderTime: time.Duration(i) * time.Millisecond,
		})
	}
	data, err := codec.Encode(batch)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	packet, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := packet.(*InputBatch).Inputs
	if len(got) != 4 {
		t.Fatalf("expected 4 inputs, got %d", len(got))
	}
	for i, in := range got {
		if in != batch.Inputs[i] {
			t.Fatalf("input %d mismatch: %+v vs %+v", i, in, batch.Inputs[i])
		}
	}
}

func TestCompressedBodiesDecodeWithAnyCodec(t *testing.T) {
	zstdCodec, err := NewZstdCompressor()
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	receiver := newTestCodec(t, nil)
	for _, c := range []Compressor{NewGZIPCompressor(), NewSnappyCompressor(), zstdCodec} {
		sender := newTestCodec(t, c)
		data, err := sender.Encode(&WorldUpdate{Snapshot: sampleSnapshot(32)})
		if err != nil {
			t.Fatalf("%s encode: %v", c.Name(), err)
		}
		if data[1]&flagCompressed == 0 {
			t.Fatalf("%s: expected compressed flag", c.Name())
		}
		packet, err := receiver.Decode(data)
		if err != nil {
			t.Fatalf("%s decode: %v", c.Name(), err)
		}
		if got := len(packet.(*WorldUpdate).Snapshot.Players); got != 32 {
			t.Fatalf("%s: expected 32 players, got %d", c.Name(), got)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	codec := newTestCodec(t, nil)
	if _, err := codec.Decode([]byte{1}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncated, got %v", err)
	}
	if _, err := codec.Decode([]byte{99, 0}); !errors.Is(err, ErrUnknownPacket) {
		t.Fatalf("expected unknown packet, got %v", err)
	}
	data, _ := codec.Encode(&Hello{Version: Version, Name: "alice"})
	if _, err := codec.Decode(data[:len(data)-3]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncated body, got %v", err)
	}
	if _, err := codec.Decode([]byte{byte(KindHello), flagCompressed | 0xF0, 1}); !errors.Is(err, ErrUnsupportedCompression) {
		t.Fatalf("expected unsupported compression, got %v", err)
	}
	oversized := append([]byte{byte(KindHello), 0}, bytes.Repeat([]byte{0}, MaxPayloadBytes+1)...)
	if _, err := codec.Decode(oversized); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected payload too large, got %v", err)
	}
}

func TestControlPacketsRoundTrip(t *testing.T) {
	codec := newTestCodec(t, NewSnappyCompressor())
	packets := []Packet{
		&Hello{Version: Version, Name: "bot-1", SessionToken: "tok"},
		&Welcome{PlayerID: 4, TeamID: 1, TickRate: 30, Mode: "deathmatch", SessionToken: "tok", ServerTick: 99},
		&PlayerInputAck{LastConsumedID: 12, ServerTick: 100, State: sampleSnapshot(1).Players[1]},
		&Disconnect{Reason: "shutdown"},
	}
	for _, p := range packets {
		data, err := codec.Encode(p)
		if err != nil {
			t.Fatalf("encode %s: %v", p.Kind(), err)
		}
		decoded, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("decode %s: %v", p.Kind(), err)
		}
		if decoded.Kind() != p.Kind() {
			t.Fatalf("kind mismatch %s vs %s", decoded.Kind(), p.Kind())
		}
	}
	if ack := packets[2].(*PlayerInputAck); ack.State.Weapons[1].Cooldown != 0.75 {
		t.Fatalf("sanity check on fixture failed")
	}
}

func TestCompressorByName(t *testing.T) {
	for _, name := range []string{"gzip", "snappy", "zstd"} {
		c, err := CompressorByName(name)
		if err != nil || c == nil || c.Name() != name {
			t.Fatalf("%s: got %v err=%v", name, c, err)
		}
	}
	if c, err := CompressorByName("none"); err != nil || c != nil {
		t.Fatalf("expected nil compressor for none")
	}
	if _, err := CompressorByName("lz4"); err == nil {
		t.Fatalf("expected error for unknown compressor")
	}
}

func TestRouteSeparatesChannels(t *testing.T) {
	if ch, _ := Route(KindInputBatch); ch != ChannelInput {
		t.Fatalf("input should use input channel")
	}
	if _, rel := Route(KindWelcome); rel != transport.Reliable {
		t.Fatalf("welcome should be reliable")
	}
}
