package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, tr Transport, kind EventKind) Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range tr.Poll() {
			if ev.Kind == kind {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", kind)
	return Event{}
}

func TestStreamTransportsExchangeFrames(t *testing.T) {
	for _, proto := range []string{"tcp", "ws", "kcp"} {
		t.Run(proto, func(t *testing.T) {
			opts := Options{HeartbeatInterval: 100 * time.Millisecond, HeartbeatTimeout: 600 * time.Millisecond}
			server, err := Listen(proto, "127.0.0.1:0", opts)
			if err != nil {
				t.Fatalf("listen: %v", err)
			}
			defer server.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			client, err := Dial(ctx, proto, server.Addr().String(), opts)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer client.Close()

			//1.- Send from client to server once the server observes the connect.
			if err := client.Send(client.Server(), 1, []byte("hello"), Reliable); err != nil {
				t.Fatalf("client send: %v", err)
			}
			connect := waitFor(t, server, EventConnect)
			got := waitFor(t, server, EventReceive)
			if got.Peer != connect.Peer || got.Channel != 1 || string(got.Payload) != "hello" {
				t.Fatalf("unexpected event %+v", got)
			}

			//2.- Reply on another channel.
			if err := server.Send(connect.Peer, 2, []byte("welcome"), Unreliable); err != nil {
				t.Fatalf("server send: %v", err)
			}
			reply := waitFor(t, client, EventReceive)
			if reply.Channel != 2 || string(reply.Payload) != "welcome" {
				t.Fatalf("unexpected reply %+v", reply)
			}

			//3.- Closing the client surfaces a disconnect on the server, by heartbeat timeout for kcp.
			client.Close()
			if ev := waitFor(t, server, EventDisconnect); ev.Peer != connect.Peer {
				t.Fatalf("disconnect for wrong peer %+v", ev)
			}
		})
	}
}

func TestSendToUnknownPeer(t *testing.T) {
	server, err := Listen("tcp", "127.0.0.1:0", Options{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer server.Close()
	if err := server.Send(99, 0, nil, Reliable); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected unknown peer, got %v", err)
	}
	if _, err := Listen("quic", "127.0.0.1:0", Options{}); !errors.Is(err, ErrUnsupportedProto) {
		t.Fatalf("expected unsupported proto, got %v", err)
	}
}

func TestInboundFloodIsLimited(t *testing.T) {
	server, err := Listen("tcp", "127.0.0.1:0", Options{InboundRate: 1, InboundBurst: 3})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer server.Close()
	client, err := Dial(context.Background(), "tcp", server.Addr().String(), Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	for i := 0; i < 20; i++ {
		if err := client.Send(client.Server(), 1, []byte{byte(i)}, Unreliable); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	deadline := time.Now().Add(3 * time.Second)
	received := 0
	for time.Now().Before(deadline) && server.Stats().DroppedInbound+uint64(received) < 20 {
		for _, ev := range server.Poll() {
			if ev.Kind == EventReceive {
				received++
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if received > 5 {
		t.Fatalf("expected burst limit to hold, received %d", received)
	}
	if server.Stats().DroppedInbound == 0 {
		t.Fatalf("expected dropped inbound frames")
	}
}

func TestLoopbackDeliveryAndLoss(t *testing.T) {
	lb := NewLoopback()
	server := lb.Server()
	client := lb.Connect()
	if evs := server.Poll(); len(evs) != 1 || evs[0].Kind != EventConnect || evs[0].Peer != client.ID() {
		t.Fatalf("expected connect event, got %+v", evs)
	}
	client.Poll()

	lb.SetDrop(func(from, to PeerID, ch Channel) bool { return ch == 2 })
	if err := client.Send(ServerPeer, 2, []byte("lost"), Unreliable); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := client.Send(ServerPeer, 2, []byte("kept"), Reliable); err != nil {
		t.Fatalf("send: %v", err)
	}
	evs := server.Poll()
	if len(evs) != 1 || string(evs[0].Payload) != "kept" {
		t.Fatalf("expected only reliable frame, got %+v", evs)
	}

	server.Kick(client.ID())
	if evs := server.Poll(); len(evs) != 1 || evs[0].Kind != EventDisconnect {
		t.Fatalf("expected disconnect, got %+v", evs)
	}
	if err := client.Send(ServerPeer, 0, nil, Reliable); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed client, got %v", err)
	}
}

func TestLoopbackHoldSwapsUnreliableFrames(t *testing.T) {
	lb := NewLoopback()
	server := lb.Server()
	client := lb.Connect()
	server.Poll()
	client.Poll()

	sent := 0
	lb.SetHold(func(from, to PeerID, ch Channel) bool {
		sent++
		return sent == 1
	})
	for _, payload := range []string{"first", "second", "third"} {
		if err := client.Send(ServerPeer, 1, []byte(payload), Unreliable); err != nil {
			t.Fatalf("send %s: %v", payload, err)
		}
	}
	if err := client.Send(ServerPeer, 1, []byte("ordered"), Reliable); err != nil {
		t.Fatalf("send: %v", err)
	}
	evs := server.Poll()
	var got []string
	for _, ev := range evs {
		got = append(got, string(ev.Payload))
	}
	want := []string{"second", "first", "third", "ordered"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
