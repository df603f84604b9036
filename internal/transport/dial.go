package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/gorilla/websocket"
	kcp "github.com/xtaci/kcp-go/v5"
)

// Client is a single outbound connection implementing Transport. Its only
// peer is the server.
type Client struct {
	*hub
	server PeerID
}

// Dial connects to a server listening with proto at addr.
func Dial(ctx context.Context, proto, addr string, opts Options) (*Client, error) {
	h := newHub(opts)
	var conn frameConn
	switch proto {
	case "tcp":
		var dialer net.Dialer
		raw, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
		}
		if tcpConn, ok := raw.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		conn = newStreamConn(raw, h.opts.MaxFrameBytes)
	case "kcp":
		session, err := kcp.DialWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("dial kcp %s: %w", addr, err)
		}
		tuneKCP(session)
		conn = newStreamConn(session, h.opts.MaxFrameBytes)
	case "ws":
		target := url.URL{Scheme: "ws", Host: addr, Path: h.opts.WebSocketPath}
		raw, _, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("dial ws %s: %w", target.String(), err)
		}
		conn = newWSConn(raw, h.opts.MaxFrameBytes)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProto, proto)
	}
	p, err := h.attach(conn)
	if err != nil {
		return nil, err
	}
	return &Client{hub: h, server: p.id}, nil
}

// Server returns the peer identifier of the remote server.
func (c *Client) Server() PeerID { return c.server }

// Close disconnects from the server.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}
