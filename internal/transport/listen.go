package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	kcp "github.com/xtaci/kcp-go/v5"
)

// Server accepts peers on one protocol and implements Transport.
type Server struct {
	*hub
	proto    string
	listener net.Listener
	http     *http.Server
	done     chan struct{}
	once     sync.Once
}

// Listen starts accepting peers. proto is one of tcp, kcp or ws.
func Listen(proto, addr string, opts Options) (*Server, error) {
	s := &Server{hub: newHub(opts), proto: proto, done: make(chan struct{})}
	switch proto {
	case "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
		}
		s.listener = listener
		go s.acceptLoop(func() (frameConn, error) {
			conn, err := listener.Accept()
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return newStreamConn(conn, s.opts.MaxFrameBytes), nil
		})
	case "kcp":
		listener, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("listen kcp %s: %w", addr, err)
		}
		s.listener = listener
		go s.acceptLoop(func() (frameConn, error) {
			session, err := listener.AcceptKCP()
			if err != nil {
				return nil, err
			}
			tuneKCP(session)
			return newStreamConn(session, s.opts.MaxFrameBytes), nil
		})
	case "ws":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen ws %s: %w", addr, err)
		}
		s.listener = listener
		upgrader := websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		}
		mux := http.NewServeMux()
		mux.HandleFunc(s.opts.WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				s.log.Error(err, "websocket upgrade failed", "remote", r.RemoteAddr)
				return
			}
			if _, err := s.attach(newWSConn(conn, s.opts.MaxFrameBytes)); err != nil {
				s.log.V(1).Info("rejected websocket peer", "reason", err.Error())
			}
		})
		s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error(err, "websocket server stopped")
			}
		}()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProto, proto)
	}
	s.log.Info("transport listening", "proto", proto, "addr", s.listener.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Proto reports the protocol served.
func (s *Server) Proto() string { return s.proto }

func (s *Server) acceptLoop(accept func() (frameConn, error)) {
	for {
		conn, err := accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error(err, "accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if _, err := s.attach(conn); err != nil {
			return
		}
	}
}

// Close stops accepting, disconnects every peer and waits for their loops.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			err = s.http.Shutdown(ctx)
			cancel()
		} else {
			err = s.listener.Close()
		}
		s.shutdown()
	})
	return err
}

func tuneKCP(session *kcp.UDPSession) {
	session.SetStreamMode(true)
	session.SetNoDelay(1, 10, 2, 1)
	session.SetWindowSize(256, 256)
	session.SetACKNoDelay(true)
}
