package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// frameConn reads and writes whole channel-tagged frames.
type frameConn interface {
	ReadFrame() (Channel, []byte, error)
	WriteFrame(ch Channel, payload []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// streamConn frames a byte stream as [u32 length][u8 channel][payload] with
// the length in big endian and covering the channel byte.
type streamConn struct {
	net.Conn
	reader   *bufio.Reader
	maxFrame int
	header   [4]byte
	wmu      sync.Mutex
}

func newStreamConn(conn net.Conn, maxFrame int) *streamConn {
	return &streamConn{Conn: conn, reader: bufio.NewReader(conn), maxFrame: maxFrame}
}

func (c *streamConn) ReadFrame() (Channel, []byte, error) {
	//1.- Read the length prefix and reject empty or oversized frames.
	if _, err := io.ReadFull(c.reader, c.header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(c.header[:])
	if length == 0 {
		return 0, nil, fmt.Errorf("read frame: empty frame")
	}
	if int64(length) > int64(c.maxFrame)+1 {
		return 0, nil, fmt.Errorf("read frame of %d bytes: %w", length, ErrFrameTooLarge)
	}
	//2.- Read the channel byte and payload in one go.
	data := make([]byte, length)
	if _, err := io.ReadFull(c.reader, data); err != nil {
		return 0, nil, err
	}
	return Channel(data[0]), data[1:], nil
}

func (c *streamConn) WriteFrame(ch Channel, payload []byte) error {
	if len(payload) > c.maxFrame {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)+1))
	buf[4] = byte(ch)
	copy(buf[5:], payload)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.Conn.Write(buf)
	return err
}

// wsConn carries one frame per binary WebSocket message with the channel as
// the first byte.
type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func newWSConn(conn *websocket.Conn, maxFrame int) *wsConn {
	conn.SetReadLimit(int64(maxFrame) + 1)
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadFrame() (Channel, []byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			return 0, nil, fmt.Errorf("read frame: empty message")
		}
		return Channel(data[0]), data[1:], nil
	}
}

func (c *wsConn) WriteFrame(ch Channel, payload []byte) error {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(ch)
	copy(buf[1:], payload)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, buf)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *wsConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
