package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("session closed")
)

// wsConn is one physical connection. The session replaces it on reconnect.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	gen  uint64

	mu     sync.RWMutex
	closed bool
}

func newWSConn(ws *websocket.Conn, gen uint64, buffer int) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, buffer),
		gen:  gen,
	}
}

func (c *wsConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close sends a close frame and releases the socket. Safe to call twice.
func (c *wsConn) Close(writeTimeout time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	_ = c.ws.Close()
}
