package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one socket to the gateway. Each connect attempt gets a new conn
// tagged with the attempt generation.
type conn struct {
	ws           *websocket.Conn
	gen          uint64
	writeTimeout time.Duration

	// Write serialization
	writeMu sync.Mutex

	closing    atomic.Bool // we initiated teardown
	peerClosed atomic.Bool // the remote already closed
	readDone   chan struct{}
}

func newConn(ws *websocket.Conn, gen uint64, writeTimeout time.Duration) *conn {
	return &conn{
		ws:           ws,
		gen:          gen,
		writeTimeout: writeTimeout,
		readDone:     make(chan struct{}),
	}
}

// writeJSON encodes v and writes it as a single text message.
func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// shutdown performs the close handshake: send a close frame, wait (bounded)
// for the read loop to see the remote acknowledgment, then drop the socket.
func (c *conn) shutdown(code int, reason string, timeout time.Duration) {
	c.closing.Store(true)

	if !c.peerClosed.Load() {
		msg := websocket.FormatCloseMessage(code, reason)
		err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if err == nil {
			select {
			case <-c.readDone:
			case <-time.After(timeout):
			}
		}
	}

	c.ws.Close()
}

// terminate drops the socket without a close handshake.
func (c *conn) terminate() {
	c.closing.Store(true)
	c.ws.Close()
}
