package services

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 10 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsReadLimit    = 4 << 10
)

type sendResult int

const (
	sent sendResult = iota
	bufferFull
	clientClosed
)

// WSClient is the websocket of one session. Its send channel is only closed
// through close, which serializes with trySend so a late event can never hit
// a closed channel.
type WSClient struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewWSClient(sessionID string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		id:   sessionID,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
}

func (c *WSClient) trySend(msg []byte) sendResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return clientClosed
	}
	select {
	case c.send <- msg:
		return sent
	default:
		return bufferFull
	}
}

// close is idempotent. The connection itself is closed by writeLoop once the
// queued events are flushed, or right away when no writer runs.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writeLoop drains the send queue until close and then says goodbye to the
// browser with a normal closure frame.
func (c *WSClient) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session replaced or closed"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump ignores anything the browser sends; the channel is push only. It
// keeps the read deadline fresh on pongs and reports the disconnect.
func (c *WSClient) readPump(onDone func()) {
	defer onDone()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
