package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var errClosed = errors.New("websocket: connection closed")

// Conn is one client connection. Writes go through a buffered channel
// drained by a single writer goroutine, reads happen in ReadLoop.
type Conn struct {
	ctx          context.Context
	cancel       context.CancelFunc
	ws           *websocket.Conn
	out          chan []byte
	writeTimeout time.Duration
	readLimit    int64
	once         sync.Once
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration, readLimit int64) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ctx:          ctx,
		cancel:       cancel,
		ws:           ws,
		out:          make(chan []byte, 256),
		writeTimeout: writeTimeout,
		readLimit:    readLimit,
	}
	go c.writeLoop()
	return c
}

func (c *Conn) WriteMessage(data []byte) error {
	select {
	case <-c.ctx.Done():
		return errClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return errClosed
	}
}

// ReadLoop delivers text frames in arrival order until the connection fails.
func (c *Conn) ReadLoop(onFrame func([]byte)) error {
	defer c.Close()
	// Configure Read Limits (Protects against memory exhaustion)
	c.ws.SetReadLimit(c.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return errClosed
			}
			return err
		}
		if len(data) > 0 {
			onFrame(data)
		}
	}
}

func (c *Conn) Close() {
	c.once.Do(func() {
		c.cancel()
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
