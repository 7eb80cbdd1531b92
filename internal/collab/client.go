package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	writeWait         = 10 * time.Second
	pingPeriod        = 30 * time.Second
	defaultMaxMsgSize = 64 * 1024
	defaultSendBuffer = 256
)

var (
	ErrSendBufferFull = errors.New("client send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

// Client is one websocket connection. It implements presence.Conn: Send
// never blocks, so a slow peer surfaces as ErrSendBufferFull and is
// evicted by the broadcaster.
type Client struct {
	ID   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewClient(conn *websocket.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Client{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// Send encodes msg as JSON and queues it. Raw frames are queued untouched.
func (c *Client) Send(msg any) error {
	var data []byte
	switch v := msg.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		data = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		// A peer that cannot keep up is cut off; the write pump exits and
		// closes the socket.
		c.closed = true
		close(c.send)
		return ErrSendBufferFull
	}
}

// Close stops the write pump. Later sends fail with ErrClientClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump hands every inbound frame to handle until the peer goes away
// or ctx ends.
func (c *Client) ReadPump(ctx context.Context, handle func(data []byte)) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				slog.Debug("read error", "error", err, "client", c.ID)
			}
			return
		}
		handle(data)
	}
}

func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Debug("write error", "error", err, "client", c.ID)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
