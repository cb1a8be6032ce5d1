package transport

import (
	"context"
	"sync"
	"time"

	"starbench/internal/model"
	"starbench/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSDialer dials workers over WebSocket.
type WSDialer struct {
	dialer *websocket.Dialer
}

// NewWSDialer creates a dialer with the default WebSocket handshake settings.
func NewWSDialer() *WSDialer {
	return &WSDialer{dialer: websocket.DefaultDialer}
}

// Dial opens the command channel to a worker endpoint (ws:// URL).
func (d *WSDialer) Dial(ctx context.Context, endpoint string) (Channel, error) {
	conn, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return NewWSChannel(conn), nil
}

// wsChannel pairs replies to requests by correlation id over one
// WebSocket connection. A read error or missed pong closes the channel
// and fails every in-flight call.
type wsChannel struct {
	conn *websocket.Conn

	writeMu sync.Mutex // WebSocket allows one concurrent writer

	pendingMu sync.Mutex
	pending   map[string]chan *model.CommandReply

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWSChannel wraps an established WebSocket connection as a command
// channel and starts its read and keepalive loops.
func NewWSChannel(conn *websocket.Conn) Channel {
	c := &wsChannel{
		conn:    conn,
		pending: make(map[string]chan *model.CommandReply),
		closed:  make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readLoop()
	go c.pingLoop()
	return c
}

func (c *wsChannel) Call(ctx context.Context, req *model.CommandRequest) (*model.CommandReply, error) {
	if c.Closed() {
		return nil, ErrChannelClosed
	}

	ch := make(chan *model.CommandReply, 1)
	c.pendingMu.Lock()
	if _, dup := c.pending[req.CorrelationID]; dup {
		c.pendingMu.Unlock()
		return nil, ErrCorrelationConflict
	}
	c.pending[req.CorrelationID] = ch
	c.pendingMu.Unlock()
	defer c.unregister(req.CorrelationID)

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.shutdown()
		return nil, ErrChannelClosed
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrChannelClosed
	}
}

func (c *wsChannel) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *wsChannel) Close() error {
	c.shutdown()
	return nil
}

func (c *wsChannel) readLoop() {
	defer c.shutdown()
	for {
		var reply model.CommandReply
		if err := c.conn.ReadJSON(&reply); err != nil {
			if !c.Closed() {
				logger.Debugf("worker channel read failed: %v", err)
			}
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[reply.CorrelationID]
		c.pendingMu.Unlock()
		if !ok {
			// Reply for an abandoned (timed out) request.
			logger.Debugf("dropping reply with no pending request, correlation_id: %s", reply.CorrelationID)
			continue
		}
		ch <- &reply
	}
}

func (c *wsChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *wsChannel) unregister(correlationID string) {
	c.pendingMu.Lock()
	delete(c.pending, correlationID)
	c.pendingMu.Unlock()
}

func (c *wsChannel) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
