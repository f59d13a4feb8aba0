package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatwire/pkg/logger"
	"chatwire/pkg/metrics"
	"chatwire/pkg/models"
	"chatwire/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	defaultSendQueue  = 64
	defaultMaxDropped = 32
)

// wire is the write-side subset of *websocket.Conn. Narrowed so hub and
// connection tests can run against an in-memory fake.
type wire interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn wraps one websocket and serializes outbound writes through a
// bounded queue. When the queue overflows the oldest frame is shed to
// make room; a client that keeps falling behind is disconnected once the
// shed count passes maxDropped. Safe for concurrent use.
type Conn struct {
	ID       string
	UserID   string
	UserName string
	Role     string

	sock wire

	mu         sync.Mutex // guards send enqueues, closed and dropped
	send       chan *Payload
	closed     bool
	dropped    int
	maxDropped int

	once sync.Once
	quit chan struct{}
}

// NewConn constructs a connection for the authenticated identity.
// queueSize and maxDropped fall back to defaults when non-positive.
func NewConn(id models.Identity, ws *websocket.Conn, queueSize, maxDropped int) *Conn {
	return newConn(id, ws, queueSize, maxDropped)
}

func newConn(id models.Identity, w wire, queueSize, maxDropped int) *Conn {
	if queueSize <= 0 {
		queueSize = defaultSendQueue
	}
	if maxDropped <= 0 {
		maxDropped = defaultMaxDropped
	}
	return &Conn{
		ID:         utils.NewID(),
		UserID:     id.ID,
		UserName:   id.Name,
		Role:       id.Role,
		sock:       w,
		send:       make(chan *Payload, queueSize),
		maxDropped: maxDropped,
		quit:       make(chan struct{}),
	}
}

// Start launches the write loop. Called exactly once, by hub.Attach.
func (c *Conn) Start() {
	go c.writeLoop()
}

// Enqueue hands the connection one payload reference. The reference is
// released after the frame is written, or when the frame is shed or the
// connection tears down.
func (c *Conn) Enqueue(p *Payload) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.Release()
		return false
	}
	for {
		select {
		case c.send <- p:
			c.mu.Unlock()
			return true
		default:
		}
		// queue full: shed the oldest frame to make room
		select {
		case old := <-c.send:
			old.Release()
			c.dropped++
			metrics.DroppedEventsTotal.Inc()
		default:
		}
		if c.dropped > c.maxDropped {
			c.mu.Unlock()
			p.Release()
			logger.Warn("conn_queue_overflow", "conn", c.ID, "user", c.UserID, "dropped", c.dropped)
			c.Close(websocket.CloseGoingAway, "outbound queue overflow")
			return false
		}
	}
}

// Close terminates the connection and stops the write loop. Idempotent.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.quit)
		_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.sock.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.drain()

	for {
		select {
		case <-c.quit:
			return
		case p := <-c.send:
			err := c.writeFrame(p.Bytes())
			p.Release()
			if err != nil {
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// drain releases every queued payload after the write loop stops. Taking
// mu orders the drain after any in-flight Enqueue, so no reference leaks.
func (c *Conn) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		select {
		case p := <-c.send:
			p.Release()
		default:
			return
		}
	}
}

func (c *Conn) writeFrame(payload []byte) error {
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) writePing() error {
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.PingMessage, nil)
}
