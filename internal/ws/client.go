package ws

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClientClosed is returned by Send once the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrSendQueueFull is returned when the client cannot keep up with its
	// outbound traffic. The client is closed when this happens.
	ErrSendQueueFull = errors.New("send queue full")
)

const defaultQueueSize = 256

type outbound struct {
	data []byte
	done chan error
}

// ClientOptions tunes a Client.
type ClientOptions struct {
	QueueSize  int
	PingPeriod time.Duration
}

// Client is the handle the registry holds for one agent connection. All
// writes go through a bounded FIFO queue drained by one write pump, so a
// connection never has two writes in flight.
type Client struct {
	conn  Conn
	queue chan outbound

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	pingPeriod time.Duration
}

// NewClient creates a Client for conn and starts its write pump.
func NewClient(conn Conn, opts ClientOptions) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	c := &Client{
		conn:       conn,
		queue:      make(chan outbound, opts.QueueSize),
		done:       make(chan struct{}),
		pingPeriod: opts.PingPeriod,
	}
	go c.writePump()
	return c
}

// Send queues data behind any earlier sends and blocks until the write
// pump reports the outcome.
func (c *Client) Send(data []byte) error {
	req := outbound{data: data, done: make(chan error, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	select {
	case c.queue <- req:
	default:
		c.closeLocked()
		c.mu.Unlock()
		return ErrSendQueueFull
	}
	c.mu.Unlock()

	return <-req.done
}

// Receive reads the next inbound frame. It must only be called from the
// connection's single reader goroutine.
func (c *Client) Receive() ([]byte, error) {
	data, err := c.conn.ReadFrame()
	if err != nil && c.IsClosed() {
		return nil, ErrClientClosed
	}
	return data, err
}

// Close closes the client and its connection. Pending sends fail with
// ErrClientClosed. Close is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.conn.Close()
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writePump writes queued frames in order and answers each sender. It exits
// on the first write failure or when the client is closed, failing whatever
// is still queued.
func (c *Client) writePump() {
	var tick <-chan time.Time
	pinger, canPing := c.conn.(Pinger)
	if canPing && c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer c.drain()

	for {
		select {
		case req := <-c.queue:
			err := c.conn.WriteFrame(req.data)
			req.done <- err
			if err != nil {
				c.Close()
				return
			}
		case <-tick:
			if err := pinger.Ping(); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// drain fails every request still queued. Close has already run, so no new
// requests can be enqueued.
func (c *Client) drain() {
	for {
		select {
		case req := <-c.queue:
			req.done <- ErrClientClosed
		default:
			return
		}
	}
}
