// Package wstest provides an in-memory ws.Conn for tests.
package wstest

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrWriteFailed is returned by WriteFrame after FailWrites is called.
var ErrWriteFailed = errors.New("wstest: write failed")

// Conn is an in-memory connection. Frames pushed with Push are returned by
// ReadFrame; frames written by the hub are delivered on Written.
type Conn struct {
	inbound chan []byte
	written chan []byte

	mu         sync.Mutex
	closed     bool
	closedCh   chan struct{}
	failWrites bool
}

// NewConn creates an open Conn.
func NewConn() *Conn {
	return &Conn{
		inbound:  make(chan []byte, 64),
		written:  make(chan []byte, 1024),
		closedCh: make(chan struct{}),
	}
}

// Push queues a frame for the hub to read.
func (c *Conn) Push(frame []byte) {
	c.inbound <- frame
}

// FailWrites makes every later WriteFrame fail.
func (c *Conn) FailWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = true
}

// ReadFrame blocks until a frame is pushed or the connection is closed.
func (c *Conn) ReadFrame() ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closedCh:
		return nil, io.EOF
	}
}

// WriteFrame records data.
func (c *Conn) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	if c.failWrites {
		return ErrWriteFailed
	}
	c.written <- append([]byte(nil), data...)
	return nil
}

// Close closes the connection; pending and later reads return io.EOF.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Next returns the next written frame, or nil after timeout.
func (c *Conn) Next(timeout time.Duration) []byte {
	select {
	case frame := <-c.written:
		return frame
	case <-time.After(timeout):
		return nil
	}
}
