package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one framed agent connection. ReadFrame is called from a single
// reader goroutine and WriteFrame from a single writer; Close may be called
// from anywhere.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Pinger is implemented by connections that need keepalive pings.
type Pinger interface {
	Ping() error
}

// ConnOptions tunes the gorilla connection adapter.
type ConnOptions struct {
	WriteTimeout  time.Duration
	PongTimeout   time.Duration
	MaxFrameBytes int64
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 16 << 20
	}
	return o
}

// PingPeriod returns how often pings are sent. Must be less than PongTimeout.
func (o ConnOptions) PingPeriod() time.Duration {
	return (o.withDefaults().PongTimeout * 9) / 10
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}

// Upgrade upgrades an HTTP request to a WebSocket Conn. On failure the
// upgrader has already written an HTTP error response.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ConnOptions) (Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newGorillaConn(conn, opts), nil
}

type gorillaConn struct {
	conn      *websocket.Conn
	opts      ConnOptions
	closeOnce sync.Once
}

func newGorillaConn(conn *websocket.Conn, opts ConnOptions) *gorillaConn {
	opts = opts.withDefaults()
	conn.SetReadLimit(opts.MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	})
	return &gorillaConn{conn: conn, opts: opts}
}

func (c *gorillaConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	// Any inbound traffic proves the peer is alive.
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	return data, nil
}

func (c *gorillaConn) WriteFrame(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Ping() error {
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *gorillaConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.opts.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = c.conn.Close()
	})
	return err
}

// IsUnexpectedClose reports whether err is a read failure worth logging,
// as opposed to a peer that went away normally.
func IsUnexpectedClose(err error) bool {
	if err == nil || errors.Is(err, ErrClientClosed) {
		return false
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure)
	}
	return false
}
