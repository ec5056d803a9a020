// Package ws provides the WebSocket transport boundary for agent connections.
//
// The package implements:
//   - Conn: one framed, bidirectional agent connection (ReadFrame/WriteFrame/Close)
//   - Upgrade: accepts an HTTP request as a gorilla/websocket backed Conn
//   - Client: the connection handle held by the registry, serializing every
//     write through a FIFO queue drained by a single write pump
//
// Key features:
//   - One writer per connection: concurrent Send calls queue behind each other
//   - Synchronous outcome: Send returns only once its frame was written or failed
//   - Keepalive: the write pump pings, the reader extends its deadline on pong
package ws
