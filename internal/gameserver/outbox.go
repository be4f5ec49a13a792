// Package gameserver exposes the arena session core over WebSocket:
// connection membership, join/intent/disconnect handling, and tick
// broadcast fan-out.
package gameserver

import (
	"fmt"
	"sync"
)

// Outbox is a connection's outbound frame queue, bridging the room layer
// to the WebSocket write pump. Pushes never block: a full buffer is an
// error, and the caller reconciles the connection through the departure
// path rather than stalling a room's tick cadence.
type Outbox struct {
	conn   string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the given connection id.
//
// Precondition: conn must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel.
func NewOutbox(conn string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		conn:   conn,
		frames: make(chan []byte, bufferSize),
	}
}

// Conn returns the connection id this outbox serves.
func (o *Outbox) Conn() string {
	return o.conn
}

// Push enqueues a frame for the write pump.
//
// Postcondition: The frame is queued, or an error if the outbox is closed
// or full.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s is closed", o.conn)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("outbox %s buffer full", o.conn)
	}
}

// Frames returns the read-only frame channel. The write pump drains it
// until it is closed.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox closed and closes the frames channel.
//
// Postcondition: Further Push calls return an error. Safe to call twice.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
	return nil
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
