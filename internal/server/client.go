// Package server manages individual chat connections, handling the read
// and write pumps and lifecycle control for each of them.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

var errClientGone = errors.New("server: recipient connection closed")

// outbound is one queued write: protocol lines, optionally followed by an
// attachment body streamed from the uploader.
type outbound struct {
	lines []string
	body  *io.PipeReader
}

// Client is one connection to the relay. The reader goroutine owns the
// framer and the transport's inbound side; the writer goroutine drains
// send. identity, closed, limiter and backlog belong to the hub goroutine.
// streaming is set by the writer when it starts an attachment body and
// cleared by the hub once the writer has caught up.
type Client struct {
	id        string
	transport Transport
	framer    *protocol.Framer
	send      chan outbound
	hub       *Hub
	addr      string
	log       *slog.Logger

	identity string
	closed   bool
	limiter  *rateLimiter
	backlog  []outbound

	streaming atomic.Bool
	closeOnce sync.Once
}

// NewClient wraps t for hub. The client does nothing until Hub.Accept
// starts its pumps.
func NewClient(t Transport, hub *Hub) *Client {
	id := uuid.NewString()
	addr := t.RemoteAddr()
	return &Client{
		id:        id,
		transport: t,
		framer:    protocol.NewFramer(t, hub.cfg.MaxLineLength),
		send:      make(chan outbound, hub.cfg.SendBufferSize),
		hub:       hub,
		addr:      addr,
		log:       hub.log.With("conn", id, "addr", addr),
		limiter:   newRateLimiter(hub.cfg.RateLimit),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) readPump() {
	identity, ok := c.handshake()
	if !ok {
		return
	}

	reason := ReasonTransport
	defer func() {
		c.hub.unregisterClient(c, reason)
	}()

	for {
		line, err := c.framer.ReadLine()
		if err != nil {
			if errors.Is(err, protocol.ErrLineTooLong) {
				c.hub.notify(c, protocol.ErrorLine("Line too long"))
				reason = ReasonProtocol
			}
			c.handleReadError(err)
			return
		}

		d, ok := c.hub.dispatch(c, protocol.ParseCommand(line))
		if !ok || d.closed {
			return
		}
		if d.attach == nil {
			continue
		}
		if err := c.relayAttachment(identity, d.attach); err != nil {
			c.handleReadError(err)
			return
		}
	}
}

// handleReadError logs why the read loop stopped at a level matching how
// surprising the cause is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.log.Info("Client closed connection")
	case errors.Is(err, protocol.ErrLineTooLong):
		c.log.Warn("Line exceeded maximum length", "max", c.hub.cfg.MaxLineLength)
	case errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.log.Debug("Connection closed", "error", err)
	default:
		c.log.Warn("Read error", "error", err)
	}
}

func (c *Client) writePump() {
	defer func() {
		c.closeTransport()
		c.discardQueued()
	}()

	for item := range c.send {
		if !c.handleOutbound(item) {
			return
		}
	}
}

// handleOutbound writes item and everything queued behind it, then
// flushes once. It returns false when the connection should be closed.
func (c *Client) handleOutbound(item outbound) bool {
	if err := c.writeOutbound(item); err != nil {
		c.logWriteError(err)
		return false
	}
	if !c.writeQueuedMessages() {
		return false
	}
	if c.streaming.Load() && !c.catchUp() {
		return false
	}
	if err := c.transport.Flush(); err != nil {
		c.logWriteError(err)
		return false
	}
	return true
}

func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		item, ok := <-c.send
		if !ok {
			return true
		}
		if err := c.writeOutbound(item); err != nil {
			c.logWriteError(err)
			return false
		}
	}
	return true
}

func (c *Client) writeOutbound(item outbound) error {
	for _, line := range item.lines {
		if err := c.transport.WriteLine(line); err != nil {
			if item.body != nil {
				item.body.CloseWithError(err)
			}
			return err
		}
	}
	if item.body == nil {
		return nil
	}
	c.streaming.Store(true)
	return c.writeBody(item.body)
}

// catchUp writes what piled up while a body held the writer: the rest of
// send first, then the hub's backlog, until the hub reports both empty.
func (c *Client) catchUp() bool {
	for {
		items, more := c.hub.takeBacklog(c)
		for i, item := range items {
			if err := c.writeOutbound(item); err != nil {
				c.logWriteError(err)
				abandon(items[i+1:])
				return false
			}
		}
		if len(items) == 0 && !more {
			return true
		}
		if !c.writeQueuedMessages() {
			return false
		}
	}
}

// abandon releases the uploaders of bodies that will never be written.
func abandon(items []outbound) {
	for _, item := range items {
		if item.body != nil {
			item.body.CloseWithError(errClientGone)
		}
	}
}

// writeBody copies an attachment body chunk by chunk. Any failure, ours or
// the uploader's, leaves this connection mid-body and unusable.
func (c *Client) writeBody(body *io.PipeReader) error {
	buf := make([]byte, c.hub.cfg.ChunkSize)
	if _, err := io.CopyBuffer(bodyWriter{c.transport}, body, buf); err != nil {
		body.CloseWithError(err)
		return fmt.Errorf("attachment body: %w", err)
	}
	return nil
}

// discardQueued releases uploaders still waiting on bodies that will never
// be written. It returns once the hub or the handshake closed send.
func (c *Client) discardQueued() {
	for item := range c.send {
		abandon([]outbound{item})
	}
}

func (c *Client) logWriteError(err error) {
	if isExpectedCloseError(err) {
		c.log.Debug("Write on closed connection", "error", err)
		return
	}
	c.log.Warn("Write error", "error", err)
}

// closeTransport closes the connection once; later calls are no-ops.
func (c *Client) closeTransport() {
	c.closeOnce.Do(func() {
		if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection", "error", err)
		}
	})
}

// bodyWriter flushes every chunk so recipients see a body as it arrives.
type bodyWriter struct {
	t Transport
}

func (w bodyWriter) Write(p []byte) (int, error) {
	n, err := w.t.WriteBody(p)
	if err != nil {
		return n, err
	}
	return n, w.t.Flush()
}
