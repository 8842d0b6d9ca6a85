// Package server coordinates client registration, command dispatch, and
// outbound queues for the chat relay via the Hub type.
package server

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

// directive tells a reader goroutine how to continue after a command.
type directive struct {
	closed bool
	attach *pendingAttachment
}

type pendingAttachment struct {
	filename string
	terms    []string
}

type registerRequest struct {
	client   *Client
	identity string
	terms    []string
	reply    chan string
}

type unregisterRequest struct {
	client *Client
	reason string
}

type commandRequest struct {
	client *Client
	cmd    protocol.Command
	reply  chan directive
}

type uploadRequest struct {
	client   *Client
	filename string
	size     int64
	terms    []string
	reply    chan []*io.PipeWriter
}

type noticeRequest struct {
	client *Client
	line   string
	relay  *relayResult
}

type relayResult struct {
	filename   string
	recipients int
	bytes      int64
}

// Hub owns the client registry. Every registry access and every write to
// a client queue happens on the goroutine running Run, so no state here
// is shared with the per-connection goroutines except through channels.
type Hub struct {
	cfg      Config
	log      *slog.Logger
	observer Observer
	registry *registry.Registry[*Client]

	register   chan registerRequest
	unregister chan unregisterRequest
	commands   chan commandRequest
	uploads    chan uploadRequest
	notices    chan noticeRequest
	queries    chan func()

	connsMu sync.Mutex
	conns   map[*Client]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub ready to Run. A nil observer discards events.
func NewHub(cfg Config, log *slog.Logger, observer Observer) *Hub {
	if observer == nil {
		observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        sanitizeConfig(cfg),
		log:        log,
		observer:   observer,
		registry:   registry.New[*Client](),
		register:   make(chan registerRequest),
		unregister: make(chan unregisterRequest),
		commands:   make(chan commandRequest),
		uploads:    make(chan uploadRequest),
		notices:    make(chan noticeRequest),
		queries:    make(chan func()),
		conns:      make(map[*Client]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run processes hub requests until Shutdown is called. It must run in its
// own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case req := <-h.register:
			req.reply <- h.handleRegister(req)

		case req := <-h.unregister:
			h.remove(req.client, req.reason)

		case req := <-h.commands:
			req.reply <- h.handleCommand(req.client, req.cmd)

		case req := <-h.uploads:
			req.reply <- h.handleUpload(req)

		case req := <-h.notices:
			h.handleNotice(req)

		case query := <-h.queries:
			query()
		}
	}
}

// Accept starts the reader and writer goroutines of a new connection.
func (h *Hub) Accept(t Transport) *Client {
	c := NewClient(t, h)

	h.connsMu.Lock()
	h.conns[c] = struct{}{}
	h.connsMu.Unlock()

	c.log.Debug("Connection accepted")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		defer h.forget(c)
		c.readPump()
	}()
	return c
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	var n int
	h.query(func() { n = h.registry.Len() })
	return n
}

// Identities lists registered identities in registration order.
func (h *Hub) Identities() []string {
	var ids []string
	h.query(func() { ids = h.registry.Identities() })
	return ids
}

func (h *Hub) forget(c *Client) {
	h.connsMu.Lock()
	delete(h.conns, c)
	h.connsMu.Unlock()
}

// deliver hands req to the hub goroutine. It reports false once the hub
// has stopped.
func deliver[T any](h *Hub, ch chan<- T, req T) bool {
	select {
	case ch <- req:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) query(fn func()) bool {
	finished := make(chan struct{})
	if !deliver(h, h.queries, func() {
		fn()
		close(finished)
	}) {
		return false
	}
	<-finished
	return true
}

func (h *Hub) isRegistered(identity string) bool {
	var found bool
	h.query(func() { _, found = h.registry.FindByIdentity(identity) })
	return found
}

// registerClient returns the coded handshake reply, or "" when the hub is
// gone.
func (h *Hub) registerClient(c *Client, identity string, terms []string) string {
	reply := make(chan string, 1)
	if !deliver(h, h.register, registerRequest{client: c, identity: identity, terms: terms, reply: reply}) {
		return ""
	}
	return <-reply
}

func (h *Hub) unregisterClient(c *Client, reason string) {
	deliver(h, h.unregister, unregisterRequest{client: c, reason: reason})
}

func (h *Hub) dispatch(c *Client, cmd protocol.Command) (directive, bool) {
	reply := make(chan directive, 1)
	if !deliver(h, h.commands, commandRequest{client: c, cmd: cmd, reply: reply}) {
		return directive{}, false
	}
	return <-reply, true
}

// beginUpload returns one pipe per recipient of the announced attachment.
// ok is false when the uploader is no longer active.
func (h *Hub) beginUpload(c *Client, filename string, size int64, terms []string) ([]*io.PipeWriter, bool) {
	reply := make(chan []*io.PipeWriter, 1)
	req := uploadRequest{client: c, filename: filename, size: size, terms: terms, reply: reply}
	if !deliver(h, h.uploads, req) {
		return nil, false
	}
	writers := <-reply
	return writers, writers != nil
}

func (h *Hub) notify(c *Client, line string) {
	deliver(h, h.notices, noticeRequest{client: c, line: line})
}

func (h *Hub) notifyRelayed(c *Client, result relayResult) {
	line := "Attachment " + result.filename + " attached and distributed"
	deliver(h, h.notices, noticeRequest{client: c, line: line, relay: &result})
}

func (h *Hub) handleRegister(req registerRequest) string {
	c := req.client
	if err := h.registry.Add(req.identity, c, req.terms); err != nil {
		c.log.Warn("Registration refused", "user", req.identity, "error", err)
		return protocol.ReplyAlreadyRegistered
	}
	c.identity = req.identity
	h.enqueue(c, protocol.ReplyRegistered)
	h.observer.Registered(req.identity)
	c.log.Info("Client registered", "user", req.identity, "clients", h.registry.Len())
	return protocol.ReplyRegistered
}

func (h *Hub) handleNotice(req noticeRequest) {
	if r := req.relay; r != nil {
		h.observer.Attached(r.recipients, r.bytes)
		req.client.log.Info("Attachment relayed",
			"user", req.client.identity, "file", r.filename, "bytes", r.bytes, "recipients", r.recipients)
	}
	h.enqueue(req.client, req.line)
}

func (h *Hub) enqueue(c *Client, lines ...string) bool {
	return h.enqueueItem(c, outbound{lines: lines})
}

// enqueueItem queues item for c without blocking. While c's writer is held
// by an attachment body, overflow waits in c.backlog, up to BacklogSize
// items. Otherwise a client whose queue is full is removed.
func (h *Hub) enqueueItem(c *Client, item outbound) bool {
	if c.closed {
		return false
	}
	if len(c.backlog) == 0 {
		select {
		case c.send <- item:
			return true
		default:
		}
		if !c.streaming.Load() {
			c.log.Warn("Send buffer full, dropping client", "user", c.identity, "buffer", cap(c.send))
			h.remove(c, ReasonSlowConsumer)
			return false
		}
	}
	if len(c.backlog) >= h.cfg.BacklogSize {
		c.log.Warn("Backlog full, dropping client", "user", c.identity, "backlog", len(c.backlog))
		h.remove(c, ReasonSlowConsumer)
		return false
	}
	c.backlog = append(c.backlog, item)
	return true
}

// takeBacklog hands c's writer the items held back while it streamed a
// body. They are released only once send is empty, so order is kept; more
// reports a backlog still waiting behind send. An empty backlog ends the
// streaming state.
func (h *Hub) takeBacklog(c *Client) (items []outbound, more bool) {
	h.query(func() {
		switch {
		case c.closed:
		case len(c.backlog) == 0:
			c.streaming.Store(false)
		case len(c.send) > 0:
			more = true
		default:
			items, c.backlog = c.backlog, nil
		}
	})
	return items, more
}

// spillBacklog moves what fits of c's backlog into send before it is
// closed and releases the uploaders of the rest.
func (h *Hub) spillBacklog(c *Client) {
	for i, item := range c.backlog {
		select {
		case c.send <- item:
		default:
			abandon(c.backlog[i:])
			c.backlog = nil
			return
		}
	}
	c.backlog = nil
}

// remove unregisters c and closes its queue so the writer flushes what is
// left and closes the transport. Calling it twice is a no-op.
func (h *Hub) remove(c *Client, reason string) {
	if c.closed {
		return
	}
	c.closed = true

	if identity, ok := h.registry.FindByTransport(c); ok {
		h.registry.Remove(identity)
		h.observer.Disconnected(identity, reason)
		c.log.Info("Client unregistered", "user", identity, "reason", reason, "clients", h.registry.Len())
	}
	h.spillBacklog(c)
	close(c.send)
}

// shutdownClients tells every registered client the server is leaving and
// closes connections that never finished their handshake.
func (h *Hub) shutdownClients() {
	regs := h.registry.Registrations()
	h.log.Info("Shutting down all client connections", "clients", len(regs))

	for _, reg := range regs {
		h.enqueue(reg.Transport, protocol.DisconnectLine())
		h.remove(reg.Transport, ReasonShutdown)
	}

	h.connsMu.Lock()
	pending := lo.Keys(h.conns)
	h.connsMu.Unlock()

	for _, c := range pending {
		if !c.closed {
			c.closeTransport()
		}
	}
}

// Shutdown stops the hub and waits for every connection goroutine to
// finish, or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}
}
