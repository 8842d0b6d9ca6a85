package server

import (
	"io"

	"github.com/samber/lo"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/routing"
)

// handleCommand executes one active-state line for c on the hub
// goroutine.
func (h *Hub) handleCommand(c *Client, cmd protocol.Command) directive {
	if c.closed {
		return directive{closed: true}
	}

	switch cmd.Kind {
	case protocol.KindDisconnect:
		h.remove(c, ReasonDisconnect)

	case protocol.KindExit:
		h.enqueue(c, protocol.DisconnectLine())
		h.remove(c, ReasonExit)

	case protocol.KindList:
		h.enqueue(c, protocol.JoinList(h.registry.Identities()))

	case protocol.KindFollowQuery:
		subs, _ := h.registry.Subscriptions(c.identity)
		h.enqueue(c, protocol.JoinList(subs))

	case protocol.KindFollow:
		h.enqueue(c, h.follow(c.identity, cmd.Term))

	case protocol.KindUnfollow:
		h.enqueue(c, h.unfollow(c.identity, cmd.Term))

	case protocol.KindAttach:
		return h.startAttachment(c, cmd)

	default:
		h.route(c, cmd)
	}

	return directive{closed: c.closed}
}

func (h *Hub) follow(identity, term string) string {
	subs, _ := h.registry.Subscriptions(identity)

	switch {
	case term == "":
		return protocol.ErrorLine("Invalid follow term")
	case lo.Contains(subs, term):
		return protocol.ErrorLine("Was already following %s", term)
	case optionalTerms(subs) >= h.cfg.MaxFollowTerms:
		return protocol.ErrorLine("Cannot follow more than %d terms", h.cfg.MaxFollowTerms)
	}

	h.registry.Follow(identity, term)
	return "Now following " + term
}

func (h *Hub) unfollow(identity, term string) string {
	switch {
	case term == protocol.BroadcastTerm:
		return protocol.ErrorLine("All users must follow %s", protocol.BroadcastTerm)
	case term == protocol.MentionTerm(identity):
		return protocol.ErrorLine("Cannot unfollow yourself")
	case h.registry.Unfollow(identity, term):
		return "No longer following " + term
	default:
		return protocol.ErrorLine("Was not following %s", term)
	}
}

// optionalTerms counts subscriptions beyond the mandatory @self and @all.
func optionalTerms(subs []string) int {
	return max(len(subs)-2, 0)
}

// route forwards a chat line verbatim to every matching client but its
// sender.
func (h *Hub) route(c *Client, cmd protocol.Command) {
	if c.limiter != nil && !c.limiter.allow() {
		c.log.Warn("Rate limit exceeded, discarding message",
			"user", c.identity, "burst", h.cfg.RateLimit.Burst, "interval", h.cfg.RateLimit.RefillInterval)
		h.enqueue(c, protocol.ErrorLine("Rate limit exceeded"))
		return
	}

	recipients := routing.Match(h.registry.Registrations(), c.identity, cmd.Terms)
	for _, r := range recipients {
		h.enqueue(r.Transport, cmd.Line)
	}

	h.observer.Routed(len(recipients))
	c.log.Debug("Message routed", "user", c.identity, "recipients", len(recipients))
}

// startAttachment asks the uploader for the file body. The reader
// goroutine streams it once it sees the returned directive.
func (h *Hub) startAttachment(c *Client, cmd protocol.Command) directive {
	if !protocol.ValidFilename(cmd.Filename) {
		h.enqueue(c, protocol.ErrorLine("Invalid attachment name %s", cmd.Filename))
		return directive{closed: c.closed}
	}
	if !h.enqueue(c, protocol.AttachLine(cmd.Filename)) {
		return directive{closed: true}
	}
	return directive{attach: &pendingAttachment{filename: cmd.Filename, terms: cmd.Terms}}
}

// handleUpload selects the recipients of an attachment and queues its
// header on each, followed by a pipe the uploader writes the body into.
// A nil result means the uploader is gone.
func (h *Hub) handleUpload(req uploadRequest) []*io.PipeWriter {
	c := req.client
	if c.closed {
		return nil
	}

	recipients := routing.Match(h.registry.Registrations(), c.identity, req.terms)
	header := protocol.AttachmentHeader(req.filename, c.identity, req.size)

	writers := make([]*io.PipeWriter, 0, len(recipients))
	for _, r := range recipients {
		pr, pw := io.Pipe()
		if h.enqueueItem(r.Transport, outbound{lines: header, body: pr}) {
			writers = append(writers, pw)
		}
	}
	return writers
}
