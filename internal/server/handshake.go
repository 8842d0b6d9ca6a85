package server

import (
	"errors"

	"github.com/samber/lo"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// identityRule bounds user names. Commas would corrupt !list replies.
const identityRule = "required,max=64,excludesall=0x2C"

// rejection ends a handshake with a coded reply.
type rejection struct {
	reply string
}

func (r rejection) Error() string {
	return r.reply
}

// handshake runs the registration exchange. On failure the client's
// queue is closed here, since the hub never learned about it.
func (c *Client) handshake() (string, bool) {
	identity, terms, err := c.readRegistration()
	if err != nil {
		var rej rejection
		if errors.As(err, &rej) {
			c.reject(rej.reply)
		} else {
			c.handleReadError(err)
			c.reject("")
		}
		return "", false
	}

	reply := c.hub.registerClient(c, identity, terms)
	if reply != protocol.ReplyRegistered {
		c.reject(reply)
		return "", false
	}
	return identity, true
}

func (c *Client) readRegistration() (string, []string, error) {
	line, err := c.readHandshakeLine()
	if err != nil {
		return "", nil, err
	}

	identity, err := protocol.ParseRegister(line)
	if err != nil {
		return "", nil, rejection{protocol.ReplyInvalid}
	}
	if identity == protocol.ReservedName {
		return "", nil, rejection{protocol.ReplyForbiddenName}
	}
	if err := validate.Var(identity, identityRule); err != nil {
		return "", nil, rejection{protocol.ReplyInvalid}
	}
	if c.hub.isRegistered(identity) {
		return "", nil, rejection{protocol.ReplyAlreadyRegistered}
	}

	terms, err := c.readFollowTerms()
	if err != nil {
		return "", nil, err
	}
	return identity, terms, nil
}

// readFollowTerms reads either the blank line ending the handshake or a
// Follow line followed by one.
func (c *Client) readFollowTerms() ([]string, error) {
	line, err := c.readHandshakeLine()
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, nil
	}

	terms, err := protocol.ParseFollow(line)
	if err != nil {
		return nil, rejection{protocol.ReplyInvalid}
	}

	blank, err := c.readHandshakeLine()
	if err != nil {
		return nil, err
	}
	if blank != "" {
		return nil, rejection{protocol.ReplyInvalid}
	}

	terms = lo.Uniq(terms)
	if len(terms) > c.hub.cfg.MaxFollowTerms {
		return nil, rejection{protocol.ReplyInvalid}
	}
	return terms, nil
}

func (c *Client) readHandshakeLine() (string, error) {
	line, err := c.framer.ReadLine()
	if errors.Is(err, protocol.ErrLineTooLong) {
		return "", rejection{protocol.ReplyInvalid}
	}
	return line, err
}

// reject sends reply, if any, and lets the writer close the connection.
func (c *Client) reject(reply string) {
	if reply != "" {
		c.send <- outbound{lines: []string{reply}}
		c.hub.observer.Rejected(reply)
		c.log.Warn("Registration rejected", "reply", reply)
	}
	close(c.send)
}
