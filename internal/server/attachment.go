package server

import (
	"errors"
	"fmt"
	"io"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

var errUploadAborted = errors.New("server: attachment upload aborted")

// relayAttachment reads the Content-Length line answering an ATTACH and
// streams the body to the recipients chosen by the hub. A returned error
// means the uploader's connection is broken.
func (c *Client) relayAttachment(identity string, att *pendingAttachment) error {
	header, err := c.framer.ReadLine()
	if err != nil {
		return err
	}

	size, err := protocol.ParseContentLength(header)
	switch {
	case err != nil:
		c.log.Warn("Invalid attachment header", "user", identity, "line", header)
		c.hub.notify(c, protocol.ErrorLine("Invalid attachment header"))
		return nil
	case size < 0:
		c.hub.notify(c, protocol.ErrorLine("Attached file %s could not be sent", att.filename))
		return nil
	case c.hub.cfg.MaxAttachmentSize > 0 && size > c.hub.cfg.MaxAttachmentSize:
		return c.discardAttachment(identity, att.filename, size)
	}

	writers, ok := c.hub.beginUpload(c, att.filename, size, att.terms)
	if !ok {
		return errUploadAborted
	}

	fan := newFanout(writers)
	buf := make([]byte, c.hub.cfg.ChunkSize)
	n, err := io.CopyBuffer(fan, io.LimitReader(c.framer, size), buf)
	if err == nil && n < size {
		err = io.ErrUnexpectedEOF
	}
	fan.close(err)
	if err != nil {
		return fmt.Errorf("attachment %s: %w", att.filename, err)
	}

	c.hub.notifyRelayed(c, relayResult{
		filename:   att.filename,
		recipients: fan.delivered(),
		bytes:      size,
	})
	return nil
}

// discardAttachment consumes an oversized body so the next line starts at
// the right byte.
func (c *Client) discardAttachment(identity, filename string, size int64) error {
	c.log.Warn("Attachment exceeds maximum size",
		"user", identity, "file", filename, "bytes", size, "max", c.hub.cfg.MaxAttachmentSize)

	if _, err := io.CopyN(io.Discard, c.framer, size); err != nil {
		return fmt.Errorf("discard attachment %s: %w", filename, err)
	}
	c.hub.notify(c, protocol.ErrorLine("Attachment %s exceeds maximum size", filename))
	return nil
}

// fanout copies each chunk into every recipient pipe in turn. A recipient
// that fails is skipped for the rest of the body; the upload itself never
// fails because of a recipient.
type fanout struct {
	writers []*io.PipeWriter
	failed  []bool
}

func newFanout(writers []*io.PipeWriter) *fanout {
	return &fanout{writers: writers, failed: make([]bool, len(writers))}
}

func (f *fanout) Write(p []byte) (int, error) {
	for i, w := range f.writers {
		if f.failed[i] {
			continue
		}
		if _, err := w.Write(p); err != nil {
			f.failed[i] = true
		}
	}
	return len(p), nil
}

// close ends every body, with err when the upload was cut short.
func (f *fanout) close(err error) {
	for _, w := range f.writers {
		if err != nil {
			w.CloseWithError(err)
		} else {
			w.Close()
		}
	}
}

func (f *fanout) delivered() int {
	n := 0
	for _, failed := range f.failed {
		if !failed {
			n++
		}
	}
	return n
}
