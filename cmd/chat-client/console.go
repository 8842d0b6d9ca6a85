package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/Tyrowin/chatrelay/internal/client"
)

const prompt = ">>>> "

// console prints relay events and keeps the input prompt visible when
// stdin is a terminal.
type console struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool

	status func(format string, a ...any) string
	errorf func(format string, a ...any) string
	file   func(format string, a ...any) string
}

func newConsole(out io.Writer, interactive bool) *console {
	return &console{
		out:         out,
		interactive: interactive,
		status:      color.New(color.FgCyan).SprintfFunc(),
		errorf:      color.New(color.FgRed, color.Bold).SprintfFunc(),
		file:        color.New(color.FgGreen).SprintfFunc(),
	}
}

func (c *console) print(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interactive {
		fmt.Fprint(c.out, "\r")
	}
	fmt.Fprintln(c.out, line)
	if c.interactive {
		fmt.Fprint(c.out, prompt)
	}
}

// Prompt reprints the prompt after the user submits a line.
func (c *console) Prompt() {
	if !c.interactive {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, prompt)
}

func (c *console) Status(format string, a ...any) {
	c.print(c.status(format, a...))
}

func (c *console) Error(format string, a ...any) {
	c.print(c.errorf(format, a...))
}

func (c *console) Message(line string) {
	if strings.HasPrefix(line, "Error:") {
		c.print(c.errorf("%s", line))
		return
	}
	c.print(line)
}

func (c *console) Uploaded(filename string, size int64) {
	if size < 0 {
		c.Error("Error:  File %s could not be read", filename)
		return
	}
	c.print(c.file("Sent %s (%d bytes)", filename, size))
}

func (c *console) Attachment(a client.Attachment) {
	c.print(c.file("Received %s from %s: %d bytes, %s, saved to %s", a.Filename, a.Origin, a.Size, a.MIME, a.Path))
}

func (c *console) AttachmentFailed(filename string, err error) {
	c.Error("Error:  Attachment %s could not be saved: %v", filename, err)
}

func (c *console) Disconnected() {
	c.Status("Exiting ...")
}
