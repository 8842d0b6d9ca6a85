// Package server adapts network connections to the line transport used by
// client pumps.
package server

import (
	"bufio"
	"net"
	"time"
)

// Transport carries one client connection. Reads return the raw inbound
// byte stream; writes are split into protocol lines and attachment body
// bytes so message-oriented transports can frame them.
//
// Read is only called from the reader goroutine and the write methods
// only from the writer goroutine. Close may be called from anywhere.
type Transport interface {
	Read(p []byte) (int, error)
	WriteLine(line string) error
	WriteBody(p []byte) (int, error)
	Flush() error
	Close() error
	RemoteAddr() string
}

// tcpTransport buffers writes until Flush so queued lines go out in as few
// segments as possible.
type tcpTransport struct {
	conn         net.Conn
	w            *bufio.Writer
	writeTimeout time.Duration
}

func newTCPTransport(conn net.Conn, writeTimeout time.Duration) *tcpTransport {
	return &tcpTransport{
		conn:         conn,
		w:            bufio.NewWriter(conn),
		writeTimeout: writeTimeout,
	}
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

func (t *tcpTransport) WriteLine(line string) error {
	if err := t.setDeadline(); err != nil {
		return err
	}
	if _, err := t.w.WriteString(line); err != nil {
		return err
	}
	return t.w.WriteByte('\n')
}

func (t *tcpTransport) WriteBody(p []byte) (int, error) {
	if err := t.setDeadline(); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}

func (t *tcpTransport) Flush() error {
	if err := t.setDeadline(); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *tcpTransport) setDeadline() error {
	if t.writeTimeout <= 0 {
		return nil
	}
	return t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
}
