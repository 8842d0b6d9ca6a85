// Package chattest provides helpers for tests that talk to a running relay
// over raw protocol connections.
package chattest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/server"
)

// Timeout bounds every blocking read performed by a Conn.
const Timeout = 5 * time.Second

// Logger returns a logger that stays quiet unless CHAT_TEST_LOG is set.
func Logger() *slog.Logger {
	if os.Getenv("CHAT_TEST_LOG") != "" {
		return logs.GetLoggerFromLevel(slog.LevelDebug)
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartServer runs a relay on an ephemeral loopback port with the HTTP
// side disabled unless mutate sets it. The relay stops when the test ends.
func StartServer(t testing.TB, mutate func(*server.Config), opts ...server.Option) *server.Server {
	t.Helper()

	cfg := server.NewConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HTTPAddr = ""
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	srv := server.New(*cfg, Logger(), opts...)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * Timeout):
			t.Error("relay did not stop")
		}
	})
	return srv
}

// Conn is a raw client connection.
type Conn struct {
	t    testing.TB
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to addr and closes the connection when the test ends.
func Dial(t testing.TB, addr string) *Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, Timeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &Conn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// Register dials addr and completes a handshake for name, following
// terms when given.
func Register(t testing.TB, addr, name string, terms ...string) *Conn {
	t.Helper()

	c := Dial(t, addr)
	c.Handshake(name, terms...)
	c.Expect(protocol.ReplyRegistered)
	return c
}

// Handshake sends the registration lines without reading the reply.
func (c *Conn) Handshake(name string, terms ...string) {
	c.t.Helper()

	c.Send(protocol.RegisterLine(name))
	if len(terms) > 0 {
		c.Send(protocol.FollowLine(terms))
	}
	c.Send("")
}

// Send writes each line followed by a newline.
func (c *Conn) Send(lines ...string) {
	c.t.Helper()

	for _, line := range lines {
		c.SendRaw([]byte(line + "\n"))
	}
}

// SendRaw writes b as is.
func (c *Conn) SendRaw(b []byte) {
	c.t.Helper()

	_, err := c.conn.Write(b)
	require.NoError(c.t, err)
}

// ReadLine returns the next line without its terminator.
func (c *Conn) ReadLine() string {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(Timeout)))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err, "partial line %q", line)
	return strings.TrimRight(line, "\r\n")
}

// Expect reads one line per argument and requires them to match in order.
func (c *Conn) Expect(lines ...string) {
	c.t.Helper()

	for _, want := range lines {
		require.Equal(c.t, want, c.ReadLine())
	}
}

// ReadN reads exactly n raw bytes.
func (c *Conn) ReadN(n int) []byte {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(Timeout)))
	buf := make([]byte, n)
	_, err := io.ReadFull(c.r, buf)
	require.NoError(c.t, err)
	return buf
}

// ExpectClosed requires the peer to close the connection with nothing
// left to read.
func (c *Conn) ExpectClosed() {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(Timeout)))
	line, err := c.r.ReadString('\n')
	require.Empty(c.t, line)
	require.Error(c.t, err)
	var ne net.Error
	require.False(c.t, errors.As(err, &ne) && ne.Timeout(), "connection still open")
}

// ExpectSilence requires that nothing arrives during d.
func (c *Conn) ExpectSilence(d time.Duration) {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	line, err := c.r.ReadString('\n')
	require.Empty(c.t, line, "unexpected data")
	var ne net.Error
	require.True(c.t, errors.As(err, &ne) && ne.Timeout(), "expected a timeout, got %v", err)
}

// Close closes the connection.
func (c *Conn) Close() {
	_ = c.conn.Close()
}
