// Package server bridges websocket connections onto the line protocol so
// browsers can join the relay next to TCP clients.
package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrameSize bounds inbound websocket frames carrying attachment chunks.
const maxFrameSize = 1 << 20

// Gateway upgrades HTTP requests to websockets and hands them to the hub.
// Text frames carry protocol lines, binary frames carry attachment bytes.
type Gateway struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewGateway creates a gateway accepting upgrades from the hub's allowed
// origins.
func NewGateway(hub *Hub, log *slog.Logger) *Gateway {
	policy := newOriginPolicy(hub.cfg.AllowedOrigins, log)
	return &Gateway{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		log: log,
	}
}

// ServeHTTP validates that the request uses GET, upgrades the connection
// and registers it with the hub as a new client.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Websocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(int64(max(g.hub.cfg.MaxLineLength+1, maxFrameSize)))

	g.hub.Accept(newWSTransport(conn, r.RemoteAddr, g.hub.cfg.WriteTimeout))
}

type wsTransport struct {
	conn         *websocket.Conn
	addr         string
	pending      []byte
	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, addr string, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, addr: addr, writeTimeout: writeTimeout}
}

// Read turns frames back into a byte stream. A text frame without a
// trailing newline gets one so every frame is at least one line.
func (t *wsTransport) Read(p []byte) (int, error) {
	for len(t.pending) == 0 {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if kind == websocket.TextMessage && !bytes.HasSuffix(data, []byte{'\n'}) {
			data = append(data, '\n')
		}
		t.pending = data
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *wsTransport) WriteLine(line string) error {
	if err := t.setDeadline(); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (t *wsTransport) WriteBody(p []byte) (int, error) {
	if err := t.setDeadline(); err != nil {
		return 0, err
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush is a no-op: every write is already a complete frame.
func (t *wsTransport) Flush() error {
	return nil
}

// Close sends a close frame and drops the connection. WriteControl may
// run concurrently with the writer goroutine.
func (t *wsTransport) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.addr
}

func (t *wsTransport) setDeadline() error {
	if t.writeTimeout <= 0 {
		return nil
	}
	return t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
}
