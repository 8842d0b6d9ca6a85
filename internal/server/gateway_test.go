package server_test

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/testutil/chattest"
)

const testOriginURL = "http://localhost:8080"

func startHTTPServer(t *testing.T) *server.Server {
	t.Helper()
	return chattest.StartServer(t, func(cfg *server.Config) {
		cfg.HTTPAddr = "127.0.0.1:0"
		cfg.AllowedOrigins = []string{testOriginURL}
	})
}

func dialWS(t *testing.T, srv *server.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: chattest.Timeout}
	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial("ws://"+srv.HTTPAddr().String()+"/ws", headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(chattest.Timeout)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return kind, string(data)
}

func expectText(t *testing.T, conn *websocket.Conn, lines ...string) {
	t.Helper()

	for _, want := range lines {
		kind, got := readFrame(t, conn)
		require.Equal(t, websocket.TextMessage, kind)
		require.Equal(t, want, got)
	}
}

func sendText(t *testing.T, conn *websocket.Conn, lines ...string) {
	t.Helper()

	for _, line := range lines {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(line)))
	}
}

// TestGateway_BridgesWebsocketAndTCP verifies that a websocket client is a
// full participant: it registers, sends, receives and gets attachments.
func TestGateway_BridgesWebsocketAndTCP(t *testing.T) {
	srv := startHTTPServer(t)
	req := require.New(t)

	ws, _, err := dialWS(t, srv, testOriginURL)
	req.NoError(err)

	sendText(t, ws, protocol.RegisterLine("web"), protocol.FollowLine([]string{"sports"}), "")
	expectText(t, ws, protocol.ReplyRegistered)

	tcp := chattest.Register(t, srv.Addr().String(), "tcp")

	// Websocket to TCP
	sendText(t, ws, "@web: hello @tcp")
	tcp.Expect("@web: hello @tcp")

	// TCP to websocket
	tcp.Send("@tcp: sports results")
	expectText(t, ws, "@tcp: sports results")

	// Attachment from TCP arrives as header frames and a binary body
	tcp.Send("@tcp: !attach score.txt sports")
	tcp.Expect("ATTACH score.txt CHAT/1.0")
	tcp.Send("Content-Length: 5")
	tcp.SendRaw([]byte("3 - 1"))

	expectText(t, ws, "ATTACHMENT score.txt CHAT/1.0", "Origin: tcp", "Content-Length: 5")
	kind, body := readFrame(t, ws)
	req.Equal(websocket.BinaryMessage, kind)
	req.Equal("3 - 1", body)
	tcp.Expect("Attachment score.txt attached and distributed")
}

func TestGateway_UploadFromWebsocket(t *testing.T) {
	srv := startHTTPServer(t)
	req := require.New(t)

	ws, _, err := dialWS(t, srv, testOriginURL)
	req.NoError(err)
	sendText(t, ws, protocol.RegisterLine("web"), "")
	expectText(t, ws, protocol.ReplyRegistered)

	tcp := chattest.Register(t, srv.Addr().String(), "tcp", "@web")

	sendText(t, ws, "@web: !attach pic.png")
	expectText(t, ws, "ATTACH pic.png CHAT/1.0")
	sendText(t, ws, "Content-Length: 4")
	req.NoError(ws.WriteMessage(websocket.BinaryMessage, []byte{0x89, 'P', 'N', 'G'}))

	tcp.Expect("ATTACHMENT pic.png CHAT/1.0", "Origin: web", "Content-Length: 4")
	req.Equal([]byte{0x89, 'P', 'N', 'G'}, tcp.ReadN(4))
	expectText(t, ws, "Attachment pic.png attached and distributed")
}

func TestGateway_ClosingSocketUnregisters(t *testing.T) {
	srv := startHTTPServer(t)
	req := require.New(t)

	ws, _, err := dialWS(t, srv, testOriginURL)
	req.NoError(err)
	sendText(t, ws, protocol.RegisterLine("web"), "")
	expectText(t, ws, protocol.ReplyRegistered)
	req.Equal([]string{"web"}, srv.Hub().Identities())

	req.NoError(ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	req.Eventually(func() bool {
		return len(srv.Hub().Identities()) == 0
	}, chattest.Timeout, 10*time.Millisecond)
}

func TestGateway_RejectsDisallowedOrigin(t *testing.T) {
	srv := startHTTPServer(t)

	_, resp, err := dialWS(t, srv, "http://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	srv := startHTTPServer(t)

	resp, err := http.Post("http://"+srv.HTTPAddr().String()+"/ws", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthHandler(t *testing.T) {
	srv := startHTTPServer(t)
	req := require.New(t)

	chattest.Register(t, srv.Addr().String(), "a")

	resp, err := http.Get("http://" + srv.HTTPAddr().String() + "/health")
	req.NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("text/plain", resp.Header.Get("Content-Type"))
	req.Contains(string(body), "1 clients registered")
}

func TestMetricsRoute_DisabledByDefault(t *testing.T) {
	srv := startHTTPServer(t)

	resp, err := http.Get("http://" + srv.HTTPAddr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
