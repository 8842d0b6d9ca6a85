package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/chatrelay/internal/mocks"
	"github.com/Tyrowin/chatrelay/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, cfg Config, obs Observer) *Hub {
	t.Helper()

	hub := NewHub(cfg, testLogger(), obs)
	go hub.Run()
	t.Cleanup(func() {
		require.NoError(t, hub.Shutdown(time.Second))
	})
	return hub
}

// pipeClient builds a client whose pumps are not running, so tests can
// inspect its queue directly.
func pipeClient(t *testing.T, hub *Hub) *Client {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})
	return NewClient(newTCPTransport(local, 0), hub)
}

func nextLines(t *testing.T, c *Client) []string {
	t.Helper()

	select {
	case item, ok := <-c.send:
		require.True(t, ok, "queue closed")
		return item.lines
	case <-time.After(time.Second):
		t.Fatal("nothing queued")
		return nil
	}
}

func TestHub_RegisterAndDispatch(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, *NewConfig(), nil)

	alice := pipeClient(t, hub)
	req.Equal(protocol.ReplyRegistered, hub.registerClient(alice, "alice", []string{"news"}))
	req.Equal([]string{protocol.ReplyRegistered}, nextLines(t, alice))

	// A second client cannot take the same name
	other := pipeClient(t, hub)
	req.Equal(protocol.ReplyAlreadyRegistered, hub.registerClient(other, "alice", nil))
	req.True(hub.isRegistered("alice"))
	req.False(hub.isRegistered("other"))

	d, ok := hub.dispatch(alice, protocol.ParseCommand("@alice: !follow?"))
	req.True(ok)
	req.False(d.closed)
	req.Equal([]string{"news, @alice, @all"}, nextLines(t, alice))

	d, ok = hub.dispatch(alice, protocol.ParseCommand("@alice: !attach f.txt"))
	req.True(ok)
	req.Equal(&pendingAttachment{filename: "f.txt", terms: []string{"@alice:"}}, d.attach)
	req.Equal([]string{"ATTACH f.txt CHAT/1.0"}, nextLines(t, alice))

	d, ok = hub.dispatch(alice, protocol.ParseCommand("DISCONNECT alice CHAT/1.0"))
	req.True(ok)
	req.True(d.closed)
	_, open := <-alice.send
	req.False(open)
	req.Zero(hub.Count())
}

// TestHub_SlowConsumerDropped verifies that a client whose queue is full is
// removed instead of stalling the sender.
func TestHub_SlowConsumerDropped(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	obs := mocks.NewMockObserver(ctrl)

	obs.EXPECT().Registered("slow")
	obs.EXPECT().Registered("fast")
	obs.EXPECT().Routed(1)
	obs.EXPECT().Disconnected("slow", ReasonSlowConsumer)
	obs.EXPECT().Disconnected("fast", ReasonShutdown)

	cfg := *NewConfig()
	cfg.SendBufferSize = 1
	hub := startHub(t, cfg, obs)

	// Given a client whose single queue slot still holds its 200 reply
	slow := pipeClient(t, hub)
	req.Equal(protocol.ReplyRegistered, hub.registerClient(slow, "slow", nil))

	fast := pipeClient(t, hub)
	req.Equal(protocol.ReplyRegistered, hub.registerClient(fast, "fast", nil))
	nextLines(t, fast)

	// When a message is routed to it
	d, ok := hub.dispatch(fast, protocol.ParseCommand("@fast: hi @slow"))
	req.True(ok)
	req.False(d.closed)

	// Then it is unregistered and its queue closed after what was pending
	req.Equal([]string{"fast"}, hub.Identities())
	req.Equal([]string{protocol.ReplyRegistered}, nextLines(t, slow))
	_, open := <-slow.send
	req.False(open)

	// And its next command is refused
	d, ok = hub.dispatch(slow, protocol.ParseCommand("@slow: !list"))
	req.True(ok)
	req.True(d.closed)
}

func TestHub_UploadPipes(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, *NewConfig(), nil)

	up := pipeClient(t, hub)
	hub.registerClient(up, "up", nil)
	down := pipeClient(t, hub)
	hub.registerClient(down, "down", []string{"files"})
	nextLines(t, up)
	nextLines(t, down)

	writers, ok := hub.beginUpload(up, "a.bin", 3, []string{"@up:", "files"})
	req.True(ok)
	req.Len(writers, 1)

	item := <-down.send
	req.Equal(protocol.AttachmentHeader("a.bin", "up", 3), item.lines)
	req.NotNil(item.body)

	go func() {
		_, _ = writers[0].Write([]byte("xyz"))
		_ = writers[0].Close()
	}()
	body, err := io.ReadAll(item.body)
	req.NoError(err)
	req.Equal("xyz", string(body))
}

func TestHub_StoppedHubRefusesRequests(t *testing.T) {
	req := require.New(t)

	hub := NewHub(*NewConfig(), testLogger(), nil)
	go hub.Run()
	req.NoError(hub.Shutdown(time.Second))

	c := pipeClient(t, hub)
	req.Empty(hub.registerClient(c, "late", nil))
	_, ok := hub.dispatch(c, protocol.ParseCommand("@late: !list"))
	req.False(ok)
	_, ok = hub.beginUpload(c, "f", 1, nil)
	req.False(ok)
}

func TestFanout_SkipsFailedRecipients(t *testing.T) {
	req := require.New(t)

	goodR, goodW := io.Pipe()
	badR, badW := io.Pipe()
	badR.CloseWithError(errors.New("recipient gone"))

	fan := newFanout([]*io.PipeWriter{goodW, badW})

	received := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(goodR)
		received <- b
	}()

	n, err := fan.Write([]byte("chunk"))
	req.NoError(err)
	req.Equal(5, n)
	fan.close(nil)

	req.Equal([]byte("chunk"), <-received)
	req.Equal(1, fan.delivered())
}

func TestFanout_CloseWithErrorReachesRecipients(t *testing.T) {
	req := require.New(t)

	r, w := io.Pipe()
	fan := newFanout([]*io.PipeWriter{w})
	fan.close(io.ErrUnexpectedEOF)

	_, err := io.ReadAll(r)
	req.ErrorIs(err, io.ErrUnexpectedEOF)
}

// TestHub_BacklogWhileStreaming verifies that overflow for a client whose
// writer is held by an attachment body waits in order instead of getting
// the client dropped.
func TestHub_BacklogWhileStreaming(t *testing.T) {
	req := require.New(t)
	cfg := *NewConfig()
	cfg.SendBufferSize = 1
	cfg.BacklogSize = 2
	hub := startHub(t, cfg, nil)

	sender := pipeClient(t, hub)
	hub.registerClient(sender, "sender", nil)
	nextLines(t, sender)
	reader := pipeClient(t, hub)
	hub.registerClient(reader, "reader", nil)
	nextLines(t, reader)

	// Given a reader whose writer is busy with a body
	reader.streaming.Store(true)

	// When more lines arrive than its queue holds
	for _, text := range []string{"one", "two", "three"} {
		_, ok := hub.dispatch(sender, protocol.ParseCommand("@sender: "+text+" @reader"))
		req.True(ok)
	}

	// Then it stays registered
	req.Equal([]string{"sender", "reader"}, hub.Identities())

	// And the backlog is held back until the queue is drained
	items, more := hub.takeBacklog(reader)
	req.Empty(items)
	req.True(more)
	req.Equal([]string{"@sender: one @reader"}, nextLines(t, reader))

	items, more = hub.takeBacklog(reader)
	req.False(more)
	req.Len(items, 2)
	req.Equal([]string{"@sender: two @reader"}, items[0].lines)
	req.Equal([]string{"@sender: three @reader"}, items[1].lines)

	// And an empty backlog ends the streaming state
	items, more = hub.takeBacklog(reader)
	req.Empty(items)
	req.False(more)
	req.False(reader.streaming.Load())
}

func TestHub_BacklogLimitDropsClient(t *testing.T) {
	req := require.New(t)
	cfg := *NewConfig()
	cfg.SendBufferSize = 1
	cfg.BacklogSize = 1
	hub := startHub(t, cfg, nil)

	sender := pipeClient(t, hub)
	hub.registerClient(sender, "sender", nil)
	nextLines(t, sender)
	reader := pipeClient(t, hub)
	hub.registerClient(reader, "reader", nil)
	nextLines(t, reader)
	reader.streaming.Store(true)

	// Given a full queue and a full backlog
	for _, text := range []string{"one", "two", "three"} {
		_, ok := hub.dispatch(sender, protocol.ParseCommand("@sender: "+text+" @reader"))
		req.True(ok)
	}

	// Then the client is removed and only what fit in its queue is kept
	req.Equal([]string{"sender"}, hub.Identities())
	req.Equal([]string{"@sender: one @reader"}, nextLines(t, reader))
	_, open := <-reader.send
	req.False(open)
}
