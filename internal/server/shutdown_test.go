package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/testutil/chattest"
)

// TestGracefulShutdown verifies that stopping the relay notifies every
// registered client and closes connections still in their handshake.
func TestGracefulShutdown(t *testing.T) {
	req := require.New(t)

	cfg := server.NewConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HTTPAddr = ""
	cfg.ShutdownTimeout = 2 * time.Second

	srv := server.New(*cfg, chattest.Logger())
	req.NoError(srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	addr := srv.Addr().String()
	a := chattest.Register(t, addr, "a")
	b := chattest.Register(t, addr, "b")
	pending := chattest.Dial(t, addr)
	pending.Send(protocol.RegisterLine("late"))

	// When the relay is stopped
	cancel()

	// Then active clients are told, and every connection is closed
	a.Expect(protocol.DisconnectLine())
	a.ExpectClosed()
	b.Expect(protocol.DisconnectLine())
	b.ExpectClosed()
	pending.ExpectClosed()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(chattest.Timeout):
		t.Fatal("relay did not stop")
	}
}

func TestHubShutdown_Idle(t *testing.T) {
	hub := server.NewHub(*server.NewConfig(), chattest.Logger(), nil)
	go hub.Run()

	require.NoError(t, hub.Shutdown(time.Second))
}
