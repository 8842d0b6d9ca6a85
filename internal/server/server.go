// Package server implements the chat relay: a TCP line-protocol server
// with an optional HTTP side for health, metrics and websocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Option customizes a Server.
type Option func(*Server)

// WithObserver reports relay events to o.
func WithObserver(o Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithMetricsHandler serves h on /metrics of the HTTP side.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// Server owns the listeners and the hub.
type Server struct {
	cfg      Config
	log      *slog.Logger
	observer Observer
	metrics  http.Handler
	hub      *Hub

	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
}

// New creates a server for cfg. Nothing is bound until Listen or Run.
func New(cfg Config, log *slog.Logger, opts ...Option) *Server {
	s := &Server{cfg: sanitizeConfig(cfg), log: log}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.cfg, log, s.observer)
	return s
}

// Listen binds the TCP listener and, when configured, the HTTP one.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	if s.cfg.HTTPAddr == "" {
		return nil
	}

	hln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddr, err)
	}
	s.httpListener = hln
	routes := SetupRoutes(s.hub, NewGateway(s.hub, s.log), s.metrics)
	s.httpServer = CreateServer(hln.Addr().String(), routes)
	return nil
}

// Addr returns the bound TCP address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when there is none.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Port returns the bound TCP port, or 0 before Listen.
func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Hub returns the hub serving this server's connections.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx is done or a listener fails, then disconnects
// every client. It binds first if Listen was not called.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go s.hub.Run()
	s.log.Info("Relay started", "addr", s.Addr().String(), "http", s.cfg.HTTPAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.acceptLoop)
	if s.httpServer != nil {
		g.Go(func() error {
			if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})
	return g.Wait()
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("Temporary accept error", "error", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.hub.Accept(newTCPTransport(conn, s.cfg.WriteTimeout))
	}
}

func (s *Server) shutdown() {
	s.log.Info("Shutting down relay")

	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warn("Error closing listener", "error", err)
	}
	if err := s.hub.Shutdown(s.cfg.ShutdownTimeout); err != nil {
		s.log.Warn("Hub shutdown incomplete", "error", err)
	}
	if s.httpServer != nil {
		if err := ShutdownServer(s.httpServer, s.cfg.ShutdownTimeout); err != nil {
			s.log.Warn("HTTP server shutdown error", "error", err)
		}
	}
	s.log.Info("Relay stopped")
}
