// ABOUTME: Process lifecycle for the relay
// ABOUTME: Runs discovery, the HTTP server and the optional TUI until cancelled
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/api"
	"github.com/Resonate-Protocol/cast-relay/internal/app"
	"github.com/charmbracelet/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Server runs a relay service
type Server struct {
	svc        *app.Service
	logger     *log.Logger
	httpServer *http.Server
	tui        *TUI
}

// New creates a server for svc. A nil tui runs headless.
func New(svc *app.Service, tui *TUI) *Server {
	return &Server{
		svc:    svc,
		logger: svc.Logger.WithPrefix("server"),
		httpServer: &http.Server{
			Addr:              svc.Config.HTTP.Addr,
			Handler:           api.New(svc).Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		tui: tui,
	}
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the TUI quits, then shuts
// everything down within the configured timeout
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if s.svc.Config.Discovery.Enabled {
		g.Go(func() error {
			return s.svc.Discovery.Run(gctx)
		})
	}

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.tui != nil {
		g.Go(func() error {
			defer cancel()
			return s.tui.Run(gctx, s.svc.Summary)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	timeout := s.svc.Config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down")
	err := multierr.Combine(
		s.httpServer.Shutdown(ctx),
		s.svc.Close(ctx),
	)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}
