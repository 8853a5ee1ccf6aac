package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/nemanja-m/goparallel/internal/shared/logging"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	server *http.Server
	logger logging.Logger
}

// NewServer serves handler on addr behind the recovery and logging
// middleware.
func NewServer(addr string, handler http.Handler, logger logging.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Chain(handler, RecoveryMiddleware(logger), LoggingMiddleware(logger)),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Serve accepts connections on lis until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", lis.Addr().String())
		errCh <- s.server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}
