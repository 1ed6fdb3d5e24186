package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/samber/mo"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server wraps http.Server with plangate configuration.
type Server struct {
	httpServer *http.Server
	addr       string
}

// Default server timeouts.
const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 60 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
)

// NewServer creates a Server. writeTimeout overrides DefaultWriteTimeout when
// present. If enableHTTP2 is true, HTTP/2 cleartext (h2c) is accepted.
func NewServer(addr string, handler http.Handler, writeTimeout mo.Option[time.Duration], enableHTTP2 bool) *Server {
	finalHandler := handler
	if enableHTTP2 {
		finalHandler = h2c.NewHandler(handler, &http2.Server{})
	}

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           finalHandler,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadTimeout,
			WriteTimeout:      writeTimeout.OrElse(DefaultWriteTimeout),
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ListenAndServe starts the server (blocks). A graceful shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
