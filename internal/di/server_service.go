package di

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/omarluq/plangate/internal/gateway"
)

const shutdownTimeout = 30 * time.Second

// ServerService wraps the HTTP server.
type ServerService struct {
	Server *gateway.Server
}

// NewHTTPServer creates the HTTP server.
func NewHTTPServer(i do.Injector) (*ServerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	handlerSvc := do.MustInvoke[*HandlerService](i)

	srv := cfgSvc.Get().Server
	server := gateway.NewServer(
		srv.Listen,
		handlerSvc.Handler,
		srv.GetTimeoutOption(),
		srv.EnableHTTP2,
	)

	return &ServerService{Server: server}, nil
}

// Shutdown implements do.Shutdowner for graceful server shutdown.
func (s *ServerService) Shutdown() error {
	if s.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Server.Shutdown(ctx)
	}
	return nil
}
