package di

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/omarluq/plangate/internal/gateway"
	"github.com/omarluq/plangate/internal/keystore"
)

// LoggerService wraps the zerolog logger for DI.
type LoggerService struct {
	Logger *zerolog.Logger
}

// NewLogger creates the zerolog logger from configuration and installs it as
// the global, context-default and key store logger.
func NewLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	logger, err := gateway.NewLogger(cfgSvc.Get().Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	keystore.SetLogger(&logger)

	return &LoggerService{Logger: &logger}, nil
}
