package keystore

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex

	// Logger is the package-level logger for key store operations.
	// It is a no-op logger until SetLogger is called.
	Logger = zerolog.Nop()
)

// SetLogger sets the package-level logger, tagged with component: keystore.
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	Logger = l.With().Str("component", "keystore").Logger()
}

func logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return Logger
}
