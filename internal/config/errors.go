package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalid matches every *ValidationError through errors.Is.
	ErrInvalid = errors.New("config: invalid configuration")

	// ErrWatcherClosed is returned by Watch and Close once the watcher is closed.
	ErrWatcherClosed = errors.New("config: watcher closed")
)

// ValidationError lists every problem Validate found, in section order:
// server, security, plans, keystore, keys, logging.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "invalid config"
	case 1:
		return "invalid config: " + e.Errors[0]
	default:
		return fmt.Sprintf("invalid config, %d problems:\n  - %s",
			len(e.Errors), strings.Join(e.Errors, "\n  - "))
	}
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Addf records a problem.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Merge records the problems carried by err. Problems from a nested
// ValidationError are flattened; any other error becomes one problem.
func (e *ValidationError) Merge(err error) {
	if err == nil {
		return
	}
	var nested *ValidationError
	if errors.As(err, &nested) {
		e.Errors = append(e.Errors, nested.Errors...)
		return
	}
	e.Errors = append(e.Errors, err.Error())
}

// ToError returns e, or nil when nothing was recorded.
func (e *ValidationError) ToError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}
