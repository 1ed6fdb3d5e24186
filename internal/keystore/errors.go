package keystore

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("keystore: store is closed")

	// ErrTechnical matches every *TechnicalError via errors.Is.
	ErrTechnical = errors.New("keystore: technical failure")

	// ErrCircuitOpen is wrapped when the lookup circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("keystore: circuit breaker is open")

	// ErrRejected is returned when the backend refuses to admit a record.
	ErrRejected = errors.New("keystore: record rejected by backend")

	// ErrKeyRequired is returned when saving a record without a key.
	ErrKeyRequired = errors.New("keystore: key is required")
)

// TechnicalError reports a backend or transport failure during a store operation.
type TechnicalError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *TechnicalError) Error() string {
	return fmt.Sprintf("keystore: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TechnicalError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTechnical) true for any TechnicalError.
func (e *TechnicalError) Is(target error) bool {
	return target == ErrTechnical
}

func technical(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TechnicalError
	if errors.As(err, &te) {
		return err
	}
	return &TechnicalError{Op: op, Err: err}
}
