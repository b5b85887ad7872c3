package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDataGap means no candle exists at or after a signal's timestamp.
	ErrDataGap = errors.New("no candle data for signal")

	// ErrInsufficientHistory means the trade window is too small to derive
	// meaningful risk metrics.
	ErrInsufficientHistory = errors.New("insufficient trade history")

	// ErrNotFound is returned by stores and registries for unknown keys.
	ErrNotFound = errors.New("not found")

	// ErrSessionExists is returned when starting a session key twice.
	ErrSessionExists = errors.New("session already running")
)

// ConfigurationError rejects a structurally invalid top-level config.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a failure to save an already computed result.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
