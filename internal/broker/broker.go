// Package broker defines the Broker interface and provides implementations
// that report account balances and open positions for position sizing.
package broker

import (
	"context"

	"tradelab/internal/domain"
)

// Broker abstracts the read side of a brokerage account.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's balances.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}
