// Package store defines storage interfaces for persisting and retrieving
// domain objects such as candles, backtest runs, ledger trades and signals.
package store

import (
	"context"
	"time"

	"tradelab/internal/domain"
)

// CandleStore persists and retrieves OHLCV candle data.
type CandleStore interface {
	// WriteCandles persists a batch of candles for the given timeframe.
	WriteCandles(ctx context.Context, timeframe string, candles []domain.Candle) error

	// GetCandles returns candles for symbol and timeframe within
	// [start, end], ascending and de-duplicated. No data is an empty slice.
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Candle, error)

	// ListSymbols returns all distinct symbols stored for timeframe.
	ListSymbols(ctx context.Context, timeframe string) ([]string, error)
}

// ResultStore persists completed backtest runs.
type ResultStore interface {
	// SaveBacktestResult stores the result and the config that produced it.
	SaveBacktestResult(ctx context.Context, result *domain.BacktestResult, cfg domain.BacktestConfig) error

	// GetBacktestResult returns a stored run or domain.ErrNotFound.
	GetBacktestResult(ctx context.Context, runID string) (*domain.BacktestResult, error)

	// ListBacktestRuns returns the most recent runs, newest first.
	ListBacktestRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// TradeLedger records closed trades for the risk manager's history window.
type TradeLedger interface {
	// RecordTrade appends a closed trade.
	RecordTrade(ctx context.Context, t domain.LedgerTrade) error

	// RecentTrades returns trades created in the trailing windowDays,
	// oldest first.
	RecentTrades(ctx context.Context, windowDays int) ([]domain.LedgerTrade, error)
}

// SignalStore persists and retrieves trading signals.
type SignalStore interface {
	// SaveSignals inserts a batch of signals.
	SaveSignals(ctx context.Context, signals []domain.Signal) error

	// GetSignals returns a strategy's signals within [start, end], oldest
	// first.
	GetSignals(ctx context.Context, strategyID string, start, end time.Time) ([]domain.Signal, error)

	// ListSignals returns the most recent signals for a strategy, up to limit.
	ListSignals(ctx context.Context, strategyID string, limit int) ([]domain.Signal, error)
}

// RunSummary is a stored backtest run without its trades and curve.
type RunSummary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	Symbols        []string  `json:"symbols"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	InitialCapital float64   `json:"initialCapital"`
	FinalCapital   float64   `json:"finalCapital"`
	TotalReturn    float64   `json:"totalReturn"`
	MaxDrawdown    float64   `json:"maxDrawdown"`
	TotalTrades    int       `json:"totalTrades"`
}
