// Package domain defines the core value types shared by the backtesting,
// risk-management, and optimization packages.
package domain

import (
	"fmt"
	"time"
)

// Side is the direction of a signal or simulated trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ExitReason records which condition closed a simulated trade.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitTimeLimit  ExitReason = "time_limit"
)

// Candle is a single OHLCV bar. Candle series are ordered by Timestamp
// ascending.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Signal is a trading signal produced by a strategy. One signal yields at
// most one simulated trade.
type Signal struct {
	ID         int64     `json:"id,omitempty"`
	StrategyID string    `json:"strategyId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entryPrice"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	// Strength is the signal conviction in [0, 1].
	Strength float64 `json:"strength"`
}

// SimulatedTrade is the immutable record of one simulated position
// lifecycle.
type SimulatedTrade struct {
	EntryDate         time.Time  `json:"entryDate"`
	ExitDate          time.Time  `json:"exitDate"`
	Symbol            string     `json:"symbol"`
	Side              Side       `json:"side"`
	EntryPrice        float64    `json:"entryPrice"`
	ExitPrice         float64    `json:"exitPrice"`
	Quantity          float64    `json:"quantity"`
	Commission        float64    `json:"commission"`
	PnL               float64    `json:"pnl"`
	PnLPercent        float64    `json:"pnlPercent"`
	HoldingPeriodBars int        `json:"holdingPeriodBars"`
	ExitReason        ExitReason `json:"exitReason"`
}

// Invested returns the notional committed at entry.
func (t SimulatedTrade) Invested() float64 {
	return t.EntryPrice * t.Quantity
}

// BacktestConfig parameterizes a single backtest run.
type BacktestConfig struct {
	Symbols                []string  `json:"symbols" yaml:"symbols"`
	Timeframe              string    `json:"timeframe,omitempty" yaml:"timeframe"`
	StartDate              time.Time `json:"startDate" yaml:"start_date"`
	EndDate                time.Time `json:"endDate" yaml:"end_date"`
	InitialCapital         float64   `json:"initialCapital" yaml:"initial_capital"`
	MaxConcurrentPositions int       `json:"maxConcurrentPositions" yaml:"max_concurrent_positions"`
	RiskPerTrade           float64   `json:"riskPerTrade" yaml:"risk_per_trade"`
	SlippageRate           float64   `json:"slippageRate" yaml:"slippage_rate"`
	CommissionRate         float64   `json:"commissionRate" yaml:"commission_rate"`
	// MaxHoldingBars bounds how long a simulated trade may stay open.
	// Zero means DefaultMaxHoldingBars.
	MaxHoldingBars int `json:"maxHoldingBars,omitempty" yaml:"max_holding_bars"`
}

// DefaultMaxHoldingBars is one week of hourly bars.
const DefaultMaxHoldingBars = 168

// HoldingWindow returns the effective maximum holding window in bars.
func (c BacktestConfig) HoldingWindow() int {
	if c.MaxHoldingBars <= 0 {
		return DefaultMaxHoldingBars
	}
	return c.MaxHoldingBars
}

// Validate checks the structural invariants of the configuration. A
// violation rejects the entire run.
func (c BacktestConfig) Validate() error {
	switch {
	case c.StartDate.IsZero() || c.EndDate.IsZero():
		return &ConfigurationError{Field: "startDate/endDate", Reason: "both dates are required"}
	case !c.StartDate.Before(c.EndDate):
		return &ConfigurationError{Field: "startDate", Reason: "must be before endDate"}
	case c.InitialCapital <= 0:
		return &ConfigurationError{Field: "initialCapital", Reason: "must be positive"}
	case c.RiskPerTrade <= 0 || c.RiskPerTrade > 0.1:
		return &ConfigurationError{Field: "riskPerTrade", Reason: fmt.Sprintf("%v not in (0, 0.1]", c.RiskPerTrade)}
	case c.MaxConcurrentPositions <= 0:
		return &ConfigurationError{Field: "maxConcurrentPositions", Reason: "must be positive"}
	case c.SlippageRate < 0 || c.CommissionRate < 0:
		return &ConfigurationError{Field: "slippageRate/commissionRate", Reason: "must not be negative"}
	}
	return nil
}

// EquityPoint is one point on an equity curve.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// PerformanceMetrics aggregates a list of simulated trades.
type PerformanceMetrics struct {
	TotalTrades          int     `json:"totalTrades"`
	WinningTrades        int     `json:"winningTrades"`
	LosingTrades         int     `json:"losingTrades"`
	WinRate              float64 `json:"winRate"`
	AvgWin               float64 `json:"avgWin"`
	AvgLoss              float64 `json:"avgLoss"` // magnitude, >= 0
	LargestWin           float64 `json:"largestWin"`
	LargestLoss          float64 `json:"largestLoss"` // magnitude, >= 0
	MaxConsecutiveWins   int     `json:"maxConsecutiveWins"`
	MaxConsecutiveLosses int     `json:"maxConsecutiveLosses"`
	ProfitFactor         float64 `json:"profitFactor"`
	NetPnL               float64 `json:"netPnl"`
	SharpeRatio          float64 `json:"sharpeRatio"`
	MaxDrawdown          float64 `json:"maxDrawdown"`
}

// BacktestResult is the output of one backtest run. It is never mutated
// after construction.
type BacktestResult struct {
	RunID          string             `json:"runId,omitempty"`
	Trades         []SimulatedTrade   `json:"trades"`
	EquityCurve    []EquityPoint      `json:"equityCurve"`
	InitialCapital float64            `json:"initialCapital"`
	FinalCapital   float64            `json:"finalCapital"`
	TotalReturn    float64            `json:"totalReturn"`
	MaxDrawdown    float64            `json:"maxDrawdown"`
	SkippedSignals int                `json:"skippedSignals"`
	Metrics        PerformanceMetrics `json:"metrics"`
}
