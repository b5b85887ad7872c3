// Package engine coordinates risk-aware position sizing and portfolio limit
// checks for trading sessions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradelab/internal/broker"
	"tradelab/internal/domain"
)

// TradeLedger is a trade-history source that also records closed trades.
type TradeLedger interface {
	TradeHistorySource
	RecordTrade(ctx context.Context, t domain.LedgerTrade) error
}

// Engine serves sizing and limit checks for one session by combining live
// account state from a broker with the risk manager's trade-history view.
type Engine struct {
	broker broker.Broker
	ledger TradeLedger
	risk   *RiskManager
	log    *slog.Logger
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(b broker.Broker, ledger TradeLedger, risk *RiskManager, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		broker: b,
		ledger: ledger,
		risk:   risk,
		log:    log.With("component", "engine", "broker", b.Name()),
	}
}

// Risk returns the session's risk manager.
func (e *Engine) Risk() *RiskManager {
	return e.risk
}

// Refresh updates the drawdown base from account equity and recomputes the
// risk metrics from the ledger.
func (e *Engine) Refresh(ctx context.Context) (domain.RiskMetrics, error) {
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.log.Warn("account unavailable for refresh", "error", err)
	} else {
		e.risk.SetCapitalBase(acct.Equity)
	}
	return e.risk.RecomputeRiskMetrics(ctx)
}

// SizeSignal recommends a position size for sig against the broker's
// current equity and open positions.
func (e *Engine) SizeSignal(ctx context.Context, sig domain.Signal) (domain.PositionSizeRecommendation, error) {
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return domain.PositionSizeRecommendation{}, fmt.Errorf("fetching account: %w", err)
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return domain.PositionSizeRecommendation{}, fmt.Errorf("fetching positions: %w", err)
	}

	rec := e.risk.CalculatePositionSize(sig, acct.Equity, positions)
	e.log.Info("signal sized",
		"symbol", sig.Symbol,
		"side", sig.Side,
		"size", rec.RecommendedSize,
		"riskScore", rec.RiskScore)
	return rec, nil
}

// CheckLimits checks portfolio limits against the broker's positions.
// A nil dailyPnL is summed from today's ledger trades.
func (e *Engine) CheckLimits(ctx context.Context, dailyPnL *float64) (domain.RiskCheck, error) {
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return domain.RiskCheck{}, fmt.Errorf("fetching positions: %w", err)
	}

	var pnl float64
	if dailyPnL != nil {
		pnl = *dailyPnL
	} else if pnl, err = e.DailyPnL(ctx, time.Now()); err != nil {
		return domain.RiskCheck{}, err
	}

	check := e.risk.CheckRiskLimits(positions, pnl)
	if !check.WithinLimits {
		e.log.Warn("risk limits violated", "violations", check.Violations)
	}
	return check, nil
}

// DailyPnL sums the P&L of ledger trades closed on now's UTC day.
func (e *Engine) DailyPnL(ctx context.Context, now time.Time) (float64, error) {
	trades, err := e.ledger.RecentTrades(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("loading today's trades: %w", err)
	}
	day := now.UTC().Truncate(24 * time.Hour)
	var pnl float64
	for _, t := range trades {
		if !t.CreatedAt.Before(day) {
			pnl += t.PnL
		}
	}
	return pnl, nil
}

// RecordTrade appends a closed trade to the ledger, assigning an ID when
// the trade has none.
func (e *Engine) RecordTrade(ctx context.Context, t domain.LedgerTrade) (domain.LedgerTrade, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if err := e.ledger.RecordTrade(ctx, t); err != nil {
		return t, &domain.PersistenceError{Op: "record trade", Err: err}
	}
	return t, nil
}
