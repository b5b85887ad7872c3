// Package backtest replays trading signals against historical candles,
// simulating fills, exits and costs, and aggregates the resulting trades
// into performance metrics and an equity curve.
package backtest

import (
	"fmt"
	"sort"

	"tradelab/internal/domain"
)

// CostModel holds the per-trade cost parameters.
type CostModel struct {
	SlippageRate   float64
	CommissionRate float64
}

// SimulateTrade walks candles forward from the signal's timestamp and
// returns the resulting trade. It returns an error wrapping
// domain.ErrDataGap when no candle exists at or after the signal.
//
// Within a bar the stop-loss is checked before the take-profit, so a bar
// that touches both exits at the stop.
func SimulateTrade(sig domain.Signal, candles []domain.Candle, quantity float64, costs CostModel, maxBars int) (domain.SimulatedTrade, error) {
	entryIdx := sort.Search(len(candles), func(i int) bool {
		return !candles[i].Timestamp.Before(sig.Timestamp)
	})
	if entryIdx == len(candles) {
		return domain.SimulatedTrade{}, fmt.Errorf("%s at %s: %w", sig.Symbol, sig.Timestamp.Format("2006-01-02 15:04"), domain.ErrDataGap)
	}
	if maxBars <= 0 {
		maxBars = domain.DefaultMaxHoldingBars
	}

	entryBar := candles[entryIdx]
	entryPrice := entryBar.Close * (1 + costs.SlippageRate)
	if sig.Side == domain.SideSell {
		entryPrice = entryBar.Close * (1 - costs.SlippageRate)
	}

	lastIdx := min(entryIdx+maxBars, len(candles)-1)
	exitIdx := lastIdx
	exitPrice := candles[lastIdx].Close
	reason := domain.ExitTimeLimit

	for i := entryIdx + 1; i <= lastIdx; i++ {
		if price, r, hit := checkExit(sig, candles[i]); hit {
			exitIdx, exitPrice, reason = i, price, r
			break
		}
	}

	commission := (entryPrice + exitPrice) * quantity * costs.CommissionRate
	gross := (exitPrice - entryPrice) * quantity
	if sig.Side == domain.SideSell {
		gross = -gross
	}
	pnl := gross - commission

	var pnlPct float64
	if invested := entryPrice * quantity; invested != 0 {
		pnlPct = pnl / invested
	}

	return domain.SimulatedTrade{
		EntryDate:         entryBar.Timestamp,
		ExitDate:          candles[exitIdx].Timestamp,
		Symbol:            sig.Symbol,
		Side:              sig.Side,
		EntryPrice:        entryPrice,
		ExitPrice:         exitPrice,
		Quantity:          quantity,
		Commission:        commission,
		PnL:               pnl,
		PnLPercent:        pnlPct,
		HoldingPeriodBars: exitIdx - entryIdx,
		ExitReason:        reason,
	}, nil
}

// checkExit evaluates one bar against the signal's stop and target.
func checkExit(sig domain.Signal, c domain.Candle) (float64, domain.ExitReason, bool) {
	if sig.Side == domain.SideSell {
		if c.High >= sig.StopLoss {
			return sig.StopLoss, domain.ExitStopLoss, true
		}
		if c.Low <= sig.TakeProfit {
			return sig.TakeProfit, domain.ExitTakeProfit, true
		}
		return 0, "", false
	}
	if c.Low <= sig.StopLoss {
		return sig.StopLoss, domain.ExitStopLoss, true
	}
	if c.High >= sig.TakeProfit {
		return sig.TakeProfit, domain.ExitTakeProfit, true
	}
	return 0, "", false
}
