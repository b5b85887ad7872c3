// Package builtins provides built-in strategy implementations that ship with
// tradelab.
package builtins

import (
	"context"
	"math"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	stopPct     float64
	targetPct   float64

	closes   []float64
	prevDiff float64
	primed   bool
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods and stop/target distances as fractions of
// the entry price.
func NewSMACross(short, long int, stopPct, targetPct float64) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		stopPct:     stopPct,
		targetPct:   targetPct,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init clears the price history.
func (s *SMACross) Init(_ context.Context) error {
	s.closes = make([]float64, 0, s.longPeriod)
	s.prevDiff = 0
	s.primed = false
	return nil
}

// OnCandle appends the close and emits a signal when the short SMA crosses
// the long SMA.
func (s *SMACross) OnCandle(_ context.Context, c domain.Candle) ([]domain.Signal, error) {
	s.closes = append(s.closes, c.Close)
	if len(s.closes) > s.longPeriod {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.longPeriod {
		return nil, nil
	}

	short := mean(s.closes[len(s.closes)-s.shortPeriod:])
	long := mean(s.closes)
	diff := short - long

	prev, primed := s.prevDiff, s.primed
	s.prevDiff, s.primed = diff, true
	if !primed {
		return nil, nil
	}

	var side domain.Side
	switch {
	case prev <= 0 && diff > 0:
		side = domain.SideBuy
	case prev >= 0 && diff < 0:
		side = domain.SideSell
	default:
		return nil, nil
	}

	// Wider spreads at the cross read as stronger momentum.
	strength := math.Min(0.5+50*math.Abs(diff)/long, 1)
	return []domain.Signal{bracket(c, side, s.stopPct, s.targetPct, strength)}, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// bracket builds a signal entering at the candle close with stop and target
// placed symmetrically around it for side.
func bracket(c domain.Candle, side domain.Side, stopPct, targetPct, strength float64) domain.Signal {
	sig := domain.Signal{
		Timestamp:  c.Timestamp,
		Symbol:     c.Symbol,
		Side:       side,
		EntryPrice: c.Close,
		Strength:   strength,
	}
	if side == domain.SideBuy {
		sig.StopLoss = c.Close * (1 - stopPct)
		sig.TakeProfit = c.Close * (1 + targetPct)
	} else {
		sig.StopLoss = c.Close * (1 + stopPct)
		sig.TakeProfit = c.Close * (1 - targetPct)
	}
	return sig
}
