package builtins

import (
	"context"
	"math"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Breakout)(nil)

// Breakout buys a close above the highest high of the previous lookback
// candles and sells a close below the lowest low. It signals once per
// breakout and re-arms when price returns inside the channel.
type Breakout struct {
	lookback  int
	stopPct   float64
	targetPct float64

	highs, lows []float64
	last        domain.Side
}

// NewBreakout creates a Breakout strategy over a lookback-candle channel.
func NewBreakout(lookback int, stopPct, targetPct float64) *Breakout {
	return &Breakout{lookback: lookback, stopPct: stopPct, targetPct: targetPct}
}

// Name returns "breakout".
func (b *Breakout) Name() string {
	return "breakout"
}

// Init clears the channel.
func (b *Breakout) Init(_ context.Context) error {
	b.highs = make([]float64, 0, b.lookback+1)
	b.lows = make([]float64, 0, b.lookback+1)
	b.last = ""
	return nil
}

// OnCandle compares c's close to the channel formed by earlier candles.
func (b *Breakout) OnCandle(_ context.Context, c domain.Candle) ([]domain.Signal, error) {
	defer b.push(c)
	if len(b.highs) < b.lookback {
		return nil, nil
	}

	hi, lo := b.highs[0], b.lows[0]
	for i := 1; i < len(b.highs); i++ {
		hi = math.Max(hi, b.highs[i])
		lo = math.Min(lo, b.lows[i])
	}

	var side domain.Side
	var excess float64
	switch {
	case c.Close > hi:
		side, excess = domain.SideBuy, c.Close-hi
	case c.Close < lo:
		side, excess = domain.SideSell, lo-c.Close
	default:
		b.last = ""
		return nil, nil
	}
	if side == b.last {
		return nil, nil
	}
	b.last = side

	strength := math.Min(0.6+25*excess/c.Close, 1)
	return []domain.Signal{bracket(c, side, b.stopPct, b.targetPct, strength)}, nil
}

func (b *Breakout) push(c domain.Candle) {
	b.highs = append(b.highs, c.High)
	b.lows = append(b.lows, c.Low)
	if len(b.highs) > b.lookback {
		b.highs = b.highs[1:]
		b.lows = b.lows[1:]
	}
}
