package backtest

import (
	"context"
	"time"

	"tradelab/internal/domain"
)

// Compile-time interface check.
var _ CandleProvider = StaticCandles(nil)

// StaticCandles serves pre-loaded series keyed by symbol. The optimizer
// uses it so each grid combination replays the same in-memory history.
type StaticCandles map[string][]domain.Candle

// GetCandles returns the candles for symbol within [start, end]. The
// returned slice shares the backing array; callers must not modify it.
func (s StaticCandles) GetCandles(_ context.Context, symbol, _ string, start, end time.Time) ([]domain.Candle, error) {
	series := s[symbol]
	lo, hi := 0, len(series)
	for lo < hi && series[lo].Timestamp.Before(start) {
		lo++
	}
	for hi > lo && series[hi-1].Timestamp.After(end) {
		hi--
	}
	return series[lo:hi], nil
}
