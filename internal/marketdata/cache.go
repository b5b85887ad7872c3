package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
	"tradelab/internal/store"
)

// Compile-time interface check.
var _ backtest.CandleProvider = (*CachingProvider)(nil)

// CachingProvider serves candles from a local CandleStore and falls back
// to a remote provider when the local range is empty, writing what it
// fetched back to the store.
type CachingProvider struct {
	local  store.CandleStore
	remote backtest.CandleProvider
	log    *slog.Logger
}

// NewCachingProvider creates a CachingProvider. remote may be nil, in
// which case only local data is served.
func NewCachingProvider(local store.CandleStore, remote backtest.CandleProvider, log *slog.Logger) *CachingProvider {
	if log == nil {
		log = slog.Default()
	}
	return &CachingProvider{local: local, remote: remote, log: log.With("component", "candle-cache")}
}

// GetCandles returns local candles when any exist in [start, end];
// otherwise it fetches the range remotely.
func (p *CachingProvider) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Candle, error) {
	candles, err := p.local.GetCandles(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("local candles %s: %w", symbol, err)
	}
	if len(candles) > 0 || p.remote == nil {
		return candles, nil
	}
	return p.Fetch(ctx, symbol, timeframe, start, end)
}

// Fetch pulls the range from the remote provider and stores it locally.
// A failed write is logged; the fetched candles are still returned.
func (p *CachingProvider) Fetch(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Candle, error) {
	if p.remote == nil {
		return nil, fmt.Errorf("no remote provider for %s", symbol)
	}
	candles, err := p.remote.GetCandles(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return candles, nil
	}
	if err := p.local.WriteCandles(ctx, timeframe, candles); err != nil {
		p.log.Warn("candles not cached", "symbol", symbol, "error", &domain.PersistenceError{Op: "write candles", Err: err})
	} else {
		p.log.Info("candles cached", "symbol", symbol, "timeframe", timeframe, "count", len(candles))
	}
	return candles, nil
}
