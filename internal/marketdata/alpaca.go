// Package marketdata fetches historical candles from remote data vendors.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
	"tradelab/internal/util"
)

// Compile-time interface check.
var _ backtest.CandleProvider = (*AlpacaProvider)(nil)

// AlpacaProvider serves candles from the Alpaca market-data API. Crypto
// pairs use the crypto endpoint; everything else is treated as a US equity.
type AlpacaProvider struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	feed    string
	log     *slog.Logger
}

// AlpacaOptions configures an AlpacaProvider.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	DataURL         string
	Feed            string // equity feed, "iex" when empty
	RateLimitPerMin int
	RateLimitBurst  int // back-to-back requests allowed after idle, 1 when zero
	Logger          *slog.Logger
}

// NewAlpacaProvider creates a provider from opts.
func NewAlpacaProvider(opts AlpacaOptions) *AlpacaProvider {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 200
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "alpaca-marketdata")
	}
	return &AlpacaProvider{
		client:  marketdata.NewClient(clientOpts),
		limiter: util.NewBurstRateLimiter(opts.RateLimitPerMin, opts.RateLimitBurst),
		feed:    opts.Feed,
		log:     opts.Logger,
	}
}

// GetCandles fetches candles for symbol within [start, end].
func (p *AlpacaProvider) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Candle, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	var candles []domain.Candle
	err = p.call(ctx, func() error {
		var err error
		if domain.IsCrypto(symbol) {
			candles, err = p.cryptoBars(symbol, tf, start, end)
		} else {
			candles, err = p.stockBars(symbol, tf, start, end)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s %s: %w", symbol, timeframe, err)
	}

	p.log.Debug("fetched candles", "symbol", symbol, "timeframe", timeframe, "count", len(candles))
	return candles, nil
}

func (p *AlpacaProvider) stockBars(symbol string, tf marketdata.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	bars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Start:      start,
		End:        end,
		Feed:       marketdata.Feed(p.feed),
		Adjustment: marketdata.Split,
	})
	if err != nil {
		return nil, err
	}
	candles := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, domain.Candle{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	return candles, nil
}

func (p *AlpacaProvider) cryptoBars(symbol string, tf marketdata.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	bars, err := p.client.GetCryptoBars(CryptoPair(symbol), marketdata.GetCryptoBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, err
	}
	candles := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return candles, nil
}

// call rate-limits and retries fn. Client errors (4xx other than 429) are
// not retried.
func (p *AlpacaProvider) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		err := fn()
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			return util.Permanent(err)
		}
		return err
	})
}

// ParseTimeframe converts strings such as "1m", "15m", "1h", "4h", "1d" and
// "1w" into an Alpaca TimeFrame.
func ParseTimeframe(s string) (marketdata.TimeFrame, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 {
		return marketdata.TimeFrame{}, &domain.ConfigurationError{Field: "timeframe", Reason: fmt.Sprintf("%q is not a timeframe", s)}
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return marketdata.TimeFrame{}, &domain.ConfigurationError{Field: "timeframe", Reason: fmt.Sprintf("%q has no positive count", s)}
	}

	var unit marketdata.TimeFrameUnit
	switch s[len(s)-1] {
	case 'm':
		unit = marketdata.Min
	case 'h':
		unit = marketdata.Hour
	case 'd':
		unit = marketdata.Day
	case 'w':
		unit = marketdata.Week
	default:
		return marketdata.TimeFrame{}, &domain.ConfigurationError{Field: "timeframe", Reason: fmt.Sprintf("%q has unknown unit", s)}
	}
	return marketdata.NewTimeFrame(n, unit), nil
}

// CryptoPair converts BTCUSD style symbols to Alpaca's BTC/USD form.
// Symbols that already contain a slash are returned upper-cased.
func CryptoPair(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "/") {
		return s
	}
	for _, q := range []string{"USDT", "USDC", "USD", "BTC", "ETH"} {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return s[:len(s)-len(q)] + "/" + q
		}
	}
	return s
}
