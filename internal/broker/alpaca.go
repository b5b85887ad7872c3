package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradelab/internal/domain"
	"tradelab/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca trading API.
type AlpacaBroker struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint. An empty baseURL uses the SDK default.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		limiter: util.NewRateLimiter(200),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// GetPositions returns all open positions in the Alpaca account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var raw []alpaca.Position
	err := b.call(ctx, func() error {
		var err error
		raw, err = b.client.GetPositions()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, convertPosition(p))
	}
	return positions, nil
}

// GetAccount returns the current account balances.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	var acct *alpaca.Account
	err := b.call(ctx, func() error {
		var err error
		acct, err = b.client.GetAccount()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca account: %w", err)
	}
	return &domain.AccountInfo{
		Equity:      money(acct.Equity),
		Cash:        money(acct.Cash),
		BuyingPower: money(acct.BuyingPower),
	}, nil
}

func (b *AlpacaBroker) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn()
	})
}

func convertPosition(p alpaca.Position) domain.Position {
	side := domain.SideBuy
	if strings.EqualFold(p.Side, "short") || p.Qty.IsNegative() {
		side = domain.SideSell
	}
	return domain.Position{
		Symbol:     p.Symbol,
		Side:       side,
		Quantity:   p.Qty.Abs().InexactFloat64(),
		EntryPrice: money(p.AvgEntryPrice),
	}
}

// money rounds to cents before converting to float.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
