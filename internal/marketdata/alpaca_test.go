package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradelab/internal/domain"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want marketdata.TimeFrame
	}{
		{"1m", marketdata.NewTimeFrame(1, marketdata.Min)},
		{"15m", marketdata.NewTimeFrame(15, marketdata.Min)},
		{"1H", marketdata.NewTimeFrame(1, marketdata.Hour)},
		{"4h", marketdata.NewTimeFrame(4, marketdata.Hour)},
		{"1d", marketdata.NewTimeFrame(1, marketdata.Day)},
		{"1w", marketdata.NewTimeFrame(1, marketdata.Week)},
	}
	for _, tt := range tests {
		got, err := ParseTimeframe(tt.in)
		if err != nil {
			t.Errorf("ParseTimeframe(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeframe(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "h", "0h", "-1d", "1y", "xm"} {
		_, err := ParseTimeframe(bad)
		var cerr *domain.ConfigurationError
		if !errors.As(err, &cerr) {
			t.Errorf("ParseTimeframe(%q) error = %v, want *ConfigurationError", bad, err)
		}
	}
}

func TestCryptoPair(t *testing.T) {
	tests := []struct{ in, want string }{
		{"BTCUSD", "BTC/USD"},
		{"ethusdt", "ETH/USDT"},
		{"SOLUSDC", "SOL/USDC"},
		{"ETHBTC", "ETH/BTC"},
		{"BTC/USD", "BTC/USD"},
	}
	for _, tt := range tests {
		if got := CryptoPair(tt.in); got != tt.want {
			t.Errorf("CryptoPair(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAlpacaProviderBurst(t *testing.T) {
	p := NewAlpacaProvider(AlpacaOptions{APIKey: "k", APISecret: "s", RateLimitPerMin: 1, RateLimitBurst: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for i := range 3 {
		if err := p.limiter.Wait(ctx); err != nil {
			t.Fatalf("request %d waited: %v", i, err)
		}
	}
	if err := p.limiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("fourth request error = %v, want DeadlineExceeded", err)
	}
}
