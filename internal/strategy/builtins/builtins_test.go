package builtins

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func closes(symbol string, prices ...float64) []domain.Candle {
	out := make([]domain.Candle, len(prices))
	for i, p := range prices {
		out[i] = domain.Candle{
			Symbol:    symbol,
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      p,
			High:      p + 0.5,
			Low:       p - 0.5,
			Close:     p,
		}
	}
	return out
}

func TestSMACrossSignals(t *testing.T) {
	// Falls, rallies, then rolls over: one cross up and one cross down.
	prices := []float64{110, 108, 106, 104, 102, 100, 101, 104, 108, 112, 116, 115, 110, 104, 98, 92}
	s := NewSMACross(2, 4, 0.02, 0.05)

	sigs, err := strategy.GenerateSignals(context.Background(), s, closes("AAPL", prices...))
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("got %d signals, want 2: %+v", len(sigs), sigs)
	}

	buy, sell := sigs[0], sigs[1]
	if buy.Side != domain.SideBuy || sell.Side != domain.SideSell {
		t.Fatalf("sides = %s, %s; want buy then sell", buy.Side, sell.Side)
	}
	if buy.StopLoss >= buy.EntryPrice || buy.TakeProfit <= buy.EntryPrice {
		t.Errorf("buy bracket wrong: %+v", buy)
	}
	if sell.StopLoss <= sell.EntryPrice || sell.TakeProfit >= sell.EntryPrice {
		t.Errorf("sell bracket wrong: %+v", sell)
	}
	if buy.Strength < 0.5 || buy.Strength > 1 {
		t.Errorf("Strength = %v, want within [0.5, 1]", buy.Strength)
	}
	if buy.StrategyID != "sma-cross" {
		t.Errorf("StrategyID = %q", buy.StrategyID)
	}
}

func TestBreakoutSignalsOncePerBreak(t *testing.T) {
	prices := []float64{100, 101, 100, 101, 100, 105, 106, 107, 107, 107, 107, 100, 99}
	b := NewBreakout(3, 0.02, 0.04)

	sigs, err := strategy.GenerateSignals(context.Background(), b, closes("BTCUSD", prices...))
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("got %d signals, want 2: %+v", len(sigs), sigs)
	}
	if sigs[0].Side != domain.SideBuy || !sigs[0].Timestamp.Equal(t0.Add(5*time.Hour)) {
		t.Errorf("first signal = %+v, want buy at candle 5", sigs[0])
	}
	if sigs[1].Side != domain.SideSell || !sigs[1].Timestamp.Equal(t0.Add(11*time.Hour)) {
		t.Errorf("second signal = %+v, want sell at candle 11", sigs[1])
	}
}

func TestFactories(t *testing.T) {
	r := NewRegistry()
	if got := r.List(); len(got) != 2 || got[0] != "breakout" || got[1] != "sma-cross" {
		t.Fatalf("List = %v", got)
	}

	tests := []struct {
		name    string
		params  domain.ParameterSet
		wantErr bool
	}{
		{"sma-cross", domain.ParameterSet{"short_period": 5, "long_period": 20}, false},
		{"sma-cross", domain.ParameterSet{"short_period": 4.6, "long_period": 5.4}, true},
		{"sma-cross", domain.ParameterSet{"short_period": 0}, true},
		{"sma-cross", domain.ParameterSet{"stop_pct": 1.5}, true},
		{"breakout", nil, false},
		{"breakout", domain.ParameterSet{"lookback": 1}, true},
		{"breakout", domain.ParameterSet{"target_pct": 0}, true},
	}
	for _, tt := range tests {
		_, err := r.New(tt.name, tt.params)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%s, %v) error = %v, wantErr %v", tt.name, tt.params, err, tt.wantErr)
		}
		var cerr *domain.ConfigurationError
		if err != nil && !errors.As(err, &cerr) {
			t.Errorf("New(%s, %v) error = %T, want *ConfigurationError", tt.name, tt.params, err)
		}
	}
}
