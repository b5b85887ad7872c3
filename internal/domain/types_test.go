package domain

import (
	"errors"
	"testing"
	"time"
)

func validConfig() BacktestConfig {
	return BacktestConfig{
		Symbols:                []string{"BTCUSD"},
		StartDate:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:                time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital:         10000,
		MaxConcurrentPositions: 3,
		RiskPerTrade:           0.02,
		SlippageRate:           0.001,
		CommissionRate:         0.001,
	}
}

func TestBacktestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *BacktestConfig)
		wantErr bool
	}{
		{"valid", func(c *BacktestConfig) {}, false},
		{"start after end", func(c *BacktestConfig) { c.StartDate, c.EndDate = c.EndDate, c.StartDate }, true},
		{"start equals end", func(c *BacktestConfig) { c.EndDate = c.StartDate }, true},
		{"zero capital", func(c *BacktestConfig) { c.InitialCapital = 0 }, true},
		{"risk zero", func(c *BacktestConfig) { c.RiskPerTrade = 0 }, true},
		{"risk at cap", func(c *BacktestConfig) { c.RiskPerTrade = 0.1 }, false},
		{"risk above cap", func(c *BacktestConfig) { c.RiskPerTrade = 0.11 }, true},
		{"no positions", func(c *BacktestConfig) { c.MaxConcurrentPositions = 0 }, true},
		{"negative slippage", func(c *BacktestConfig) { c.SlippageRate = -0.1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cerr *ConfigurationError
				if !errors.As(err, &cerr) {
					t.Errorf("Validate() error %T is not a *ConfigurationError", err)
				}
			}
		})
	}
}

func TestHoldingWindowDefault(t *testing.T) {
	cfg := validConfig()
	if got := cfg.HoldingWindow(); got != DefaultMaxHoldingBars {
		t.Errorf("HoldingWindow() = %d, want %d", got, DefaultMaxHoldingBars)
	}
	cfg.MaxHoldingBars = 24
	if got := cfg.HoldingWindow(); got != 24 {
		t.Errorf("HoldingWindow() = %d, want 24", got)
	}
}

func TestIsCrypto(t *testing.T) {
	tests := map[string]bool{
		"BTCUSD":   true,
		"ETH/USDT": true,
		"SOLUSDC":  true,
		"AAPL":     false,
		"USD":      false,
		"MSFT":     false,
	}
	for sym, want := range tests {
		if got := IsCrypto(sym); got != want {
			t.Errorf("IsCrypto(%q) = %v, want %v", sym, got, want)
		}
	}
}

func TestParameterSetString(t *testing.T) {
	p := ParameterSet{"short": 5, "long": 20}
	if got, want := p.String(), "long=20 short=5"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := p.Get("missing", 7); got != 7 {
		t.Errorf("Get(missing) = %v, want 7", got)
	}
}

func TestPersistenceErrorUnwrap(t *testing.T) {
	base := errors.New("disk full")
	err := error(&PersistenceError{Op: "save", Err: base})
	if !errors.Is(err, base) {
		t.Error("errors.Is should see the wrapped error")
	}
}

func TestPredictionVariants(t *testing.T) {
	preds := []Prediction{
		MLPrediction{Side: SideBuy, Confidence: 0.9, Model: "gbm"},
		FallbackPrediction{Side: SideSell, Rule: "rsi-overbought"},
	}
	if preds[0].PredictedSide() != SideBuy || preds[1].PredictedSide() != SideSell {
		t.Error("PredictedSide returned the wrong side")
	}
}
