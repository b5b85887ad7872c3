package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// everyNth emits a buy signal on every nth candle it sees.
type everyNth struct {
	n    int
	seen int
}

func (s *everyNth) Name() string                 { return "every-nth" }
func (s *everyNth) Init(_ context.Context) error { s.seen = 0; return nil }
func (s *everyNth) OnCandle(_ context.Context, c domain.Candle) ([]domain.Signal, error) {
	s.seen++
	if s.seen%s.n != 0 {
		return nil, nil
	}
	return []domain.Signal{{
		Timestamp:  c.Timestamp,
		Symbol:     c.Symbol,
		Side:       domain.SideBuy,
		EntryPrice: c.Close,
		StopLoss:   c.Close * 0.9,
		TakeProfit: c.Close * 1.1,
		Strength:   0.7,
	}}, nil
}

func everyNthFactory(p domain.ParameterSet) (Strategy, error) {
	n := int(p.Get("n", 5))
	if n <= 0 {
		return nil, &domain.ConfigurationError{Field: "n", Reason: "must be positive"}
	}
	return &everyNth{n: n}, nil
}

func series(symbol string, n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Symbol:    symbol,
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 101, Low: 99, Close: 100,
		}
	}
	return out
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("every-nth", everyNthFactory)

	s, err := r.New("every-nth", domain.ParameterSet{"n": 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "every-nth" {
		t.Errorf("Name() = %q, want %q", s.Name(), "every-nth")
	}

	if _, err := r.New("every-nth", domain.ParameterSet{"n": 0}); err == nil {
		t.Error("factory accepted n=0")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get returned true for unregistered strategy")
	}
	if _, err := r.New("nonexistent", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("New error = %v, want ErrNotFound", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", everyNthFactory)
	r.Register("alpha", everyNthFactory)

	names := r.List()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestGenerateSignals(t *testing.T) {
	s := &everyNth{n: 4, seen: 99}
	sigs, err := GenerateSignals(context.Background(), s, series("AAPL", 20))
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	if len(sigs) != 5 {
		t.Fatalf("len(signals) = %d, want 5 (Init must reset state)", len(sigs))
	}
	for _, sig := range sigs {
		if sig.StrategyID != "every-nth" {
			t.Errorf("StrategyID = %q", sig.StrategyID)
		}
	}
}

func TestSignalStrength(t *testing.T) {
	tests := []struct {
		name string
		p    domain.Prediction
		want float64
	}{
		{"ml", domain.MLPrediction{Side: domain.SideBuy, Confidence: 0.85, Model: "gbm"}, 0.85},
		{"ml clamped", domain.MLPrediction{Side: domain.SideBuy, Confidence: 1.7}, 1},
		{"ml negative", domain.MLPrediction{Side: domain.SideSell, Confidence: -0.2}, 0},
		{"fallback", domain.FallbackPrediction{Side: domain.SideBuy, Rule: "rsi<30"}, 0.5},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		if got := SignalStrength(tt.p); got != tt.want {
			t.Errorf("%s: SignalStrength = %v, want %v", tt.name, got, tt.want)
		}
	}
}

type sinks struct {
	results []*domain.BacktestResult
	signals []domain.Signal
}

func (s *sinks) SaveBacktestResult(_ context.Context, r *domain.BacktestResult, _ domain.BacktestConfig) error {
	s.results = append(s.results, r)
	return nil
}

func (s *sinks) SaveSignals(_ context.Context, sigs []domain.Signal) error {
	s.signals = append(s.signals, sigs...)
	return nil
}

func testConfig(symbols ...string) domain.BacktestConfig {
	return domain.BacktestConfig{
		Symbols:                symbols,
		Timeframe:              "1h",
		StartDate:              t0,
		EndDate:                t0.Add(7 * 24 * time.Hour),
		InitialCapital:         10000,
		MaxConcurrentPositions: 5,
		RiskPerTrade:           0.01,
		MaxHoldingBars:         3,
	}
}

func TestBacktesterRun(t *testing.T) {
	provider := backtest.StaticCandles{
		"AAPL": series("AAPL", 40),
		"MSFT": series("MSFT", 40),
	}
	r := NewRegistry()
	r.Register("every-nth", everyNthFactory)
	out := &sinks{}

	bt := NewBacktester(provider, out, out, r, nil)
	res, err := bt.Run(context.Background(), "every-nth", domain.ParameterSet{"n": 10}, testConfig("AAPL", "MSFT", "TSLA"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 4 signals per symbol, TSLA has no data.
	if len(out.signals) != 8 {
		t.Errorf("persisted %d signals, want 8", len(out.signals))
	}
	if len(res.Trades) != 8 {
		t.Errorf("len(Trades) = %d, want 8", len(res.Trades))
	}
	if len(out.results) != 1 || out.results[0] != res {
		t.Error("result not handed to the sink")
	}
	for i := 1; i < len(out.signals); i++ {
		if out.signals[i].Timestamp.Before(out.signals[i-1].Timestamp) {
			t.Fatal("signals not merged in time order")
		}
	}
}

func TestBacktesterRunErrors(t *testing.T) {
	r := NewRegistry()
	r.Register("every-nth", everyNthFactory)
	bt := NewBacktester(backtest.StaticCandles{"AAPL": series("AAPL", 10)}, nil, nil, r, nil)
	ctx := context.Background()

	if _, err := bt.Run(ctx, "every-nth", nil, testConfig("NONE")); !errors.Is(err, domain.ErrDataGap) {
		t.Errorf("no data error = %v, want ErrDataGap", err)
	}
	if _, err := bt.Run(ctx, "missing", nil, testConfig("AAPL")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown strategy error = %v, want ErrNotFound", err)
	}
	bad := testConfig("AAPL")
	bad.InitialCapital = 0
	var cerr *domain.ConfigurationError
	if _, err := bt.Run(ctx, "every-nth", nil, bad); !errors.As(err, &cerr) {
		t.Errorf("bad config error = %v, want *ConfigurationError", err)
	}
}

func TestBacktesterReplay(t *testing.T) {
	r := NewRegistry()
	r.Register("every-nth", everyNthFactory)
	bt := NewBacktester(nil, nil, nil, r, nil)
	data := backtest.StaticCandles{"AAPL": series("AAPL", 40)}

	a, err := bt.Replay(context.Background(), "every-nth", domain.ParameterSet{"n": 5}, testConfig("AAPL"), data)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	b, _ := bt.Replay(context.Background(), "every-nth", domain.ParameterSet{"n": 20}, testConfig("AAPL"), data)
	if len(a.Trades) != 8 || len(b.Trades) != 2 {
		t.Errorf("trades = %d/%d, want 8/2", len(a.Trades), len(b.Trades))
	}
}
