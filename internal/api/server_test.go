package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradelab/internal/backtest"
	"tradelab/internal/config"
	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/optimizer"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// waveSeries oscillates so both built-in strategies produce signals.
func waveSeries(symbol string, n int) []domain.Candle {
	pattern := []float64{100, 98, 96, 94, 96, 99, 103, 106, 108, 106, 103, 99}
	out := make([]domain.Candle, n)
	for i := range out {
		p := pattern[i%len(pattern)]
		out[i] = domain.Candle{
			Symbol:    symbol,
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      p,
			High:      p + 3,
			Low:       p - 3,
			Close:     p,
			Volume:    1000,
		}
	}
	return out
}

type testEnv struct {
	srv *httptest.Server
	db  *store.SQLiteStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	candles := backtest.StaticCandles{"BTCUSD": waveSeries("BTCUSD", 240)}
	strategies := builtins.NewRegistry()
	sessions := engine.NewRegistry(engine.NewFactory(db, engine.SessionOptions{
		Broker:       "simulator",
		StartingCash: 100000,
		Limits:       domain.DefaultRiskLimits(),
	}, engine.AlpacaCredentials{}, nil), nil)

	s := NewServer(Deps{
		Candles:    candles,
		Results:    db,
		Signals:    db,
		Strategies: strategies,
		Backtester: strategy.NewBacktester(candles, db, db, strategies, nil),
		Optimizer:  optimizer.New(optimizer.Options{Workers: 2}),
		Sessions:   sessions,
		Defaults: config.Backtest{
			Timeframe:              "1h",
			InitialCapital:         10000,
			MaxConcurrentPositions: 2,
			RiskPerTrade:           0.01,
		},
	}, nil)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, db: db}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func window() domain.BacktestConfig {
	return domain.BacktestConfig{
		Symbols:   []string{"BTCUSD"},
		StartDate: t0,
		EndDate:   t0.Add(240 * time.Hour),
	}
}

func TestBacktestWithExplicitSignalsIsStored(t *testing.T) {
	env := newTestEnv(t)

	sig := domain.Signal{
		Timestamp:  t0,
		Symbol:     "BTCUSD",
		Side:       domain.SideBuy,
		EntryPrice: 100,
		StopLoss:   90,
		TakeProfit: 105,
		Strength:   0.7,
	}
	var res domain.BacktestResult
	code := env.do(t, http.MethodPost, "/api/backtests", BacktestRequest{Config: window(), Signals: []domain.Signal{sig}}, &res)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(res.Trades) != 1 || res.RunID == "" {
		t.Fatalf("result = %+v", res)
	}
	if res.InitialCapital != 10000 {
		t.Errorf("InitialCapital = %v, want config default 10000", res.InitialCapital)
	}

	var stored domain.BacktestResult
	if code := env.do(t, http.MethodGet, "/api/backtests/"+res.RunID, nil, &stored); code != http.StatusOK {
		t.Fatalf("GET status = %d", code)
	}
	if stored.FinalCapital != res.FinalCapital || len(stored.Trades) != 1 {
		t.Errorf("stored = %+v, want %+v", stored, res)
	}

	var runs []store.RunSummary
	env.do(t, http.MethodGet, "/api/backtests?limit=5", nil, &runs)
	if len(runs) != 1 || runs[0].ID != res.RunID {
		t.Errorf("runs = %+v", runs)
	}

	if code := env.do(t, http.MethodGet, "/api/backtests/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", code)
	}
}

func TestBacktestStrategyThenReplayStoredSignals(t *testing.T) {
	env := newTestEnv(t)

	var first domain.BacktestResult
	req := BacktestRequest{Config: window(), Strategy: "breakout", Params: domain.ParameterSet{"lookback": 4}}
	if code := env.do(t, http.MethodPost, "/api/backtests", req, &first); code != http.StatusOK {
		t.Fatalf("strategy run status = %d", code)
	}

	var replay domain.BacktestResult
	req = BacktestRequest{Config: window(), StrategyID: "breakout"}
	if code := env.do(t, http.MethodPost, "/api/backtests", req, &replay); code != http.StatusOK {
		t.Fatalf("replay status = %d", code)
	}
	if len(replay.Trades) != len(first.Trades) || replay.FinalCapital != first.FinalCapital {
		t.Errorf("replay of stored signals diverged: %d trades %v vs %d trades %v",
			len(replay.Trades), replay.FinalCapital, len(first.Trades), first.FinalCapital)
	}
}

func TestBacktestErrors(t *testing.T) {
	env := newTestEnv(t)

	bad := window()
	bad.EndDate = bad.StartDate
	tests := []struct {
		name string
		req  BacktestRequest
		want int
	}{
		{"no signal source", BacktestRequest{Config: window()}, http.StatusBadRequest},
		{"invalid config", BacktestRequest{Config: bad, Strategy: "breakout"}, http.StatusBadRequest},
		{"unknown strategy", BacktestRequest{Config: window(), Strategy: "nope"}, http.StatusNotFound},
		{"no candles", BacktestRequest{Config: domain.BacktestConfig{Symbols: []string{"ETHUSD"}, StartDate: t0, EndDate: t0.Add(time.Hour)}, Strategy: "breakout"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if code := env.do(t, http.MethodPost, "/api/backtests", tt.req, nil); code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, code, tt.want)
		}
	}
}

func TestOptimize(t *testing.T) {
	env := newTestEnv(t)

	req := OptimizeRequest{
		Strategy: "sma-cross",
		Config:   window(),
		Ranges: []domain.ParameterRange{
			{Name: "short_period", Min: 2, Max: 4, Steps: 3},
			{Name: "long_period", Min: 6, Max: 10, Steps: 3},
		},
		Targets: []string{domain.TargetSharpeRatio, domain.TargetNetPnL},
	}
	var res domain.OptimizationResult
	if code := env.do(t, http.MethodPost, "/api/optimize", req, &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.TotalCombinationsEvaluated != 9 {
		t.Errorf("evaluated = %d, want 9", res.TotalCombinationsEvaluated)
	}
	if len(res.RankedResults) == 0 || res.BestParameters == nil {
		t.Errorf("no ranked results: %+v", res)
	}

	req.Strategy = "nope"
	if code := env.do(t, http.MethodPost, "/api/optimize", req, nil); code != http.StatusBadRequest {
		t.Errorf("unknown strategy status = %d, want 400", code)
	}
	req.Strategy = "sma-cross"
	req.Targets = []string{"alpha"}
	if code := env.do(t, http.MethodPost, "/api/optimize", req, nil); code != http.StatusBadRequest {
		t.Errorf("unknown target status = %d, want 400", code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var info engine.SessionInfo
	if code := env.do(t, http.MethodPost, "/api/sessions", StartSessionRequest{Key: "alice"}, &info); code != http.StatusCreated {
		t.Fatalf("start status = %d", code)
	}
	if info.Key != "alice" || info.Broker != "simulator" {
		t.Errorf("info = %+v", info)
	}
	if code := env.do(t, http.MethodPost, "/api/sessions", StartSessionRequest{Key: "alice"}, nil); code != http.StatusConflict {
		t.Errorf("duplicate start status = %d, want 409", code)
	}

	// Empty ledger: sizing uses the default Kelly fraction.
	sig := domain.Signal{Timestamp: t0, Symbol: "BTCUSD", Side: domain.SideBuy, EntryPrice: 100, StopLoss: 98, TakeProfit: 104}
	var rec domain.PositionSizeRecommendation
	code := env.do(t, http.MethodPost, "/api/sessions/alice/size", SizeRequest{
		Signal:     sig,
		Prediction: &PredictionPayload{Kind: "ml", Side: domain.SideBuy, Confidence: 0.9, Model: "lstm"},
	}, &rec)
	if code != http.StatusOK {
		t.Fatalf("size status = %d", code)
	}
	if rec.RecommendedSize <= 0 || rec.RecommendedSize > rec.MaxSize || len(rec.Reasoning) == 0 {
		t.Errorf("recommendation = %+v", rec)
	}

	if code := env.do(t, http.MethodPost, "/api/sessions/alice/size", SizeRequest{
		Signal:     sig,
		Prediction: &PredictionPayload{Kind: "oracle"},
	}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown prediction kind status = %d, want 400", code)
	}

	var recorded domain.LedgerTrade
	trade := domain.LedgerTrade{Symbol: "BTCUSD", Side: domain.SideBuy, PnL: -2000, InvestedAmount: 10000}
	if code := env.do(t, http.MethodPost, "/api/sessions/alice/trades", trade, &recorded); code != http.StatusCreated {
		t.Fatalf("record status = %d", code)
	}
	if recorded.ID == "" {
		t.Error("recorded trade has no ID")
	}

	var check domain.RiskCheck
	if code := env.do(t, http.MethodPost, "/api/sessions/alice/limits", LimitsRequest{}, &check); code != http.StatusOK {
		t.Fatalf("limits status = %d", code)
	}
	if check.WithinLimits {
		t.Errorf("daily loss of 2000 should breach the 1000 limit: %+v", check)
	}

	var metrics domain.RiskMetrics
	if code := env.do(t, http.MethodPost, "/api/sessions/alice/refresh", nil, &metrics); code != http.StatusOK {
		t.Fatalf("refresh status = %d", code)
	}

	var sessions []engine.SessionInfo
	env.do(t, http.MethodGet, "/api/sessions", nil, &sessions)
	if len(sessions) != 1 {
		t.Errorf("sessions = %+v", sessions)
	}

	if code := env.do(t, http.MethodDelete, "/api/sessions/alice", nil, nil); code != http.StatusNoContent {
		t.Errorf("stop status = %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/sessions/alice/size", SizeRequest{Signal: sig}, nil); code != http.StatusNotFound {
		t.Errorf("size after stop status = %d, want 404", code)
	}
}

func TestCheckLimitsBodyOptional(t *testing.T) {
	env := newTestEnv(t)
	if code := env.do(t, http.MethodPost, "/api/sessions", StartSessionRequest{Key: "bob"}, nil); code != http.StatusCreated {
		t.Fatalf("start status = %d", code)
	}

	tests := []struct {
		name          string
		body          string
		contentLength int64 // -1 is a chunked body of unknown length
		want          int
	}{
		{"no body", "", 0, http.StatusOK},
		{"empty chunked body", "", -1, http.StatusOK},
		{"whitespace chunked body", " \n", -1, http.StatusOK},
		{"json body", `{"dailyPnl": -5}`, -1, http.StatusOK},
		{"malformed body", `{"dailyPnl":`, -1, http.StatusBadRequest},
		{"unknown field", `{"pnl": 1}`, -1, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/sessions/bob/limits", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			rec := httptest.NewRecorder()
			env.srv.Config.Handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.ConfigurationError{Field: "x", Reason: "y"}, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrSessionExists, http.StatusConflict},
		{domain.ErrDataGap, http.StatusUnprocessableEntity},
		{context.Canceled, http.StatusServiceUnavailable},
		{&domain.PersistenceError{Op: "save", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
