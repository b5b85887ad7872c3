package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
)

// SignalSink stores generated signals so they can be replayed later.
type SignalSink interface {
	SaveSignals(ctx context.Context, signals []domain.Signal) error
}

// Backtester runs registered strategies over historical candles: it loads
// candles per symbol, generates signals and replays them through a
// backtest.Runner.
type Backtester struct {
	candles  backtest.CandleProvider
	results  backtest.ResultSink
	signals  SignalSink
	registry *Registry
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads candles from provider and
// builds strategies from registry. results and signals may be nil.
func NewBacktester(provider backtest.CandleProvider, results backtest.ResultSink, signals SignalSink, registry *Registry, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		candles:  provider,
		results:  results,
		signals:  signals,
		registry: registry,
		log:      log.With("component", "backtester"),
	}
}

// Run executes a backtest of the named strategy with params over cfg's
// symbols and date range, persisting the signals and the result.
func (bt *Backtester) Run(ctx context.Context, name string, params domain.ParameterSet, cfg domain.BacktestConfig) (*domain.BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	data, err := bt.LoadCandles(ctx, cfg)
	if err != nil {
		return nil, err
	}

	signals, err := bt.Signals(ctx, name, params, data)
	if err != nil {
		return nil, err
	}
	if bt.signals != nil && len(signals) > 0 {
		if err := bt.signals.SaveSignals(context.WithoutCancel(ctx), signals); err != nil {
			bt.log.Warn("signals not persisted", "strategy", name, "error", &domain.PersistenceError{Op: "save signals", Err: err})
		}
	}

	bt.log.Info("strategy backtest", "strategy", name, "params", params.String(), "signals", len(signals))
	return backtest.NewRunner(data, bt.results, bt.log).Run(ctx, cfg, signals)
}

// Replay runs the named strategy over pre-loaded candles without persisting
// anything. Each call builds its own strategy instance, so concurrent
// replays over the same data are safe.
func (bt *Backtester) Replay(ctx context.Context, name string, params domain.ParameterSet, cfg domain.BacktestConfig, data backtest.StaticCandles) (*domain.BacktestResult, error) {
	signals, err := bt.Signals(ctx, name, params, data)
	if err != nil {
		return nil, err
	}
	return backtest.NewRunner(data, nil, bt.log).Run(ctx, cfg, signals)
}

// Signals generates the named strategy's signals for every symbol in data,
// merged in timestamp order.
func (bt *Backtester) Signals(ctx context.Context, name string, params domain.ParameterSet, data backtest.StaticCandles) ([]domain.Signal, error) {
	symbols := make([]string, 0, len(data))
	for sym := range data {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var all []domain.Signal
	for _, sym := range symbols {
		s, err := bt.registry.New(name, params)
		if err != nil {
			return nil, err
		}
		sigs, err := GenerateSignals(ctx, s, data[sym])
		if err != nil {
			return nil, err
		}
		all = append(all, sigs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

// LoadCandles reads each configured symbol's candles once. Symbols whose
// load fails are logged and left out; no data at all is an error.
func (bt *Backtester) LoadCandles(ctx context.Context, cfg domain.BacktestConfig) (backtest.StaticCandles, error) {
	data := make(backtest.StaticCandles, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		candles, err := bt.candles.GetCandles(ctx, sym, cfg.Timeframe, cfg.StartDate, cfg.EndDate)
		if err != nil {
			bt.log.Warn("candles unavailable", "symbol", sym, "error", err)
			continue
		}
		if len(candles) == 0 {
			bt.log.Warn("no candles in range", "symbol", sym, "start", cfg.StartDate, "end", cfg.EndDate)
			continue
		}
		data[sym] = candles
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no candle data for %v between %s and %s: %w",
			cfg.Symbols, cfg.StartDate.Format("2006-01-02"), cfg.EndDate.Format("2006-01-02"), domain.ErrDataGap)
	}
	return data, nil
}
