package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"tradelab/internal/domain"
)

// CandleProvider supplies historical candles. Implementations return
// ascending, de-duplicated candles; an empty slice means no data.
type CandleProvider interface {
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Candle, error)
}

// ResultSink persists completed backtest runs.
type ResultSink interface {
	SaveBacktestResult(ctx context.Context, result *domain.BacktestResult, cfg domain.BacktestConfig) error
}

// maxPositionFraction caps a single position's notional as a fraction of
// current capital.
const maxPositionFraction = 0.1

// Runner replays a time-ordered signal stream through the trade simulator
// while tracking capital and drawdown.
type Runner struct {
	candles CandleProvider
	sink    ResultSink
	log     *slog.Logger
}

// NewRunner creates a Runner that reads candles from provider. sink may be
// nil to skip persistence; log defaults to slog.Default().
func NewRunner(provider CandleProvider, sink ResultSink, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		candles: provider,
		sink:    sink,
		log:     log.With("component", "backtest"),
	}
}

// Run executes one backtest. Only an invalid cfg (a
// *domain.ConfigurationError) or a cancelled ctx fails the run; per-signal
// problems are logged and the signal is skipped.
func (r *Runner) Run(ctx context.Context, cfg domain.BacktestConfig, signals []domain.Signal) (*domain.BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ordered := make([]domain.Signal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	runID := uuid.NewString()
	log := r.log.With("run", runID)
	log.Info("backtest started", "signals", len(ordered), "start", cfg.StartDate, "end", cfg.EndDate)

	series := newCandleCache(r.candles, cfg)
	costs := CostModel{SlippageRate: cfg.SlippageRate, CommissionRate: cfg.CommissionRate}

	capital := cfg.InitialCapital
	var trades []domain.SimulatedTrade
	var openUntil []time.Time
	skipped := 0

	for _, sig := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if sig.Timestamp.Before(cfg.StartDate) || sig.Timestamp.After(cfg.EndDate) {
			skipped++
			continue
		}

		openUntil = pruneClosed(openUntil, sig.Timestamp)
		if len(openUntil) >= cfg.MaxConcurrentPositions {
			log.Debug("signal dropped: position limit", "symbol", sig.Symbol, "open", len(openUntil))
			skipped++
			continue
		}

		qty, err := positionSize(sig, capital, cfg.RiskPerTrade)
		if err != nil {
			log.Warn("signal skipped", "symbol", sig.Symbol, "at", sig.Timestamp, "error", err)
			skipped++
			continue
		}

		candles, err := series.get(ctx, sig.Symbol)
		if err != nil {
			log.Warn("candles unavailable", "symbol", sig.Symbol, "error", err)
			skipped++
			continue
		}

		trade, err := SimulateTrade(sig, candles, qty, costs, cfg.HoldingWindow())
		if err != nil {
			if errors.Is(err, domain.ErrDataGap) {
				log.Warn("signal outside data range", "symbol", sig.Symbol, "at", sig.Timestamp)
			} else {
				log.Warn("simulation failed", "symbol", sig.Symbol, "error", err)
			}
			skipped++
			continue
		}

		trades = append(trades, trade)
		openUntil = append(openUntil, trade.ExitDate)

		capital += trade.PnL
	}

	// The curve holds capital after each trade, so its drawdown is the
	// running peak-to-trough of capital.
	curve := BuildEquityCurve(trades, cfg.InitialCapital)
	maxDD := CurveDrawdown(curve)
	metrics := CalculateMetrics(trades)
	metrics.MaxDrawdown = maxDD

	result := &domain.BacktestResult{
		RunID:          runID,
		Trades:         trades,
		EquityCurve:    curve,
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   capital,
		TotalReturn:    (capital - cfg.InitialCapital) / cfg.InitialCapital,
		MaxDrawdown:    maxDD,
		SkippedSignals: skipped,
		Metrics:        metrics,
	}

	log.Info("backtest finished",
		"trades", len(trades),
		"skipped", skipped,
		"totalReturn", result.TotalReturn,
		"maxDrawdown", maxDD)

	r.persist(ctx, log, result, cfg)
	return result, nil
}

// persist hands the result to the sink. Failures are logged only.
func (r *Runner) persist(ctx context.Context, log *slog.Logger, result *domain.BacktestResult, cfg domain.BacktestConfig) {
	if r.sink == nil {
		return
	}
	if err := r.sink.SaveBacktestResult(context.WithoutCancel(ctx), result, cfg); err != nil {
		perr := &domain.PersistenceError{Op: "save backtest result", Err: err}
		log.Warn("backtest result not persisted", "error", perr)
	}
}

// positionSize returns min(riskAmount/stopDistance, 10% of capital /
// entry), the volatility-normalized bet size.
func positionSize(sig domain.Signal, capital, riskPerTrade float64) (float64, error) {
	if capital <= 0 {
		return 0, fmt.Errorf("capital exhausted (%.2f)", capital)
	}
	if sig.EntryPrice <= 0 {
		return 0, fmt.Errorf("invalid entry price %v", sig.EntryPrice)
	}
	if !sig.Side.Valid() {
		return 0, fmt.Errorf("invalid side %q", sig.Side)
	}

	capped := maxPositionFraction * capital / sig.EntryPrice
	stopDistance := math.Abs(sig.EntryPrice - sig.StopLoss)
	if stopDistance == 0 {
		return capped, nil
	}
	return math.Min(capital*riskPerTrade/stopDistance, capped), nil
}

// pruneClosed drops positions that exited at or before t.
func pruneClosed(openUntil []time.Time, t time.Time) []time.Time {
	kept := openUntil[:0]
	for _, exit := range openUntil {
		if exit.After(t) {
			kept = append(kept, exit)
		}
	}
	return kept
}

// candleCache loads each symbol's series once per run.
type candleCache struct {
	provider CandleProvider
	cfg      domain.BacktestConfig
	series   map[string][]domain.Candle
	failed   map[string]error
}

func newCandleCache(p CandleProvider, cfg domain.BacktestConfig) *candleCache {
	return &candleCache{
		provider: p,
		cfg:      cfg,
		series:   make(map[string][]domain.Candle),
		failed:   make(map[string]error),
	}
}

func (c *candleCache) get(ctx context.Context, symbol string) ([]domain.Candle, error) {
	if s, ok := c.series[symbol]; ok {
		return s, nil
	}
	if err, ok := c.failed[symbol]; ok {
		return nil, err
	}
	s, err := c.provider.GetCandles(ctx, symbol, c.cfg.Timeframe, c.cfg.StartDate, c.cfg.EndDate)
	if err != nil {
		c.failed[symbol] = err
		return nil, err
	}
	c.series[symbol] = s
	return s, nil
}
