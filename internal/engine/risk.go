package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"tradelab/internal/domain"
)

const (
	kellyCap           = 0.25
	defaultKelly       = 0.02
	kellyScale         = 0.5 // half-Kelly
	maxBalanceFraction = 0.1
	concentrationLimit = 0.3
	recentTradeCount   = 10
	minHistoryTrades   = 5

	fallbackSizeFraction = 0.01
	fallbackRiskScore    = 0.8
	fallbackConfidence   = 0.3
	fallbackReason       = "fallback: calculation error"

	varianceEpsilon = 1e-12
)

// TradeHistorySource supplies closed trades for the trailing window.
type TradeHistorySource interface {
	RecentTrades(ctx context.Context, windowDays int) ([]domain.LedgerTrade, error)
}

// riskSnapshot is an immutable view of the trade window and the metrics
// derived from it. It is replaced wholesale on every recompute.
type riskSnapshot struct {
	metrics domain.RiskMetrics
	trades  []domain.LedgerTrade // ascending by CreatedAt
}

// RiskManager sizes positions with a capped half-Kelly fraction followed by
// an ordered cascade of adjustments, and checks portfolio limits.
//
// Sizing calls read a snapshot swapped in atomically by
// RecomputeRiskMetrics, so they are safe to run concurrently with each
// other and with a recompute.
type RiskManager struct {
	history     TradeHistorySource
	windowDays  int
	adjustments []Adjustment
	log         *slog.Logger
	now         func() time.Time

	limits      atomic.Pointer[domain.RiskLimits]
	snapshot    atomic.Pointer[riskSnapshot]
	capitalBase atomic.Uint64 // math.Float64bits
}

// RiskOptions configures a RiskManager. Zero values take defaults.
type RiskOptions struct {
	Limits            domain.RiskLimits
	HistoryWindowDays int
	Adjustments       []Adjustment
	Logger            *slog.Logger
}

// NewRiskManager creates a RiskManager reading trade history from src.
func NewRiskManager(src TradeHistorySource, opts RiskOptions) *RiskManager {
	if opts.Limits == (domain.RiskLimits{}) {
		opts.Limits = domain.DefaultRiskLimits()
	}
	if opts.HistoryWindowDays <= 0 {
		opts.HistoryWindowDays = 30
	}
	if opts.Adjustments == nil {
		opts.Adjustments = DefaultAdjustments()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rm := &RiskManager{
		history:     src,
		windowDays:  opts.HistoryWindowDays,
		adjustments: opts.Adjustments,
		log:         opts.Logger.With("component", "risk"),
		now:         time.Now,
	}
	limits := opts.Limits
	rm.limits.Store(&limits)
	return rm
}

// Limits returns the current limits.
func (rm *RiskManager) Limits() domain.RiskLimits {
	return *rm.limits.Load()
}

// SetLimits replaces the limits. In-flight calculations keep the limits
// they started with.
func (rm *RiskManager) SetLimits(l domain.RiskLimits) {
	rm.limits.Store(&l)
}

// SetCapitalBase sets the account equity that window drawdown is measured
// against. Zero means estimate it from the trades' invested amounts.
func (rm *RiskManager) SetCapitalBase(equity float64) {
	rm.capitalBase.Store(math.Float64bits(math.Max(equity, 0)))
}

// Metrics returns the last computed metrics, or the zero value if
// RecomputeRiskMetrics has not completed yet.
func (rm *RiskManager) Metrics() domain.RiskMetrics {
	if s := rm.snapshot.Load(); s != nil {
		return s.metrics
	}
	return domain.RiskMetrics{}
}

// RecomputeRiskMetrics pulls the trailing trade window and swaps in freshly
// derived metrics. On a history error the previous snapshot is kept.
func (rm *RiskManager) RecomputeRiskMetrics(ctx context.Context) (domain.RiskMetrics, error) {
	trades, err := rm.history.RecentTrades(ctx, rm.windowDays)
	if err != nil {
		return rm.Metrics(), fmt.Errorf("loading trade history: %w", err)
	}

	window := make([]domain.LedgerTrade, len(trades))
	copy(window, trades)
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].CreatedAt.Before(window[j].CreatedAt)
	})

	base := math.Float64frombits(rm.capitalBase.Load())
	m := computeRiskMetrics(window, base)
	m.ComputedAt = rm.now()

	rm.snapshot.Store(&riskSnapshot{metrics: m, trades: window})
	rm.log.Info("risk metrics recomputed",
		"trades", m.TradeCount,
		"winRate", m.WinRate,
		"volatility", m.Volatility,
		"maxDrawdown", m.MaxDrawdown)
	if m.TradeCount < minHistoryTrades {
		rm.log.Warn("risk metrics from thin history", "trades", m.TradeCount, "error", domain.ErrInsufficientHistory)
	}
	return m, nil
}

// computeRiskMetrics derives metrics from an ascending trade window.
func computeRiskMetrics(trades []domain.LedgerTrade, capitalBase float64) domain.RiskMetrics {
	m := domain.RiskMetrics{TradeCount: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var wins, losses int
	var winSum, lossSum, investedSum float64
	returns := make([]float64, 0, len(trades))
	crypto := 0

	for _, t := range trades {
		switch {
		case t.PnL > 0:
			wins++
			winSum += t.PnL
		case t.PnL < 0:
			losses++
			lossSum += -t.PnL
		}
		if t.InvestedAmount > 0 {
			returns = append(returns, t.PnL/t.InvestedAmount)
			investedSum += t.InvestedAmount
		}
		if domain.IsCrypto(t.Symbol) {
			crypto++
		}
	}

	m.WinRate = float64(wins) / float64(len(trades))
	if wins > 0 {
		m.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = lossSum / float64(losses)
	}

	mean, vol := meanStd(returns)
	m.Volatility = vol
	if vol > varianceEpsilon {
		m.SharpeRatio = mean / vol
	}

	// Crypto pairs move together; a window dominated by them carries
	// correlation risk.
	m.CorrelationRisk = float64(crypto) / float64(len(trades))

	if capitalBase <= 0 && len(returns) > 0 {
		capitalBase = investedSum / float64(len(returns)) / maxBalanceFraction
	}
	m.MaxDrawdown = pnlDrawdown(trades, capitalBase)
	return m
}

// pnlDrawdown scans cumulative P&L on top of base for the largest
// peak-to-trough decline, as a fraction of the peak.
func pnlDrawdown(trades []domain.LedgerTrade, base float64) float64 {
	if base <= 0 {
		return 0
	}
	equity, peak := base, base
	var maxDD float64
	for _, t := range trades {
		equity += t.PnL
		peak = math.Max(peak, equity)
		maxDD = math.Max(maxDD, (peak-equity)/peak)
	}
	return maxDD
}

// KellyFraction returns the Kelly bet fraction clamped to [0, 0.25].
// avgLoss must be a magnitude; when it is not positive the fraction
// defaults to 0.02.
func KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss <= 0 || math.IsNaN(avgLoss) {
		return defaultKelly
	}
	odds := avgWin / avgLoss
	if odds <= 0 || math.IsNaN(odds) || math.IsInf(odds, 0) {
		return 0
	}
	f := (odds*winRate - (1 - winRate)) / odds
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(math.Max(f, 0), kellyCap)
}

// CalculatePositionSize recommends a notional size for sig. It never
// fails: any error resolves to a conservative fallback of 1% of balance.
func (rm *RiskManager) CalculatePositionSize(sig domain.Signal, accountBalance float64, positions []domain.Position) (rec domain.PositionSizeRecommendation) {
	defer func() {
		if r := recover(); r != nil {
			rm.log.Error("position sizing panicked", "symbol", sig.Symbol, "panic", r)
			rec = fallbackRecommendation(accountBalance, rm.Limits().MaxPositionSize)
		}
	}()

	rec, err := rm.calculate(sig, accountBalance, positions)
	if err != nil {
		rm.log.Warn("position sizing fell back", "symbol", sig.Symbol, "error", err)
		return fallbackRecommendation(accountBalance, rm.Limits().MaxPositionSize)
	}
	return rec
}

var errNoSnapshot = errors.New("risk metrics not computed")

func (rm *RiskManager) calculate(sig domain.Signal, balance float64, positions []domain.Position) (domain.PositionSizeRecommendation, error) {
	snap := rm.snapshot.Load()
	if snap == nil {
		return domain.PositionSizeRecommendation{}, errNoSnapshot
	}
	if math.IsNaN(balance) || math.IsInf(balance, 0) || balance < 0 {
		return domain.PositionSizeRecommendation{}, fmt.Errorf("invalid account balance %v", balance)
	}
	limits := rm.Limits()
	m := snap.metrics

	var kelly float64
	var reasoning []string
	if m.TradeCount < minHistoryTrades {
		kelly = defaultKelly
		reasoning = append(reasoning, fmt.Sprintf("%v (%d trades): default Kelly %.2f", domain.ErrInsufficientHistory, m.TradeCount, kelly))
	} else {
		kelly = KellyFraction(m.WinRate, m.AvgWin, m.AvgLoss)
		reasoning = append(reasoning, fmt.Sprintf("Kelly fraction %.4f from win rate %.2f over %d trades", kelly, m.WinRate, m.TradeCount))
	}
	base := balance * kelly * kellyScale

	in := SizingInput{
		Signal:    sig,
		Balance:   balance,
		Positions: positions,
		Metrics:   m,
		Limits:    limits,
		Recent:    lastN(snap.trades, recentTradeCount),
		Now:       rm.now(),
	}
	mult, riskScore := 1.0, 0.0
	for _, adj := range rm.adjustments {
		f, delta, reason := adj.Rule(in)
		if reason == "" {
			continue
		}
		mult *= f
		riskScore += delta
		reasoning = append(reasoning, reason)
		rm.log.Debug("size adjustment", "rule", adj.Name, "multiplier", f, "riskDelta", delta)
	}

	maxSize := math.Min(limits.MaxPositionSize, balance*maxBalanceFraction)
	size := math.Max(math.Min(base*mult, maxSize), 0)
	riskScore = math.Min(riskScore, 1)

	return domain.PositionSizeRecommendation{
		RecommendedSize: size,
		MaxSize:         math.Max(maxSize, 0),
		RiskScore:       riskScore,
		KellyFraction:   kelly,
		ConfidenceLevel: confidence(m.TradeCount, riskScore),
		Reasoning:       reasoning,
	}, nil
}

// confidence grows with the number of trades behind the metrics and
// shrinks with accumulated risk.
func confidence(trades int, riskScore float64) float64 {
	depth := math.Min(float64(trades)/30, 1)
	return math.Max(depth*(1-riskScore/2), 0.1)
}

// fallbackRecommendation sizes at 1% of balance, never above a positive
// maxPosition.
func fallbackRecommendation(balance, maxPosition float64) domain.PositionSizeRecommendation {
	if math.IsNaN(balance) || math.IsInf(balance, 0) || balance < 0 {
		balance = 0
	}
	size := balance * fallbackSizeFraction
	if maxPosition > 0 {
		size = math.Min(size, maxPosition)
	}
	return domain.PositionSizeRecommendation{
		RecommendedSize: size,
		MaxSize:         size,
		RiskScore:       fallbackRiskScore,
		ConfidenceLevel: fallbackConfidence,
		Reasoning:       []string{fallbackReason},
	}
}

// CheckRiskLimits reports violations of the daily loss, drawdown and
// concentration limits.
func (rm *RiskManager) CheckRiskLimits(positions []domain.Position, dailyPnL float64) domain.RiskCheck {
	limits := rm.Limits()
	m := rm.Metrics()
	check := domain.RiskCheck{Violations: []string{}, Recommendations: []string{}}

	if dailyPnL < -limits.MaxDailyLoss {
		check.Violations = append(check.Violations,
			fmt.Sprintf("Daily loss limit exceeded: %.2f (limit %.2f)", dailyPnL, limits.MaxDailyLoss))
		check.Recommendations = append(check.Recommendations, "Stop opening new positions for the rest of the day")
	}

	if m.MaxDrawdown > limits.MaxDrawdown {
		check.Violations = append(check.Violations,
			fmt.Sprintf("Max drawdown exceeded: %.1f%% (limit %.1f%%)", m.MaxDrawdown*100, limits.MaxDrawdown*100))
		check.Recommendations = append(check.Recommendations, "Reduce position sizes until the drawdown recovers")
	}

	var total float64
	var largest domain.Position
	for _, p := range positions {
		total += p.Value()
		if p.Value() > largest.Value() {
			largest = p
		}
	}
	if total > 0 && largest.Value() > concentrationLimit*total {
		check.Violations = append(check.Violations,
			fmt.Sprintf("Position concentration too high: %s is %.1f%% of exposure", largest.Symbol, largest.Value()/total*100))
		check.Recommendations = append(check.Recommendations,
			fmt.Sprintf("Trim %s or diversify across more symbols", largest.Symbol))
	}

	check.WithinLimits = len(check.Violations) == 0
	return check
}

func lastN(trades []domain.LedgerTrade, n int) []domain.LedgerTrade {
	if len(trades) <= n {
		return trades
	}
	return trades[len(trades)-n:]
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
