package backtest

import (
	"math"
	"time"

	"tradelab/internal/domain"
)

// varianceEpsilon treats float noise in identical returns as zero spread.
const varianceEpsilon = 1e-12

// CalculateMetrics aggregates trades, iterated in their given
// (chronological) order. An empty list yields zero metrics.
func CalculateMetrics(trades []domain.SimulatedTrade) domain.PerformanceMetrics {
	var m domain.PerformanceMetrics
	if len(trades) == 0 {
		return m
	}

	var winSum, lossSum float64
	var winRun, lossRun int
	returns := make([]float64, 0, len(trades))

	for _, t := range trades {
		m.NetPnL += t.PnL
		returns = append(returns, t.PnLPercent)

		switch {
		case t.PnL > 0:
			m.WinningTrades++
			winSum += t.PnL
			m.LargestWin = math.Max(m.LargestWin, t.PnL)
			winRun++
			lossRun = 0
		case t.PnL < 0:
			m.LosingTrades++
			lossSum += -t.PnL
			m.LargestLoss = math.Max(m.LargestLoss, -t.PnL)
			lossRun++
			winRun = 0
		default:
			winRun, lossRun = 0, 0
		}
		m.MaxConsecutiveWins = max(m.MaxConsecutiveWins, winRun)
		m.MaxConsecutiveLosses = max(m.MaxConsecutiveLosses, lossRun)
	}

	m.TotalTrades = len(trades)
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AvgWin = winSum / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = lossSum / float64(m.LosingTrades)
		m.ProfitFactor = winSum / lossSum
	}

	mean, std := meanStd(returns)
	if std > varianceEpsilon {
		m.SharpeRatio = mean / std
	}
	return m
}

// BuildEquityCurve returns the capital trajectory: the initial capital at
// the first trade's entry (or now, with no trades), then one point per
// trade at its exit date.
func BuildEquityCurve(trades []domain.SimulatedTrade, initialCapital float64) []domain.EquityPoint {
	start := time.Now()
	if len(trades) > 0 {
		start = trades[0].EntryDate
	}

	curve := make([]domain.EquityPoint, 0, len(trades)+1)
	curve = append(curve, domain.EquityPoint{Date: start, Value: initialCapital})

	value := initialCapital
	for _, t := range trades {
		value += t.PnL
		curve = append(curve, domain.EquityPoint{Date: t.ExitDate, Value: value})
	}
	return curve
}

// CurveDrawdown returns the largest peak-to-trough decline of the curve as
// a fraction of the peak.
func CurveDrawdown(curve []domain.EquityPoint) float64 {
	var peak, maxDD float64
	for i, p := range curve {
		if i == 0 || p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-p.Value)/peak)
		}
	}
	return maxDD
}

// meanStd returns the mean and population standard deviation of xs.
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
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
