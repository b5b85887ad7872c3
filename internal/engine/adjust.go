package engine

import (
	"fmt"
	"time"

	"tradelab/internal/domain"
)

// SizingInput is the read-only state an Adjustment inspects.
type SizingInput struct {
	Signal    domain.Signal
	Balance   float64
	Positions []domain.Position
	Metrics   domain.RiskMetrics
	Limits    domain.RiskLimits
	Recent    []domain.LedgerTrade // last trades, oldest first
	Now       time.Time
}

// Adjustment is one step of the sizing cascade. Rule returns the size
// multiplier, the risk-score increment and a reason; an empty reason means
// the rule does not apply.
type Adjustment struct {
	Name string
	Rule func(in SizingInput) (multiplier, riskDelta float64, reason string)
}

// DefaultAdjustments returns the cascade in application order.
func DefaultAdjustments() []Adjustment {
	return []Adjustment{
		{Name: "strength", Rule: StrengthAdjustment},
		{Name: "volatility", Rule: VolatilityAdjustment},
		{Name: "drawdown", Rule: DrawdownAdjustment},
		{Name: "correlation", Rule: CorrelationAdjustment},
		{Name: "performance", Rule: PerformanceAdjustment},
		{Name: "cooldown", Rule: CooldownAdjustment},
	}
}

// StrengthAdjustment scales by signal strength on a 0-100 scale.
func StrengthAdjustment(in SizingInput) (float64, float64, string) {
	s := in.Signal.Strength * 100
	switch {
	case s > 80:
		return 1.2, 0, fmt.Sprintf("strong signal (%.0f): size x1.2", s)
	case s < 60:
		return 0.8, 0, fmt.Sprintf("weak signal (%.0f): size x0.8", s)
	}
	return 1, 0, ""
}

// VolatilityAdjustment cuts size when return volatility is above limit.
func VolatilityAdjustment(in SizingInput) (float64, float64, string) {
	if in.Metrics.Volatility > in.Limits.MaxVolatility {
		return 0.7, 0.2, fmt.Sprintf("high volatility %.4f > %.4f: size x0.7", in.Metrics.Volatility, in.Limits.MaxVolatility)
	}
	return 1, 0, ""
}

// DrawdownAdjustment cuts size when drawdown nears its limit.
func DrawdownAdjustment(in SizingInput) (float64, float64, string) {
	if in.Metrics.MaxDrawdown > 0.8*in.Limits.MaxDrawdown {
		return 0.6, 0.3, fmt.Sprintf("drawdown %.1f%% near limit %.1f%%: size x0.6", in.Metrics.MaxDrawdown*100, in.Limits.MaxDrawdown*100)
	}
	return 1, 0, ""
}

// CorrelationAdjustment halves size when open positions are already
// correlated with the signal's symbol.
func CorrelationAdjustment(in SizingInput) (float64, float64, string) {
	risk := PositionCorrelation(in.Signal.Symbol, in.Positions)
	if risk > in.Limits.MaxCorrelation {
		return 0.5, 0.4, fmt.Sprintf("correlation risk %.2f > %.2f: size x0.5", risk, in.Limits.MaxCorrelation)
	}
	return 1, 0, ""
}

// PerformanceAdjustment reacts to the return of the most recent trades.
func PerformanceAdjustment(in SizingInput) (float64, float64, string) {
	var pnl, invested float64
	for _, t := range in.Recent {
		pnl += t.PnL
		invested += t.InvestedAmount
	}
	if invested <= 0 {
		return 1, 0, ""
	}
	ret := pnl / invested
	switch {
	case ret < -0.10:
		return 0.7, 0.2, fmt.Sprintf("recent %d trades returned %.1f%%: size x0.7", len(in.Recent), ret*100)
	case ret > 0.20:
		return 1.1, 0, fmt.Sprintf("recent %d trades returned %.1f%%: size x1.1", len(in.Recent), ret*100)
	}
	return 1, 0, ""
}

// CooldownAdjustment halves size when the last trade is too recent.
func CooldownAdjustment(in SizingInput) (float64, float64, string) {
	if len(in.Recent) == 0 {
		return 1, 0, ""
	}
	since := in.Now.Sub(in.Recent[len(in.Recent)-1].CreatedAt)
	if cooldown := in.Limits.CooldownPeriod.Duration(); since < cooldown {
		return 0.5, 0.3, fmt.Sprintf("last trade %s ago, within cooldown %s: size x0.5", since.Round(time.Second), cooldown)
	}
	return 1, 0, ""
}

// PositionCorrelation scores how exposed positions already are to symbol:
// same-symbol positions count fully, other crypto pairs count half when
// symbol is itself crypto. The score is the weighted share of positions.
func PositionCorrelation(symbol string, positions []domain.Position) float64 {
	if len(positions) == 0 {
		return 0
	}
	crypto := domain.IsCrypto(symbol)
	var score float64
	for _, p := range positions {
		switch {
		case p.Symbol == symbol:
			score++
		case crypto && domain.IsCrypto(p.Symbol):
			score += 0.5
		}
	}
	return score / float64(len(positions))
}
