package optimizer

import (
	"fmt"
	"math"

	"tradelab/internal/domain"
)

// Weights are the per-target weights of the objective.
type Weights struct {
	WinRate     float64 `yaml:"win_rate" json:"winRate"`
	SharpeRatio float64 `yaml:"sharpe_ratio" json:"sharpeRatio"`
	NetPnL      float64 `yaml:"net_pnl" json:"netPnL"`
	MaxDrawdown float64 `yaml:"max_drawdown" json:"maxDrawdown"`
}

// DefaultWeights returns the standard objective weights.
func DefaultWeights() Weights {
	return Weights{WinRate: 0.3, SharpeRatio: 0.3, NetPnL: 0.2, MaxDrawdown: 0.2}
}

// Scorer computes a weighted objective over a chosen set of targets.
type Scorer struct {
	weights Weights
	targets []string
}

// NewScorer validates targets; an empty list scores all four.
func NewScorer(w Weights, targets []string) (*Scorer, error) {
	if len(targets) == 0 {
		targets = []string{domain.TargetWinRate, domain.TargetSharpeRatio, domain.TargetNetPnL, domain.TargetMaxDrawdown}
	}
	for _, t := range targets {
		switch t {
		case domain.TargetWinRate, domain.TargetSharpeRatio, domain.TargetNetPnL, domain.TargetMaxDrawdown:
		default:
			return nil, &domain.ConfigurationError{Field: "targets", Reason: fmt.Sprintf("unknown target %q", t)}
		}
	}
	return &Scorer{weights: w, targets: targets}, nil
}

// Score returns the weighted sum of each target's term, every term clamped
// to [0, 1] first. Net P&L is taken relative to initial capital and
// drawdown is inverted so that smaller is better.
func (s *Scorer) Score(res *domain.BacktestResult) float64 {
	m := res.Metrics
	var score float64
	for _, t := range s.targets {
		switch t {
		case domain.TargetWinRate:
			score += s.weights.WinRate * clamp01(m.WinRate)
		case domain.TargetSharpeRatio:
			score += s.weights.SharpeRatio * clamp01(m.SharpeRatio)
		case domain.TargetNetPnL:
			if res.InitialCapital > 0 {
				score += s.weights.NetPnL * clamp01(m.NetPnL/res.InitialCapital)
			}
		case domain.TargetMaxDrawdown:
			score += s.weights.MaxDrawdown * (1 - clamp01(m.MaxDrawdown))
		}
	}
	return score
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
