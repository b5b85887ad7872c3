package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ParameterRange is an inclusive [Min, Max] range for one strategy
// parameter, sampled at Steps evenly spaced points.
type ParameterRange struct {
	Name  string  `json:"name"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Steps int     `json:"steps,omitempty"`
}

// ParameterSet maps parameter names to values for one grid combination.
type ParameterSet map[string]float64

// Get returns the named value or def when absent.
func (p ParameterSet) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// String renders the set with sorted keys, e.g. "long=20 short=5".
func (p ParameterSet) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}

// Clone returns a copy of p.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Optimization target names.
const (
	TargetWinRate     = "winRate"
	TargetSharpeRatio = "sharpeRatio"
	TargetNetPnL      = "netPnL"
	TargetMaxDrawdown = "maxDrawdown"
)

// RankedResult is one scored grid combination.
type RankedResult struct {
	Parameters  ParameterSet       `json:"parameters"`
	Score       float64            `json:"score"`
	Metrics     PerformanceMetrics `json:"metrics"`
	TotalReturn float64            `json:"totalReturn"`
}

// OptimizationResult summarizes a grid search.
type OptimizationResult struct {
	BestParameters             ParameterSet   `json:"bestParameters"`
	BestScore                  float64        `json:"bestScore"`
	RankedResults              []RankedResult `json:"rankedResults"`
	TotalCombinationsEvaluated int            `json:"totalCombinationsEvaluated"`
	FailedCombinations         int            `json:"failedCombinations"`
}
