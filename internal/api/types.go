package api

import (
	"fmt"

	"tradelab/internal/domain"
	"tradelab/internal/engine"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// BacktestRequest runs one backtest. Exactly one signal source is used, in
// order of precedence: explicit Signals, stored signals of StrategyID, or
// a fresh run of Strategy with Params.
type BacktestRequest struct {
	Config     domain.BacktestConfig `json:"config"`
	Signals    []domain.Signal       `json:"signals,omitempty"`
	StrategyID string                `json:"strategyId,omitempty"`
	Strategy   string                `json:"strategy,omitempty"`
	Params     domain.ParameterSet   `json:"params,omitempty"`
}

// OptimizeRequest grid-searches Strategy's parameters over Config.
type OptimizeRequest struct {
	Strategy string                  `json:"strategy"`
	Config   domain.BacktestConfig   `json:"config"`
	Ranges   []domain.ParameterRange `json:"ranges"`
	Targets  []string                `json:"targets,omitempty"`
}

// StartSessionRequest starts an engine session under Key.
type StartSessionRequest struct {
	Key string `json:"key"`
	engine.SessionOptions
}

// PredictionPayload is the wire form of a domain.Prediction. Kind is "ml"
// or "fallback".
type PredictionPayload struct {
	Kind       string      `json:"kind"`
	Side       domain.Side `json:"side"`
	Confidence float64     `json:"confidence,omitempty"`
	Model      string      `json:"model,omitempty"`
	Rule       string      `json:"rule,omitempty"`
}

// Prediction converts the payload into its tagged variant.
func (p PredictionPayload) Prediction() (domain.Prediction, error) {
	switch p.Kind {
	case "ml":
		return domain.MLPrediction{Side: p.Side, Confidence: p.Confidence, Model: p.Model}, nil
	case "fallback":
		return domain.FallbackPrediction{Side: p.Side, Rule: p.Rule}, nil
	}
	return nil, &domain.ConfigurationError{Field: "prediction.kind", Reason: fmt.Sprintf("unknown kind %q", p.Kind)}
}

// SizeRequest asks a session to size Signal. A Prediction, when present,
// replaces the signal's strength.
type SizeRequest struct {
	Signal     domain.Signal      `json:"signal"`
	Prediction *PredictionPayload `json:"prediction,omitempty"`
}

// LimitsRequest checks a session's limits. A nil DailyPnL is summed from
// the ledger.
type LimitsRequest struct {
	DailyPnL *float64 `json:"dailyPnl,omitempty"`
}

// StrategiesResponse lists registered strategy names.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
}
