package builtins

import (
	"fmt"
	"math"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Register adds the built-in strategy factories to r.
func Register(r *strategy.Registry) {
	r.Register("sma-cross", newSMACross)
	r.Register("breakout", newBreakout)
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

func newSMACross(p domain.ParameterSet) (strategy.Strategy, error) {
	short := int(math.Round(p.Get("short_period", 10)))
	long := int(math.Round(p.Get("long_period", 30)))
	stop, target, err := brackets(p)
	if err != nil {
		return nil, err
	}
	if short < 1 {
		return nil, &domain.ConfigurationError{Field: "short_period", Reason: "must be at least 1"}
	}
	if long <= short {
		return nil, &domain.ConfigurationError{Field: "long_period", Reason: fmt.Sprintf("must exceed short_period %d, got %d", short, long)}
	}
	return NewSMACross(short, long, stop, target), nil
}

func newBreakout(p domain.ParameterSet) (strategy.Strategy, error) {
	lookback := int(math.Round(p.Get("lookback", 20)))
	stop, target, err := brackets(p)
	if err != nil {
		return nil, err
	}
	if lookback < 2 {
		return nil, &domain.ConfigurationError{Field: "lookback", Reason: "must be at least 2"}
	}
	return NewBreakout(lookback, stop, target), nil
}

func brackets(p domain.ParameterSet) (stop, target float64, err error) {
	stop = p.Get("stop_pct", 0.02)
	target = p.Get("target_pct", 0.04)
	if stop <= 0 || stop >= 1 {
		return 0, 0, &domain.ConfigurationError{Field: "stop_pct", Reason: fmt.Sprintf("must be in (0, 1), got %v", stop)}
	}
	if target <= 0 || target >= 1 {
		return 0, 0, &domain.ConfigurationError{Field: "target_pct", Reason: fmt.Sprintf("must be in (0, 1), got %v", target)}
	}
	return stop, target, nil
}
