// Package strategy defines the Strategy interface for signal-generating
// strategies and provides a Registry for managing strategy implementations
// and the factories that build them from parameter sets.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tradelab/internal/domain"
)

// Strategy is the interface that all trading strategies must implement.
// A Strategy instance is stateful and serves one replay at a time.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init resets any state before the strategy begins processing a new
	// candle stream.
	Init(ctx context.Context) error

	// OnCandle is called for every candle in timestamp order. It returns
	// zero or more trading signals.
	OnCandle(ctx context.Context, c domain.Candle) ([]domain.Signal, error)
}

// Factory builds a fresh Strategy from a parameter set. Invalid parameters
// yield a *domain.ConfigurationError.
type Factory func(params domain.ParameterSet) (Strategy, error)

// Registry holds named strategy factories for lookup and enumeration. It is
// safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates
// whether the strategy was found.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// New builds the named strategy from params.
func (r *Registry) New(name string, params domain.ParameterSet) (Strategy, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return f(params)
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GenerateSignals resets s and replays candles through it, returning the
// collected signals stamped with the strategy's name.
func GenerateSignals(ctx context.Context, s Strategy, candles []domain.Candle) ([]domain.Signal, error) {
	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("init %s: %w", s.Name(), err)
	}
	var out []domain.Signal
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sigs, err := s.OnCandle(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("%s on %s %s: %w", s.Name(), c.Symbol, c.Timestamp.Format("2006-01-02 15:04"), err)
		}
		for i := range sigs {
			sigs[i].StrategyID = s.Name()
		}
		out = append(out, sigs...)
	}
	return out, nil
}
