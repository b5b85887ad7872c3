// Package optimizer runs grid searches over strategy parameters, scoring
// each combination's backtest with a weighted objective.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"tradelab/internal/domain"
)

// Evaluator runs one backtest for a parameter combination.
type Evaluator interface {
	Evaluate(ctx context.Context, params domain.ParameterSet) (*domain.BacktestResult, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, params domain.ParameterSet) (*domain.BacktestResult, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, params domain.ParameterSet) (*domain.BacktestResult, error) {
	return f(ctx, params)
}

// Options configures an Optimizer. Zero values take defaults.
type Options struct {
	Workers         int
	TopN            int
	DefaultSteps    int
	MaxCombinations int
	Weights         Weights
	Logger          *slog.Logger
}

// Optimizer evaluates parameter grids on a bounded worker pool.
type Optimizer struct {
	opts Options
	log  *slog.Logger
}

// New creates an Optimizer.
func New(opts Options) *Optimizer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.TopN <= 0 {
		opts.TopN = 20
	}
	if opts.DefaultSteps <= 0 {
		opts.DefaultSteps = 5
	}
	if opts.MaxCombinations <= 0 {
		opts.MaxCombinations = 10000
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Optimizer{opts: opts, log: opts.Logger.With("component", "optimizer")}
}

// Request describes one grid search.
type Request struct {
	Ranges  []domain.ParameterRange `json:"ranges"`
	Targets []string                `json:"targets,omitempty"`
}

type outcome struct {
	params domain.ParameterSet
	result *domain.BacktestResult
	score  float64
	err    error
}

// Optimize evaluates every combination of req's grid with eval. A failing
// combination is logged and excluded; only an invalid request or a
// cancelled ctx fails the search.
func (o *Optimizer) Optimize(ctx context.Context, eval Evaluator, req Request) (*domain.OptimizationResult, error) {
	grid, err := NewGrid(req.Ranges, o.opts.DefaultSteps, o.opts.MaxCombinations)
	if err != nil {
		return nil, err
	}
	scorer, err := NewScorer(o.opts.Weights, req.Targets)
	if err != nil {
		return nil, err
	}
	total := grid.Size()

	start := time.Now()
	o.log.Info("optimization started", "combinations", total, "workers", o.opts.Workers)

	outcomes := make([]outcome, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i := range total {
		params := grid.At(i)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := evaluate(gctx, eval, params)
			if err != nil {
				o.log.Warn("combination failed", "params", params.String(), "error", err)
				outcomes[i] = outcome{params: params, err: err}
				return nil
			}
			outcomes[i] = outcome{params: params, result: res, score: scorer.Score(res)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := rank(outcomes, o.opts.TopN)
	o.log.Info("optimization finished",
		"evaluated", result.TotalCombinationsEvaluated,
		"failed", result.FailedCombinations,
		"bestScore", result.BestScore,
		"best", result.BestParameters.String(),
		"elapsed", time.Since(start))
	return result, nil
}

// evaluate runs one combination, turning a panic into an error.
func evaluate(ctx context.Context, eval Evaluator, params domain.ParameterSet) (res *domain.BacktestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
		}
	}()
	res, err = eval.Evaluate(ctx, params.Clone())
	if err == nil && res == nil {
		err = fmt.Errorf("evaluator returned no result")
	}
	return res, err
}

// rank orders successful outcomes by descending score, keeping grid order
// among ties, and keeps the top n.
func rank(outcomes []outcome, n int) *domain.OptimizationResult {
	ranked := make([]domain.RankedResult, 0, len(outcomes))
	failed := 0
	for _, oc := range outcomes {
		if oc.err != nil {
			failed++
			continue
		}
		ranked = append(ranked, domain.RankedResult{
			Parameters:  oc.params,
			Score:       oc.score,
			Metrics:     oc.result.Metrics,
			TotalReturn: oc.result.TotalReturn,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	res := &domain.OptimizationResult{
		TotalCombinationsEvaluated: len(ranked),
		FailedCombinations:         failed,
	}
	if len(ranked) > 0 {
		res.BestParameters = ranked[0].Parameters
		res.BestScore = ranked[0].Score
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	res.RankedResults = ranked
	return res
}
