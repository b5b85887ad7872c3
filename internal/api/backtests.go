package api

import (
	"context"
	"net/http"
	"strconv"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
	"tradelab/internal/optimizer"
)

func (s *Server) handleListStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StrategiesResponse{Strategies: s.deps.Strategies.List()})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg := s.deps.Defaults.Fill(req.Config)
	ctx := r.Context()

	var (
		res *domain.BacktestResult
		err error
	)
	switch {
	case len(req.Signals) > 0:
		res, err = backtest.NewRunner(s.deps.Candles, s.deps.Results, s.log).Run(ctx, cfg, req.Signals)
	case req.StrategyID != "":
		if s.deps.Signals == nil {
			writeError(w, http.StatusServiceUnavailable, "signal store not configured")
			return
		}
		var signals []domain.Signal
		signals, err = s.deps.Signals.GetSignals(ctx, req.StrategyID, cfg.StartDate, cfg.EndDate)
		if err == nil {
			res, err = backtest.NewRunner(s.deps.Candles, s.deps.Results, s.log).Run(ctx, cfg, signals)
		}
	case req.Strategy != "":
		res, err = s.deps.Backtester.Run(ctx, req.Strategy, req.Params, cfg)
	default:
		writeError(w, http.StatusBadRequest, "one of signals, strategyId or strategy is required")
		return
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	res, err := s.deps.Results.GetBacktestResult(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	runs, err := s.deps.Results.ListBacktestRuns(r.Context(), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, ok := s.deps.Strategies.Get(req.Strategy); !ok {
		writeError(w, http.StatusBadRequest, "unknown strategy "+strconv.Quote(req.Strategy))
		return
	}
	cfg := s.deps.Defaults.Fill(req.Config)
	if err := cfg.Validate(); err != nil {
		s.writeErr(w, err)
		return
	}

	ctx := r.Context()
	data, err := s.deps.Backtester.LoadCandles(ctx, cfg)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	eval := optimizer.EvaluatorFunc(func(ctx context.Context, p domain.ParameterSet) (*domain.BacktestResult, error) {
		return s.deps.Backtester.Replay(ctx, req.Strategy, p, cfg, data)
	})

	res, err := s.deps.Optimizer.Optimize(ctx, eval, optimizer.Request{Ranges: req.Ranges, Targets: req.Targets})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
