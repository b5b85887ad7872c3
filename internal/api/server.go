// Package api serves tradelab's backtesting, optimization and risk-engine
// operations over HTTP, with a gRPC health service alongside.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"tradelab/internal/backtest"
	"tradelab/internal/config"
	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/optimizer"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

// maxBodyBytes bounds request bodies; explicit signal lists can be large.
const maxBodyBytes = 32 << 20

// Deps are the components the API exposes. Results and Signals may be nil,
// in which case runs are not persisted and stored signals are unavailable.
type Deps struct {
	Candles    backtest.CandleProvider
	Results    store.ResultStore
	Signals    store.SignalStore
	Strategies *strategy.Registry
	Backtester *strategy.Backtester
	Optimizer  *optimizer.Optimizer
	Sessions   *engine.Registry
	Defaults   config.Backtest
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// NewServer creates a Server over deps.
func NewServer(deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, log: log.With("component", "api")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)

	mux.HandleFunc("POST /api/backtests", s.handleRunBacktest)
	mux.HandleFunc("GET /api/backtests", s.handleListBacktests)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetBacktest)
	mux.HandleFunc("POST /api/optimize", s.handleOptimize)

	mux.HandleFunc("POST /api/sessions", s.handleStartSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{key}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{key}", s.handleStopSession)
	mux.HandleFunc("POST /api/sessions/{key}/size", s.handleSizeSignal)
	mux.HandleFunc("POST /api/sessions/{key}/limits", s.handleCheckLimits)
	mux.HandleFunc("PUT /api/sessions/{key}/limits", s.handleSetLimits)
	mux.HandleFunc("POST /api/sessions/{key}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/sessions/{key}/trades", s.handleRecordTrade)
}

// Handler returns an http.Handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.recoverMiddleware(s.logMiddleware(mux))
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until ctx
// is cancelled or either listener fails. An empty grpcAddr disables gRPC.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer, health := newGRPCServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if grpcAddr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", grpcAddr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			s.log.Info("gRPC server listening", "addr", grpcAddr)
			return grpcServer.Serve(lis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down servers")
		health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown error", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

// ---------------------------------------------------------------------------
// Middleware and response helpers
// ---------------------------------------------------------------------------

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("handler panic", "path", r.URL.Path, "panic", p)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeErr maps err onto an HTTP status.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var cerr *domain.ConfigurationError
	switch {
	case errors.As(err, &cerr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDataGap), errors.Is(err, domain.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

// decodeOptionalJSON is decodeJSON for requests whose body may be empty,
// including chunked requests with no content. v is left untouched then.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
