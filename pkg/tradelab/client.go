// Package tradelab is a Go client for the tradelab-server HTTP API.
package tradelab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradelab/internal/api"
	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/store"
)

// Client provides a Go SDK for interacting with the tradelab-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new tradelab API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradelab: %d %s", e.StatusCode, e.Message)
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

// RunBacktest runs a backtest described by req.
func (c *Client) RunBacktest(ctx context.Context, req api.BacktestRequest) (*domain.BacktestResult, error) {
	var res domain.BacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/backtests", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetBacktest fetches a stored run.
func (c *Client) GetBacktest(ctx context.Context, runID string) (*domain.BacktestResult, error) {
	var res domain.BacktestResult
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(runID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListBacktests lists up to limit stored runs, newest first.
func (c *Client) ListBacktests(ctx context.Context, limit int) ([]store.RunSummary, error) {
	var runs []store.RunSummary
	err := c.do(ctx, http.MethodGet, "/api/backtests?limit="+strconv.Itoa(limit), nil, &runs)
	return runs, err
}

// Optimize runs a parameter grid search.
func (c *Client) Optimize(ctx context.Context, req api.OptimizeRequest) (*domain.OptimizationResult, error) {
	var res domain.OptimizationResult
	if err := c.do(ctx, http.MethodPost, "/api/optimize", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Strategies lists the registered strategy names.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var res api.StrategiesResponse
	err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &res)
	return res.Strategies, err
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// StartSession starts a risk-engine session under key.
func (c *Client) StartSession(ctx context.Context, key string, opts engine.SessionOptions) (*engine.SessionInfo, error) {
	var info engine.SessionInfo
	req := api.StartSessionRequest{Key: key, SessionOptions: opts}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListSessions lists running sessions.
func (c *Client) ListSessions(ctx context.Context) ([]engine.SessionInfo, error) {
	var out []engine.SessionInfo
	err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out)
	return out, err
}

// StopSession stops the session under key.
func (c *Client) StopSession(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(key, ""), nil, nil)
}

// SizeSignal asks the session for a position size recommendation. pred
// may be nil.
func (c *Client) SizeSignal(ctx context.Context, key string, sig domain.Signal, pred *api.PredictionPayload) (*domain.PositionSizeRecommendation, error) {
	var rec domain.PositionSizeRecommendation
	req := api.SizeRequest{Signal: sig, Prediction: pred}
	if err := c.do(ctx, http.MethodPost, sessionPath(key, "/size"), req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CheckLimits checks the session's risk limits. A nil dailyPnL lets the
// server sum today's ledger trades.
func (c *Client) CheckLimits(ctx context.Context, key string, dailyPnL *float64) (*domain.RiskCheck, error) {
	var check domain.RiskCheck
	if err := c.do(ctx, http.MethodPost, sessionPath(key, "/limits"), api.LimitsRequest{DailyPnL: dailyPnL}, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// SetLimits replaces the session's risk limits.
func (c *Client) SetLimits(ctx context.Context, key string, limits domain.RiskLimits) (*engine.SessionInfo, error) {
	var info engine.SessionInfo
	if err := c.do(ctx, http.MethodPut, sessionPath(key, "/limits"), limits, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Refresh recomputes the session's risk metrics.
func (c *Client) Refresh(ctx context.Context, key string) (*domain.RiskMetrics, error) {
	var m domain.RiskMetrics
	if err := c.do(ctx, http.MethodPost, sessionPath(key, "/refresh"), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordTrade appends a closed trade to the session's ledger.
func (c *Client) RecordTrade(ctx context.Context, key string, t domain.LedgerTrade) (*domain.LedgerTrade, error) {
	var out domain.LedgerTrade
	if err := c.do(ctx, http.MethodPost, sessionPath(key, "/trades"), t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func sessionPath(key, suffix string) string {
	return "/api/sessions/" + url.PathEscape(key) + suffix
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
