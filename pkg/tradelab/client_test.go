package tradelab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradelab/internal/api"
	"tradelab/internal/domain"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080/"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected trailing slash trimmed, got %q", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestSizeSignalRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions/alice/size" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req api.SizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Prediction == nil || req.Prediction.Kind != "fallback" {
			t.Errorf("prediction = %+v", req.Prediction)
		}
		json.NewEncoder(w).Encode(domain.PositionSizeRecommendation{RecommendedSize: 1200, MaxSize: 10000})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	rec, err := c.SizeSignal(context.Background(), "alice", domain.Signal{Symbol: "BTCUSD"},
		&api.PredictionPayload{Kind: "fallback", Side: domain.SideBuy, Rule: "momentum"})
	if err != nil {
		t.Fatalf("SizeSignal: %v", err)
	}
	if rec.RecommendedSize != 1200 {
		t.Errorf("RecommendedSize = %v", rec.RecommendedSize)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "backtest run x: not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetBacktest(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "backtest run x: not found" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestStopSessionNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).StopSession(context.Background(), "alice"); err != nil {
		t.Errorf("StopSession: %v", err)
	}
}
