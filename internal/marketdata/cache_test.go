package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradelab/internal/domain"
	"tradelab/internal/store"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type countingRemote struct {
	calls   int
	candles []domain.Candle
	err     error
}

func (r *countingRemote) GetCandles(context.Context, string, string, time.Time, time.Time) ([]domain.Candle, error) {
	r.calls++
	return r.candles, r.err
}

func candles(n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{Symbol: "BTCUSD", Timestamp: t0.Add(time.Duration(i) * time.Hour), Open: 1, High: 2, Low: 0.5, Close: 1.5}
	}
	return out
}

func TestCachingProviderFetchesOnceThenServesLocal(t *testing.T) {
	ctx := context.Background()
	remote := &countingRemote{candles: candles(5)}
	p := NewCachingProvider(store.NewParquetStore(t.TempDir()), remote, nil)

	for i := range 2 {
		got, err := p.GetCandles(ctx, "BTCUSD", "1h", t0, t0.Add(10*time.Hour))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if len(got) != 5 {
			t.Fatalf("call %d: len = %d, want 5", i, len(got))
		}
	}
	if remote.calls != 1 {
		t.Errorf("remote called %d times, want 1", remote.calls)
	}
}

func TestCachingProviderRemoteError(t *testing.T) {
	remote := &countingRemote{err: errors.New("rate limited")}
	p := NewCachingProvider(store.NewParquetStore(t.TempDir()), remote, nil)

	if _, err := p.GetCandles(context.Background(), "BTCUSD", "1h", t0, t0.Add(time.Hour)); err == nil {
		t.Fatal("expected remote error")
	}
}

func TestCachingProviderLocalOnly(t *testing.T) {
	p := NewCachingProvider(store.NewParquetStore(t.TempDir()), nil, nil)
	got, err := p.GetCandles(context.Background(), "BTCUSD", "1h", t0, t0.Add(time.Hour))
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v; want empty", got, err)
	}
}
