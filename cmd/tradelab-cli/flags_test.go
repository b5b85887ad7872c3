package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseParams(t *testing.T) {
	ps, err := parseParams("short_period=5, long_period=20,stop_pct=0.02")
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if ps["short_period"] != 5 || ps["long_period"] != 20 || ps["stop_pct"] != 0.02 {
		t.Errorf("params = %v", ps)
	}
	for _, bad := range []string{"short", "=5", "x=abc"} {
		if _, err := parseParams(bad); err == nil {
			t.Errorf("parseParams(%q) accepted", bad)
		}
	}
}

func TestRangeFlag(t *testing.T) {
	var r rangeFlag
	if err := r.Set("short_period=2:10:5"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.Set("stop_pct=0.01:0.05"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(r) != 2 || r[0].Steps != 5 || r[1].Steps != 0 || r[1].Max != 0.05 {
		t.Errorf("ranges = %+v", r)
	}
	for _, bad := range []string{"x", "x=1", "x=1:2:3:4", "x=a:2"} {
		if err := r.Set(bad); err == nil {
			t.Errorf("Set(%q) accepted", bad)
		}
	}
}

func TestReadCandlesCSV(t *testing.T) {
	in := strings.Join([]string{
		"timestamp,open,high,low,close,volume",
		"2024-01-02,100,101,99,100.5,1200",
		"2024-01-03T00:00:00Z,100.5,102,100,101,900",
		"1704326400000,101,103,100,102",
	}, "\n")

	candles, err := readCandlesCSV(strings.NewReader(in), "btcusd")
	if err != nil {
		t.Fatalf("readCandlesCSV: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("len = %d, want 3", len(candles))
	}
	want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	if !candles[2].Timestamp.Equal(want) || candles[2].Volume != 0 {
		t.Errorf("third candle = %+v", candles[2])
	}
	if candles[0].Symbol != "BTCUSD" || candles[0].Close != 100.5 || candles[0].Volume != 1200 {
		t.Errorf("first candle = %+v", candles[0])
	}

	if _, err := readCandlesCSV(strings.NewReader("2024-01-02,1,2\n"), "X"); err == nil {
		t.Error("short row accepted")
	}
}
