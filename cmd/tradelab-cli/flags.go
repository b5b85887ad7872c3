package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"tradelab/internal/domain"
)

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("number %q: %w", s, err)
	}
	return v, nil
}

// parseParams parses "k=v,k=v" into a ParameterSet.
func parseParams(s string) (domain.ParameterSet, error) {
	ps := domain.ParameterSet{}
	for _, kv := range splitList(s) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q: want name=value", kv)
		}
		f, err := parseFloat(v)
		if err != nil {
			return nil, err
		}
		ps[strings.TrimSpace(k)] = f
	}
	return ps, nil
}

// rangeFlag collects repeated -range name=min:max[:steps] flags.
type rangeFlag []domain.ParameterRange

func (r *rangeFlag) String() string {
	parts := make([]string, len(*r))
	for i, pr := range *r {
		parts[i] = fmt.Sprintf("%s=%g:%g:%d", pr.Name, pr.Min, pr.Max, pr.Steps)
	}
	return strings.Join(parts, ",")
}

func (r *rangeFlag) Set(s string) error {
	name, bounds, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("range %q: want name=min:max[:steps]", s)
	}
	fields := strings.Split(bounds, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return fmt.Errorf("range %q: want name=min:max[:steps]", s)
	}
	pr := domain.ParameterRange{Name: name}
	var err error
	if pr.Min, err = parseFloat(fields[0]); err != nil {
		return err
	}
	if pr.Max, err = parseFloat(fields[1]); err != nil {
		return err
	}
	if len(fields) == 3 {
		if pr.Steps, err = strconv.Atoi(fields[2]); err != nil {
			return fmt.Errorf("range %q steps: %w", s, err)
		}
	}
	*r = append(*r, pr)
	return nil
}

// readCandlesCSV reads timestamp,open,high,low,close[,volume] rows. The
// timestamp is RFC 3339, YYYY-MM-DD or Unix milliseconds. A header row
// is skipped.
func readCandlesCSV(r io.Reader, symbol string) ([]domain.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []domain.Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "timestamp") {
			continue
		}
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: want at least 5 columns, got %d", line, len(rec))
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [5]float64
		for i := 1; i < len(rec) && i <= 5; i++ {
			if vals[i-1], err = parseFloat(rec[i]); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		out = append(out, domain.Candle{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q not recognised", s)
}
