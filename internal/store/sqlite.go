package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradelab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ ResultStore = (*SQLiteStore)(nil)
var _ TradeLedger = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore, TradeLedger, and SignalStore backed by
// a SQLite database. Money columns hold decimal strings.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id              TEXT PRIMARY KEY,
		created_at      INTEGER NOT NULL,
		symbols         TEXT NOT NULL,
		timeframe       TEXT NOT NULL,
		start_date      INTEGER NOT NULL,
		end_date        INTEGER NOT NULL,
		initial_capital TEXT NOT NULL,
		final_capital   TEXT NOT NULL,
		total_return    REAL NOT NULL,
		max_drawdown    REAL NOT NULL,
		skipped_signals INTEGER NOT NULL,
		config_json     TEXT NOT NULL,
		metrics_json    TEXT NOT NULL,
		equity_json     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_trades (
		run_id       TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		entry_date   INTEGER NOT NULL,
		exit_date    INTEGER NOT NULL,
		entry_price  TEXT NOT NULL,
		exit_price   TEXT NOT NULL,
		quantity     TEXT NOT NULL,
		commission   TEXT NOT NULL,
		pnl          TEXT NOT NULL,
		pnl_percent  REAL NOT NULL,
		holding_bars INTEGER NOT NULL,
		exit_reason  TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_trades (
		id         TEXT PRIMARY KEY,
		symbol     TEXT NOT NULL,
		side       TEXT NOT NULL,
		pnl        TEXT NOT NULL,
		invested   TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_trades(created_at)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id TEXT NOT NULL,
		ts          INTEGER NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		stop_loss   TEXT NOT NULL,
		take_profit TEXT NOT NULL,
		strength    REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_strategy_ts ON signals(strategy_id, ts)`,
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveBacktestResult inserts a run and its trades in one transaction.
func (s *SQLiteStore) SaveBacktestResult(ctx context.Context, r *domain.BacktestResult, cfg domain.BacktestConfig) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	metricsJSON, err := json.Marshal(r.Metrics)
	if err != nil {
		return err
	}
	equityJSON, err := json.Marshal(r.EquityCurve)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO backtest_runs
		(id, created_at, symbols, timeframe, start_date, end_date, initial_capital, final_capital,
		 total_return, max_drawdown, skipped_signals, config_json, metrics_json, equity_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, s.now().UnixMilli(), strings.Join(cfg.Symbols, ","), cfg.Timeframe,
		cfg.StartDate.UnixMilli(), cfg.EndDate.UnixMilli(),
		money(r.InitialCapital), money(r.FinalCapital),
		r.TotalReturn, r.MaxDrawdown, r.SkippedSignals,
		string(cfgJSON), string(metricsJSON), string(equityJSON))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_trades
		(run_id, seq, symbol, side, entry_date, exit_date, entry_price, exit_price, quantity,
		 commission, pnl, pnl_percent, holding_bars, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range r.Trades {
		_, err := stmt.ExecContext(ctx, r.RunID, i, t.Symbol, string(t.Side),
			t.EntryDate.UnixMilli(), t.ExitDate.UnixMilli(),
			money(t.EntryPrice), money(t.ExitPrice), money(t.Quantity),
			money(t.Commission), money(t.PnL), t.PnLPercent,
			t.HoldingPeriodBars, string(t.ExitReason))
		if err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, r.RunID, err)
		}
	}
	return tx.Commit()
}

// GetBacktestResult loads a run and its trades.
func (s *SQLiteStore) GetBacktestResult(ctx context.Context, runID string) (*domain.BacktestResult, error) {
	var (
		initial, final          string
		metricsJSON, equityJSON string
		r                       = &domain.BacktestResult{RunID: runID}
	)
	err := s.db.QueryRowContext(ctx, `SELECT initial_capital, final_capital, total_return,
		max_drawdown, skipped_signals, metrics_json, equity_json
		FROM backtest_runs WHERE id = ?`, runID).
		Scan(&initial, &final, &r.TotalReturn, &r.MaxDrawdown, &r.SkippedSignals, &metricsJSON, &equityJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backtest run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if r.InitialCapital, err = parseMoney(initial); err != nil {
		return nil, err
	}
	if r.FinalCapital, err = parseMoney(final); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metricsJSON), &r.Metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics of %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(equityJSON), &r.EquityCurve); err != nil {
		return nil, fmt.Errorf("decoding equity curve of %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT symbol, side, entry_date, exit_date, entry_price,
		exit_price, quantity, commission, pnl, pnl_percent, holding_bars, exit_reason
		FROM backtest_trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t                                    domain.SimulatedTrade
			side, reason                         string
			entryMs, exitMs                      int64
			entry, exit, qty, commission, pnlStr string
		)
		if err := rows.Scan(&t.Symbol, &side, &entryMs, &exitMs, &entry, &exit, &qty,
			&commission, &pnlStr, &t.PnLPercent, &t.HoldingPeriodBars, &reason); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.ExitReason = domain.ExitReason(reason)
		t.EntryDate = time.UnixMilli(entryMs).UTC()
		t.ExitDate = time.UnixMilli(exitMs).UTC()
		if err := parseMoneyFields(
			entry, &t.EntryPrice,
			exit, &t.ExitPrice,
			qty, &t.Quantity,
			commission, &t.Commission,
			pnlStr, &t.PnL,
		); err != nil {
			return nil, err
		}
		r.Trades = append(r.Trades, t)
	}
	return r, rows.Err()
}

// ListBacktestRuns returns up to limit runs, newest first.
func (s *SQLiteStore) ListBacktestRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.id, r.created_at, r.symbols, r.start_date, r.end_date,
		r.initial_capital, r.final_capital, r.total_return, r.max_drawdown,
		(SELECT COUNT(*) FROM backtest_trades t WHERE t.run_id = r.id)
		FROM backtest_runs r ORDER BY r.created_at DESC, r.id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			rs                      RunSummary
			created, start, end     int64
			symbols, initial, final string
		)
		if err := rows.Scan(&rs.ID, &created, &symbols, &start, &end, &initial, &final,
			&rs.TotalReturn, &rs.MaxDrawdown, &rs.TotalTrades); err != nil {
			return nil, err
		}
		rs.CreatedAt = time.UnixMilli(created).UTC()
		rs.StartDate = time.UnixMilli(start).UTC()
		rs.EndDate = time.UnixMilli(end).UTC()
		if symbols != "" {
			rs.Symbols = strings.Split(symbols, ",")
		}
		if rs.InitialCapital, err = parseMoney(initial); err != nil {
			return nil, err
		}
		if rs.FinalCapital, err = parseMoney(final); err != nil {
			return nil, err
		}
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

// ---------------------------------------------------------------------------
// TradeLedger implementation
// ---------------------------------------------------------------------------

// RecordTrade inserts a closed trade. Recording the same ID twice
// overwrites the earlier row.
func (s *SQLiteStore) RecordTrade(ctx context.Context, t domain.LedgerTrade) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO ledger_trades
		(id, symbol, side, pnl, invested, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Side), money(t.PnL), money(t.InvestedAmount), t.CreatedAt.UnixMilli())
	return err
}

// RecentTrades returns trades created in the trailing windowDays, oldest
// first.
func (s *SQLiteStore) RecentTrades(ctx context.Context, windowDays int) ([]domain.LedgerTrade, error) {
	since := s.now().AddDate(0, 0, -windowDays).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, side, pnl, invested, created_at
		FROM ledger_trades WHERE created_at >= ? ORDER BY created_at, id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.LedgerTrade
	for rows.Next() {
		var (
			t              domain.LedgerTrade
			side, pnl, inv string
			createdMs      int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &pnl, &inv, &createdMs); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.CreatedAt = time.UnixMilli(createdMs).UTC()
		if t.PnL, err = parseMoney(pnl); err != nil {
			return nil, err
		}
		if t.InvestedAmount, err = parseMoney(inv); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignals inserts signals in one transaction.
func (s *SQLiteStore) SaveSignals(ctx context.Context, signals []domain.Signal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO signals
		(strategy_id, ts, symbol, side, entry_price, stop_loss, take_profit, strength)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sig := range signals {
		if _, err := stmt.ExecContext(ctx, sig.StrategyID, sig.Timestamp.UnixMilli(), sig.Symbol,
			string(sig.Side), money(sig.EntryPrice), money(sig.StopLoss), money(sig.TakeProfit),
			sig.Strength); err != nil {
			return fmt.Errorf("inserting signal %s@%s: %w", sig.Symbol, sig.Timestamp, err)
		}
	}
	return tx.Commit()
}

// GetSignals returns a strategy's signals within [start, end], oldest first.
func (s *SQLiteStore) GetSignals(ctx context.Context, strategyID string, start, end time.Time) ([]domain.Signal, error) {
	return s.querySignals(ctx, `SELECT id, strategy_id, ts, symbol, side, entry_price, stop_loss,
		take_profit, strength FROM signals
		WHERE strategy_id = ? AND ts >= ? AND ts <= ? ORDER BY ts, id`,
		strategyID, start.UnixMilli(), end.UnixMilli())
}

// ListSignals returns the most recent signals for a strategy, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, strategyID string, limit int) ([]domain.Signal, error) {
	return s.querySignals(ctx, `SELECT id, strategy_id, ts, symbol, side, entry_price, stop_loss,
		take_profit, strength FROM signals
		WHERE strategy_id = ? ORDER BY ts DESC, id DESC LIMIT ?`, strategyID, limit)
}

func (s *SQLiteStore) querySignals(ctx context.Context, query string, args ...any) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signals := []domain.Signal{}
	for rows.Next() {
		var (
			sig                 domain.Signal
			ts                  int64
			side                string
			entry, stop, target string
		)
		if err := rows.Scan(&sig.ID, &sig.StrategyID, &ts, &sig.Symbol, &side,
			&entry, &stop, &target, &sig.Strength); err != nil {
			return nil, err
		}
		sig.Timestamp = time.UnixMilli(ts).UTC()
		sig.Side = domain.Side(side)
		if err := parseMoneyFields(
			entry, &sig.EntryPrice,
			stop, &sig.StopLoss,
			target, &sig.TakeProfit,
		); err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ---------------------------------------------------------------------------
// Money helpers
// ---------------------------------------------------------------------------

// money renders x as the shortest decimal string that parses back to x.
// Non-finite values are stored as zero.
func money(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return "0"
	}
	return decimal.NewFromFloat(x).String()
}

func parseMoney(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// parseMoneyFields parses alternating (string, *float64) pairs.
func parseMoneyFields(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		v, err := parseMoney(pairs[i].(string))
		if err != nil {
			return err
		}
		*pairs[i+1].(*float64) = v
	}
	return nil
}
