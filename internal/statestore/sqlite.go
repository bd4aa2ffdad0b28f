// Package statestore persists daily risk state and executed trades in SQLite.
package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"atr-trading-bot/internal/risk"
	"atr-trading-bot/internal/tradelog"
	"atr-trading-bot/internal/types"
)

type Store struct {
	db *sql.DB
}

var _ risk.StateStore = (*Store)(nil)

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS daily_risk_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			day TEXT NOT NULL,
			starting_balance REAL NOT NULL,
			peak_balance REAL NOT NULL,
			circuit_breaker_active INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_id TEXT,
			ticket INTEGER,
			client_id TEXT,
			volume REAL NOT NULL,
			price REAL NOT NULL,
			stop_loss REAL,
			take_profit REAL,
			profit REAL,
			reason TEXT
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadDailyState(ctx context.Context) (types.DailyRiskState, bool, error) {
	var (
		day    string
		st     types.DailyRiskState
		active int
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT day, starting_balance, peak_balance, circuit_breaker_active FROM daily_risk_state WHERE id = 1",
	).Scan(&day, &st.StartingBalance, &st.PeakBalance, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DailyRiskState{}, false, nil
	}
	if err != nil {
		return types.DailyRiskState{}, false, fmt.Errorf("failed to load risk state: %w", err)
	}
	st.Day, err = time.Parse(time.RFC3339, day)
	if err != nil {
		return types.DailyRiskState{}, false, fmt.Errorf("corrupt risk state day %q: %w", day, err)
	}
	st.CircuitBreakerActive = active != 0
	return st, true, nil
}

func (s *Store) SaveDailyState(ctx context.Context, st types.DailyRiskState) error {
	active := 0
	if st.CircuitBreakerActive {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_risk_state (id, day, starting_balance, peak_balance, circuit_breaker_active, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			day=excluded.day,
			starting_balance=excluded.starting_balance,
			peak_balance=excluded.peak_balance,
			circuit_breaker_active=excluded.circuit_breaker_active,
			updated_at=excluded.updated_at`,
		st.Day.Format(time.RFC3339), st.StartingBalance, st.PeakBalance, active, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save risk state: %w", err)
	}
	return nil
}

// Append records a journal entry; it lets the store sit next to the file
// journal as a trade sink.
func (s *Store) Append(e tradelog.Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (ts, kind, symbol, side, order_id, ticket, client_id, volume, price, stop_loss, take_profit, profit, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), string(e.Kind), e.Symbol, e.Side, e.OrderID, int64(e.Ticket), e.ClientID,
		e.Volume, e.Price, e.StopLoss, e.TakeProfit, e.Profit, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]tradelog.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, symbol, side, order_id, ticket, client_id, volume, price, stop_loss, take_profit, profit, reason
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []tradelog.Entry
	for rows.Next() {
		var (
			e      tradelog.Entry
			ticket int64
		)
		if err := rows.Scan(&e.Kind, &e.Symbol, &e.Side, &e.OrderID, &ticket, &e.ClientID,
			&e.Volume, &e.Price, &e.StopLoss, &e.TakeProfit, &e.Profit, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		e.Ticket = uint64(ticket)
		out = append(out, e)
	}
	return out, rows.Err()
}
