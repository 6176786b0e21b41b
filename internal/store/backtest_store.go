package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
)

// SQLiteBacktestResultStore implements BacktestResultStore against
// backtest_results, per internal/database/schemas/backtests_schema.sql.
// Symbols/equity-curve/trades/metrics are stored as JSON blobs since
// they're write-once, read-whole records never queried by sub-field.
type SQLiteBacktestResultStore struct {
	db *database.DB
}

func NewSQLiteBacktestResultStore(db *database.DB) *SQLiteBacktestResultStore {
	return &SQLiteBacktestResultStore{db: db}
}

func (s *SQLiteBacktestResultStore) SaveResult(ctx context.Context, r domain.BacktestResult) error {
	symbolsJSON, err := json.Marshal(r.Symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	equityJSON, err := json.Marshal(r.EquityCurve)
	if err != nil {
		return fmt.Errorf("marshal equity curve: %w", err)
	}
	tradesJSON, err := json.Marshal(r.Trades)
	if err != nil {
		return fmt.Errorf("marshal trades: %w", err)
	}
	metricsJSON, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_results (id, strategy_ref, symbols, range_start, range_end, initial_capital,
		                               slippage_bps, equity_curve, trades, metrics, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET metrics=excluded.metrics, success=excluded.success`,
		r.ID, r.StrategyRef, string(symbolsJSON), r.RangeStart.Unix(), r.RangeEnd.Unix(),
		r.InitialCapital.String(), r.SlippageBps.String(), string(equityJSON), string(tradesJSON),
		string(metricsJSON), boolToInt(r.Success), r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save backtest result: %w", err)
	}
	return nil
}

func (s *SQLiteBacktestResultStore) Result(ctx context.Context, id string) (*domain.BacktestResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_ref, symbols, range_start, range_end, initial_capital, slippage_bps,
		       equity_curve, trades, metrics, success, created_at
		FROM backtest_results WHERE id = ?`, id)

	var r domain.BacktestResult
	var symbolsJSON, equityJSON, tradesJSON, metricsJSON, initialCapital, slippageBps string
	var rangeStart, rangeEnd, createdAt int64
	var success int

	err := row.Scan(&r.ID, &r.StrategyRef, &symbolsJSON, &rangeStart, &rangeEnd, &initialCapital, &slippageBps,
		&equityJSON, &tradesJSON, &metricsJSON, &success, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan backtest result: %w", err)
	}

	if err := json.Unmarshal([]byte(symbolsJSON), &r.Symbols); err != nil {
		return nil, fmt.Errorf("unmarshal symbols: %w", err)
	}
	if err := json.Unmarshal([]byte(equityJSON), &r.EquityCurve); err != nil {
		return nil, fmt.Errorf("unmarshal equity curve: %w", err)
	}
	if err := json.Unmarshal([]byte(tradesJSON), &r.Trades); err != nil {
		return nil, fmt.Errorf("unmarshal trades: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &r.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if r.InitialCapital, err = domain.ParseMoney(initialCapital); err != nil {
		return nil, err
	}
	if r.SlippageBps, err = domain.ParseMoney(slippageBps); err != nil {
		return nil, err
	}
	r.RangeStart = unixTime(rangeStart)
	r.RangeEnd = unixTime(rangeEnd)
	r.CreatedAt = unixTime(createdAt)
	r.Success = success != 0
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
