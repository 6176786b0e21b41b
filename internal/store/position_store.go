package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
)

// SQLitePositionStore implements PositionStore against the positions
// table, keyed on (credential_id, base, quote, market) per
// internal/database/schemas/positions_schema.sql.
type SQLitePositionStore struct {
	db *database.DB
}

func NewSQLitePositionStore(db *database.DB) *SQLitePositionStore {
	return &SQLitePositionStore{db: db}
}

func (s *SQLitePositionStore) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (credential_id, base, quote, market, qty_signed, avg_entry_price,
		                        realized_pnl, unrealized_pnl, opened_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (credential_id, base, quote, market) DO UPDATE SET
			qty_signed=excluded.qty_signed, avg_entry_price=excluded.avg_entry_price,
			realized_pnl=excluded.realized_pnl, unrealized_pnl=excluded.unrealized_pnl,
			last_updated=excluded.last_updated`,
		p.CredentialID, p.Symbol.Base, p.Symbol.Quote, string(p.Symbol.Market),
		p.QtySigned.String(), p.AvgEntryPrice.String(), p.RealizedPnL.String(), p.UnrealizedPnL.String(),
		p.OpenedAt.Unix(), p.LastUpdated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

const positionSelect = `SELECT credential_id, base, quote, market, qty_signed, avg_entry_price,
	realized_pnl, unrealized_pnl, opened_at, last_updated FROM positions`

func (s *SQLitePositionStore) Position(ctx context.Context, credentialID string, symbol domain.Symbol) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, positionSelect+` WHERE credential_id = ? AND base = ? AND quote = ? AND market = ?`,
		credentialID, symbol.Base, symbol.Quote, string(symbol.Market))
	return scanPosition(row)
}

func (s *SQLitePositionStore) PositionsForCredential(ctx context.Context, credentialID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, positionSelect+` WHERE credential_id = ?`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row *sql.Row) (*domain.Position, error) {
	p, err := scanPositionGeneric(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func scanPositionRows(rows *sql.Rows) (*domain.Position, error) {
	return scanPositionGeneric(rows)
}

func scanPositionGeneric(scanner rowScanner) (*domain.Position, error) {
	var credentialID, base, quote, market string
	var qtySigned, avgEntry, realized, unrealized string
	var openedAt, lastUpdated int64

	if err := scanner.Scan(&credentialID, &base, &quote, &market, &qtySigned, &avgEntry, &realized, &unrealized, &openedAt, &lastUpdated); err != nil {
		return nil, err
	}

	p := domain.NewPosition(credentialID, domain.NewSymbol(base, quote, domain.Market(market)))
	var err error
	if p.QtySigned, err = domain.ParseMoney(qtySigned); err != nil {
		return nil, err
	}
	if p.AvgEntryPrice, err = domain.ParseMoney(avgEntry); err != nil {
		return nil, err
	}
	if p.RealizedPnL, err = domain.ParseMoney(realized); err != nil {
		return nil, err
	}
	if p.UnrealizedPnL, err = domain.ParseMoney(unrealized); err != nil {
		return nil, err
	}
	p.OpenedAt = unixTime(openedAt)
	p.LastUpdated = unixTime(lastUpdated)
	return p, nil
}
