package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
)

// SQLiteOrderStore implements OrderStore against orders/fills, per
// internal/database/schemas/orders_schema.sql. ClientID carries a UNIQUE
// constraint, so UpsertOrder is the idempotent-submit enforcement point:
// a retried Submit for the same client_id updates the existing row rather
// than creating a duplicate, mirroring the teacher's trade_repository.go
// upsert-by-business-key pattern.
type SQLiteOrderStore struct {
	db *database.DB
}

func NewSQLiteOrderStore(db *database.DB) *SQLiteOrderStore {
	return &SQLiteOrderStore{db: db}
}

func (s *SQLiteOrderStore) UpsertOrder(ctx context.Context, o domain.Order) error {
	var price, stopPrice interface{}
	if o.Price != nil {
		price = o.Price.String()
	}
	if o.StopPrice != nil {
		stopPrice = o.StopPrice.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, client_id, strategy_id, credential_id, base, quote, market, side,
		                     order_type, qty, price, stop_price, tif, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			state=excluded.state, updated_at=excluded.updated_at,
			price=excluded.price, stop_price=excluded.stop_price`,
		o.ID, o.ClientID, o.StrategyID, o.CredentialID, o.Symbol.Base, o.Symbol.Quote, string(o.Symbol.Market),
		string(o.Side), string(o.Type), o.Qty.String(), price, stopPrice, string(o.TIF), string(o.State),
		o.CreatedAt.Unix(), o.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (s *SQLiteOrderStore) OrderByClientID(ctx context.Context, clientID string) (*domain.Order, error) {
	return s.scanOrder(s.db.QueryRowContext(ctx, orderSelect+" WHERE client_id = ?", clientID))
}

func (s *SQLiteOrderStore) OrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return s.scanOrder(s.db.QueryRowContext(ctx, orderSelect+" WHERE id = ?", id))
}

const orderSelect = `SELECT id, client_id, strategy_id, credential_id, base, quote, market, side,
	order_type, qty, price, stop_price, tif, state, created_at, updated_at FROM orders`

func (s *SQLiteOrderStore) scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var base, quote, market, side, orderType, qty, tif, state string
	var price, stopPrice sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&o.ID, &o.ClientID, &o.StrategyID, &o.CredentialID, &base, &quote, &market, &side,
		&orderType, &qty, &price, &stopPrice, &tif, &state, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Symbol = domain.NewSymbol(base, quote, domain.Market(market))
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(orderType)
	o.TIF = domain.TimeInForce(tif)
	o.State = domain.OrderState(state)
	o.CreatedAt = unixTime(createdAt)
	o.UpdatedAt = unixTime(updatedAt)
	if o.Qty, err = domain.ParseMoney(qty); err != nil {
		return nil, err
	}
	if price.Valid {
		v, err := domain.ParseMoney(price.String)
		if err != nil {
			return nil, err
		}
		o.Price = &v
	}
	if stopPrice.Valid {
		v, err := domain.ParseMoney(stopPrice.String)
		if err != nil {
			return nil, err
		}
		o.StopPrice = &v
	}
	return &o, nil
}

func (s *SQLiteOrderStore) AppendFill(ctx context.Context, f domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, seq, price, qty, fee, ts) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id, seq) DO NOTHING`,
		f.OrderID, f.Seq, f.Price.String(), f.Qty.String(), f.Fee.String(), f.TS.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append fill: %w", err)
	}
	return nil
}

func (s *SQLiteOrderStore) FillsForOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, seq, price, qty, fee, ts FROM fills WHERE order_id = ? ORDER BY seq ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var price, qty, fee string
		var ts int64
		if err := rows.Scan(&f.OrderID, &f.Seq, &price, &qty, &fee, &ts); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		if f.Price, err = domain.ParseMoney(price); err != nil {
			return nil, err
		}
		if f.Qty, err = domain.ParseMoney(qty); err != nil {
			return nil, err
		}
		if f.Fee, err = domain.ParseMoney(fee); err != nil {
			return nil, err
		}
		f.TS = unixTime(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// MaxFillSeq returns the highest fill sequence recorded across every order
// belonging to credentialID, the watermark used by FetchFillsSince
// reconciliation on startup/reconnect.
func (s *SQLiteOrderStore) MaxFillSeq(ctx context.Context, credentialID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(fills.seq) FROM fills
		JOIN orders ON orders.id = fills.order_id
		WHERE orders.credential_id = ?`, credentialID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max fill seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
