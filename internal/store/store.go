// Package store implements the five persistence contracts spec §6 treats
// as opaque interfaces (OhlcvStore, OrderStore, PositionStore,
// BacktestResultStore, CredentialStore) against the SQLite schemas in
// internal/database/schemas. Grounded on the teacher's
// internal/modules/historical (OHLCV persistence) and trade_repository.go
// (idempotent upsert keyed on a unique business identifier, here
// client_id), using modernc.org/sqlite via the already-adapted
// internal/database.DB wrapper.
package store

import (
	"context"

	"github.com/aristath/sentinel/internal/domain"
)

// OhlcvStore persists and retrieves OHLCV candles.
type OhlcvStore interface {
	UpsertCandle(ctx context.Context, c domain.Candle) error
	Candles(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, from, to int64) ([]domain.Candle, error)
}

// OrderStore persists orders and their fills, deduplicating on ClientID.
type OrderStore interface {
	// UpsertOrder inserts or updates an order keyed by ClientID. When a row
	// with the same ClientID exists, its state, price, stop price and
	// updated_at are overwritten and no duplicate row is created
	// (idempotent submit).
	UpsertOrder(ctx context.Context, o domain.Order) error
	OrderByClientID(ctx context.Context, clientID string) (*domain.Order, error)
	OrderByID(ctx context.Context, id string) (*domain.Order, error)
	AppendFill(ctx context.Context, f domain.Fill) error
	FillsForOrder(ctx context.Context, orderID string) ([]domain.Fill, error)
	MaxFillSeq(ctx context.Context, credentialID string) (uint64, error)
}

// PositionStore persists the current position ledger.
type PositionStore interface {
	UpsertPosition(ctx context.Context, p domain.Position) error
	Position(ctx context.Context, credentialID string, symbol domain.Symbol) (*domain.Position, error)
	PositionsForCredential(ctx context.Context, credentialID string) ([]domain.Position, error)
}

// BacktestResultStore persists completed back-test runs.
type BacktestResultStore interface {
	SaveResult(ctx context.Context, r domain.BacktestResult) error
	Result(ctx context.Context, id string) (*domain.BacktestResult, error)
}

// CredentialStore persists venue credentials. Fields are encrypted at
// rest; this interface's implementation owns the encrypt/decrypt boundary
// so callers above it only ever see plaintext domain.Credential values.
type CredentialStore interface {
	SaveCredential(ctx context.Context, c domain.Credential) error
	Credential(ctx context.Context, id string) (*domain.Credential, error)
}
