package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/store"
	sentineltesting "github.com/aristath/sentinel/internal/testing"
)

func TestSQLiteOhlcvStore_UpsertAndQuery(t *testing.T) {
	db, cleanup := sentineltesting.NewTestDB(t, "ohlcv")
	defer cleanup()

	s := store.NewSQLiteOhlcvStore(db)
	ctx := context.Background()

	symbols := sentineltesting.NewSymbolFixtures()
	symbol := symbols[0]

	open := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	candle := domain.Candle{
		Symbol:   symbol,
		Timeframe: domain.Timeframe1h,
		OpenTime: open,
		Open:     domain.Zero(),
		High:     domain.Zero(),
		Low:      domain.Zero(),
		Close:    domain.Zero(),
		Volume:   domain.Zero(),
	}
	if err := s.UpsertCandle(ctx, candle); err != nil {
		t.Fatalf("UpsertCandle: %v", err)
	}

	// Upsert again with the same open_time but a different close, exercising
	// the ON CONFLICT DO UPDATE path rather than inserting a duplicate row.
	updated := candle
	updated.Close, _ = domain.ParseMoney("42")
	if err := s.UpsertCandle(ctx, updated); err != nil {
		t.Fatalf("UpsertCandle (update): %v", err)
	}

	got, err := s.Candles(ctx, symbol, domain.Timeframe1h, open.Add(-time.Hour).Unix(), open.Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	if !got[0].Close.Equal(updated.Close) {
		t.Fatalf("expected updated close %s, got %s", updated.Close, got[0].Close)
	}
}
