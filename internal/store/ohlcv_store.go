package store

import (
	"context"
	"fmt"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
)

// SQLiteOhlcvStore implements OhlcvStore against the candles table defined
// in internal/database/schemas/ohlcv_schema.sql.
type SQLiteOhlcvStore struct {
	db *database.DB
}

// NewSQLiteOhlcvStore wraps an already-migrated database.DB.
func NewSQLiteOhlcvStore(db *database.DB) *SQLiteOhlcvStore {
	return &SQLiteOhlcvStore{db: db}
}

func (s *SQLiteOhlcvStore) UpsertCandle(ctx context.Context, c domain.Candle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candles (base, quote, market, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (base, quote, market, timeframe, open_time)
		DO UPDATE SET open=excluded.open, high=excluded.high, low=excluded.low,
		              close=excluded.close, volume=excluded.volume`,
		c.Symbol.Base, c.Symbol.Quote, string(c.Symbol.Market), string(c.Timeframe),
		c.OpenTime.Unix(), c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}

func (s *SQLiteOhlcvStore) Candles(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, from, to int64) ([]domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume FROM candles
		WHERE base = ? AND quote = ? AND market = ? AND timeframe = ? AND open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`,
		symbol.Base, symbol.Quote, string(symbol.Market), string(tf), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var openTime int64
		var o, h, l, c, v string
		if err := rows.Scan(&openTime, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candle, err := decodeCandle(symbol, tf, openTime, o, h, l, c, v)
		if err != nil {
			return nil, err
		}
		out = append(out, candle)
	}
	return out, rows.Err()
}

func decodeCandle(symbol domain.Symbol, tf domain.Timeframe, openTime int64, o, h, l, c, v string) (domain.Candle, error) {
	open, err := domain.ParseMoney(o)
	if err != nil {
		return domain.Candle{}, err
	}
	high, err := domain.ParseMoney(h)
	if err != nil {
		return domain.Candle{}, err
	}
	low, err := domain.ParseMoney(l)
	if err != nil {
		return domain.Candle{}, err
	}
	closePrice, err := domain.ParseMoney(c)
	if err != nil {
		return domain.Candle{}, err
	}
	volume, err := domain.ParseMoney(v)
	if err != nil {
		return domain.Candle{}, err
	}
	return domain.Candle{
		Symbol: symbol, Timeframe: tf, OpenTime: unixTime(openTime),
		Open: open, High: high, Low: low, Close: closePrice, Volume: volume,
	}, nil
}
