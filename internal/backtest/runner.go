package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/store"
	"github.com/aristath/sentinel/internal/strategy"
)

// LoadAndRun loads every symbol's candles for [rangeStart, rangeEnd] from
// ohlcv, instantiates strategyTag fresh from the registry, and replays it
// through Engine.Run. This is the entry point cmd/sentinel's `backtest`
// subcommand and the HTTP surface's back-test endpoint call into.
func (e *Engine) LoadAndRun(ctx context.Context, ohlcv store.OhlcvStore, strategyTag string, config map[string]interface{},
	symbols []domain.Symbol, tf domain.Timeframe, rangeStart, rangeEnd int64) (domain.BacktestResult, error) {
	strat, err := strategy.New(strategyTag)
	if err != nil {
		return domain.BacktestResult{}, err
	}
	if err := strat.Initialize(config); err != nil {
		return domain.BacktestResult{}, err
	}

	bars := make(map[domain.Symbol][]domain.Candle, len(symbols))
	for _, sym := range symbols {
		candles, err := ohlcv.Candles(ctx, sym, tf, rangeStart, rangeEnd)
		if err != nil {
			return domain.BacktestResult{}, fmt.Errorf("load candles for %s: %w", sym.String(), err)
		}
		bars[sym] = candles
	}

	return e.Run(ctx, strategyTag, strat, bars, time.Unix(rangeStart, 0).UTC(), time.Unix(rangeEnd, 0).UTC())
}
