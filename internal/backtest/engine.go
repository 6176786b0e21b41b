// Package backtest implements the deterministic replay engine described in
// spec §4.8: the same strategy.Strategy trait runs against stored candles
// instead of the live bus, matched by a bar-granular matcher (market fills
// at next-bar open + slippage, limit fills on range-cross at the limit
// price, stop orders activate-then-fill next bar). Grounded on the
// teacher's internal/modules/evaluation package (deterministic metric
// accumulation over a fixed historical window) and internal/modules/
// optimization's use of gonum for portfolio statistics, generalized from
// parameter-sweep evaluation to a single strategy/symbol-set replay.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/strategy"
)

// Config holds the parameters spec §4.8 requires for bit-identical
// reproducibility: the same Config plus the same candles must always
// produce the same equity curve and trade list.
type Config struct {
	InitialCapital domain.Money
	SlippageBps    float64 // applied to market fills, bps of price
	CommissionBps  float64 // applied notional-wise to every fill
	Seed           int64   // seeds the one RNG slippage jitter draws from
}

// Engine replays candles deterministically against one strategy instance.
// A fresh Engine must be constructed per run since its Matcher's RNG state
// is run-scoped.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// New constructs an Engine for one backtest run.
func New(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log.With().Str("component", "backtest").Logger()}
}

// symbolSeries is the per-symbol candle series a Run replays, paired with the
// Track the shared Matcher keeps its order book and position in.
type symbolSeries struct {
	bars  []domain.Candle
	track *Track
}

// Run replays bars (already loaded from the store, keyed by symbol) against
// strat in chronological order, producing a BacktestResult, via the same
// Matcher internal/simulation drives tick-by-tick for paper trading.
// Multi-asset strategies (strat.Metadata().MultiAsset) see every symbol's
// bars merged into one chronological stream, matching the live bus's per-
// (venue, symbol, channel) delivery generalized across symbols; single-asset
// strategies must be called once per symbol by the caller.
func (e *Engine) Run(ctx context.Context, strategyRef string, strat strategy.Strategy, bars map[domain.Symbol][]domain.Candle, rangeStart, rangeEnd time.Time) (domain.BacktestResult, error) {
	matcher := NewMatcher(e.cfg)

	series := make(map[domain.Symbol]*symbolSeries, len(bars))
	symbols := make([]domain.Symbol, 0, len(bars))
	for sym, candles := range bars {
		series[sym] = &symbolSeries{bars: candles, track: NewTrack("backtest", sym)}
		symbols = append(symbols, sym)
	}
	sortSymbols(symbols)

	timeline := mergeTimeline(series, symbols)

	result := domain.BacktestResult{
		StrategyRef:    strategyRef,
		Symbols:        symbols,
		RangeStart:     rangeStart,
		RangeEnd:       rangeEnd,
		InitialCapital: e.cfg.InitialCapital,
		SlippageBps:    bpsToMoney(e.cfg.SlippageBps),
	}

	realizedSoFar := domain.Zero()
	var trades []domain.BacktestTrade

	for _, evt := range timeline {
		if ctx.Err() != nil {
			return domain.BacktestResult{}, ctx.Err()
		}
		s := series[evt.symbol]
		bar := s.bars[evt.idx]

		filled := matcher.AdvanceBar(s.track, bar)
		for _, t := range filled {
			realizedSoFar = realizedSoFar.Add(t.PnL).Sub(t.Commission)
			trades = append(trades, t)
		}

		signals, err := strat.OnMarketData(domain.NewCandleClose(bar))
		if err != nil {
			return domain.BacktestResult{}, fmt.Errorf("on_market_data at bar %d: %w", evt.idx, err)
		}
		for _, sig := range signals {
			matcher.Enqueue(s.track, sig)
		}

		s.track.Pos.MarkToMarket(bar.Close)
		equity := e.cfg.InitialCapital.Add(realizedSoFar).Add(s.track.Pos.UnrealizedPnL)
		result.EquityCurve = append(result.EquityCurve, domain.EquityPoint{TS: bar.OpenTime, Equity: equity})
	}

	result.Trades = trades
	result.Metrics = computeMetrics(result.EquityCurve, trades, e.cfg.InitialCapital, timeframeOf(series))
	result.Success = true
	return result, nil
}

type timelineEvent struct {
	symbol domain.Symbol
	idx    int
	ts     time.Time
}

// mergeTimeline produces the chronological bar-visit order across every
// symbol's series, stable-sorted by (time, symbol) so iteration order never
// depends on map enumeration — a determinism requirement from spec §4.8.
func mergeTimeline(series map[domain.Symbol]*symbolSeries, symbols []domain.Symbol) []timelineEvent {
	var out []timelineEvent
	for _, sym := range symbols {
		for i, c := range series[sym].bars {
			out = append(out, timelineEvent{symbol: sym, idx: i, ts: c.OpenTime})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ts.Equal(out[j].ts) {
			return out[i].ts.Before(out[j].ts)
		}
		return out[i].symbol.String() < out[j].symbol.String()
	})
	return out
}

func sortSymbols(symbols []domain.Symbol) {
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].String() < symbols[j].String() })
}

func timeframeOf(series map[domain.Symbol]*symbolSeries) domain.Timeframe {
	for _, s := range series {
		if len(s.bars) > 0 {
			return s.bars[0].Timeframe
		}
	}
	return domain.Timeframe1d
}
