package backtest

import (
	"fmt"
	"math/rand"

	"github.com/aristath/sentinel/internal/domain"
)

// PendingOrder is one resting order in the matcher's book, produced by a
// strategy signal and waiting to cross a future bar. Exported so
// internal/simulation can drive the same matcher tick-by-tick against
// live-replayed bars instead of Engine.Run's bulk historical replay.
type PendingOrder struct {
	Symbol      domain.Symbol
	Side        domain.Side
	Type        domain.OrderType
	Qty         domain.Money
	LimitPrice  *domain.Money
	StopPrice   *domain.Money
	SubmittedAt int // bar count the signal was produced on; fillable once Track.Bar > this
	Activated   bool
	ActivatedAt int
}

// Track is the per-symbol order book and position the Matcher operates
// against. Bar counts monotonically per symbol as AdvanceBar is called,
// standing in for the backtest replay's slice index so the same matcher
// works whether bars arrive in bulk (Engine.Run) or one at a time (a live
// simulation tick).
type Track struct {
	Symbol    domain.Symbol
	Pos       *domain.Position
	Bar       int
	OpenTrade *domain.BacktestTrade

	pending []*PendingOrder
}

// NewTrack constructs an empty order book and flat position for symbol.
func NewTrack(credentialID string, symbol domain.Symbol) *Track {
	return &Track{Symbol: symbol, Pos: domain.NewPosition(credentialID, symbol)}
}

// Matcher implements the deterministic fill semantics from spec §4.8:
// market orders fill at next-bar open plus seeded-jitter slippage, limit
// orders fill on range-cross at the limit price, stop orders activate on
// a range-cross and convert to a market fill on a later bar. One Matcher
// is scoped to one run (backtest or simulation) so its RNG sequence is
// reproducible end to end.
type Matcher struct {
	cfg Config
	rng *rand.Rand
}

// NewMatcher constructs a Matcher seeded from cfg.Seed.
func NewMatcher(cfg Config) *Matcher {
	return &Matcher{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Enqueue converts a strategy signal into a resting order on t, fillable
// starting from the next call to AdvanceBar (never the bar it was
// produced on, preventing look-ahead per spec §4.8).
func (m *Matcher) Enqueue(t *Track, sig domain.Signal) {
	side := domain.SideBuy
	if sig.Kind == domain.SignalSell {
		side = domain.SideSell
	}
	if sig.Kind == domain.SignalClose {
		if t.Pos.QtySigned.IsZero() {
			return
		}
		side = domain.SideSell
		if t.Pos.QtySigned.IsNegative() {
			side = domain.SideBuy
		}
	}

	qty := domain.Zero()
	if sig.SuggestedQty != nil {
		qty = *sig.SuggestedQty
	}
	if sig.Kind == domain.SignalClose {
		qty = t.Pos.QtySigned.Abs()
	}
	if qty.IsZero() {
		return
	}

	// Stop orders are attached by the risk gate's protective-stop layer
	// (spec §4.6), not produced directly by a strategy signal, so only
	// Market/Limit are ever enqueued here.
	typ := domain.OrderTypeMarket
	var limit *domain.Money
	if sig.SuggestedPrice != nil && sig.Kind != domain.SignalClose {
		typ = domain.OrderTypeLimit
		limit = sig.SuggestedPrice
	}

	t.pending = append(t.pending, &PendingOrder{
		Symbol: t.Symbol, Side: side, Type: typ, Qty: qty, LimitPrice: limit, SubmittedAt: t.Bar,
	})
}

// AdvanceBar matches every resting order on t against bar, applies fills
// to t.Pos, closes out completed round trips into BacktestTrade records,
// and advances t's bar counter. Call this once per bar/tick, after
// matching but typically before Enqueue-ing the signals that bar produced
// (matching always uses orders submitted on a strictly earlier bar).
func (m *Matcher) AdvanceBar(t *Track, bar domain.Candle) []domain.BacktestTrade {
	var trades []domain.BacktestTrade
	idx := t.Bar
	remaining := t.pending[:0]

	for _, ord := range t.pending {
		if ord.SubmittedAt >= idx {
			remaining = append(remaining, ord)
			continue
		}

		fillPrice, ok := m.tryFill(ord, bar, idx)
		if !ok {
			remaining = append(remaining, ord)
			continue
		}

		commission := fillPrice.Mul(ord.Qty).Mul(bpsFraction(m.cfg.CommissionBps))
		fill := domain.Fill{Price: fillPrice, Qty: ord.Qty, Fee: commission, TS: bar.OpenTime}
		wasFlat := t.Pos.QtySigned.IsZero()
		t.Pos.ApplyFill(fill, ord.Side)

		switch {
		case wasFlat:
			t.OpenTrade = &domain.BacktestTrade{
				Symbol: t.Symbol, Side: ord.Side, EntryTime: bar.OpenTime, EntryPrice: fillPrice,
				Qty: ord.Qty, Commission: commission,
			}
		case t.Pos.QtySigned.IsZero() && t.OpenTrade != nil:
			trade := *t.OpenTrade
			trade.ExitTime = bar.OpenTime
			trade.ExitPrice = fillPrice
			trade.PnL = t.Pos.RealizedPnL
			trade.Commission = trade.Commission.Add(commission)
			trades = append(trades, trade)
			t.OpenTrade = nil
			t.Pos.RealizedPnL = domain.Zero()
		case t.OpenTrade != nil:
			t.OpenTrade.Commission = t.OpenTrade.Commission.Add(commission)
		}
	}
	t.pending = remaining
	t.Bar++
	return trades
}

func (m *Matcher) tryFill(ord *PendingOrder, bar domain.Candle, idx int) (domain.Money, bool) {
	switch ord.Type {
	case domain.OrderTypeLimit:
		if ord.LimitPrice == nil {
			return domain.Zero(), false
		}
		if bar.Low.LessThanOrEqual(*ord.LimitPrice) && bar.High.GreaterThanOrEqual(*ord.LimitPrice) {
			return *ord.LimitPrice, true
		}
		return domain.Zero(), false

	case domain.OrderTypeStopLoss:
		if !ord.Activated {
			if ord.StopPrice == nil {
				return domain.Zero(), false
			}
			if bar.Low.LessThanOrEqual(*ord.StopPrice) && bar.High.GreaterThanOrEqual(*ord.StopPrice) {
				ord.Activated = true
				ord.ActivatedAt = idx
			}
			return domain.Zero(), false
		}
		if idx <= ord.ActivatedAt {
			return domain.Zero(), false
		}
		return m.slippedOpen(bar), true

	default: // OrderTypeMarket
		return m.slippedOpen(bar), true
	}
}

func (m *Matcher) slippedOpen(bar domain.Candle) domain.Money {
	jitter := 0.5 + m.rng.Float64()/2 // [0.5, 1.0) of configured slippage
	slip := bpsFraction(m.cfg.SlippageBps * jitter)
	return bar.Open.Add(bar.Open.Mul(slip))
}

func bpsFraction(bps float64) domain.Money {
	v, _ := domain.ParseMoney(fmt.Sprintf("%.8f", bps/10000.0))
	return v
}

func bpsToMoney(bps float64) domain.Money {
	v, _ := domain.ParseMoney(fmt.Sprintf("%.4f", bps))
	return v
}
