package lib

import (
	"github.com/markcheno/go-talib"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/strategy"
)

func init() {
	strategy.Register("grid", func() strategy.Strategy { return &gridStrategy{} })
	strategy.Register("rsi-mean-reversion", func() strategy.Strategy { return &rsiMeanReversionStrategy{} })
	strategy.Register("bollinger", func() strategy.Strategy { return &bollingerStrategy{} })
	strategy.Register("magic-split", func() strategy.Strategy { return &magicSplitStrategy{} })
	strategy.Register("infinity-bot", func() strategy.Strategy { return &infinityBotStrategy{} })
	strategy.Register("trailing-stop", func() strategy.Strategy { return &trailingStopStrategy{} })
}

// gridStrategy emits a buy each time price moves into a different step of
// a fixed price band (constant increment), optionally gated by a trend
// filter (no signal while price is below its 50-bar moving average). It
// emits no sell or exit signals.
type gridStrategy struct {
	bandLow, bandHigh float64
	steps             int
	qtyPerStep        float64
	trendFilter       bool
	buf               *candleBuffer
	lastStepHit       int
}

func (s *gridStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "grid", Version: "1.0", Description: "Fixed price-band grid with stepped entries.", Category: strategy.CategoryRealtime, DeclaredTimeframe: domain.Timeframe1m}
}

func (s *gridStrategy) Initialize(config map[string]interface{}) error {
	s.bandLow = paramFloat(config, "band_low", 0)
	s.bandHigh = paramFloat(config, "band_high", 0)
	s.steps = paramInt(config, "steps", 10)
	s.qtyPerStep = paramFloat(config, "qty_per_step", 1)
	s.trendFilter = paramBool(config, "trend_filter", false)
	if s.bandHigh <= s.bandLow {
		return domain.NewError(domain.ErrConfigInvalid, "grid.initialize", "band_high must exceed band_low", nil)
	}
	if s.steps < 1 {
		return domain.NewError(domain.ErrConfigInvalid, "grid.initialize", "steps must be >= 1", nil)
	}
	s.buf = newCandleBuffer(200)
	s.lastStepHit = -1
	return nil
}

func (s *gridStrategy) stepIndex(price float64) int {
	stepWidth := (s.bandHigh - s.bandLow) / float64(s.steps)
	if stepWidth <= 0 {
		return -1
	}
	idx := int((price - s.bandLow) / stepWidth)
	if idx < 0 {
		idx = 0
	}
	if idx > s.steps {
		idx = s.steps
	}
	return idx
}

func (s *gridStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataTrade && md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	price, ok := priceOf(md)
	if !ok || price < s.bandLow || price > s.bandHigh {
		return nil, nil
	}
	if md.Kind == domain.MarketDataCandleClose {
		s.buf.push(md.Candle)
	}
	if s.trendFilter && s.buf.len() >= 50 {
		sma := talib.Sma(s.buf.closes(), 50)
		if len(sma) > 0 && price < sma[len(sma)-1] {
			return nil, nil
		}
	}

	idx := s.stepIndex(price)
	if idx == s.lastStepHit {
		return nil, nil
	}
	s.lastStepHit = idx

	qty := moneyOf(s.qtyPerStep)
	priceM := moneyOf(price)
	return []domain.Signal{{
		Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.5, Reason: "grid step entry",
		SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS,
	}}, nil
}

func (s *gridStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *gridStrategy) OnPosition(p domain.Position) error { return nil }
func (s *gridStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"last_step_hit": s.lastStepHit}
}
func (s *gridStrategy) Shutdown() error { return nil }

// rsiMeanReversionStrategy buys when RSI crosses below oversold and sells
// when it crosses above overbought.
type rsiMeanReversionStrategy struct {
	period               int
	oversold, overbought float64
	buf                  *candleBuffer
	wasOversold          bool
	wasOverbought        bool
}

func (s *rsiMeanReversionStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "rsi-mean-reversion", Version: "1.0", Description: "RSI oversold/overbought mean reversion.", Category: strategy.CategoryRealtime, DeclaredTimeframe: domain.Timeframe1m}
}

func (s *rsiMeanReversionStrategy) Initialize(config map[string]interface{}) error {
	s.period = paramInt(config, "period", 14)
	s.oversold = paramFloat(config, "oversold", 30)
	s.overbought = paramFloat(config, "overbought", 70)
	if s.oversold <= 0 || s.overbought >= 100 || s.oversold >= s.overbought {
		return domain.NewError(domain.ErrConfigInvalid, "rsi-mean-reversion.initialize", "oversold/overbought out of bounds", nil)
	}
	s.buf = newCandleBuffer(s.period*5 + 10)
	return nil
}

func (s *rsiMeanReversionStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	if s.buf.len() < s.period+1 {
		return nil, nil
	}
	rsi := talib.Rsi(s.buf.closes(), s.period)
	last := rsi[len(rsi)-1]

	var sig []domain.Signal
	price := md.Candle.Close
	qty := moneyOf(1)
	if last <= s.oversold && !s.wasOversold {
		sig = append(sig, domain.Signal{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: (s.oversold - last) / s.oversold,
			Reason: "RSI oversold", SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS})
	}
	if last >= s.overbought && !s.wasOverbought {
		sig = append(sig, domain.Signal{Symbol: md.Symbol, Kind: domain.SignalSell, Strength: (last - s.overbought) / (100 - s.overbought),
			Reason: "RSI overbought", SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS})
	}
	s.wasOversold = last <= s.oversold
	s.wasOverbought = last >= s.overbought
	return sig, nil
}

func (s *rsiMeanReversionStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *rsiMeanReversionStrategy) OnPosition(p domain.Position) error { return nil }
func (s *rsiMeanReversionStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"was_oversold": s.wasOversold, "was_overbought": s.wasOverbought}
}
func (s *rsiMeanReversionStrategy) Shutdown() error { return nil }

// bollingerStrategy buys at the lower band and sells at the upper band.
type bollingerStrategy struct {
	period   int
	stdDev   float64
	buf      *candleBuffer
}

func (s *bollingerStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "bollinger", Version: "1.0", Description: "Bollinger band mean reversion.", Category: strategy.CategoryRealtime, DeclaredTimeframe: domain.Timeframe5m}
}

func (s *bollingerStrategy) Initialize(config map[string]interface{}) error {
	s.period = paramInt(config, "period", 20)
	s.stdDev = paramFloat(config, "std_dev_multiplier", 2)
	s.buf = newCandleBuffer(s.period + 10)
	return nil
}

func (s *bollingerStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	if s.buf.len() < s.period {
		return nil, nil
	}
	upper, _, lower := talib.BBands(s.buf.closes(), s.period, s.stdDev, s.stdDev, 0)
	n := len(upper)
	if n == 0 {
		return nil, nil
	}
	lastClose, _ := md.Candle.Close.Float64()
	price := md.Candle.Close
	qty := moneyOf(1)

	if lastClose <= lower[n-1] {
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.6, Reason: "price at lower Bollinger band",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	if lastClose >= upper[n-1] {
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalSell, Strength: 0.6, Reason: "price at upper Bollinger band",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *bollingerStrategy) OnFill(f domain.Fill) error             { return nil }
func (s *bollingerStrategy) OnPosition(p domain.Position) error     { return nil }
func (s *bollingerStrategy) StateSnapshot() map[string]interface{} { return map[string]interface{}{} }
func (s *bollingerStrategy) Shutdown() error                        { return nil }

// magicSplitStrategy builds a position in up to N tranches: the first at
// any price, each further one once price is take_profit_pct below the
// average entry. When price reaches take_profit_pct above the average
// entry it closes all tranches at once; tranches have no take-profit of
// their own.
type magicSplitStrategy struct {
	splitCount      int
	takeProfitPct   float64
	entriesFilled   int
	avgEntry        float64
	awaitingClose   bool
}

func (s *magicSplitStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "magic-split", Version: "1.0", Description: "Staged entries with a take-profit on the average entry.", Category: strategy.CategoryRealtime, DeclaredTimeframe: domain.Timeframe1m}
}

func (s *magicSplitStrategy) Initialize(config map[string]interface{}) error {
	s.splitCount = paramInt(config, "split_count", 5)
	s.takeProfitPct = paramFloat(config, "take_profit_pct", 0.03)
	if s.splitCount < 1 {
		return domain.NewError(domain.ErrConfigInvalid, "magic-split.initialize", "split_count must be >= 1", nil)
	}
	return nil
}

func (s *magicSplitStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	price, ok := priceOf(md)
	if !ok {
		return nil, nil
	}
	priceM := moneyOf(price)
	qty := moneyOf(1)

	if s.entriesFilled == 0 {
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.5, Reason: "magic split initial tranche",
			SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	if s.entriesFilled < s.splitCount && price < s.avgEntry*(1-s.takeProfitPct) {
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.5, Reason: "magic split additional tranche",
			SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	if s.entriesFilled > 0 && price >= s.avgEntry*(1+s.takeProfitPct) {
		closeQty := moneyOf(float64(s.entriesFilled))
		s.awaitingClose = true
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.8, Reason: "magic split take-profit",
			SuggestedPrice: &priceM, SuggestedQty: &closeQty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *magicSplitStrategy) OnFill(f domain.Fill) error {
	if s.awaitingClose {
		s.awaitingClose = false
		s.entriesFilled = 0
		s.avgEntry = 0
		return nil
	}
	price, _ := f.Price.Float64()
	total := s.avgEntry*float64(s.entriesFilled) + price
	s.entriesFilled++
	s.avgEntry = total / float64(s.entriesFilled)
	return nil
}
func (s *magicSplitStrategy) OnPosition(p domain.Position) error { return nil }
func (s *magicSplitStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"entries_filled": s.entriesFilled, "avg_entry": s.avgEntry}
}
func (s *magicSplitStrategy) Shutdown() error { return nil }

// infinityBotStrategy buys fixed rounds until round_count are filled, then
// trails a stop from the highest price seen since, whether or not the
// position is in profit; it never takes an outright fixed take-profit.
type infinityBotStrategy struct {
	roundCount     int
	trailingStop   float64
	roundsFilled   int
	peakPrice      float64
	awaitingClose  bool
}

func (s *infinityBotStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "infinity-bot", Version: "1.0", Description: "Repeated round entries with a trailing stop.", Category: strategy.CategoryRealtime, DeclaredTimeframe: domain.Timeframe1m}
}

func (s *infinityBotStrategy) Initialize(config map[string]interface{}) error {
	s.roundCount = paramInt(config, "round_count", 10)
	s.trailingStop = paramFloat(config, "trailing_stop_pct", 0.02)
	return nil
}

func (s *infinityBotStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	price, ok := priceOf(md)
	if !ok {
		return nil, nil
	}
	priceM := moneyOf(price)
	qty := moneyOf(1)

	if s.roundsFilled < s.roundCount {
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.4, Reason: "infinity bot round entry",
			SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	if price > s.peakPrice {
		s.peakPrice = price
	}
	if s.peakPrice > 0 && price <= s.peakPrice*(1-s.trailingStop) {
		closeQty := moneyOf(float64(s.roundsFilled))
		s.awaitingClose = true
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.8, Reason: "infinity bot trailing stop hit",
			SuggestedPrice: &priceM, SuggestedQty: &closeQty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *infinityBotStrategy) OnFill(f domain.Fill) error {
	if s.awaitingClose {
		s.awaitingClose = false
		s.roundsFilled = 0
		s.peakPrice = 0
		return nil
	}
	s.roundsFilled++
	return nil
}
func (s *infinityBotStrategy) OnPosition(p domain.Position) error { return nil }
func (s *infinityBotStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"rounds_filled": s.roundsFilled, "peak_price": s.peakPrice}
}
func (s *infinityBotStrategy) Shutdown() error { return nil }

// trailingStopStrategy holds one position and closes it once price
// retraces trailPct off its post-entry peak (for longs) or trough (for shorts).
type trailingStopStrategy struct {
	trailPct  float64
	inPos     bool
	side      domain.Side
	extreme   float64
}

func (s *trailingStopStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "trailing-stop", Version: "1.0", Description: "Single-position trailing stop exit.", Category: strategy.CategoryRealtime, DeclaredTimeframe: domain.Timeframe1m}
}

func (s *trailingStopStrategy) Initialize(config map[string]interface{}) error {
	s.trailPct = paramFloat(config, "trail_pct", 0.02)
	return nil
}

func (s *trailingStopStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	price, ok := priceOf(md)
	if !ok || !s.inPos {
		return nil, nil
	}
	priceM := moneyOf(price)
	qty := moneyOf(1)

	if s.side == domain.SideBuy {
		if price > s.extreme {
			s.extreme = price
		}
		if price <= s.extreme*(1-s.trailPct) {
			return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.9, Reason: "trailing stop hit",
				SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS}}, nil
		}
	} else {
		if s.extreme == 0 || price < s.extreme {
			s.extreme = price
		}
		if price >= s.extreme*(1+s.trailPct) {
			return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.9, Reason: "trailing stop hit",
				SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS}}, nil
		}
	}
	return nil, nil
}

func (s *trailingStopStrategy) OnFill(f domain.Fill) error { return nil }

// OnPosition is this strategy's source of truth for direction and for
// whether a position is open (the position's size is not read):
// it holds no inventory of its own and only manages the exit of a position
// opened elsewhere, so it reads side and re-anchors extreme from the
// venue-reported position rather than guessing from fill events.
func (s *trailingStopStrategy) OnPosition(p domain.Position) error {
	wasFlat := !s.inPos
	s.inPos = !p.QtySigned.IsZero()
	if !s.inPos {
		s.extreme = 0
		return nil
	}
	if p.QtySigned.IsNegative() {
		s.side = domain.SideSell
	} else {
		s.side = domain.SideBuy
	}
	if wasFlat {
		s.extreme, _ = p.AvgEntryPrice.Float64()
	}
	return nil
}
func (s *trailingStopStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"in_position": s.inPos, "extreme": s.extreme}
}
func (s *trailingStopStrategy) Shutdown() error { return nil }

// priceOf extracts a representative price from any MarketData variant.
func priceOf(md domain.MarketData) (float64, bool) {
	switch md.Kind {
	case domain.MarketDataTrade:
		f, _ := md.Price.Float64()
		return f, true
	case domain.MarketDataCandleClose:
		f, _ := md.Candle.Close.Float64()
		return f, true
	case domain.MarketDataQuoteTop:
		bid, _ := md.Bid.Float64()
		ask, _ := md.Ask.Float64()
		return (bid + ask) / 2, true
	default:
		return 0, false
	}
}
