package lib

import (
	"github.com/markcheno/go-talib"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/strategy"
)

func init() {
	strategy.Register("volatility-breakout", func() strategy.Strategy { return &volatilityBreakoutStrategy{} })
	strategy.Register("sma-cross", func() strategy.Strategy { return &smaCrossStrategy{} })
	strategy.Register("snow", func() strategy.Strategy { return &snowStrategy{} })
	strategy.Register("stock-rotation", func() strategy.Strategy { return &stockRotationStrategy{} })
	strategy.Register("market-interest-day", func() strategy.Strategy { return &marketInterestDayStrategy{} })
	strategy.Register("candle-pattern", func() strategy.Strategy { return &candlePatternStrategy{} })
}

// volatilityBreakoutStrategy is Larry Williams' range-breakout system: the
// day's entry target is yesterday's range times a noise coefficient, added
// to today's open.
type volatilityBreakoutStrategy struct {
	k          float64
	buf        *candleBuffer
	entered    bool
	entryPrice float64
}

func (s *volatilityBreakoutStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "volatility-breakout", Version: "1.0", Description: "Larry Williams volatility breakout.", Category: strategy.CategoryDaily, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *volatilityBreakoutStrategy) Initialize(config map[string]interface{}) error {
	s.k = paramFloat(config, "k", 0.5)
	if s.k <= 0 || s.k >= 1 {
		return domain.NewError(domain.ErrConfigInvalid, "volatility-breakout.initialize", "k must be in (0,1)", nil)
	}
	s.buf = newCandleBuffer(2)
	return nil
}

func (s *volatilityBreakoutStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	prev, hasPrev := s.buf.last()
	s.buf.push(md.Candle)
	if !hasPrev {
		return nil, nil
	}

	if !s.entered {
		prevHigh, _ := prev.High.Float64()
		prevLow, _ := prev.Low.Float64()
		open, _ := md.Candle.Open.Float64()
		target := open + (prevHigh-prevLow)*s.k
		high, _ := md.Candle.High.Float64()
		if high >= target {
			s.entered = true
			s.entryPrice = target
			priceM := moneyOf(target)
			qty := moneyOf(1)
			return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.6, Reason: "volatility breakout target reached",
				SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS}}, nil
		}
		return nil, nil
	}

	// Exit at next day's open, per the original system's one-day holding period.
	open, _ := md.Candle.Open.Float64()
	s.entered = false
	priceM := moneyOf(open)
	qty := moneyOf(1)
	return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.6, Reason: "volatility breakout next-day exit",
		SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS}}, nil
}

func (s *volatilityBreakoutStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *volatilityBreakoutStrategy) OnPosition(p domain.Position) error { return nil }
func (s *volatilityBreakoutStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"entered": s.entered, "entry_price": s.entryPrice}
}
func (s *volatilityBreakoutStrategy) Shutdown() error { return nil }

// smaCrossStrategy trades the golden/death cross of a fast and slow SMA.
type smaCrossStrategy struct {
	fastPeriod, slowPeriod int
	buf                    *candleBuffer
	wasAbove               bool
	initialized            bool
}

func (s *smaCrossStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "sma-cross", Version: "1.0", Description: "Fast/slow SMA crossover.", Category: strategy.CategoryDaily, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *smaCrossStrategy) Initialize(config map[string]interface{}) error {
	s.fastPeriod = paramInt(config, "fast_period", 20)
	s.slowPeriod = paramInt(config, "slow_period", 60)
	if s.fastPeriod >= s.slowPeriod {
		return domain.NewError(domain.ErrConfigInvalid, "sma-cross.initialize", "fast_period must be < slow_period", nil)
	}
	s.buf = newCandleBuffer(s.slowPeriod + 5)
	return nil
}

func (s *smaCrossStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	if s.buf.len() < s.slowPeriod {
		return nil, nil
	}
	closes := s.buf.closes()
	fast := talib.Sma(closes, s.fastPeriod)
	slow := talib.Sma(closes, s.slowPeriod)
	fastLast := fast[len(fast)-1]
	slowLast := slow[len(slow)-1]
	above := fastLast > slowLast

	if !s.initialized {
		s.wasAbove = above
		s.initialized = true
		return nil, nil
	}

	var sig []domain.Signal
	price := md.Candle.Close
	qty := moneyOf(1)
	if above && !s.wasAbove {
		sig = append(sig, domain.Signal{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.7, Reason: "golden cross",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS})
	} else if !above && s.wasAbove {
		sig = append(sig, domain.Signal{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.7, Reason: "death cross",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS})
	}
	s.wasAbove = above
	return sig, nil
}

func (s *smaCrossStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *smaCrossStrategy) OnPosition(p domain.Position) error { return nil }
func (s *smaCrossStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"was_above": s.wasAbove}
}
func (s *smaCrossStrategy) Shutdown() error { return nil }

// snowStrategy ("snowball") is a conservative daily DCA-with-profit-taking
// strategy: buy a fixed increment on down days, take profit once the whole
// position clears a target gain.
type snowStrategy struct {
	buyStepPct    float64
	profitTarget  float64
	buf           *candleBuffer
	sharesHeld    int
	avgEntry      float64
	awaitingClose bool
}

func (s *snowStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "snow", Version: "1.0", Description: "Snowball DCA-on-dip with profit target.", Category: strategy.CategoryDaily, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *snowStrategy) Initialize(config map[string]interface{}) error {
	s.buyStepPct = paramFloat(config, "buy_step_pct", 0.02)
	s.profitTarget = paramFloat(config, "profit_target_pct", 0.05)
	s.buf = newCandleBuffer(2)
	return nil
}

func (s *snowStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	prev, hasPrev := s.buf.last()
	s.buf.push(md.Candle)
	if !hasPrev {
		return nil, nil
	}
	prevClose, _ := prev.Close.Float64()
	close, _ := md.Candle.Close.Float64()
	priceM := md.Candle.Close
	qty := moneyOf(1)

	if s.sharesHeld > 0 && close >= s.avgEntry*(1+s.profitTarget) {
		closeQty := moneyOf(float64(s.sharesHeld))
		s.awaitingClose = true
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.6, Reason: "snow profit target reached",
			SuggestedPrice: &priceM, SuggestedQty: &closeQty, TS: md.RecvTS}}, nil
	}
	if close <= prevClose*(1-s.buyStepPct) {
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.4, Reason: "snow dip-buy step",
			SuggestedPrice: &priceM, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *snowStrategy) OnFill(f domain.Fill) error {
	if s.awaitingClose {
		s.awaitingClose = false
		s.sharesHeld = 0
		s.avgEntry = 0
		return nil
	}
	price, _ := f.Price.Float64()
	total := s.avgEntry*float64(s.sharesHeld) + price
	s.sharesHeld++
	s.avgEntry = total / float64(s.sharesHeld)
	return nil
}
func (s *snowStrategy) OnPosition(p domain.Position) error { return nil }
func (s *snowStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"shares_held": s.sharesHeld, "avg_entry": s.avgEntry}
}
func (s *snowStrategy) Shutdown() error { return nil }

// stockRotationStrategy is a single-symbol view of a broader cross-symbol
// rotation: it emits a relative-momentum score via StateSnapshot and leaves
// the actual top-N rotation decision to the allocation runtime that
// compares scores across a multi-asset strategy's subscribed symbols.
type stockRotationStrategy struct {
	lookback int
	buf      *candleBuffer
	momentum float64
}

func (s *stockRotationStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "stock-rotation", Version: "1.0", Description: "Relative-momentum scorer for rotation.", Category: strategy.CategoryDaily, DeclaredTimeframe: domain.Timeframe1d, MultiAsset: true}
}

func (s *stockRotationStrategy) Initialize(config map[string]interface{}) error {
	s.lookback = paramInt(config, "lookback_days", 20)
	s.buf = newCandleBuffer(s.lookback + 2)
	return nil
}

func (s *stockRotationStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	closes := s.buf.closes()
	if len(closes) < 2 {
		return nil, nil
	}
	first, last := closes[0], closes[len(closes)-1]
	if first != 0 {
		s.momentum = (last - first) / first
	}
	return nil, nil
}

func (s *stockRotationStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *stockRotationStrategy) OnPosition(p domain.Position) error { return nil }
func (s *stockRotationStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"momentum": s.momentum}
}
func (s *stockRotationStrategy) Shutdown() error { return nil }

// marketInterestDayStrategy trades on relative volume spikes, a proxy for
// days the market (or a symbol) is drawing unusual attention.
type marketInterestDayStrategy struct {
	volumeMultiple float64
	lookback       int
	buf            *candleBuffer
}

func (s *marketInterestDayStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "market-interest-day", Version: "1.0", Description: "Relative-volume spike entries.", Category: strategy.CategoryDaily, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *marketInterestDayStrategy) Initialize(config map[string]interface{}) error {
	s.volumeMultiple = paramFloat(config, "volume_multiple", 2.0)
	s.lookback = paramInt(config, "lookback_days", 20)
	s.buf = newCandleBuffer(s.lookback + 1)
	return nil
}

func (s *marketInterestDayStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	volumes := s.buf.volumes()
	if len(volumes) < s.lookback+1 {
		return nil, nil
	}
	history := volumes[:len(volumes)-1]
	var sum float64
	for _, v := range history {
		sum += v
	}
	avg := sum / float64(len(history))
	today := volumes[len(volumes)-1]
	if avg > 0 && today >= avg*s.volumeMultiple {
		closePrice, _ := md.Candle.Close.Float64()
		openPrice, _ := md.Candle.Open.Float64()
		price := md.Candle.Close
		qty := moneyOf(1)
		kind := domain.SignalBuy
		if closePrice < openPrice {
			kind = domain.SignalSell
		}
		return []domain.Signal{{Symbol: md.Symbol, Kind: kind, Strength: 0.5, Reason: "relative volume spike",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *marketInterestDayStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *marketInterestDayStrategy) OnPosition(p domain.Position) error { return nil }
func (s *marketInterestDayStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{}
}
func (s *marketInterestDayStrategy) Shutdown() error { return nil }

// candlePatternStrategy recognizes a small set of classic single/double-bar
// candle patterns (bullish/bearish engulfing, hammer) on closed daily bars.
type candlePatternStrategy struct {
	buf *candleBuffer
}

func (s *candlePatternStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "candle-pattern", Version: "1.0", Description: "Engulfing/hammer candle pattern recognition.", Category: strategy.CategoryDaily, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *candlePatternStrategy) Initialize(config map[string]interface{}) error {
	s.buf = newCandleBuffer(2)
	return nil
}

func (s *candlePatternStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	prev, hasPrev := s.buf.last()
	s.buf.push(md.Candle)
	if !hasPrev {
		return nil, nil
	}

	prevOpen, _ := prev.Open.Float64()
	prevClose, _ := prev.Close.Float64()
	open, _ := md.Candle.Open.Float64()
	close, _ := md.Candle.Close.Float64()
	high, _ := md.Candle.High.Float64()
	low, _ := md.Candle.Low.Float64()
	price := md.Candle.Close
	qty := moneyOf(1)

	bullishEngulfing := prevClose < prevOpen && close > open && open <= prevClose && close >= prevOpen
	bearishEngulfing := prevClose > prevOpen && close < open && open >= prevClose && close <= prevOpen
	body := close - open
	if body < 0 {
		body = -body
	}
	lowerWick := open - low
	if close < open {
		lowerWick = close - low
	}
	hammer := body > 0 && lowerWick >= body*2 && (high-low) > 0

	switch {
	case bullishEngulfing || hammer:
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.5, Reason: "bullish candle pattern",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	case bearishEngulfing:
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalSell, Strength: 0.5, Reason: "bearish engulfing",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *candlePatternStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *candlePatternStrategy) OnPosition(p domain.Position) error { return nil }
func (s *candlePatternStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{}
}
func (s *candlePatternStrategy) Shutdown() error { return nil }
