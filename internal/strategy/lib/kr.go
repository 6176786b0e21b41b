package lib

import (
	"github.com/markcheno/go-talib"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/strategy"
)

func init() {
	strategy.Register("kosdaq-fire-rain", func() strategy.Strategy { return &kosdaqFireRainStrategy{} })
	strategy.Register("kospi-bothside", func() strategy.Strategy { return &kospiBothsideStrategy{} })
	strategy.Register("small-cap-quant", func() strategy.Strategy { return &smallCapQuantStrategy{} })
	strategy.Register("stock-gugan", func() strategy.Strategy { return &stockGuganStrategy{} })
}

// kosdaqFireRainStrategy ("불비") chases intraday limit-up surges on
// high relative volume, a momentum-ignition pattern specific to KOSDAQ's
// small-cap liquidity regime, and exits on the first red candle.
type kosdaqFireRainStrategy struct {
	surgeThresholdPct float64
	volumeMultiple    float64
	buf               *candleBuffer
	inPos             bool
}

func (s *kosdaqFireRainStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "kosdaq-fire-rain", Version: "1.0", Description: "KOSDAQ momentum-ignition surge chase.", Category: strategy.CategoryKR, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *kosdaqFireRainStrategy) Initialize(config map[string]interface{}) error {
	s.surgeThresholdPct = paramFloat(config, "surge_threshold_pct", 0.15)
	s.volumeMultiple = paramFloat(config, "volume_multiple", 3.0)
	s.buf = newCandleBuffer(21)
	return nil
}

func (s *kosdaqFireRainStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	price := md.Candle.Close
	qty := moneyOf(1)

	open, _ := md.Candle.Open.Float64()
	close, _ := md.Candle.Close.Float64()

	if !s.inPos {
		volumes := s.buf.volumes()
		if len(volumes) < 21 || open == 0 {
			return nil, nil
		}
		history := volumes[:len(volumes)-1]
		var sum float64
		for _, v := range history {
			sum += v
		}
		avgVol := sum / float64(len(history))
		today := volumes[len(volumes)-1]
		surge := (close - open) / open
		if surge >= s.surgeThresholdPct && avgVol > 0 && today >= avgVol*s.volumeMultiple {
			s.inPos = true
			return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.7, Reason: "KOSDAQ surge ignition",
				SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
		}
		return nil, nil
	}
	if close < open {
		s.inPos = false
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.7, Reason: "first red candle exit",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *kosdaqFireRainStrategy) OnFill(f domain.Fill) error { return nil }
func (s *kosdaqFireRainStrategy) OnPosition(p domain.Position) error {
	s.inPos = !p.QtySigned.IsZero()
	return nil
}
func (s *kosdaqFireRainStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"in_position": s.inPos}
}
func (s *kosdaqFireRainStrategy) Shutdown() error { return nil }

// kospiBothsideStrategy trades both long and short sides of KOSPI blue-chip
// names around an RSI band, long below oversold and short above overbought,
// a market-neutral pair that the adapter's short-selling capability flag
// gates at the risk layer if unsupported.
type kospiBothsideStrategy struct {
	period               int
	oversold, overbought float64
	buf                  *candleBuffer
	side                 domain.Side
	inPos                bool
}

func (s *kospiBothsideStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "kospi-bothside", Version: "1.0", Description: "Market-neutral long/short RSI band on KOSPI names.", Category: strategy.CategoryKR, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *kospiBothsideStrategy) Initialize(config map[string]interface{}) error {
	s.period = paramInt(config, "period", 14)
	s.oversold = paramFloat(config, "oversold", 30)
	s.overbought = paramFloat(config, "overbought", 70)
	s.buf = newCandleBuffer(s.period + 10)
	return nil
}

func (s *kospiBothsideStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	if s.buf.len() < s.period+1 {
		return nil, nil
	}
	rsi := talib.Rsi(s.buf.closes(), s.period)
	last := rsi[len(rsi)-1]
	price := md.Candle.Close
	qty := moneyOf(1)

	if !s.inPos {
		if last <= s.oversold {
			s.inPos, s.side = true, domain.SideBuy
			return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.6, Reason: "bothside long entry",
				SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
		}
		if last >= s.overbought {
			s.inPos, s.side = true, domain.SideSell
			return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalSell, Strength: 0.6, Reason: "bothside short entry",
				SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
		}
		return nil, nil
	}
	if (s.side == domain.SideBuy && last >= 50) || (s.side == domain.SideSell && last <= 50) {
		s.inPos = false
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.6, Reason: "bothside RSI midline exit",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *kospiBothsideStrategy) OnFill(f domain.Fill) error { return nil }
func (s *kospiBothsideStrategy) OnPosition(p domain.Position) error {
	s.inPos = !p.QtySigned.IsZero()
	if p.QtySigned.IsNegative() {
		s.side = domain.SideSell
	} else if s.inPos {
		s.side = domain.SideBuy
	}
	return nil
}
func (s *kospiBothsideStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"in_position": s.inPos, "side": string(s.side)}
}
func (s *kospiBothsideStrategy) Shutdown() error { return nil }

// smallCapQuantStrategy screens small-cap KR names on a composite quant
// score (value-ish proxy via low realized volatility blended with positive
// momentum) and rebalances its sleeve weight monthly.
type smallCapQuantStrategy struct {
	allocationBase
}

func (s *smallCapQuantStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "small-cap-quant", Version: "1.0", Description: "KR small-cap composite quant score sleeve.", Category: strategy.CategoryKR, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *smallCapQuantStrategy) Initialize(config map[string]interface{}) error {
	s.init(paramInt(config, "lookback_months", 6))
	return nil
}

func (s *smallCapQuantStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if !s.onCandle(md) {
		return nil, nil
	}
	closes := s.buf.closes()
	mom := momentumScore(closes)
	vol := annualizedVolatility(closes)
	weight := 0.0
	if mom > 0 && vol > 0 {
		weight = mom / (1 + vol) // low-vol tilt: higher vol damps an otherwise-equal momentum score
	}
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	c, _ := s.buf.last()
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "small-cap composite quant score", c)}, nil
}

func (s *smallCapQuantStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *smallCapQuantStrategy) OnPosition(p domain.Position) error { return nil }
func (s *smallCapQuantStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *smallCapQuantStrategy) Shutdown() error { return nil }

// stockGuganStrategy ("주식 구간", price-band range trading)
// buys near a rolling range's floor and sells near its ceiling, a pure
// mean-reversion play common among KR retail range-bound tickers.
type stockGuganStrategy struct {
	lookback int
	buf      *candleBuffer
	inPos    bool
}

func (s *stockGuganStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "stock-gugan", Version: "1.0", Description: "Rolling range-band mean reversion.", Category: strategy.CategoryKR, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *stockGuganStrategy) Initialize(config map[string]interface{}) error {
	s.lookback = paramInt(config, "lookback_days", 20)
	s.buf = newCandleBuffer(s.lookback + 1)
	return nil
}

func (s *stockGuganStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	if s.buf.len() < s.lookback {
		return nil, nil
	}
	highs := s.buf.highs()
	lows := s.buf.lows()
	rangeHigh, rangeLow := highs[0], lows[0]
	for i := range highs {
		if highs[i] > rangeHigh {
			rangeHigh = highs[i]
		}
		if lows[i] < rangeLow {
			rangeLow = lows[i]
		}
	}
	close, _ := md.Candle.Close.Float64()
	price := md.Candle.Close
	qty := moneyOf(1)
	bandWidth := rangeHigh - rangeLow
	if bandWidth <= 0 {
		return nil, nil
	}

	if !s.inPos && close <= rangeLow+bandWidth*0.1 {
		s.inPos = true
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.5, Reason: "range-band floor touch",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	if s.inPos && close >= rangeHigh-bandWidth*0.1 {
		s.inPos = false
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.5, Reason: "range-band ceiling touch",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *stockGuganStrategy) OnFill(f domain.Fill) error { return nil }
func (s *stockGuganStrategy) OnPosition(p domain.Position) error {
	s.inPos = !p.QtySigned.IsZero()
	return nil
}
func (s *stockGuganStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"in_position": s.inPos}
}
func (s *stockGuganStrategy) Shutdown() error { return nil }
