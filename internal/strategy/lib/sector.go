package lib

import (
	"math"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/strategy"
)

func init() {
	strategy.Register("sector-momentum", func() strategy.Strategy { return &sectorMomentumStrategy{} })
	strategy.Register("sector-vb", func() strategy.Strategy { return &sectorVBStrategy{} })
	strategy.Register("us-3x-leverage", func() strategy.Strategy { return &us3xLeverageStrategy{} })
}

// sectorMomentumStrategy holds one sector ETF and scores it by trailing
// momentum, the per-symbol half of a sector-rotation portfolio.
type sectorMomentumStrategy struct {
	allocationBase
}

func (s *sectorMomentumStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "sector-momentum", Version: "1.0", Description: "Sector ETF momentum rotation sleeve.", Category: strategy.CategorySector, DeclaredTimeframe: domain.Timeframe1d, MultiAsset: true}
}

func (s *sectorMomentumStrategy) Initialize(config map[string]interface{}) error {
	s.init(paramInt(config, "lookback_days", 60))
	return nil
}

func (s *sectorMomentumStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if !s.onCandle(md) {
		return nil, nil
	}
	score := momentumScore(s.buf.closes())
	weight := 0.0
	if score > 0 {
		weight = 1.0
	}
	if weight == s.targetWeight {
		return nil, nil
	}
	c, _ := s.buf.last()
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "sector momentum rotation", c)}, nil
}

func (s *sectorMomentumStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *sectorMomentumStrategy) OnPosition(p domain.Position) error { return nil }
func (s *sectorMomentumStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *sectorMomentumStrategy) Shutdown() error { return nil }

// sectorVBStrategy applies Larry Williams' volatility-breakout entry (see
// volatilityBreakoutStrategy) scoped to a single sector ETF, holding for
// one session rather than a full month.
type sectorVBStrategy struct {
	k       float64
	buf     *candleBuffer
	entered bool
}

func (s *sectorVBStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "sector-vb", Version: "1.0", Description: "Sector ETF volatility breakout.", Category: strategy.CategorySector, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *sectorVBStrategy) Initialize(config map[string]interface{}) error {
	s.k = paramFloat(config, "k", 0.5)
	s.buf = newCandleBuffer(2)
	return nil
}

func (s *sectorVBStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	prev, hasPrev := s.buf.last()
	s.buf.push(md.Candle)
	if !hasPrev {
		return nil, nil
	}
	price := md.Candle.Close
	qty := moneyOf(1)

	if !s.entered {
		prevHigh, _ := prev.High.Float64()
		prevLow, _ := prev.Low.Float64()
		open, _ := md.Candle.Open.Float64()
		high, _ := md.Candle.High.Float64()
		target := open + (prevHigh-prevLow)*s.k
		if high >= target {
			s.entered = true
			return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.6, Reason: "sector breakout target reached",
				SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
		}
		return nil, nil
	}
	s.entered = false
	return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.6, Reason: "sector breakout next-day exit",
		SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
}

func (s *sectorVBStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *sectorVBStrategy) OnPosition(p domain.Position) error { return nil }
func (s *sectorVBStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"entered": s.entered}
}
func (s *sectorVBStrategy) Shutdown() error { return nil }

// us3xLeverageStrategy trades a 3x-leveraged ETF on a trend filter (price
// above a moving average) with a volatility-scaled position size, since
// leveraged products need smaller sizing at a given risk budget than their
// underlying.
type us3xLeverageStrategy struct {
	maPeriod       int
	volTarget      float64
	buf            *candleBuffer
	inPos          bool
}

func (s *us3xLeverageStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "us-3x-leverage", Version: "1.0", Description: "Trend-filtered leveraged ETF with volatility-scaled sizing.", Category: strategy.CategorySector, DeclaredTimeframe: domain.Timeframe1d}
}

func (s *us3xLeverageStrategy) Initialize(config map[string]interface{}) error {
	s.maPeriod = paramInt(config, "ma_period", 50)
	s.volTarget = paramFloat(config, "vol_target", 0.15)
	s.buf = newCandleBuffer(s.maPeriod + 5)
	return nil
}

func (s *us3xLeverageStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if md.Kind != domain.MarketDataCandleClose {
		return nil, nil
	}
	s.buf.push(md.Candle)
	if s.buf.len() < s.maPeriod {
		return nil, nil
	}
	closes := s.buf.closes()
	var sum float64
	for _, c := range closes[len(closes)-s.maPeriod:] {
		sum += c
	}
	ma := sum / float64(s.maPeriod)
	lastClose := closes[len(closes)-1]
	above := lastClose > ma
	price := md.Candle.Close

	if above && !s.inPos {
		vol := annualizedVolatility(closes)
		size := 1.0
		if vol > 0 {
			size = math.Min(1, s.volTarget/vol)
		}
		s.inPos = true
		qty := moneyOf(size)
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalBuy, Strength: 0.5, Reason: "leveraged ETF trend filter entry",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	if !above && s.inPos {
		s.inPos = false
		qty := moneyOf(1)
		return []domain.Signal{{Symbol: md.Symbol, Kind: domain.SignalClose, Strength: 0.5, Reason: "leveraged ETF trend filter exit",
			SuggestedPrice: &price, SuggestedQty: &qty, TS: md.RecvTS}}, nil
	}
	return nil, nil
}

func (s *us3xLeverageStrategy) OnFill(f domain.Fill) error { return nil }
func (s *us3xLeverageStrategy) OnPosition(p domain.Position) error {
	s.inPos = !p.QtySigned.IsZero()
	return nil
}
func (s *us3xLeverageStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"in_position": s.inPos}
}
func (s *us3xLeverageStrategy) Shutdown() error { return nil }
