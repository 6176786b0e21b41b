package lib

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/strategy"
)

func init() {
	strategy.Register("all-weather", func() strategy.Strategy { return &allWeatherStrategy{} })
	strategy.Register("haa", func() strategy.Strategy { return &haaStrategy{} })
	strategy.Register("xaa", func() strategy.Strategy { return &xaaStrategy{} })
	strategy.Register("simple-power", func() strategy.Strategy { return &simplePowerStrategy{} })
	strategy.Register("market-cap-top", func() strategy.Strategy { return &marketCapTopStrategy{} })
	strategy.Register("baa", func() strategy.Strategy { return &baaStrategy{} })
	strategy.Register("dual-momentum", func() strategy.Strategy { return &dualMomentumStrategy{} })
	strategy.Register("pension-bot", func() strategy.Strategy { return &pensionBotStrategy{} })
}

// annualizedVolatility mirrors the teacher's pkg/formulas.AnnualizedVolatility:
// stddev of daily returns scaled by sqrt(252).
func annualizedVolatility(closes []float64) float64 {
	returns := pctReturns(closes)
	if len(returns) == 0 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(252)
}

func pctReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return out
}

// momentumScore is total return over lookback bars, the common building
// block every monthly allocation model below weighs a candidate asset by.
func momentumScore(closes []float64) float64 {
	if len(closes) < 2 || closes[0] == 0 {
		return 0
	}
	return (closes[len(closes)-1] - closes[0]) / closes[0]
}

// allocationBase holds the shared per-symbol monthly bookkeeping (candle
// buffer + target weight) every allocation-category strategy embeds. It is
// not itself a Strategy; it is the common substrate for the target-weight
// publishing pattern spec §4.5's monthly strategies share: each rebalances
// a single symbol's sleeve toward a weight set by the category's model and
// leaves cross-symbol normalization to the runtime that aggregates weights
// across a MultiAsset strategy's subscribed symbols.
type allocationBase struct {
	buf          *candleBuffer
	targetWeight float64
	lookback     int
}

func (a *allocationBase) init(lookbackMonths int) {
	a.lookback = lookbackMonths
	a.buf = newCandleBuffer(lookbackMonths + 2)
}

func (a *allocationBase) onCandle(md domain.MarketData) bool {
	if md.Kind != domain.MarketDataCandleClose {
		return false
	}
	a.buf.push(md.Candle)
	return a.buf.len() >= a.lookback
}

func (a *allocationBase) rebalanceSignal(symbol domain.Symbol, weight float64, reason string, c domain.Candle) domain.Signal {
	price := c.Close
	qty := moneyOf(weight)
	kind := domain.SignalBuy
	if weight < a.targetWeight {
		kind = domain.SignalSell
	}
	a.targetWeight = weight
	return domain.Signal{Symbol: symbol, Kind: kind, Strength: math.Min(1, math.Abs(weight)), Reason: reason,
		SuggestedPrice: &price, SuggestedQty: &qty, TS: c.OpenTime}
}

// allWeatherStrategy holds a fixed static allocation (Ray Dalio's All
// Weather: stocks/bonds/gold/commodities). It compares only its last
// published target with the configured weight, so it emits at most one
// rebalance signal, once its buffer fills; drift in actual holdings is
// not observed.
type allWeatherStrategy struct {
	allocationBase
	staticWeight float64
	driftBand    float64
}

func (s *allWeatherStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "all-weather", Version: "1.0", Description: "Static risk-parity sleeve with drift rebalancing.", Category: strategy.CategoryAllocation, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *allWeatherStrategy) Initialize(config map[string]interface{}) error {
	s.staticWeight = paramFloat(config, "target_weight", 0.25)
	s.driftBand = paramFloat(config, "drift_band_pct", 0.05)
	s.init(2)
	return nil
}

func (s *allWeatherStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if !s.onCandle(md) {
		return nil, nil
	}
	if math.Abs(s.targetWeight-s.staticWeight) < s.driftBand {
		return nil, nil
	}
	c, _ := s.buf.last()
	return []domain.Signal{s.rebalanceSignal(md.Symbol, s.staticWeight, "all-weather drift rebalance", c)}, nil
}

func (s *allWeatherStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *allWeatherStrategy) OnPosition(p domain.Position) error { return nil }
func (s *allWeatherStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *allWeatherStrategy) Shutdown() error { return nil }

// haaStrategy (Hybrid Asset Allocation) scores this symbol's momentum over
// a configurable lookback and allocates full weight above zero momentum,
// zero otherwise -- the canary-checked, binary in/out structure HAA uses.
type haaStrategy struct {
	allocationBase
}

func (s *haaStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "haa", Version: "1.0", Description: "Hybrid Asset Allocation canary momentum.", Category: strategy.CategoryAllocation, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *haaStrategy) Initialize(config map[string]interface{}) error {
	s.init(paramInt(config, "lookback_months", 12))
	return nil
}

func (s *haaStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
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
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "HAA canary momentum switch", c)}, nil
}

func (s *haaStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *haaStrategy) OnPosition(p domain.Position) error { return nil }
func (s *haaStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *haaStrategy) Shutdown() error { return nil }

// xaaStrategy (eXtended Asset Allocation) is HAA generalized with a
// volatility penalty: momentum score divided by annualized volatility, so
// a symbol with equal momentum but higher vol gets a smaller weight.
type xaaStrategy struct {
	allocationBase
	maxWeight float64
}

func (s *xaaStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "xaa", Version: "1.0", Description: "Volatility-scaled extended asset allocation.", Category: strategy.CategoryAllocation, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *xaaStrategy) Initialize(config map[string]interface{}) error {
	s.init(paramInt(config, "lookback_months", 12))
	s.maxWeight = paramFloat(config, "max_weight", 1.0)
	return nil
}

func (s *xaaStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if !s.onCandle(md) {
		return nil, nil
	}
	closes := s.buf.closes()
	score := momentumScore(closes)
	vol := annualizedVolatility(closes)
	weight := 0.0
	if score > 0 && vol > 0 {
		weight = math.Min(s.maxWeight, score/vol)
	}
	if math.Abs(weight-s.targetWeight) < 0.01 {
		return nil, nil
	}
	c, _ := s.buf.last()
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "XAA volatility-scaled momentum", c)}, nil
}

func (s *xaaStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *xaaStrategy) OnPosition(p domain.Position) error { return nil }
func (s *xaaStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *xaaStrategy) Shutdown() error { return nil }

// simplePowerStrategy scales weight directly with raw momentum strength,
// no canary and no vol penalty -- the simplest "more momentum, more weight"
// power-law rule.
type simplePowerStrategy struct {
	allocationBase
	power float64
}

func (s *simplePowerStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "simple-power", Version: "1.0", Description: "Raw momentum power-law weighting.", Category: strategy.CategoryAllocation, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *simplePowerStrategy) Initialize(config map[string]interface{}) error {
	s.init(paramInt(config, "lookback_months", 6))
	s.power = paramFloat(config, "power", 1.0)
	return nil
}

func (s *simplePowerStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if !s.onCandle(md) {
		return nil, nil
	}
	score := momentumScore(s.buf.closes())
	weight := 0.0
	if score > 0 {
		weight = math.Min(1, math.Pow(score, s.power))
	}
	if math.Abs(weight-s.targetWeight) < 0.01 {
		return nil, nil
	}
	c, _ := s.buf.last()
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "simple power momentum", c)}, nil
}

func (s *simplePowerStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *simplePowerStrategy) OnPosition(p domain.Position) error { return nil }
func (s *simplePowerStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *simplePowerStrategy) Shutdown() error { return nil }

// marketCapTopStrategy assumes the runtime only subscribes this instance to
// symbols that already rank in the configured top-N market-cap bucket, and
// allocates an equal sleeve weight (1/N) among them.
type marketCapTopStrategy struct {
	allocationBase
	topN int
}

func (s *marketCapTopStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "market-cap-top", Version: "1.0", Description: "Equal-weight top market-cap sleeve.", Category: strategy.CategoryAllocation, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *marketCapTopStrategy) Initialize(config map[string]interface{}) error {
	s.topN = paramInt(config, "top_n", 10)
	if s.topN < 1 {
		return domain.NewError(domain.ErrConfigInvalid, "market-cap-top.initialize", "top_n must be >= 1", nil)
	}
	s.init(1)
	return nil
}

func (s *marketCapTopStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if !s.onCandle(md) {
		return nil, nil
	}
	weight := 1.0 / float64(s.topN)
	if math.Abs(weight-s.targetWeight) < 0.001 {
		return nil, nil
	}
	c, _ := s.buf.last()
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "market-cap top-N equal weight", c)}, nil
}

func (s *marketCapTopStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *marketCapTopStrategy) OnPosition(p domain.Position) error { return nil }
func (s *marketCapTopStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *marketCapTopStrategy) Shutdown() error { return nil }

// baaStrategy (Bold Asset Allocation) is HAA's canary plus a defensive-asset
// cutoff: momentum below the configured defensive threshold drops weight to
// zero regardless of sign, a stricter gate than HAA's plain zero-cross.
type baaStrategy struct {
	allocationBase
	defensiveThreshold float64
}

func (s *baaStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "baa", Version: "1.0", Description: "Bold Asset Allocation defensive-threshold momentum.", Category: strategy.CategoryAllocation, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *baaStrategy) Initialize(config map[string]interface{}) error {
	s.init(paramInt(config, "lookback_months", 12))
	s.defensiveThreshold = paramFloat(config, "defensive_threshold_pct", 0.0)
	return nil
}

func (s *baaStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if !s.onCandle(md) {
		return nil, nil
	}
	score := momentumScore(s.buf.closes())
	weight := 0.0
	if score > s.defensiveThreshold {
		weight = 1.0
	}
	if weight == s.targetWeight {
		return nil, nil
	}
	c, _ := s.buf.last()
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "BAA defensive threshold switch", c)}, nil
}

func (s *baaStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *baaStrategy) OnPosition(p domain.Position) error { return nil }
func (s *baaStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *baaStrategy) Shutdown() error { return nil }

// dualMomentumStrategy combines absolute momentum (this symbol vs. its own
// history) with the relative-momentum score published by a companion
// stock-rotation instance; here it scores this symbol's own absolute
// momentum and holds it only when positive, the single-asset half of
// Antonacci's dual momentum.
type dualMomentumStrategy struct {
	allocationBase
}

func (s *dualMomentumStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "dual-momentum", Version: "1.0", Description: "Absolute + relative dual momentum.", Category: strategy.CategoryAllocation, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *dualMomentumStrategy) Initialize(config map[string]interface{}) error {
	s.init(paramInt(config, "lookback_months", 12))
	return nil
}

func (s *dualMomentumStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
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
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "dual momentum absolute filter", c)}, nil
}

func (s *dualMomentumStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *dualMomentumStrategy) OnPosition(p domain.Position) error { return nil }
func (s *dualMomentumStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *dualMomentumStrategy) Shutdown() error { return nil }

// pensionBotStrategy is a conservative glide-path sleeve: a fixed bond-like
// weight with a small momentum tilt, meant to be paired with riskier
// sleeves in a multi-strategy portfolio.
type pensionBotStrategy struct {
	allocationBase
	baseWeight float64
	tiltFactor float64
}

func (s *pensionBotStrategy) Metadata() strategy.Metadata {
	return strategy.Metadata{Tag: "pension-bot", Version: "1.0", Description: "Conservative glide-path sleeve with momentum tilt.", Category: strategy.CategoryAllocation, DeclaredTimeframe: domain.Timeframe1mo, MultiAsset: true}
}

func (s *pensionBotStrategy) Initialize(config map[string]interface{}) error {
	s.init(paramInt(config, "lookback_months", 12))
	s.baseWeight = paramFloat(config, "base_weight", 0.6)
	s.tiltFactor = paramFloat(config, "tilt_factor", 0.1)
	return nil
}

func (s *pensionBotStrategy) OnMarketData(md domain.MarketData) ([]domain.Signal, error) {
	if !s.onCandle(md) {
		return nil, nil
	}
	score := momentumScore(s.buf.closes())
	weight := math.Max(0, math.Min(1, s.baseWeight+score*s.tiltFactor))
	if math.Abs(weight-s.targetWeight) < 0.01 {
		return nil, nil
	}
	c, _ := s.buf.last()
	return []domain.Signal{s.rebalanceSignal(md.Symbol, weight, "pension glide-path momentum tilt", c)}, nil
}

func (s *pensionBotStrategy) OnFill(f domain.Fill) error         { return nil }
func (s *pensionBotStrategy) OnPosition(p domain.Position) error { return nil }
func (s *pensionBotStrategy) StateSnapshot() map[string]interface{} {
	return map[string]interface{}{"target_weight": s.targetWeight}
}
func (s *pensionBotStrategy) Shutdown() error { return nil }
