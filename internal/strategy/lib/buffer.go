// Package lib holds the concrete strategy tags from spec §4.5. Each file
// groups one category (realtime, daily, allocation, sector, kr) and
// registers its tags via strategy.Register in an init(). Indicator math is
// grounded on the teacher's pkg/formulas package (CalculateRSI,
// CalculateBollingerBands, AnnualizedVolatility), generalized from a
// one-shot float64 slice call to a per-symbol rolling buffer fed by
// OnMarketData candle closes.
package lib

import (
	"strconv"

	"github.com/aristath/sentinel/internal/domain"
)

// candleBuffer accumulates closed candles for one symbol up to a capacity,
// the rolling window every indicator-based strategy below reads from.
type candleBuffer struct {
	capacity int
	candles  []domain.Candle
}

func newCandleBuffer(capacity int) *candleBuffer {
	return &candleBuffer{capacity: capacity}
}

func (b *candleBuffer) push(c domain.Candle) {
	b.candles = append(b.candles, c)
	if len(b.candles) > b.capacity {
		b.candles = b.candles[len(b.candles)-b.capacity:]
	}
}

func (b *candleBuffer) closes() []float64 {
	out := make([]float64, len(b.candles))
	for i, c := range b.candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}

func (b *candleBuffer) highs() []float64 {
	out := make([]float64, len(b.candles))
	for i, c := range b.candles {
		out[i], _ = c.High.Float64()
	}
	return out
}

func (b *candleBuffer) lows() []float64 {
	out := make([]float64, len(b.candles))
	for i, c := range b.candles {
		out[i], _ = c.Low.Float64()
	}
	return out
}

func (b *candleBuffer) volumes() []float64 {
	out := make([]float64, len(b.candles))
	for i, c := range b.candles {
		out[i], _ = c.Volume.Float64()
	}
	return out
}

func (b *candleBuffer) last() (domain.Candle, bool) {
	if len(b.candles) == 0 {
		return domain.Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

func (b *candleBuffer) len() int { return len(b.candles) }

func moneyOf(f float64) domain.Money {
	v, _ := domain.ParseMoney(strconv.FormatFloat(f, 'f', -1, 64))
	return v
}

func paramFloat(config map[string]interface{}, key string, def float64) float64 {
	v, ok := config[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func paramInt(config map[string]interface{}, key string, def int) int {
	v, ok := config[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func paramBool(config map[string]interface{}, key string, def bool) bool {
	v, ok := config[key]
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}
