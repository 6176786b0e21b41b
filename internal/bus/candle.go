package bus

import (
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

// candleKey identifies one in-progress candle aggregation: a venue's
// trade channel for one symbol at one timeframe.
type candleKey struct {
	Venue     string
	Symbol    domain.Symbol
	Timeframe domain.Timeframe
}

// candleBuilder accumulates trades into the current bucket and detects
// boundary crossings so the bus can emit a derived CandleClose message.
type candleBuilder struct {
	openTime int64 // unix seconds of the current bucket's open_time
	open     domain.Money
	high     domain.Money
	low      domain.Money
	close    domain.Money
	volume   domain.Money
	hasTrade bool
}

// candleChannelPrefix mirrors adapter.ChannelCandlePfx without importing
// the adapter package, which would create an import cycle (adapters
// publish onto a *Bus).
const candleChannelPrefix = "candle:"

// Timeframes derived automatically for every trade channel. Real-time
// strategies subscribe to the raw trade channel directly; these derived
// 1m/1h/1d candles serve candle-based strategies without each one
// re-aggregating. No weekly or monthly candles are derived.
var derivedTimeframes = []domain.Timeframe{
	domain.Timeframe1m,
	domain.Timeframe1h,
	domain.Timeframe1d,
}

// maybeEmitCandleClose folds trade messages into per-timeframe bucket
// builders and publishes a CandleClose MarketData the instant a trade's
// venue timestamp falls in a later bucket than the one being built,
// matching spec §4.3's "derived CandleClose events at timeframe boundary
// crossings" requirement.
func (b *Bus) maybeEmitCandleClose(key Key, md domain.MarketData) {
	if md.Kind != domain.MarketDataTrade {
		return
	}

	for _, tf := range derivedTimeframes {
		ck := candleKey{Venue: key.Venue, Symbol: key.Symbol, Timeframe: tf}
		bucketStart := tf.BucketStart(md.VenueTS).Unix()

		b.candleMu.Lock()
		builder, ok := b.builders[ck]
		if !ok {
			builder = &candleBuilder{}
			b.builders[ck] = builder
		}

		var toClose *domain.Candle
		switch {
		case !builder.hasTrade:
			builder.reset(bucketStart, md.Price)
			builder.fold(md.Price, md.Size)
		case bucketStart != builder.openTime:
			closed := builder.toCandle(key.Symbol, tf)
			toClose = &closed
			builder.reset(bucketStart, md.Price)
			builder.fold(md.Price, md.Size)
		default:
			builder.fold(md.Price, md.Size)
		}
		b.candleMu.Unlock()

		if toClose != nil {
			closeKey := Key{Venue: key.Venue, Symbol: key.Symbol, Channel: candleChannelPrefix + string(tf)}
			b.Publish(closeKey, domain.NewCandleClose(*toClose))
		}
	}
}

func (c *candleBuilder) reset(openTime int64, price domain.Money) {
	c.openTime = openTime
	c.open = price
	c.high = price
	c.low = price
	c.close = price
	c.volume = domain.Zero()
	c.hasTrade = true
}

func (c *candleBuilder) fold(price, size domain.Money) {
	if price.GreaterThan(c.high) {
		c.high = price
	}
	if price.LessThan(c.low) {
		c.low = price
	}
	c.close = price
	c.volume = c.volume.Add(size)
}

func (c *candleBuilder) toCandle(sym domain.Symbol, tf domain.Timeframe) domain.Candle {
	return domain.Candle{
		Symbol:    sym,
		Timeframe: tf,
		OpenTime:  time.Unix(c.openTime, 0).UTC(),
		Open:      c.open,
		High:      c.high,
		Low:       c.low,
		Close:     c.close,
		Volume:    c.volume,
	}
}
