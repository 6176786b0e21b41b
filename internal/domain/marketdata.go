package domain

import "time"

// MarketDataKind discriminates the MarketData variant.
type MarketDataKind string

const (
	MarketDataTrade       MarketDataKind = "trade"
	MarketDataQuoteTop    MarketDataKind = "quote_top"
	MarketDataCandleClose MarketDataKind = "candle_close"
)

// MarketData is the discriminated union the bus fans out: Trade, QuoteTop
// or CandleClose. Only the fields relevant to Kind are populated.
type MarketData struct {
	Kind   MarketDataKind
	Symbol Symbol

	// Trade fields.
	Price Money
	Size  Money

	// QuoteTop fields.
	Bid Money
	Ask Money

	// CandleClose field.
	Candle Candle

	// VenueTS is venue-reported; RecvTS is the bus's monotonic receive
	// stamp, attached on ingestion regardless of venue clock behavior.
	VenueTS time.Time
	RecvTS  time.Time

	// Seq is the bus-assigned sequence number within this
	// (venue, symbol, channel) stream, used to detect reordering/gaps.
	Seq uint64
}

// NewTrade builds a Trade-kind MarketData.
func NewTrade(symbol Symbol, price, size Money, venueTS time.Time) MarketData {
	return MarketData{Kind: MarketDataTrade, Symbol: symbol, Price: price, Size: size, VenueTS: venueTS}
}

// NewQuoteTop builds a QuoteTop-kind MarketData.
func NewQuoteTop(symbol Symbol, bid, ask Money, venueTS time.Time) MarketData {
	return MarketData{Kind: MarketDataQuoteTop, Symbol: symbol, Bid: bid, Ask: ask, VenueTS: venueTS}
}

// NewCandleClose builds a CandleClose-kind MarketData from a just-closed bar.
func NewCandleClose(candle Candle) MarketData {
	return MarketData{Kind: MarketDataCandleClose, Symbol: candle.Symbol, Candle: candle, VenueTS: candle.OpenTime}
}
