// Package ingest bridges one adapter.Venue's Subscribe stream into the
// market-data bus, the single-producer side of spec §4.3's
// single-producer-per-venue fan-out. Grounded on the teacher's
// internal/clients/tradernet tickStream -> internal/events.Manager.Emit
// forwarding loop (one goroutine per venue connection reading typed
// events off a channel and republishing them through the shared bus),
// generalized from a single broker's bespoke transform to the uniform
// adapter.Venue/bus.Bus boundary.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/domain"
)

// restartDelay is how long Run waits before resubscribing after the
// venue's stream ends (closed channel or context still live).
const restartDelay = 2 * time.Second

// Feed owns one venue's long-lived Subscribe stream and forwards every
// StreamEvent onto marketBus, keyed by (venue, symbol, channel).
type Feed struct {
	venue     adapter.Venue
	marketBus *bus.Bus
	symbols   []domain.Symbol
	channels  []adapter.Channel
	log       zerolog.Logger
}

// NewFeed constructs a Feed for one venue subscribing to symbols across
// channels. channels should include every timeframe the engine's
// strategies and the candle-close derivation in internal/bus need.
func NewFeed(venue adapter.Venue, marketBus *bus.Bus, symbols []domain.Symbol, channels []adapter.Channel, log zerolog.Logger) *Feed {
	return &Feed{
		venue:     venue,
		marketBus: marketBus,
		symbols:   symbols,
		channels:  channels,
		log:       log.With().Str("component", "ingest").Str("venue", venue.Name()).Logger(),
	}
}

// Run subscribes to the venue and forwards events until ctx is canceled,
// resubscribing after a restartDelay if the stream ends early (a
// disconnect the adapter itself didn't retry internally).
func (f *Feed) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := f.runOnce(ctx); err != nil {
			f.log.Warn().Err(err).Msg("ingest stream ended, will resubscribe")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func (f *Feed) runOnce(ctx context.Context) error {
	stream, err := f.venue.Subscribe(ctx, f.symbols, f.channels)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			f.handle(evt)
		}
	}
}

func (f *Feed) handle(evt adapter.StreamEvent) {
	switch evt.Kind {
	case adapter.StreamEventData:
		key := bus.Key{Venue: f.venue.Name(), Symbol: evt.Data.Symbol, Channel: string(channelOf(evt.Data))}
		f.marketBus.Publish(key, evt.Data)
	case adapter.StreamEventResynced:
		for _, sym := range f.symbols {
			f.marketBus.EmitResynced(bus.Key{Venue: f.venue.Name(), Symbol: sym})
		}
	case adapter.StreamEventError:
		f.log.Error().Err(evt.Err).Msg("venue stream error")
	}
}

// channelOf recovers the bus channel a MarketData item was published
// under from its Kind, mirroring adapter.CandleChannel for closes.
func channelOf(md domain.MarketData) adapter.Channel {
	switch md.Kind {
	case domain.MarketDataTrade:
		return adapter.ChannelTrade
	case domain.MarketDataQuoteTop:
		return adapter.ChannelTopOfBook
	case domain.MarketDataCandleClose:
		return adapter.CandleChannel(md.Candle.Timeframe)
	default:
		return adapter.ChannelTrade
	}
}
