package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/ingest"
	sentineltesting "github.com/aristath/sentinel/internal/testing"
)

func TestFeed_ForwardsTradesToMarketBus(t *testing.T) {
	symbol := sentineltesting.NewSymbolFixtures()[0]

	venue := sentineltesting.NewMockVenue("mock")
	streamCh := make(chan adapter.StreamEvent, 1)
	venue.SubscribeFn = func(ctx context.Context, symbols []domain.Symbol, channels []adapter.Channel) (<-chan adapter.StreamEvent, error) {
		return streamCh, nil
	}

	marketBus := bus.NewBus(events.NewBus())
	sub := marketBus.Subscribe(bus.Key{Venue: "mock", Symbol: symbol, Channel: string(adapter.ChannelTrade)}, bus.SubscribeOptions{})
	defer sub.Close()

	feed := ingest.NewFeed(venue, marketBus, []domain.Symbol{symbol}, []adapter.Channel{adapter.ChannelTrade}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	trade := domain.NewTrade(symbol, domain.Zero(), domain.Zero(), time.Now())
	streamCh <- adapter.StreamEvent{Kind: adapter.StreamEventData, Data: trade}

	select {
	case md := <-sub.C:
		if md.Symbol != symbol {
			t.Fatalf("expected symbol %v, got %v", symbol, md.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded trade")
	}
}
