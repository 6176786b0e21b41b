package bus

import (
	"testing"
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/stretchr/testify/require"
)

func testSymbol() domain.Symbol {
	return domain.NewSymbol("BTC", "USD", domain.MarketCrypto)
}

func TestPublishDeliversFIFO(t *testing.T) {
	b := NewBus(nil)
	sym := testSymbol()
	key := Key{Venue: "tradernet", Symbol: sym, Channel: "trade"}
	sub := b.Subscribe(key, SubscribeOptions{})

	b.Publish(key, domain.NewTrade(sym, decimalOf(t, "10"), decimalOf(t, "1"), time.Now()))
	b.Publish(key, domain.NewTrade(sym, decimalOf(t, "11"), decimalOf(t, "1"), time.Now()))

	first := <-sub.C
	second := <-sub.C
	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, uint64(2), second.Seq)
}

func TestOverflowDropsOldestAndEmits(t *testing.T) {
	evBus := events.NewBus()
	dropped := make(chan *events.OverflowData, 1)
	evBus.Subscribe(events.Overflow, func(d events.EventData) {
		dropped <- d.(*events.OverflowData)
	})

	b := NewBus(evBus)
	sym := testSymbol()
	key := Key{Venue: "tradernet", Symbol: sym, Channel: "trade"}
	sub := b.Subscribe(key, SubscribeOptions{QueueDepth: 2})

	for i := 0; i < 5; i++ {
		b.Publish(key, domain.NewTrade(sym, decimalOf(t, "10"), decimalOf(t, "1"), time.Now()))
	}

	require.Equal(t, uint64(3), sub.Dropped())
	b.EmitOverflow(key, sub.Dropped())

	select {
	case d := <-dropped:
		require.Equal(t, uint64(3), d.Dropped)
	case <-time.After(time.Second):
		t.Fatal("expected an Overflow event")
	}
}

func TestCoalesceKeepsOnlyLatest(t *testing.T) {
	b := NewBus(nil)
	sym := testSymbol()
	key := Key{Venue: "tradernet", Symbol: sym, Channel: "top-of-book"}
	sub := b.Subscribe(key, SubscribeOptions{Coalesce: true})

	b.Publish(key, domain.NewQuoteTop(sym, decimalOf(t, "10"), decimalOf(t, "11"), time.Now()))
	b.Publish(key, domain.NewQuoteTop(sym, decimalOf(t, "12"), decimalOf(t, "13"), time.Now()))

	got := <-sub.C
	require.True(t, got.Bid.Equal(decimalOf(t, "12")))

	select {
	case <-sub.C:
		t.Fatal("coalesce mode must not deliver the stale value")
	default:
	}
}

func TestSubscribeUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(nil)
	sym := testSymbol()
	key := Key{Venue: "tradernet", Symbol: sym, Channel: "trade"}
	sub := b.Subscribe(key, SubscribeOptions{})
	sub.Close()

	b.Publish(key, domain.NewTrade(sym, decimalOf(t, "10"), decimalOf(t, "1"), time.Now()))

	select {
	case <-sub.C:
		t.Fatal("closed subscription must not receive further data")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCandleCloseEmittedOnBoundaryCrossing(t *testing.T) {
	b := NewBus(nil)
	sym := testSymbol()
	tradeKey := Key{Venue: "tradernet", Symbol: sym, Channel: "trade"}
	closeKey := Key{Venue: "tradernet", Symbol: sym, Channel: candleChannelPrefix + string(domain.Timeframe1m)}
	closes := b.Subscribe(closeKey, SubscribeOptions{QueueDepth: 4})

	base := time.Date(2026, 7, 30, 10, 0, 30, 0, time.UTC)
	b.Publish(tradeKey, domain.NewTrade(sym, decimalOf(t, "100"), decimalOf(t, "1"), base))
	b.Publish(tradeKey, domain.NewTrade(sym, decimalOf(t, "105"), decimalOf(t, "1"), base.Add(20*time.Second)))
	// Crosses into the next 1m bucket.
	b.Publish(tradeKey, domain.NewTrade(sym, decimalOf(t, "102"), decimalOf(t, "1"), base.Add(45*time.Second)))

	select {
	case md := <-closes.C:
		require.Equal(t, domain.MarketDataCandleClose, md.Kind)
		require.True(t, md.Candle.High.Equal(decimalOf(t, "105")))
		require.True(t, md.Candle.Open.Equal(decimalOf(t, "100")))
	case <-time.After(time.Second):
		t.Fatal("expected a derived CandleClose message")
	}
}

func decimalOf(t *testing.T, s string) domain.Money {
	t.Helper()
	v, err := domain.ParseMoney(s)
	require.NoError(t, err)
	return v
}
