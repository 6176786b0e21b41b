package testing

import (
	"strconv"
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

// NewSymbolFixtures returns a set of symbols spanning every Market the
// engine trades, for tests that need realistic cross-venue data.
func NewSymbolFixtures() []domain.Symbol {
	return []domain.Symbol{
		domain.NewSymbol("BTC", "USD", domain.MarketCrypto),
		domain.NewSymbol("ETH", "USD", domain.MarketCrypto),
		domain.NewSymbol("005930", "KRW", domain.MarketKRKOSPI), // Samsung Electronics
		domain.NewSymbol("035720", "KRW", domain.MarketKRKOSDAQ), // Kakao
		domain.NewSymbol("AAPL", "USD", domain.MarketUS),
	}
}

// NewCandleFixtures returns a short, internally-consistent 1h candle series
// for symbol starting at start, each bar a fixed step above the last.
func NewCandleFixtures(symbol domain.Symbol, start time.Time, count int) []domain.Candle {
	tf := domain.Timeframe1h
	out := make([]domain.Candle, 0, count)
	base := 100.0
	for i := 0; i < count; i++ {
		openTime := tf.BucketStart(start.Add(time.Duration(i) * time.Hour))
		o := base + float64(i)
		h := o + 1.5
		l := o - 1.0
		c := o + 0.5
		out = append(out, domain.Candle{
			Symbol: symbol, Timeframe: tf, OpenTime: openTime,
			Open: money(o), High: money(h), Low: money(l), Close: money(c), Volume: money(1000 + float64(i)*10),
		})
	}
	return out
}

// NewSignalFixture returns a clean Buy signal for symbol, suitable as a
// baseline a test then mutates.
func NewSignalFixture(symbol domain.Symbol) domain.Signal {
	price := money(100)
	qty := money(1)
	return domain.Signal{
		Symbol: symbol, Kind: domain.SignalBuy, Strength: 0.75, Reason: "fixture",
		SuggestedPrice: &price, SuggestedQty: &qty, TS: time.Now(), StrategyID: "fixture-strategy",
	}
}

// NewOrderFixture returns a PendingNew order ready to be transitioned by a
// test exercising the order state machine.
func NewOrderFixture(symbol domain.Symbol) domain.Order {
	now := time.Now()
	return domain.Order{
		ID: "order-fixture-1", ClientID: "client-fixture-1", StrategyID: "fixture-strategy",
		CredentialID: "cred-fixture-1", Symbol: symbol, Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Qty: money(1), TIF: domain.TIFGTC, State: domain.OrderPendingNew, CreatedAt: now, UpdatedAt: now,
	}
}

// NewFillFixture returns a Fill for orderID at price/qty, sequenced seq.
func NewFillFixture(orderID string, seq uint64, price, qty float64) domain.Fill {
	return domain.Fill{OrderID: orderID, Seq: seq, Price: money(price), Qty: money(qty), Fee: money(0), TS: time.Now()}
}

// NewCredentialFixture returns a testnet Credential for venue with api_key
// and api_secret set to placeholder values, for store round-trip tests.
func NewCredentialFixture(id, venue string) domain.Credential {
	return domain.Credential{
		ID: id, Venue: venue, Testnet: true,
		Fields: map[string]string{"api_key": "fixture-key", "api_secret": "fixture-secret"},
	}
}

func money(f float64) domain.Money {
	v, err := domain.ParseMoney(strconv.FormatFloat(f, 'f', -1, 64))
	if err != nil {
		panic(err) // fixtures are constants; a parse failure here is a bug in the fixture itself
	}
	return v
}
