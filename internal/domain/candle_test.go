package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) Money {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCandleValidInvariants(t *testing.T) {
	sym := NewSymbol("BTC", "USDT", MarketCrypto)
	openTime := Timeframe1h.BucketStart(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	valid := Candle{
		Symbol: sym, Timeframe: Timeframe1h, OpenTime: openTime,
		Open: d("100"), High: d("110"), Low: d("95"), Close: d("105"), Volume: d("10"),
	}
	if !valid.Valid() {
		t.Fatalf("expected valid candle")
	}

	invalidRange := valid
	invalidRange.Low = d("101") // low above open
	if invalidRange.Valid() {
		t.Fatalf("expected invalid: low above open")
	}

	negVolume := valid
	negVolume.Volume = d("-1")
	if negVolume.Valid() {
		t.Fatalf("expected invalid: negative volume")
	}

	misaligned := valid
	misaligned.OpenTime = openTime.Add(5 * time.Minute)
	if misaligned.Valid() {
		t.Fatalf("expected invalid: open_time not bucket-aligned")
	}
}

func TestTimeframeBucketStartMonthly(t *testing.T) {
	got := Timeframe1mo.BucketStart(time.Date(2024, 3, 17, 13, 45, 0, 0, time.UTC))
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestTimeframeBucketStartWeekly(t *testing.T) {
	// Wednesday 2024-01-17 should floor to Monday 2024-01-15.
	got := Timeframe1wk.BucketStart(time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC))
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
