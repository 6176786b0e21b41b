package domain

import (
	"testing"
	"time"
)

func TestPositionSameSideAddsWeightedAverage(t *testing.T) {
	sym := NewSymbol("BTC", "USDT", MarketCrypto)
	p := NewPosition("cred1", sym)

	p.ApplyFill(Fill{OrderID: "o1", Qty: d("1"), Price: d("100"), TS: time.Now()}, SideBuy)
	p.ApplyFill(Fill{OrderID: "o2", Qty: d("1"), Price: d("200"), TS: time.Now()}, SideBuy)

	if !p.QtySigned.Equal(d("2")) {
		t.Fatalf("expected qty_signed=2, got %s", p.QtySigned)
	}
	if !p.AvgEntryPrice.Equal(d("150")) {
		t.Fatalf("expected avg_entry_price=150, got %s", p.AvgEntryPrice)
	}
}

func TestPositionOppositeSideReduceRealizesFIFOAndPnL(t *testing.T) {
	sym := NewSymbol("BTC", "USDT", MarketCrypto)
	p := NewPosition("cred1", sym)

	// Two buy lots: 1@100, 1@200. Then sell 1 at 250 -> consumes oldest
	// lot (100) first, realizing (250-100)*1 = 150.
	p.ApplyFill(Fill{OrderID: "o1", Qty: d("1"), Price: d("100"), TS: time.Now()}, SideBuy)
	p.ApplyFill(Fill{OrderID: "o2", Qty: d("1"), Price: d("200"), TS: time.Now()}, SideBuy)
	p.ApplyFill(Fill{OrderID: "o3", Qty: d("1"), Price: d("250"), TS: time.Now()}, SideSell)

	if !p.RealizedPnL.Equal(d("150")) {
		t.Fatalf("expected realized_pnl=150 (FIFO against oldest lot), got %s", p.RealizedPnL)
	}
	if !p.QtySigned.Equal(d("1")) {
		t.Fatalf("expected qty_signed=1 remaining, got %s", p.QtySigned)
	}
	if !p.AvgEntryPrice.Equal(d("200")) {
		t.Fatalf("expected remaining lot avg price=200, got %s", p.AvgEntryPrice)
	}
}

func TestPositionFlipSideStartsFreshLot(t *testing.T) {
	sym := NewSymbol("BTC", "USDT", MarketCrypto)
	p := NewPosition("cred1", sym)

	p.ApplyFill(Fill{OrderID: "o1", Qty: d("1"), Price: d("100"), TS: time.Now()}, SideBuy)
	// Sell 2: closes the long (realizing 50) and opens a short of 1 at 150.
	p.ApplyFill(Fill{OrderID: "o2", Qty: d("2"), Price: d("150"), TS: time.Now()}, SideSell)

	if !p.QtySigned.Equal(d("-1")) {
		t.Fatalf("expected qty_signed=-1 after flip, got %s", p.QtySigned)
	}
	if !p.RealizedPnL.Equal(d("50")) {
		t.Fatalf("expected realized_pnl=50, got %s", p.RealizedPnL)
	}
}

func TestPositionQtySignedMatchesSumOfSignedFills(t *testing.T) {
	sym := NewSymbol("ETH", "USDT", MarketCrypto)
	p := NewPosition("cred1", sym)
	fills := []struct {
		qty  string
		side Side
	}{
		{"3", SideBuy}, {"1", SideSell}, {"2", SideBuy}, {"4", SideSell},
	}
	expect := Zero()
	for _, f := range fills {
		p.ApplyFill(Fill{OrderID: "o", Qty: d(f.qty), Price: d("10"), TS: time.Now()}, f.side)
		signed := d(f.qty)
		if f.side == SideSell {
			signed = signed.Neg()
		}
		expect = expect.Add(signed)
	}
	if !p.QtySigned.Equal(expect) {
		t.Fatalf("qty_signed invariant violated: got %s want %s", p.QtySigned, expect)
	}
}
