package adapter

import (
	"testing"
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

func TestAuthHandleExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h := AuthHandle{ExpiresAt: now.Add(-time.Second)}
	if !h.Expired(now) {
		t.Fatalf("expected expired handle")
	}
	h2 := AuthHandle{ExpiresAt: now.Add(time.Minute)}
	if h2.Expired(now) {
		t.Fatalf("expected non-expired handle")
	}
	h3 := AuthHandle{} // zero ExpiresAt means no expiry tracked
	if h3.Expired(now) {
		t.Fatalf("zero ExpiresAt should never report expired")
	}
}

func TestCandleChannel(t *testing.T) {
	got := CandleChannel(domain.Timeframe1h)
	if got != "candle:1h" {
		t.Fatalf("got %q", got)
	}
}
