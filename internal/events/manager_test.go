package events

import "testing"

func TestBusPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	got := make(chan EventData, 1)
	b.Subscribe(StrategyReady, func(d EventData) { got <- d })

	b.Publish(&StrategyReadyData{InstanceID: "s1"})

	select {
	case d := <-got:
		sr, ok := d.(*StrategyReadyData)
		if !ok || sr.InstanceID != "s1" {
			t.Fatalf("unexpected payload: %#v", d)
		}
	default:
		t.Fatalf("expected handler to be called synchronously")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	calls := 0
	unsub := b.Subscribe(RiskBlocked, func(d EventData) { calls++ })
	unsub()
	b.Publish(&RiskBlockedData{StrategyID: "s1"})
	if calls != 0 {
		t.Fatalf("expected no calls after unsubscribe, got %d", calls)
	}
}

func TestBusOnlyDeliversMatchingType(t *testing.T) {
	b := NewBus()
	calls := 0
	b.Subscribe(OrderRejected, func(d EventData) { calls++ })
	b.Publish(&RiskBlockedData{})
	if calls != 0 {
		t.Fatalf("handler for a different EventType must not be called")
	}
}
