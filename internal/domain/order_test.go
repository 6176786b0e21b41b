package domain

import "testing"

func TestOrderTransitionRejectsIllegalEdges(t *testing.T) {
	o := &Order{ID: "o1", State: OrderNew}
	if err := o.Transition(OrderRejected); err == nil {
		t.Fatalf("New -> Rejected is not a legal edge")
	}
	if err := o.Transition(OrderPartiallyFilled); err != nil {
		t.Fatalf("New -> PartiallyFilled should be legal: %v", err)
	}
	if err := o.Transition(OrderFilled); err != nil {
		t.Fatalf("PartiallyFilled -> Filled should be legal: %v", err)
	}
}

func TestOrderTransitionFromTerminalFails(t *testing.T) {
	o := &Order{ID: "o2", State: OrderFilled}
	if err := o.Transition(OrderCanceled); err == nil {
		t.Fatalf("terminal states must reject further transitions")
	}
}

func TestPendingNewToNewOrRejected(t *testing.T) {
	o := &Order{ID: "o3", State: OrderPendingNew}
	if err := o.Transition(OrderNew); err != nil {
		t.Fatalf("PendingNew -> New should be legal: %v", err)
	}
	r := &Order{ID: "o4", State: OrderPendingNew}
	if err := r.Transition(OrderRejected); err != nil {
		t.Fatalf("PendingNew -> Rejected should be legal: %v", err)
	}
}
