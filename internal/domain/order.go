package domain

import (
	"fmt"
	"time"
)

// OrderType is the execution style requested for an order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "Market"
	OrderTypeLimit      OrderType = "Limit"
	OrderTypeStopLoss   OrderType = "StopLoss"
	OrderTypeTakeProfit OrderType = "TakeProfit"
)

// TimeInForce controls how long an order stays live at the venue.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFDay TimeInForce = "DAY"
)

// OrderState is a node in the order lifecycle state machine:
// PendingNew -> New -> (PartiallyFilled*) -> Filled | Canceled | Rejected | Expired.
type OrderState string

const (
	OrderPendingNew       OrderState = "PendingNew"
	OrderNew              OrderState = "New"
	OrderPartiallyFilled  OrderState = "PartiallyFilled"
	OrderFilled           OrderState = "Filled"
	OrderCanceled         OrderState = "Canceled"
	OrderRejected         OrderState = "Rejected"
	OrderExpired          OrderState = "Expired"
)

// terminal states an order cannot leave once reached.
var terminalStates = map[OrderState]bool{
	OrderFilled:   true,
	OrderCanceled: true,
	OrderRejected: true,
	OrderExpired:  true,
}

// IsTerminal reports whether s is a terminal order state.
func (s OrderState) IsTerminal() bool { return terminalStates[s] }

// validTransitions enumerates the order state machine's legal edges.
var validTransitions = map[OrderState]map[OrderState]bool{
	OrderPendingNew: {
		OrderNew:      true,
		OrderRejected: true,
	},
	OrderNew: {
		OrderPartiallyFilled: true,
		OrderFilled:          true,
		OrderCanceled:        true,
		OrderExpired:         true,
	},
	OrderPartiallyFilled: {
		OrderPartiallyFilled: true,
		OrderFilled:          true,
		OrderCanceled:        true,
		OrderExpired:         true,
	},
}

// CanTransition reports whether from -> to is a legal edge in the order
// state machine.
func CanTransition(from, to OrderState) bool {
	return validTransitions[from][to]
}

// Order is a concrete venue-bound instruction with a lifecycle. ClientID is
// the idempotency key used to deduplicate submissions: at most one Order
// exists in the OrderStore per ClientID.
type Order struct {
	ID           string
	ClientID     string
	StrategyID   string
	CredentialID string
	Symbol       Symbol
	Side         Side
	Type         OrderType
	Qty          Money
	Price        *Money
	StopPrice    *Money
	TIF          TimeInForce
	State        OrderState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transition moves the order to newState, returning an error if the edge is
// illegal. Callers must hold whatever per-(credential,symbol) lock guards
// the order's ledger entry.
func (o *Order) Transition(newState OrderState) error {
	if o.State.IsTerminal() {
		return NewError(ErrInvalidRequest, "order.transition",
			fmt.Sprintf("order %s already in terminal state %s", o.ID, o.State), nil)
	}
	if !CanTransition(o.State, newState) {
		return NewError(ErrInvalidRequest, "order.transition",
			fmt.Sprintf("illegal transition %s -> %s for order %s", o.State, newState, o.ID), nil)
	}
	o.State = newState
	o.UpdatedAt = time.Now()
	return nil
}
