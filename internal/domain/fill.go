package domain

import "time"

// Fill is a partial or full execution of an order, venue-authoritative.
// Fills are append-only per order; for a Filled order, sum(fills.Qty)
// equals that order's Qty.
type Fill struct {
	OrderID string
	Seq     uint64 // venue-reported sequence, used for reconciliation ordering
	Price   Money
	Qty     Money
	Fee     Money
	TS      time.Time
}
