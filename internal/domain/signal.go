package domain

import "time"

// SignalKind is the advisory action a strategy proposes.
type SignalKind string

const (
	SignalBuy   SignalKind = "Buy"
	SignalSell  SignalKind = "Sell"
	SignalClose SignalKind = "Close"
)

// Signal is a strategy's advisory output. It is not itself an order; the
// risk gate decides whether it becomes one.
type Signal struct {
	Symbol           Symbol
	Kind             SignalKind
	Strength         float64 // in [0, 1]
	Reason           string
	SuggestedPrice   *Money
	SuggestedQty     *Money
	TS               time.Time
	StrategyID       string
}

// Valid reports whether Strength is within the documented [0, 1] range.
func (s Signal) Valid() bool {
	return s.Strength >= 0 && s.Strength <= 1
}
