package domain

import "github.com/shopspring/decimal"

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side, used by position averaging and FIFO
// PnL realization to tell an add from a reduce.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signed returns 1 for SideBuy and -1 for SideSell, for signed-quantity math.
func (s Side) Signed() int {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Money is a fixed-scale decimal amount. Currency is associated out-of-band
// with the originating venue/credential rather than carried on the value,
// matching how the adapters already track it.
type Money = decimal.Decimal

// Zero is the canonical zero Money value.
func Zero() Money { return decimal.Zero }

// ParseMoney parses a decimal string, returning NumericOverflow-compatible
// errors via the caller (decimal.NewFromString already fails cleanly on
// malformed input).
func ParseMoney(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// moneyFromInt is a small helper for sign multipliers (+1/-1) used by
// position and PnL math.
func moneyFromInt(i int) Money {
	return decimal.NewFromInt(int64(i))
}
