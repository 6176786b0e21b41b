package domain

import "time"

// lot is one still-open entry fill, consumed oldest-first when an opposite
// side fill reduces the position (FIFO PnL realization per spec §3).
type lot struct {
	qty   Money // always positive
	price Money
}

// Position is the net holdings of a symbol under a credential. Updated on
// every fill: same-side adds update AvgEntryPrice via quantity-weighted
// mean; opposite-side reduces realize PnL against the oldest open lots
// first.
type Position struct {
	CredentialID   string
	Symbol         Symbol
	QtySigned      Money // positive = long, negative = short
	AvgEntryPrice  Money
	RealizedPnL    Money
	UnrealizedPnL  Money
	OpenedAt       time.Time
	LastUpdated    time.Time

	lots []lot
}

// NewPosition returns a flat (zero) position for symbol under credential.
func NewPosition(credentialID string, symbol Symbol) *Position {
	return &Position{
		CredentialID:  credentialID,
		Symbol:        symbol,
		QtySigned:     Zero(),
		AvgEntryPrice: Zero(),
		RealizedPnL:   Zero(),
		UnrealizedPnL: Zero(),
	}
}

// side of the currently held position: SideBuy for long/flat, SideSell for short.
func (p *Position) heldSide() Side {
	if p.QtySigned.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// ApplyFill folds one fill into the position, updating QtySigned,
// AvgEntryPrice and RealizedPnL per the rules in spec §3 and §4.7.
func (p *Position) ApplyFill(f Fill, side Side) {
	now := f.TS
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	p.LastUpdated = now

	flat := p.QtySigned.IsZero()
	sameSide := flat || side == p.heldSide()

	if sameSide {
		p.addLot(f.Qty, f.Price)
	} else {
		p.reduceLots(f.Qty, f.Price)
	}

	delta := f.Qty.Mul(decimalOf(side.Signed()))
	p.QtySigned = p.QtySigned.Add(delta)
	p.recomputeAvg()
}

func (p *Position) addLot(qty, price Money) {
	p.lots = append(p.lots, lot{qty: qty, price: price})
}

// reduceLots consumes qty from the oldest open lots, accumulating realized
// PnL at (exitPrice - lot.price) * consumedQty, sign-adjusted for the side
// being closed.
func (p *Position) reduceLots(qty, exitPrice Money) {
	remaining := qty
	closingLong := p.heldSide() == SideBuy
	i := 0
	for remaining.IsPositive() && i < len(p.lots) {
		l := &p.lots[i]
		consumed := l.qty
		if consumed.GreaterThan(remaining) {
			consumed = remaining
		}
		diff := exitPrice.Sub(l.price)
		if !closingLong {
			diff = diff.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(diff.Mul(consumed))
		l.qty = l.qty.Sub(consumed)
		remaining = remaining.Sub(consumed)
		if l.qty.IsZero() {
			i++
		}
	}
	p.lots = p.lots[i:]
	// remaining > 0 here means the reduce flipped the position to the
	// other side; the leftover becomes a fresh lot at exitPrice.
	if remaining.IsPositive() {
		p.lots = []lot{{qty: remaining, price: exitPrice}}
	}
}

func (p *Position) recomputeAvg() {
	if len(p.lots) == 0 {
		p.AvgEntryPrice = Zero()
		return
	}
	totalQty := Zero()
	weighted := Zero()
	for _, l := range p.lots {
		totalQty = totalQty.Add(l.qty)
		weighted = weighted.Add(l.qty.Mul(l.price))
	}
	if totalQty.IsZero() {
		p.AvgEntryPrice = Zero()
		return
	}
	p.AvgEntryPrice = weighted.Div(totalQty)
}

// MarkToMarket recomputes UnrealizedPnL against the current market price.
func (p *Position) MarkToMarket(currentPrice Money) {
	if p.QtySigned.IsZero() {
		p.UnrealizedPnL = Zero()
		return
	}
	p.UnrealizedPnL = currentPrice.Sub(p.AvgEntryPrice).Mul(p.QtySigned)
}

func decimalOf(i int) Money {
	return moneyFromInt(i)
}
