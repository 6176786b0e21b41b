package risk

import "sync"

// CancelFunc cancels a resting order at its venue.
type CancelFunc func(orderID string) error

// pair links two sibling protective orders (a stop-loss and a take-profit)
// guarding the same position: whichever fills first, the gate cancels the
// other. Per the Open Question (a) decision recorded in DESIGN.md, the
// risk gate is the sole owner of this link — no venue-side OCO is assumed.
type pair struct {
	stopOrderID   string
	profitOrderID string
	cancel        CancelFunc
}

// StopSupervisor tracks stop-loss/take-profit sibling pairs and cancels the
// surviving sibling the instant either fills.
type StopSupervisor struct {
	mu    sync.Mutex
	pairs map[string]*pair // keyed by either sibling's order ID
}

// NewStopSupervisor constructs an empty StopSupervisor.
func NewStopSupervisor() *StopSupervisor {
	return &StopSupervisor{pairs: make(map[string]*pair)}
}

// RegisterPair links stopOrderID and profitOrderID as siblings guarding one
// position. cancel is invoked against whichever order does not fill.
func (s *StopSupervisor) RegisterPair(stopOrderID, profitOrderID string, cancel CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &pair{stopOrderID: stopOrderID, profitOrderID: profitOrderID, cancel: cancel}
	s.pairs[stopOrderID] = p
	s.pairs[profitOrderID] = p
}

// OnFill is called by the execution engine when orderID receives its first
// fill. If orderID is half of a registered pair, the sibling is canceled
// and the pair is removed.
func (s *StopSupervisor) OnFill(orderID string) error {
	s.mu.Lock()
	p, ok := s.pairs[orderID]
	if ok {
		delete(s.pairs, p.stopOrderID)
		delete(s.pairs, p.profitOrderID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	sibling := p.profitOrderID
	if orderID == p.profitOrderID {
		sibling = p.stopOrderID
	}
	return p.cancel(sibling)
}

// Unregister removes a pair without canceling anything, e.g. when a
// position is closed by other means.
func (s *StopSupervisor) Unregister(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pairs[orderID]; ok {
		delete(s.pairs, p.stopOrderID)
		delete(s.pairs, p.profitOrderID)
	}
}
