// Package adapter defines the capability set every exchange/broker adapter
// must satisfy, so the strategy runtime, risk gate and execution engine
// never depend on a concrete venue. Concrete adapters live in subpackages
// (tradernet, crypto).
package adapter

import (
	"context"
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

// Channel is a market-data feed a caller can subscribe to.
type Channel string

const (
	ChannelTrade      Channel = "trade"
	ChannelTopOfBook  Channel = "top-of-book"
	ChannelCandlePfx  Channel = "candle:" // e.g. "candle:1m"
)

// CandleChannel builds the channel identifier for a given timeframe.
func CandleChannel(tf domain.Timeframe) Channel {
	return Channel(string(ChannelCandlePfx) + string(tf))
}

// AuthHandle represents a live authenticated session at a venue. Adapters
// that use token expiry refresh transparently behind this handle.
type AuthHandle struct {
	CredentialID string
	ExpiresAt    time.Time
}

// Expired reports whether the handle's token needs a refresh.
func (h AuthHandle) Expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && !now.Before(h.ExpiresAt)
}

// MarketState describes whether a market is currently tradeable.
type MarketState string

const (
	MarketOpen   MarketState = "open"
	MarketClosed MarketState = "closed"
	MarketHalted MarketState = "halted"
)

// MarketStatus is the result of a market_status query.
type MarketStatus struct {
	State   MarketState
	Session string // e.g. "regular", "pre-market", "" when not applicable
}

// Capabilities describes what a venue supports, used by the risk gate and
// execution engine to validate orders before submission.
type Capabilities struct {
	SupportsTestnet        bool
	RequiredCredentialKeys []string
	SupportedTimeframes    []domain.Timeframe
	OrderTypes             []domain.OrderType
	MinimumQty             domain.Money
}

// TickSizeFn returns the minimum price increment for a symbol; adapters
// that don't know a tick size up front may return zero.
type TickSizeFn func(symbol domain.Symbol) domain.Money

// OrderIntent is what the execution engine asks an adapter to place. It
// carries the idempotency key computed by the execution engine.
type OrderIntent struct {
	ClientID     string
	StrategyID   string
	CredentialID string
	Symbol       domain.Symbol
	Side         domain.Side
	Type         domain.OrderType
	Qty          domain.Money
	Price        *domain.Money
	StopPrice    *domain.Money
	TIF          domain.TimeInForce
}

// AmendRequest describes a price/qty change to a resting order.
type AmendRequest struct {
	OrderID  string
	NewPrice *domain.Money
	NewQty   *domain.Money
}

// Venue is the uniform capability set every adapter implements. Methods
// that hit the network take a context and must honor its deadline —
// outbound venue calls have a mandatory timeout per spec §5.
type Venue interface {
	Name() string

	Authenticate(ctx context.Context, cred domain.Credential) (AuthHandle, error)

	// Subscribe opens a restartable stream of MarketData for the given
	// symbols/channels. On reconnection after a gap, the adapter emits a
	// Resynced marker on the returned channel before resuming data so
	// subscribers can reset their state.
	Subscribe(ctx context.Context, symbols []domain.Symbol, channels []Channel) (<-chan StreamEvent, error)

	Place(ctx context.Context, intent OrderIntent) (domain.Order, error)
	Cancel(ctx context.Context, credentialID, orderID string) error
	Amend(ctx context.Context, credentialID string, req AmendRequest) (domain.Order, error)

	FetchPositions(ctx context.Context, credentialID string) ([]domain.Position, error)
	FetchFillsSince(ctx context.Context, credentialID string, sinceSeq uint64) ([]domain.Fill, error)

	MarketStatus(ctx context.Context, market domain.Market) (MarketStatus, error)
	HolidayCalendar(ctx context.Context, market domain.Market) ([]time.Time, error)

	Capabilities() Capabilities
	TickSize(symbol domain.Symbol) domain.Money

	// Close releases the adapter's connection(s). Idempotent.
	Close() error
}

// StreamEventKind discriminates what Subscribe delivers on its channel.
type StreamEventKind string

const (
	StreamEventData     StreamEventKind = "data"
	StreamEventResynced StreamEventKind = "resynced"
	StreamEventError    StreamEventKind = "error"
)

// StreamEvent is one item on a Venue's subscription stream.
type StreamEvent struct {
	Kind StreamEventKind
	Data domain.MarketData
	Err  error
}
