package testing

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
)

// MockVenue is a scriptable adapter.Venue for strategy, risk and execution
// tests that need a fake exchange without a network round-trip. Callers
// set the *Fn fields they care about; unset ones return zero values.
type MockVenue struct {
	mu sync.Mutex

	VenueName string

	AuthenticateFn    func(ctx context.Context, cred domain.Credential) (adapter.AuthHandle, error)
	SubscribeFn       func(ctx context.Context, symbols []domain.Symbol, channels []adapter.Channel) (<-chan adapter.StreamEvent, error)
	PlaceFn           func(ctx context.Context, intent adapter.OrderIntent) (domain.Order, error)
	CancelFn          func(ctx context.Context, credentialID, orderID string) error
	AmendFn           func(ctx context.Context, credentialID string, req adapter.AmendRequest) (domain.Order, error)
	FetchPositionsFn  func(ctx context.Context, credentialID string) ([]domain.Position, error)
	FetchFillsSinceFn func(ctx context.Context, credentialID string, sinceSeq uint64) ([]domain.Fill, error)
	MarketStatusFn    func(ctx context.Context, market domain.Market) (adapter.MarketStatus, error)
	HolidayCalendarFn func(ctx context.Context, market domain.Market) ([]time.Time, error)
	CapabilitiesFn    func() adapter.Capabilities
	TickSizeFn        func(symbol domain.Symbol) domain.Money

	PlaceCalls  int
	CancelCalls []string
	Closed      bool
}

// NewMockVenue returns a MockVenue named name. MarketStatusFn defaults to
// always-open and Place defaults to accepting every order as New, since
// that's the common case most tests want without boilerplate.
func NewMockVenue(name string) *MockVenue {
	return &MockVenue{
		VenueName: name,
		MarketStatusFn: func(ctx context.Context, market domain.Market) (adapter.MarketStatus, error) {
			return adapter.MarketStatus{State: adapter.MarketOpen}, nil
		},
		PlaceFn: func(ctx context.Context, intent adapter.OrderIntent) (domain.Order, error) {
			now := time.Now()
			return domain.Order{
				ID: intent.ClientID, ClientID: intent.ClientID, StrategyID: intent.StrategyID,
				CredentialID: intent.CredentialID, Symbol: intent.Symbol, Side: intent.Side, Type: intent.Type,
				Qty: intent.Qty, Price: intent.Price, StopPrice: intent.StopPrice, TIF: intent.TIF,
				State: domain.OrderNew, CreatedAt: now, UpdatedAt: now,
			}, nil
		},
	}
}

func (m *MockVenue) Name() string { return m.VenueName }

func (m *MockVenue) Authenticate(ctx context.Context, cred domain.Credential) (adapter.AuthHandle, error) {
	if m.AuthenticateFn != nil {
		return m.AuthenticateFn(ctx, cred)
	}
	return adapter.AuthHandle{CredentialID: cred.ID}, nil
}

func (m *MockVenue) Subscribe(ctx context.Context, symbols []domain.Symbol, channels []adapter.Channel) (<-chan adapter.StreamEvent, error) {
	if m.SubscribeFn != nil {
		return m.SubscribeFn(ctx, symbols, channels)
	}
	ch := make(chan adapter.StreamEvent)
	close(ch)
	return ch, nil
}

func (m *MockVenue) Place(ctx context.Context, intent adapter.OrderIntent) (domain.Order, error) {
	m.mu.Lock()
	m.PlaceCalls++
	m.mu.Unlock()
	if m.PlaceFn != nil {
		return m.PlaceFn(ctx, intent)
	}
	return domain.Order{}, nil
}

func (m *MockVenue) Cancel(ctx context.Context, credentialID, orderID string) error {
	m.mu.Lock()
	m.CancelCalls = append(m.CancelCalls, orderID)
	m.mu.Unlock()
	if m.CancelFn != nil {
		return m.CancelFn(ctx, credentialID, orderID)
	}
	return nil
}

func (m *MockVenue) Amend(ctx context.Context, credentialID string, req adapter.AmendRequest) (domain.Order, error) {
	if m.AmendFn != nil {
		return m.AmendFn(ctx, credentialID, req)
	}
	return domain.Order{}, nil
}

func (m *MockVenue) FetchPositions(ctx context.Context, credentialID string) ([]domain.Position, error) {
	if m.FetchPositionsFn != nil {
		return m.FetchPositionsFn(ctx, credentialID)
	}
	return nil, nil
}

func (m *MockVenue) FetchFillsSince(ctx context.Context, credentialID string, sinceSeq uint64) ([]domain.Fill, error) {
	if m.FetchFillsSinceFn != nil {
		return m.FetchFillsSinceFn(ctx, credentialID, sinceSeq)
	}
	return nil, nil
}

func (m *MockVenue) MarketStatus(ctx context.Context, market domain.Market) (adapter.MarketStatus, error) {
	if m.MarketStatusFn != nil {
		return m.MarketStatusFn(ctx, market)
	}
	return adapter.MarketStatus{}, nil
}

func (m *MockVenue) HolidayCalendar(ctx context.Context, market domain.Market) ([]time.Time, error) {
	if m.HolidayCalendarFn != nil {
		return m.HolidayCalendarFn(ctx, market)
	}
	return nil, nil
}

func (m *MockVenue) Capabilities() adapter.Capabilities {
	if m.CapabilitiesFn != nil {
		return m.CapabilitiesFn()
	}
	return adapter.Capabilities{}
}

func (m *MockVenue) TickSize(symbol domain.Symbol) domain.Money {
	if m.TickSizeFn != nil {
		return m.TickSizeFn(symbol)
	}
	return domain.Zero()
}

func (m *MockVenue) Close() error {
	m.Closed = true
	return nil
}

// MockOhlcvStore is an in-memory store.OhlcvStore for strategy and
// back-test tests that need a symbol's candle history without a database.
type MockOhlcvStore struct {
	mu      sync.Mutex
	candles map[string][]domain.Candle
}

// NewMockOhlcvStore returns an empty MockOhlcvStore.
func NewMockOhlcvStore() *MockOhlcvStore {
	return &MockOhlcvStore{candles: make(map[string][]domain.Candle)}
}

func ohlcvKey(symbol domain.Symbol, tf domain.Timeframe) string {
	return symbol.String() + "|" + string(tf)
}

// Seed preloads candles for later Candles calls to return.
func (s *MockOhlcvStore) Seed(symbol domain.Symbol, tf domain.Timeframe, candles []domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[ohlcvKey(symbol, tf)] = candles
}

func (s *MockOhlcvStore) UpsertCandle(ctx context.Context, c domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ohlcvKey(c.Symbol, c.Timeframe)
	s.candles[key] = append(s.candles[key], c)
	return nil
}

func (s *MockOhlcvStore) Candles(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, from, to int64) ([]domain.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Candle
	for _, c := range s.candles[ohlcvKey(symbol, tf)] {
		if c.OpenTime.Unix() >= from && c.OpenTime.Unix() <= to {
			out = append(out, c)
		}
	}
	return out, nil
}
