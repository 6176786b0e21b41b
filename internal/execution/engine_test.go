package execution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/errtracker"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/risk"
)

type fakeVenue struct {
	name       string
	placeCalls int
	placeFn    func(intent adapter.OrderIntent) (domain.Order, error)
	canceled   []string
}

func (v *fakeVenue) Name() string { return v.name }
func (v *fakeVenue) Authenticate(ctx context.Context, cred domain.Credential) (adapter.AuthHandle, error) {
	return adapter.AuthHandle{}, nil
}
func (v *fakeVenue) Subscribe(ctx context.Context, symbols []domain.Symbol, channels []adapter.Channel) (<-chan adapter.StreamEvent, error) {
	return nil, nil
}
func (v *fakeVenue) Place(ctx context.Context, intent adapter.OrderIntent) (domain.Order, error) {
	v.placeCalls++
	return v.placeFn(intent)
}
func (v *fakeVenue) Cancel(ctx context.Context, credentialID, orderID string) error {
	v.canceled = append(v.canceled, orderID)
	return nil
}
func (v *fakeVenue) Amend(ctx context.Context, credentialID string, req adapter.AmendRequest) (domain.Order, error) {
	return domain.Order{}, nil
}
func (v *fakeVenue) FetchPositions(ctx context.Context, credentialID string) ([]domain.Position, error) {
	return nil, nil
}
func (v *fakeVenue) FetchFillsSince(ctx context.Context, credentialID string, sinceSeq uint64) ([]domain.Fill, error) {
	return nil, nil
}
func (v *fakeVenue) MarketStatus(ctx context.Context, market domain.Market) (adapter.MarketStatus, error) {
	return adapter.MarketStatus{State: adapter.MarketOpen}, nil
}
func (v *fakeVenue) HolidayCalendar(ctx context.Context, market domain.Market) ([]time.Time, error) {
	return nil, nil
}
func (v *fakeVenue) Capabilities() adapter.Capabilities { return adapter.Capabilities{} }
func (v *fakeVenue) TickSize(symbol domain.Symbol) domain.Money { return domain.Zero() }
func (v *fakeVenue) Close() error                               { return nil }

type fakeOrderStore struct {
	byClientID map[string]domain.Order
	byID       map[string]domain.Order
	fills      map[string][]domain.Fill
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{byClientID: map[string]domain.Order{}, byID: map[string]domain.Order{}, fills: map[string][]domain.Fill{}}
}
func (s *fakeOrderStore) UpsertOrder(ctx context.Context, o domain.Order) error {
	s.byClientID[o.ClientID] = o
	s.byID[o.ID] = o
	return nil
}
func (s *fakeOrderStore) OrderByClientID(ctx context.Context, clientID string) (*domain.Order, error) {
	if o, ok := s.byClientID[clientID]; ok {
		return &o, nil
	}
	return nil, nil
}
func (s *fakeOrderStore) OrderByID(ctx context.Context, id string) (*domain.Order, error) {
	if o, ok := s.byID[id]; ok {
		return &o, nil
	}
	return nil, nil
}
func (s *fakeOrderStore) AppendFill(ctx context.Context, f domain.Fill) error {
	s.fills[f.OrderID] = append(s.fills[f.OrderID], f)
	return nil
}
func (s *fakeOrderStore) FillsForOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	return s.fills[orderID], nil
}
func (s *fakeOrderStore) MaxFillSeq(ctx context.Context, credentialID string) (uint64, error) {
	var max uint64
	for _, fs := range s.fills {
		for _, f := range fs {
			if f.Seq > max {
				max = f.Seq
			}
		}
	}
	return max, nil
}

type fakePositionStore struct {
	byKey map[string]domain.Position
}

func newFakePositionStore() *fakePositionStore { return &fakePositionStore{byKey: map[string]domain.Position{}} }
func key(credentialID string, symbol domain.Symbol) string {
	return credentialID + "|" + symbol.String()
}
func (s *fakePositionStore) UpsertPosition(ctx context.Context, p domain.Position) error {
	s.byKey[key(p.CredentialID, p.Symbol)] = p
	return nil
}
func (s *fakePositionStore) Position(ctx context.Context, credentialID string, symbol domain.Symbol) (*domain.Position, error) {
	if p, ok := s.byKey[key(credentialID, symbol)]; ok {
		return &p, nil
	}
	return nil, nil
}
func (s *fakePositionStore) PositionsForCredential(ctx context.Context, credentialID string) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.byKey {
		if p.CredentialID == credentialID {
			out = append(out, p)
		}
	}
	return out, nil
}

func testSymbol() domain.Symbol { return domain.NewSymbol("BTC", "USD", domain.MarketCrypto) }

func testSignal() domain.Signal {
	price, _ := domain.ParseMoney("100")
	qty, _ := domain.ParseMoney("1")
	return domain.Signal{Symbol: testSymbol(), Kind: domain.SignalBuy, Strength: 0.8, SuggestedPrice: &price, SuggestedQty: &qty, TS: time.Now(), StrategyID: "strat1"}
}

func testAccount() risk.AccountState {
	equity, _ := domain.ParseMoney("10000")
	return risk.AccountState{
		CredentialID: "cred1", EquityStart: equity, EquityNow: equity,
		Positions: map[domain.Symbol]*domain.Position{},
		MarketStatusFn: func(ctx context.Context, s domain.Symbol) (adapter.MarketStatus, error) {
			return adapter.MarketStatus{State: adapter.MarketOpen}, nil
		},
	}
}

func newTestEngine(venue adapter.Venue, orders *fakeOrderStore, positions *fakePositionStore) *Engine {
	gate := risk.New(risk.DefaultConfig(), nil, zerolog.Nop())
	stops := risk.NewStopSupervisor()
	tracker := errtracker.New(nil, zerolog.Nop())
	return New(map[string]adapter.Venue{venue.Name(): venue}, orders, positions, gate, stops, tracker, events.NewBus(), zerolog.Nop())
}

func TestSubmitPlacesOrderAndPersists(t *testing.T) {
	venue := &fakeVenue{name: "crypto", placeFn: func(intent adapter.OrderIntent) (domain.Order, error) {
		return domain.Order{ID: "o1", ClientID: intent.ClientID, StrategyID: intent.StrategyID, CredentialID: intent.CredentialID,
			Symbol: intent.Symbol, Side: intent.Side, Type: intent.Type, Qty: intent.Qty, State: domain.OrderNew,
			CreatedAt: time.Now(), UpdatedAt: time.Now()}, nil
	}}
	orders := newFakeOrderStore()
	positions := newFakePositionStore()
	engine := newTestEngine(venue, orders, positions)

	order, err := engine.Submit(context.Background(), "crypto", "cred1", testSignal(), testAccount(), "client-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderNew, order.State)
	require.Equal(t, 1, venue.placeCalls)

	stored, err := orders.OrderByClientID(context.Background(), "client-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestSubmitIsIdempotentOnRetry(t *testing.T) {
	venue := &fakeVenue{name: "crypto", placeFn: func(intent adapter.OrderIntent) (domain.Order, error) {
		return domain.Order{ID: "o1", ClientID: intent.ClientID, State: domain.OrderNew, Symbol: intent.Symbol,
			CreatedAt: time.Now(), UpdatedAt: time.Now()}, nil
	}}
	orders := newFakeOrderStore()
	positions := newFakePositionStore()
	engine := newTestEngine(venue, orders, positions)

	_, err := engine.Submit(context.Background(), "crypto", "cred1", testSignal(), testAccount(), "client-1")
	require.NoError(t, err)
	_, err = engine.Submit(context.Background(), "crypto", "cred1", testSignal(), testAccount(), "client-1")
	require.NoError(t, err)

	require.Equal(t, 1, venue.placeCalls)
}

func TestSubmitBlockedByRiskGateNeverReachesVenue(t *testing.T) {
	venue := &fakeVenue{name: "crypto", placeFn: func(intent adapter.OrderIntent) (domain.Order, error) {
		return domain.Order{}, nil
	}}
	orders := newFakeOrderStore()
	positions := newFakePositionStore()
	engine := newTestEngine(venue, orders, positions)
	engine.gate.TripKillSwitch("cred1", 0.1)

	_, err := engine.Submit(context.Background(), "crypto", "cred1", testSignal(), testAccount(), "client-1")
	require.Error(t, err)
	require.Equal(t, 0, venue.placeCalls)
}

func TestApplyFillUpdatesPositionAndCancelsSibling(t *testing.T) {
	venue := &fakeVenue{name: "crypto"}
	orders := newFakeOrderStore()
	positions := newFakePositionStore()
	engine := newTestEngine(venue, orders, positions)

	qty, _ := domain.ParseMoney("1")
	price, _ := domain.ParseMoney("100")
	order := &domain.Order{ID: "stop-1", ClientID: "c1", Symbol: testSymbol(), Side: domain.SideBuy, Qty: qty, State: domain.OrderNew, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, orders.UpsertOrder(context.Background(), *order))

	engine.stops.RegisterPair("stop-1", "tp-1", func(orderID string) error {
		return engine.Cancel(context.Background(), "crypto", "cred1", orderID)
	})

	fill := domain.Fill{OrderID: "stop-1", Seq: 1, Price: price, Qty: qty, Fee: domain.Zero(), TS: time.Now()}
	require.NoError(t, engine.ApplyFill(context.Background(), order, fill, "cred1"))

	pos, err := positions.Position(context.Background(), "cred1", testSymbol())
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.True(t, pos.QtySigned.Equal(qty))
	require.Equal(t, []string{"tp-1"}, venue.canceled)
}
