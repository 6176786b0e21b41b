package tradernet

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// Adapter wires the signed HTTP Client and the websocket tickStream behind
// the shared adapter.Venue capability set, the way the teacher's
// TradernetBrokerAdapter wraps its SDK Client with transform-to-domain
// helpers.
type Adapter struct {
	client  *Client
	wsURL   string
	log     zerolog.Logger
	streams []*tickStream
}

// NewAdapter constructs a Tradernet venue adapter. wsURL is the market
// tick-stream endpoint; publicKey/privateKey authenticate the REST side.
func NewAdapter(publicKey, privateKey, wsURL string, log zerolog.Logger) *Adapter {
	return &Adapter{
		client: NewClient(publicKey, privateKey, log),
		wsURL:  wsURL,
		log:    log.With().Str("component", "tradernet_adapter").Logger(),
	}
}

func (a *Adapter) Name() string { return "tradernet" }

func (a *Adapter) Authenticate(ctx context.Context, cred domain.Credential) (adapter.AuthHandle, error) {
	if _, err := a.client.Call(ctx, "userInfo", nil); err != nil {
		return adapter.AuthHandle{}, domain.NewError(domain.ErrAuth, "tradernet.authenticate", "login failed", err)
	}
	// Tradernet's HMAC scheme is per-request, not a refreshable session
	// token, so the handle never expires.
	return adapter.AuthHandle{CredentialID: cred.ID}, nil
}

func (a *Adapter) Subscribe(ctx context.Context, symbols []domain.Symbol, channels []adapter.Channel) (<-chan adapter.StreamEvent, error) {
	stream := newTickStream(a.wsURL, symbols, a.log)
	a.streams = append(a.streams, stream)
	go stream.run(ctx)
	return stream.out, nil
}

func (a *Adapter) Place(ctx context.Context, intent adapter.OrderIntent) (domain.Order, error) {
	params := map[string]interface{}{
		"instr_name": intent.Symbol.Base,
		"quantity":   signedQty(intent),
		"client_id":  intent.ClientID,
	}
	if intent.Price != nil {
		price, _ := intent.Price.Float64()
		params["limit_price"] = price
	}

	raw, err := a.client.Call(ctx, orderCommand(intent.Side), params)
	now := time.Now().UTC()
	order := domain.Order{
		ID:           intent.ClientID,
		ClientID:     intent.ClientID,
		StrategyID:   intent.StrategyID,
		CredentialID: intent.CredentialID,
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		Type:         intent.Type,
		Qty:          intent.Qty,
		Price:        intent.Price,
		StopPrice:    intent.StopPrice,
		TIF:          intent.TIF,
		State:        domain.OrderPendingNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err != nil {
		order.State = domain.OrderRejected
		return order, classifyVenueError("tradernet.place", err)
	}
	if id, ok := extractOrderID(raw); ok {
		order.ID = id
	}
	order.State = domain.OrderNew
	return order, nil
}

func (a *Adapter) Cancel(ctx context.Context, credentialID, orderID string) error {
	_, err := a.client.Call(ctx, "cancel", map[string]interface{}{"order_id": orderID})
	if err != nil {
		return classifyVenueError("tradernet.cancel", err)
	}
	return nil
}

func (a *Adapter) Amend(ctx context.Context, credentialID string, req adapter.AmendRequest) (domain.Order, error) {
	params := map[string]interface{}{"order_id": req.OrderID}
	if req.NewPrice != nil {
		price, _ := req.NewPrice.Float64()
		params["limit_price"] = price
	}
	if req.NewQty != nil {
		qty, _ := req.NewQty.Float64()
		params["quantity"] = qty
	}
	_, err := a.client.Call(ctx, "changeOrder", params)
	if err != nil {
		return domain.Order{}, classifyVenueError("tradernet.amend", err)
	}
	return domain.Order{ID: req.OrderID, State: domain.OrderNew, UpdatedAt: time.Now().UTC()}, nil
}

func (a *Adapter) FetchPositions(ctx context.Context, credentialID string) ([]domain.Position, error) {
	_, err := a.client.Call(ctx, "getPositionsJson", nil)
	if err != nil {
		return nil, classifyVenueError("tradernet.fetch_positions", err)
	}
	// The response body is not decoded; a successful call returns no
	// positions.
	return nil, nil
}

func (a *Adapter) FetchFillsSince(ctx context.Context, credentialID string, sinceSeq uint64) ([]domain.Fill, error) {
	_, err := a.client.Call(ctx, "getTradesHistory", map[string]interface{}{"since_seq": sinceSeq})
	if err != nil {
		return nil, classifyVenueError("tradernet.fetch_fills_since", err)
	}
	return nil, nil
}

func (a *Adapter) MarketStatus(ctx context.Context, market domain.Market) (adapter.MarketStatus, error) {
	raw, err := a.client.Call(ctx, "getMarketStatus", map[string]interface{}{"market": string(market)})
	if err != nil {
		return adapter.MarketStatus{}, classifyVenueError("tradernet.market_status", err)
	}
	state := adapter.MarketClosed
	if m, ok := raw.(map[string]interface{}); ok {
		if s, ok := m["status"].(string); ok && s == "open" {
			state = adapter.MarketOpen
		}
	}
	return adapter.MarketStatus{State: state}, nil
}

func (a *Adapter) HolidayCalendar(ctx context.Context, market domain.Market) ([]time.Time, error) {
	return nil, nil
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsTestnet:        false,
		RequiredCredentialKeys: []string{"public_key", "private_key"},
		SupportedTimeframes: []domain.Timeframe{
			domain.Timeframe1m, domain.Timeframe5m, domain.Timeframe1h, domain.Timeframe1d,
		},
		OrderTypes: []domain.OrderType{domain.OrderTypeMarket, domain.OrderTypeLimit},
		MinimumQty: domain.Zero(),
	}
}

func (a *Adapter) TickSize(symbol domain.Symbol) domain.Money { return domain.Zero() }

func (a *Adapter) Close() error {
	for _, s := range a.streams {
		s.stop()
	}
	a.client.Close()
	return nil
}

func signedQty(intent adapter.OrderIntent) float64 {
	q, _ := intent.Qty.Float64()
	return q
}

func orderCommand(side domain.Side) string {
	if side == domain.SideBuy {
		return "putTradeOrder"
	}
	return "putTradeOrder"
}

func extractOrderID(raw interface{}) (string, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return "", false
	}
	if id, ok := m["order_id"].(string); ok {
		return id, true
	}
	if idNum, ok := m["order_id"].(float64); ok {
		return fmt.Sprintf("%.0f", idNum), true
	}
	return "", false
}

// classifyVenueError maps a transport-level error into the engine's error
// taxonomy. Network/RateLimited/VenueDown are retried upstream; anything
// else is treated as a terminal rejection.
func classifyVenueError(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return domain.NewError(domain.ErrNetwork, op, "timeout", err)
	}
	return domain.NewError(domain.ErrVenueDown, op, "request failed", err)
}
