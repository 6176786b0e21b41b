package crypto

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
)

// Adapter wires the signed REST Client and the websocket feed behind the
// shared adapter.Venue capability set, generalizing the teacher's
// Tradernet adapter shape to a 24/7 crypto venue: no market sessions, no
// holiday calendar, order IDs assigned by the venue rather than echoed
// back from the client-supplied ID.
type Adapter struct {
	client *Client
	wsURL  string
	log    zerolog.Logger
	feeds  []*feed
}

// NewAdapter constructs a crypto venue adapter against a Binance-shaped
// REST + websocket API.
func NewAdapter(apiKey, apiSecret, baseURL, wsURL string, log zerolog.Logger) *Adapter {
	return &Adapter{
		client: NewClient(apiKey, apiSecret, baseURL, log),
		wsURL:  wsURL,
		log:    log.With().Str("component", "crypto_adapter").Logger(),
	}
}

func (a *Adapter) Name() string { return "crypto" }

func (a *Adapter) Authenticate(ctx context.Context, cred domain.Credential) (adapter.AuthHandle, error) {
	var out struct {
		CanTrade bool `json:"canTrade"`
	}
	if err := a.client.SignedGet(ctx, "/api/v3/account", nil, &out); err != nil {
		return adapter.AuthHandle{}, domain.NewError(domain.ErrAuth, "crypto.authenticate", "account check failed", err)
	}
	if !out.CanTrade {
		return adapter.AuthHandle{}, domain.NewError(domain.ErrAuth, "crypto.authenticate", "account trading disabled", nil)
	}
	// The venue's HMAC scheme is per-request, so the handle never expires.
	return adapter.AuthHandle{CredentialID: cred.ID}, nil
}

func (a *Adapter) Subscribe(ctx context.Context, symbols []domain.Symbol, channels []adapter.Channel) (<-chan adapter.StreamEvent, error) {
	f := newFeed(a.wsURL, symbols, a.log)
	a.feeds = append(a.feeds, f)
	go f.run(ctx)
	return f.out, nil
}

func (a *Adapter) Place(ctx context.Context, intent adapter.OrderIntent) (domain.Order, error) {
	params := map[string]string{
		"symbol":        intent.Symbol.String(),
		"side":          venueSide(intent.Side),
		"type":          venueOrderType(intent.Type),
		"quantity":      trimFloat(moneyToFloat(intent.Qty)),
		"newClientOrderId": intent.ClientID,
	}
	if intent.Price != nil {
		params["price"] = trimFloat(moneyToFloat(*intent.Price))
		params["timeInForce"] = venueTIF(intent.TIF)
	}
	if intent.StopPrice != nil {
		params["stopPrice"] = trimFloat(moneyToFloat(*intent.StopPrice))
	}

	var out struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	now := time.Now().UTC()
	order := domain.Order{
		ID: intent.ClientID, ClientID: intent.ClientID, StrategyID: intent.StrategyID,
		CredentialID: intent.CredentialID, Symbol: intent.Symbol, Side: intent.Side, Type: intent.Type,
		Qty: intent.Qty, Price: intent.Price, StopPrice: intent.StopPrice, TIF: intent.TIF,
		State: domain.OrderPendingNew, CreatedAt: now, UpdatedAt: now,
	}
	if err := a.client.SignedPost(ctx, "/api/v3/order", params, &out); err != nil {
		order.State = domain.OrderRejected
		return order, err
	}
	if out.OrderID != 0 {
		order.ID = fmt.Sprintf("%d", out.OrderID)
	}
	order.State = domain.OrderNew
	return order, nil
}

func (a *Adapter) Cancel(ctx context.Context, credentialID, orderID string) error {
	return a.client.SignedDelete(ctx, "/api/v3/order", map[string]string{"orderId": orderID}, nil)
}

func (a *Adapter) Amend(ctx context.Context, credentialID string, req adapter.AmendRequest) (domain.Order, error) {
	// Most venues in this shape don't support in-place amend; callers
	// cancel-and-replace instead, so this returns NotFound rather than
	// silently no-op-ing.
	return domain.Order{}, domain.NewError(domain.ErrNotFound, "crypto.amend", "venue does not support order amendment", nil)
}

func (a *Adapter) FetchPositions(ctx context.Context, credentialID string) ([]domain.Position, error) {
	var out []struct {
		Symbol     string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := a.client.SignedGet(ctx, "/fapi/v2/positionRisk", nil, &out); err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(out))
	for _, p := range out {
		qty, err := domain.ParseMoney(p.PositionAmt)
		if err != nil || qty.IsZero() {
			continue
		}
		entry, err := domain.ParseMoney(p.EntryPrice)
		if err != nil {
			continue
		}
		pos := domain.NewPosition(credentialID, domain.NewSymbol(baseFromWire(p.Symbol), quoteFromWire(p.Symbol), domain.MarketCrypto))
		pos.QtySigned = qty
		pos.AvgEntryPrice = entry
		positions = append(positions, *pos)
	}
	return positions, nil
}

func (a *Adapter) FetchFillsSince(ctx context.Context, credentialID string, sinceSeq uint64) ([]domain.Fill, error) {
	var out []struct {
		ID      uint64 `json:"id"`
		OrderID int64  `json:"orderId"`
		Price   string `json:"price"`
		Qty     string `json:"qty"`
		Commission string `json:"commission"`
		Time    int64  `json:"time"`
	}
	if err := a.client.SignedGet(ctx, "/api/v3/myTrades", map[string]string{"fromId": fmt.Sprintf("%d", sinceSeq)}, &out); err != nil {
		return nil, err
	}
	fills := make([]domain.Fill, 0, len(out))
	for _, t := range out {
		price, err := domain.ParseMoney(t.Price)
		if err != nil {
			continue
		}
		qty, err := domain.ParseMoney(t.Qty)
		if err != nil {
			continue
		}
		fee, err := domain.ParseMoney(t.Commission)
		if err != nil {
			fee = domain.Zero()
		}
		fills = append(fills, domain.Fill{
			OrderID: fmt.Sprintf("%d", t.OrderID), Seq: t.ID, Price: price, Qty: qty, Fee: fee,
			TS: time.UnixMilli(t.Time).UTC(),
		})
	}
	return fills, nil
}

func (a *Adapter) MarketStatus(ctx context.Context, market domain.Market) (adapter.MarketStatus, error) {
	// Crypto spot/futures venues trade continuously; the only non-open
	// state is venue-wide maintenance, surfaced via /sapi/v1/system/status.
	var out struct {
		Status int `json:"status"`
	}
	if err := a.client.SignedGet(ctx, "/sapi/v1/system/status", nil, &out); err != nil {
		return adapter.MarketStatus{}, err
	}
	if out.Status != 0 {
		return adapter.MarketStatus{State: adapter.MarketHalted, Session: "maintenance"}, nil
	}
	return adapter.MarketStatus{State: adapter.MarketOpen, Session: "continuous"}, nil
}

func (a *Adapter) HolidayCalendar(ctx context.Context, market domain.Market) ([]time.Time, error) {
	return nil, nil // crypto markets have no holiday calendar
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsTestnet:        true,
		RequiredCredentialKeys: []string{"api_key", "api_secret"},
		SupportedTimeframes: []domain.Timeframe{
			domain.Timeframe1m, domain.Timeframe5m, domain.Timeframe15m, domain.Timeframe1h, domain.Timeframe4h, domain.Timeframe1d,
		},
		OrderTypes: []domain.OrderType{domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStopLoss},
		MinimumQty: domain.Zero(),
	}
}

func (a *Adapter) TickSize(symbol domain.Symbol) domain.Money { return domain.Zero() }

func (a *Adapter) Close() error {
	for _, f := range a.feeds {
		f.stop()
	}
	return nil
}

func venueSide(side domain.Side) string {
	if side == domain.SideBuy {
		return "BUY"
	}
	return "SELL"
}

func venueOrderType(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeLimit:
		return "LIMIT"
	case domain.OrderTypeStopLoss:
		return "STOP_LOSS"
	default:
		return "MARKET"
	}
}

func venueTIF(tif domain.TimeInForce) string {
	switch tif {
	case domain.TIFIOC:
		return "IOC"
	case domain.TIFFOK:
		return "FOK"
	default:
		return "GTC"
	}
}

func moneyToFloat(m domain.Money) float64 {
	f, _ := m.Float64()
	return f
}
