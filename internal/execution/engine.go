// Package execution turns a Signal that has cleared the risk gate into a
// venue order and keeps the position ledger in sync with fills. Grounded
// on the teacher's trade_execution_service.go (ExecuteTrades/
// executeSingleTrade shape, record-after-place persistence) and
// trade_repository.go's idempotent upsert, generalized from a single
// Tradernet client to the adapter.Venue interface and widened with retry,
// reconciliation and risk-gate integration per spec §4.7.
package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/errtracker"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/risk"
	"github.com/aristath/sentinel/internal/store"
)

const maxSubmitAttempts = 5

// Engine places orders, tracks positions and reconciles against the venue
// of record after a reconnect or restart. One Engine is shared across every
// strategy instance; ordering within a (credential, symbol) pair is
// serialized via submitLocks so two concurrent signals for the same symbol
// can never race each other to the venue.
type Engine struct {
	venues   map[string]adapter.Venue // keyed by adapter.Venue.Name()
	orders   store.OrderStore
	positions store.PositionStore
	gate     *risk.Gate
	stops    *risk.StopSupervisor
	tracker  *errtracker.Tracker
	events   *events.Bus
	log      zerolog.Logger

	mu          sync.Mutex
	submitLocks map[string]*sync.Mutex // keyed by credentialID|symbol
}

// New constructs an Engine. venues must be keyed by each adapter's Name().
func New(venues map[string]adapter.Venue, orders store.OrderStore, positions store.PositionStore,
	gate *risk.Gate, stops *risk.StopSupervisor, tracker *errtracker.Tracker, eventBus *events.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		venues:      venues,
		orders:      orders,
		positions:   positions,
		gate:        gate,
		stops:       stops,
		tracker:     tracker,
		events:      eventBus,
		log:         log.With().Str("component", "execution").Logger(),
		submitLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(credentialID string, symbol domain.Symbol) *sync.Mutex {
	key := credentialID + "|" + symbol.String()
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.submitLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.submitLocks[key] = l
	}
	return l
}

// Submit evaluates sig against the risk gate, then places it at venueName
// as credentialID. If an order with the same ClientID already exists
// (a retried Submit after a crash or timeout), the existing order is
// returned unchanged rather than placed twice.
func (e *Engine) Submit(ctx context.Context, venueName, credentialID string, sig domain.Signal, acct risk.AccountState, clientID string) (*domain.Order, error) {
	decision := e.gate.Evaluate(ctx, sig, acct)
	if !decision.Allowed {
		return nil, domain.NewError(domain.ErrRiskBlocked, "execution.submit",
			fmt.Sprintf("blocked at %s: %s", decision.Layer, decision.Reason), nil)
	}

	lock := e.lockFor(credentialID, sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := e.orders.OrderByClientID(ctx, clientID); err == nil && existing != nil {
		e.log.Info().Str("client_id", clientID).Msg("submit is a retry, returning existing order")
		return existing, nil
	}

	venue, ok := e.venues[venueName]
	if !ok {
		return nil, domain.NewError(domain.ErrInvalidRequest, "execution.submit", fmt.Sprintf("unknown venue %q", venueName), nil)
	}

	intent := e.intentFor(sig, credentialID, clientID)
	order, err := e.placeWithRetry(ctx, venue, intent)
	if err != nil {
		if engErr, ok := domain.AsEngineError(err); ok {
			e.tracker.RecordError("internal/execution/engine.go:Submit", sig.Symbol.String(), engErr)
		}
		return nil, err
	}

	if err := e.orders.UpsertOrder(ctx, order); err != nil {
		e.log.Warn().Err(err).Str("order_id", order.ID).Msg("order placed but failed to persist")
	}

	if order.State == domain.OrderRejected {
		e.gate.RecordRejection(credentialID)
		if e.events != nil {
			e.events.Publish(&events.OrderRejectedData{OrderID: order.ID, StrategyID: sig.StrategyID, Reason: "rejected by venue"})
		}
		return &order, nil
	}

	if e.events != nil {
		e.events.Publish(&events.OrderSubmittedData{
			OrderID: order.ID, ClientID: order.ClientID, StrategyID: sig.StrategyID,
			CredentialID: credentialID, Symbol: sig.Symbol.String(),
		})
	}
	return &order, nil
}

func (e *Engine) intentFor(sig domain.Signal, credentialID, clientID string) adapter.OrderIntent {
	side := domain.SideBuy
	if sig.Kind == domain.SignalSell {
		side = domain.SideSell
	}
	qty := domain.Zero()
	if sig.SuggestedQty != nil {
		qty = *sig.SuggestedQty
	}
	return adapter.OrderIntent{
		ClientID:     clientID,
		StrategyID:   sig.StrategyID,
		CredentialID: credentialID,
		Symbol:       sig.Symbol,
		Side:         side,
		Type:         domain.OrderTypeMarket,
		Qty:          qty,
		Price:        sig.SuggestedPrice,
		TIF:          domain.TIFGTC,
	}
}

// placeWithRetry retries Network/RateLimited failures with exponential
// backoff and jitter, bounded at maxSubmitAttempts. Rejected orders are
// terminal and never retried.
func (e *Engine) placeWithRetry(ctx context.Context, venue adapter.Venue, intent adapter.OrderIntent) (domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		order, err := venue.Place(ctx, intent)
		if err == nil {
			return order, nil
		}
		lastErr = err

		engErr, ok := domain.AsEngineError(err)
		if !ok || !engErr.Category.Retryable() {
			return domain.Order{}, err
		}

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		select {
		case <-ctx.Done():
			return domain.Order{}, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return domain.Order{}, lastErr
}

// Cancel cancels a resting order at venueName. Used directly by the risk
// gate's stop-supervisor cancel callback.
func (e *Engine) Cancel(ctx context.Context, venueName, credentialID, orderID string) error {
	venue, ok := e.venues[venueName]
	if !ok {
		return domain.NewError(domain.ErrInvalidRequest, "execution.cancel", fmt.Sprintf("unknown venue %q", venueName), nil)
	}
	return venue.Cancel(ctx, credentialID, orderID)
}

// ApplyFill folds a fill into the order and position ledgers, notifies the
// stop supervisor, and emits an OrderFilled event. Fills must be applied in
// venue sequence order per symbol to keep FIFO lot accounting correct.
func (e *Engine) ApplyFill(ctx context.Context, order *domain.Order, f domain.Fill, credentialID string) error {
	lock := e.lockFor(credentialID, order.Symbol)
	lock.Lock()
	defer lock.Unlock()

	newState := domain.OrderFilled
	if f.Qty.LessThan(order.Qty) {
		newState = domain.OrderPartiallyFilled
	}
	if !order.State.IsTerminal() {
		if err := order.Transition(newState); err != nil {
			return err
		}
	}

	if err := e.orders.AppendFill(ctx, f); err != nil {
		return fmt.Errorf("append fill: %w", err)
	}
	if err := e.orders.UpsertOrder(ctx, *order); err != nil {
		e.log.Warn().Err(err).Str("order_id", order.ID).Msg("order filled but state update failed to persist")
	}

	pos, err := e.positions.Position(ctx, credentialID, order.Symbol)
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	if pos == nil {
		pos = domain.NewPosition(credentialID, order.Symbol)
	}
	pos.ApplyFill(f, order.Side)
	if err := e.positions.UpsertPosition(ctx, *pos); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}

	if err := e.stops.OnFill(order.ID); err != nil {
		e.log.Warn().Err(err).Str("order_id", order.ID).Msg("sibling cancel failed after fill")
	}

	if e.events != nil {
		e.events.Publish(&events.OrderFilledData{
			OrderID: order.ID, StrategyID: order.StrategyID, Seq: f.Seq, Qty: f.Qty.String(), Price: f.Price.String(),
		})
	}
	return nil
}

// Reconcile fetches the venue's authoritative positions and any fills since
// the last recorded sequence, applying missed fills in order. Called on
// startup and after every reconnect per spec §4.7.
func (e *Engine) Reconcile(ctx context.Context, venueName, credentialID string) error {
	venue, ok := e.venues[venueName]
	if !ok {
		return domain.NewError(domain.ErrInvalidRequest, "execution.reconcile", fmt.Sprintf("unknown venue %q", venueName), nil)
	}

	lastSeq, err := e.orders.MaxFillSeq(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("max fill seq: %w", err)
	}

	fills, err := venue.FetchFillsSince(ctx, credentialID, lastSeq)
	if err != nil {
		return fmt.Errorf("fetch fills since %d: %w", lastSeq, err)
	}
	sortFillsBySeq(fills)

	for _, f := range fills {
		order, err := e.orders.OrderByID(ctx, f.OrderID)
		if err != nil || order == nil {
			e.log.Warn().Str("order_id", f.OrderID).Msg("reconcile: fill for unknown order, skipping")
			continue
		}
		if err := e.ApplyFill(ctx, order, f, credentialID); err != nil {
			e.log.Error().Err(err).Str("order_id", f.OrderID).Msg("reconcile: failed to apply fill")
		}
	}

	positions, err := venue.FetchPositions(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	for _, p := range positions {
		if err := e.positions.UpsertPosition(ctx, p); err != nil {
			e.log.Error().Err(err).Str("symbol", p.Symbol.String()).Msg("reconcile: failed to persist position")
		}
	}

	if e.events != nil {
		e.events.Publish(&events.ResyncedData{Venue: venueName, Symbol: ""})
	}
	return nil
}

// sortFillsBySeq orders fills ascending by Seq so reconciliation replays
// them in the sequence they occurred at the venue.
func sortFillsBySeq(fills []domain.Fill) {
	for i := 1; i < len(fills); i++ {
		for j := i; j > 0 && fills[j-1].Seq > fills[j].Seq; j-- {
			fills[j-1], fills[j] = fills[j], fills[j-1]
		}
	}
}
