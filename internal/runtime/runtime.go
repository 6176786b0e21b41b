// Package runtime hosts the strategy lifecycle state machine described in
// spec §4.4: one cooperative dispatcher per StrategyInstance, subscribing
// to the market-data bus for its symbols/timeframe, delivering MarketData,
// Fill and Position events to the strategy single-flight, and handing
// resulting Signals to the execution engine. Grounded on the teacher's
// internal/queue package: registry.go's tag->factory init()-time
// registration pattern (reused verbatim in internal/strategy) and
// scheduler.go's one-cooperative-task-per-job dispatch loop, generalized
// from queue jobs to live StrategyInstances.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/errtracker"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/execution"
	"github.com/aristath/sentinel/internal/risk"
	"github.com/aristath/sentinel/internal/store"
	"github.com/aristath/sentinel/internal/strategy"
)

// Submitter is the narrow execution.Engine surface the runtime depends on,
// letting tests substitute a stub instead of wiring a real Engine.
type Submitter interface {
	Submit(ctx context.Context, venueName, credentialID string, sig domain.Signal, acct risk.AccountState, clientID string) (*domain.Order, error)
}

var _ Submitter = (*execution.Engine)(nil)

// VenueResolver maps a credential to the adapter.Venue name it trades
// through, so the runtime never hardcodes a venue.
type VenueResolver func(credentialID string) (string, error)

// AccountStateFn assembles the risk.AccountState the gate evaluates a
// signal against, sourced from the position ledger and equity tracker the
// DI layer wires up. Called once per outbound signal, not cached here.
type AccountStateFn func(ctx context.Context, credentialID string) (risk.AccountState, error)

const dispatchQueueDepth = 256

// msgKind tags what a dispatchMsg carries, since a StrategyInstance's
// single-flight handler serializes MarketData, Fill and Position delivery
// over the same channel per spec §5's per-instance serialization
// invariant.
type msgKind int

const (
	msgMarketData msgKind = iota
	msgFill
	msgPosition
)

type dispatchMsg struct {
	kind msgKind
	md   domain.MarketData
	fill domain.Fill
	pos  domain.Position
}

// managedInstance is the runtime's bookkeeping for one live
// StrategyInstance: its strategy value, subscriptions, and dispatcher
// goroutine.
type managedInstance struct {
	inst     domain.StrategyInstance
	strategy strategy.Strategy

	mu     sync.Mutex
	status domain.StrategyStatus

	ch       chan dispatchMsg
	subs     []*bus.Subscription
	unFilled func()
	cancel   context.CancelFunc
	done     chan struct{}
}

// Runtime owns the set of live StrategyInstances and their dispatchers.
type Runtime struct {
	bus      *bus.Bus
	events   *events.Bus
	exec     Submitter
	tracker  *errtracker.Tracker
	venues   VenueResolver
	accounts AccountStateFn
	positions store.PositionStore
	log      zerolog.Logger

	mu        sync.Mutex
	instances map[string]*managedInstance
}

// New constructs a Runtime. venueOf and accountOf are supplied by the DI
// layer; venueOf resolves a credential to the venue name it trades
// through, accountOf assembles the risk.AccountState a signal is evaluated
// against.
func New(marketBus *bus.Bus, eventBus *events.Bus, exec Submitter, tracker *errtracker.Tracker,
	positions store.PositionStore, venueOf VenueResolver, accountOf AccountStateFn, log zerolog.Logger) *Runtime {
	return &Runtime{
		bus:       marketBus,
		events:    eventBus,
		exec:      exec,
		tracker:   tracker,
		venues:    venueOf,
		accounts:  accountOf,
		positions: positions,
		log:       log.With().Str("component", "runtime").Logger(),
		instances: make(map[string]*managedInstance),
	}
}

// Start transitions inst Stopped -> Starting -> Running: instantiates the
// strategy from the registry, calls Initialize, establishes every
// subscription, then spawns the dispatcher goroutine and emits
// StrategyReady. If initialization or subscription setup fails the
// instance is left Stopped and the error is returned (never silently
// absorbed into Error — Error is reserved for failures after Running).
func (r *Runtime) Start(ctx context.Context, inst domain.StrategyInstance) error {
	r.mu.Lock()
	if _, exists := r.instances[inst.ID]; exists {
		r.mu.Unlock()
		return domain.NewError(domain.ErrInvalidRequest, "runtime.start", fmt.Sprintf("instance %q already running", inst.ID), nil)
	}
	r.mu.Unlock()

	strat, err := strategy.New(inst.StrategyType)
	if err != nil {
		return err
	}
	if err := strat.Initialize(inst.ConfigBlob); err != nil {
		return err
	}

	tf := inst.Timeframe
	if tf == "" {
		tf = strat.Metadata().Category.DefaultTimeframe()
	}

	venueName, err := r.venues(inst.CredentialID)
	if err != nil {
		return err
	}

	mi := &managedInstance{
		inst:     inst,
		strategy: strat,
		status:   domain.StrategyStarting,
		ch:       make(chan dispatchMsg, dispatchQueueDepth),
		done:     make(chan struct{}),
	}

	for _, sym := range inst.Symbols {
		sub := r.bus.Subscribe(bus.Key{Venue: venueName, Symbol: sym, Channel: string(adapter.CandleChannel(tf))}, bus.SubscribeOptions{})
		mi.subs = append(mi.subs, sub)
		go forward(sub, mi.ch, mi.done)
	}

	unsubFill := r.events.Subscribe(events.OrderFilled, r.fillHandler(mi))
	mi.unFilled = unsubFill

	dispatchCtx, cancel := context.WithCancel(ctx)
	mi.cancel = cancel

	r.mu.Lock()
	r.instances[inst.ID] = mi
	r.mu.Unlock()

	mi.mu.Lock()
	mi.status = domain.StrategyRunning
	mi.mu.Unlock()

	go r.dispatch(dispatchCtx, mi)
	go r.positionTicker(dispatchCtx, mi)

	if r.events != nil {
		r.events.Publish(&events.StrategyReadyData{InstanceID: inst.ID})
	}
	r.log.Info().Str("instance", inst.ID).Str("tag", inst.StrategyType).Msg("strategy instance running")
	return nil
}

// forward copies subscription messages into the instance's single
// dispatch channel, so MarketData from every subscribed symbol funnels
// through the same single-flight handler loop.
func forward(sub *bus.Subscription, ch chan<- dispatchMsg, done <-chan struct{}) {
	for {
		select {
		case md, ok := <-sub.C:
			if !ok {
				return
			}
			select {
			case ch <- dispatchMsg{kind: msgMarketData, md: md}:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

// fillHandler returns an events.Handler that routes OrderFilled
// notifications addressed to this instance's strategy ID onto its
// dispatch channel, reconstructing the domain.Fill from the event payload.
func (r *Runtime) fillHandler(mi *managedInstance) events.Handler {
	return func(data events.EventData) {
		ev, ok := data.(*events.OrderFilledData)
		if !ok || ev.StrategyID != mi.inst.ID {
			return
		}
		price, err := domain.ParseMoney(ev.Price)
		if err != nil {
			return
		}
		qty, err := domain.ParseMoney(ev.Qty)
		if err != nil {
			return
		}
		f := domain.Fill{OrderID: ev.OrderID, Seq: ev.Seq, Price: price, Qty: qty, Fee: domain.Zero(), TS: time.Now().UTC()}
		select {
		case mi.ch <- dispatchMsg{kind: msgFill, fill: f}:
		case <-mi.done:
		}
	}
}

// dispatch is the single-flight handler loop: exactly one MarketData,
// Fill or Position delivery is in flight for this instance at any time,
// per spec §5's per-instance serialization invariant.
func (r *Runtime) dispatch(ctx context.Context, mi *managedInstance) {
	defer close(mi.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mi.ch:
			r.handle(ctx, mi, msg)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, mi *managedInstance, msg dispatchMsg) {
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(mi, fmt.Sprintf("panic: %v", rec))
		}
	}()

	switch msg.kind {
	case msgMarketData:
		signals, err := mi.strategy.OnMarketData(msg.md)
		if err != nil {
			r.recordFailure(mi, "on_market_data", err)
			return
		}
		for _, sig := range signals {
			sig.StrategyID = mi.inst.ID
			r.submit(ctx, mi, sig)
		}
	case msgFill:
		if err := mi.strategy.OnFill(msg.fill); err != nil {
			r.recordFailure(mi, "on_fill", err)
		}
	case msgPosition:
		if err := mi.strategy.OnPosition(msg.pos); err != nil {
			r.recordFailure(mi, "on_position", err)
		}
	}
}

const positionRefreshInterval = 30 * time.Second

// positionTicker periodically pushes this instance's current positions
// onto its dispatch channel so strategies that derive side/size from
// Position (e.g. a trailing stop with no inventory of its own, or a
// multi-asset allocation strategy between rebalance bars) stay current
// even when no market-data tick has arrived recently. Delivered through
// the same channel as MarketData/Fill so it still respects per-instance
// single-flight serialization.
func (r *Runtime) positionTicker(ctx context.Context, mi *managedInstance) {
	if r.positions == nil {
		return
	}
	ticker := time.NewTicker(positionRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range mi.inst.Symbols {
				pos, err := r.positions.Position(ctx, mi.inst.CredentialID, sym)
				if err != nil || pos == nil {
					continue
				}
				select {
				case mi.ch <- dispatchMsg{kind: msgPosition, pos: *pos}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (r *Runtime) submit(ctx context.Context, mi *managedInstance, sig domain.Signal) {
	venueName, err := r.venues(mi.inst.CredentialID)
	if err != nil {
		r.recordFailure(mi, "venue_resolve", err)
		return
	}
	acct, err := r.accounts(ctx, mi.inst.CredentialID)
	if err != nil {
		r.recordFailure(mi, "account_state", err)
		return
	}
	clientID := execution.NewClientID(mi.inst.ID, sig.TS, sig.Symbol, sideOf(sig), execution.NewNonce())
	if _, err := r.exec.Submit(ctx, venueName, mi.inst.CredentialID, sig, acct, clientID); err != nil {
		r.recordFailure(mi, "submit", err)
	}
}

func sideOf(sig domain.Signal) domain.Side {
	if sig.Kind == domain.SignalSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

// recordFailure logs a non-fatal handler error to the tracker without
// tearing down the instance; only a panic (handled in handle's recover)
// absorbs the instance into Error.
func (r *Runtime) recordFailure(mi *managedInstance, op string, err error) {
	r.log.Warn().Err(err).Str("instance", mi.inst.ID).Str("op", op).Msg("strategy handler error")
	if r.tracker == nil {
		return
	}
	if engErr, ok := domain.AsEngineError(err); ok {
		r.tracker.RecordError(fmt.Sprintf("internal/runtime/runtime.go:%s", op), mi.inst.ID, engErr)
	}
}

// fail absorbs mi into the Error state from Running on a fatal exception
// (a panic from a strategy handler), per spec §4.4's lifecycle.
func (r *Runtime) fail(mi *managedInstance, reason string) {
	mi.mu.Lock()
	mi.status = domain.StrategyError
	mi.mu.Unlock()

	r.log.Error().Str("instance", mi.inst.ID).Str("reason", reason).Msg("strategy instance absorbed into Error state")
	if r.events != nil {
		r.events.Publish(&events.StrategyErrorData{InstanceID: mi.inst.ID, Reason: reason})
	}
}

// Stop transitions inst Running -> Stopping -> Stopped: cancels the
// dispatcher, closes every subscription, waits for the in-flight handler
// call (if any) to finish, then calls Shutdown and emits StrategyStopped.
func (r *Runtime) Stop(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	mi, ok := r.instances[instanceID]
	if ok {
		delete(r.instances, instanceID)
	}
	r.mu.Unlock()
	if !ok {
		return domain.NewError(domain.ErrNotFound, "runtime.stop", fmt.Sprintf("instance %q not running", instanceID), nil)
	}

	mi.mu.Lock()
	mi.status = domain.StrategyStopping
	mi.mu.Unlock()

	if mi.unFilled != nil {
		mi.unFilled()
	}
	for _, sub := range mi.subs {
		sub.Close()
	}
	mi.cancel()

	select {
	case <-mi.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := mi.strategy.Shutdown()

	mi.mu.Lock()
	mi.status = domain.StrategyStopped
	mi.mu.Unlock()

	if r.events != nil {
		r.events.Publish(&events.StrategyStoppedData{InstanceID: instanceID})
	}
	r.log.Info().Str("instance", instanceID).Msg("strategy instance stopped")
	return err
}

// Status returns the current lifecycle state of instanceID, or
// domain.StrategyStopped if it isn't running (a stopped instance is
// removed from the runtime's live set).
func (r *Runtime) Status(instanceID string) domain.StrategyStatus {
	r.mu.Lock()
	mi, ok := r.instances[instanceID]
	r.mu.Unlock()
	if !ok {
		return domain.StrategyStopped
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.status
}

// Snapshot returns the strategy's own observability state, per spec
// §4.4's state_snapshot() contract.
func (r *Runtime) Snapshot(instanceID string) (map[string]interface{}, error) {
	r.mu.Lock()
	mi, ok := r.instances[instanceID]
	r.mu.Unlock()
	if !ok {
		return nil, domain.NewError(domain.ErrNotFound, "runtime.snapshot", fmt.Sprintf("instance %q not running", instanceID), nil)
	}
	return mi.strategy.StateSnapshot(), nil
}

// SnapshotBytes msgpack-encodes the strategy's state_snapshot() for
// compact persistence (e.g. periodic checkpointing of StrategyInstance
// state to the store), since the raw map form isn't a stable wire format.
func (r *Runtime) SnapshotBytes(instanceID string) ([]byte, error) {
	snap, err := r.Snapshot(instanceID)
	if err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode snapshot: %w", err)
	}
	return b, nil
}

// Running lists every live instance ID, for the HTTP surface and scheduler.
func (r *Runtime) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.instances))
	for id := range r.instances {
		out = append(out, id)
	}
	return out
}
