// Package simulation implements the single-instance paper-trading mode
// described in spec §4.9: one strategy instance runs against either the
// live market-data bus or a replayed historical candle series, with fills
// produced by the same deterministic matcher internal/backtest drives in
// bulk, instead of a real venue adapter. Grounded on the teacher's
// internal/reliability job idiom (base.JobBase embedding, Name/Run) for
// lifecycle plumbing, generalized from a one-shot maintenance job to a
// pausable/resumable long-running task.
package simulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/backtest"
	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/scheduler/base"
	"github.com/aristath/sentinel/internal/store"
	"github.com/aristath/sentinel/internal/strategy"
)

// State is the Engine's lifecycle state per spec §4.9.
type State string

const (
	StateStopped State = "Stopped"
	StateRunning State = "Running"
	StatePaused  State = "Paused"
)

// Speed is a replay-only acceleration factor; it has no effect when the
// Engine is consuming the live bus, which always plays at wall clock.
type Speed float64

const (
	Speed1x  Speed = 1
	Speed2x  Speed = 2
	Speed5x  Speed = 5
	Speed10x Speed = 10
)

// Config mirrors backtest.Config: the matcher underneath a simulation run
// is the same one a backtest uses, so the two need the same fill model
// parameters.
type Config struct {
	InitialBalance domain.Money
	SlippageBps    float64
	CommissionBps  float64
	Seed           int64
}

// Source selects what feeds the Engine's ticks.
type Source struct {
	Live    bool                               // true: subscribe the live bus; false: replay Candles
	Venue   string                             // required when Live
	Candles map[domain.Symbol][]domain.Candle // required when !Live
}

// Engine runs one StrategyInstance in paper-trading mode. Embedding
// base.JobBase gives it the same SetJob/GetProgressReporter plumbing the
// teacher's background maintenance jobs use, so a scheduler-hosted
// simulation run can report progress the same way.
type Engine struct {
	base.JobBase

	cfg       Config
	marketBus *bus.Bus
	positions store.PositionStore
	log       zerolog.Logger

	mu          sync.Mutex
	state       State
	speed       Speed
	instance    domain.StrategyInstance
	strat       strategy.Strategy
	matcher     *backtest.Matcher
	tracks      map[domain.Symbol]*backtest.Track
	equity      domain.Money
	realized    domain.Money
	equityCurve []domain.EquityPoint
	trades      []domain.BacktestTrade

	pauseCh chan struct{} // closed while Running; replaced (new chan) on Pause
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a stopped Engine.
func New(marketBus *bus.Bus, positions store.PositionStore, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		marketBus: marketBus,
		positions: positions,
		state:     StateStopped,
		speed:     Speed1x,
		log:       log.With().Str("component", "simulation").Logger(),
	}
}

func (e *Engine) Name() string { return "simulation:" + e.instance.ID }

// Run satisfies the teacher's Job convention (Name/Run) so a simulation
// can be launched the same way a maintenance job is, from a scheduler slot
// or a manual trigger. The instance and source must already be configured
// via Start; Run blocks until the simulation stops or ctx is cancelled.
func (e *Engine) Run() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return fmt.Errorf("simulation %s: Start was not called", e.instance.ID)
	}
	<-done
	return nil
}

// Start resets the matcher/equity state fresh (Reset semantics apply
// automatically on every Start) and begins consuming src, dispatching
// strategy callbacks single-flight from one goroutine, matching fills the
// same way internal/backtest.Engine.Run does bar by bar.
func (e *Engine) Start(ctx context.Context, inst domain.StrategyInstance, strat strategy.Strategy, src Source) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("simulation %s: already %s", inst.ID, e.state)
	}
	if err := strat.Initialize(inst.ConfigBlob); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("initialize strategy: %w", err)
	}

	e.instance = inst
	e.strat = strat
	e.matcher = backtest.NewMatcher(backtest.Config{
		InitialCapital: e.cfg.InitialBalance, SlippageBps: e.cfg.SlippageBps, CommissionBps: e.cfg.CommissionBps, Seed: e.cfg.Seed,
	})
	e.tracks = make(map[domain.Symbol]*backtest.Track, len(inst.Symbols))
	for _, sym := range inst.Symbols {
		e.tracks[sym] = backtest.NewTrack(e.paperCredentialID(), sym)
	}
	e.equity = e.cfg.InitialBalance
	e.realized = domain.Zero()
	e.equityCurve = nil
	e.trades = nil
	e.pauseCh = make(chan struct{})
	close(e.pauseCh) // closed == not paused
	e.state = StateRunning
	e.done = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	ticks, errCh := e.openSource(runCtx, inst, src)
	go e.drive(runCtx, ticks, errCh)
	return nil
}

// tick is one candle plus the symbol it belongs to, uniform across both
// live-bus and replay sources.
type tick struct {
	symbol domain.Symbol
	candle domain.Candle
}

// openSource starts the producer goroutine appropriate to src and returns
// the channel the drive loop consumes from.
func (e *Engine) openSource(ctx context.Context, inst domain.StrategyInstance, src Source) (<-chan tick, <-chan error) {
	out := make(chan tick, 64)
	errCh := make(chan error, 1)

	if src.Live {
		go e.driveLive(ctx, inst, src.Venue, out, errCh)
	} else {
		go e.driveReplay(ctx, src.Candles, out, errCh)
	}
	return out, errCh
}

func (e *Engine) driveLive(ctx context.Context, inst domain.StrategyInstance, venue string, out chan<- tick, errCh chan<- error) {
	defer close(out)
	var subs []*bus.Subscription
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	type fwd struct {
		sym domain.Symbol
		sub *bus.Subscription
	}
	var fwds []fwd
	for _, sym := range inst.Symbols {
		key := bus.Key{Venue: venue, Symbol: sym, Channel: string(adapter.CandleChannel(inst.Timeframe))}
		sub := e.marketBus.Subscribe(key, bus.SubscribeOptions{})
		subs = append(subs, sub)
		fwds = append(fwds, fwd{sym: sym, sub: sub})
	}

	var wg sync.WaitGroup
	for _, f := range fwds {
		wg.Add(1)
		go func(f fwd) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case md, ok := <-f.sub.C:
					if !ok {
						return
					}
					if candle, ok := candleOf(md); ok {
						select {
						case out <- tick{symbol: f.sym, candle: candle}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}(f)
	}
	wg.Wait()
}

// driveReplay feeds pre-loaded historical candles in chronological order,
// pacing delivery by the inter-bar wall-clock gap divided by the
// configured speed — the only place speed control applies, per spec §4.9.
func (e *Engine) driveReplay(ctx context.Context, candles map[domain.Symbol][]domain.Candle, out chan<- tick, errCh chan<- error) {
	defer close(out)

	var timeline []timelineTick
	for sym, bars := range candles {
		for _, c := range bars {
			timeline = append(timeline, timelineTick{symbol: sym, candle: c})
		}
	}
	sortTimeline(timeline)

	var prevTS time.Time
	for i, evt := range timeline {
		if err := e.waitWhilePaused(ctx); err != nil {
			errCh <- err
			return
		}
		if i > 0 {
			gap := evt.candle.OpenTime.Sub(prevTS)
			if gap > 0 {
				e.mu.Lock()
				spd := e.speed
				e.mu.Unlock()
				if spd <= 0 {
					spd = Speed1x
				}
				delay := time.Duration(float64(gap) / float64(spd))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
		}
		prevTS = evt.candle.OpenTime

		select {
		case out <- tick{symbol: evt.symbol, candle: evt.candle}:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) waitWhilePaused(ctx context.Context) error {
	for {
		e.mu.Lock()
		pauseCh := e.pauseCh
		e.mu.Unlock()
		select {
		case <-pauseCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drive is the single-flight consumer: exactly one OnMarketData call is
// in flight at a time, matching spec §5's concurrency model.
func (e *Engine) drive(ctx context.Context, ticks <-chan tick, errCh <-chan error) {
	defer func() {
		e.mu.Lock()
		e.state = StateStopped
		close(e.done)
		e.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				e.log.Error().Err(err).Str("instance", e.instance.ID).Msg("simulation source failed")
			}
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			if err := e.waitWhilePaused(ctx); err != nil {
				return
			}
			e.handleTick(ctx, t)
		}
	}
}

// paperCredentialID namespaces persisted paper positions away from the
// instance's real credential so a running simulation never collides with
// the live position the same credential/symbol pair might hold.
func (e *Engine) paperCredentialID() string {
	return "sim:" + e.instance.ID + ":" + e.instance.CredentialID
}

func (e *Engine) handleTick(ctx context.Context, t tick) {
	e.mu.Lock()
	defer e.mu.Unlock()

	track, ok := e.tracks[t.symbol]
	if !ok {
		return
	}

	filled := e.matcher.AdvanceBar(track, t.candle)
	for _, tr := range filled {
		e.realized = e.realized.Add(tr.PnL).Sub(tr.Commission)
		e.trades = append(e.trades, tr)
	}

	signals, err := e.strat.OnMarketData(domain.NewCandleClose(t.candle))
	if err != nil {
		e.log.Error().Err(err).Str("instance", e.instance.ID).Str("symbol", t.symbol.String()).Msg("on_market_data failed")
	}
	for _, sig := range signals {
		e.matcher.Enqueue(track, sig)
	}

	track.Pos.MarkToMarket(t.candle.Close)
	e.equity = e.cfg.InitialBalance.Add(e.realized).Add(track.Pos.UnrealizedPnL)
	e.equityCurve = append(e.equityCurve, domain.EquityPoint{TS: t.candle.OpenTime, Equity: e.equity})

	if e.positions != nil {
		if err := e.positions.UpsertPosition(ctx, *track.Pos); err != nil {
			e.log.Warn().Err(err).Str("instance", e.instance.ID).Str("symbol", t.symbol.String()).Msg("persist paper position failed")
		}
	}
}

// Pause suspends tick delivery; the producer keeps the current position in
// its source but delivers nothing further until Resume.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return fmt.Errorf("simulation %s: cannot pause from %s", e.instance.ID, e.state)
	}
	e.pauseCh = make(chan struct{}) // open (unclosed) == paused
	e.state = StatePaused
	return nil
}

// Resume reopens tick delivery after Pause.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return fmt.Errorf("simulation %s: cannot resume from %s", e.instance.ID, e.state)
	}
	close(e.pauseCh)
	e.state = StateRunning
	return nil
}

// SetSpeed changes the replay acceleration factor; a no-op against a live
// source since driveLive never consults it.
func (e *Engine) SetSpeed(s Speed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = s
}

// Stop cancels the run and waits for the drive loop to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Reset requires the Engine be Stopped and clears its accumulated
// balance, positions, trades and equity curve back to the configured
// initial balance, per spec §4.9. A subsequent Start rebuilds this state
// anyway; Reset exists for callers that want to confirm a clean slate
// without immediately starting a new run.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		return fmt.Errorf("simulation %s: cannot reset while %s", e.instance.ID, e.state)
	}
	e.tracks = nil
	e.equity = e.cfg.InitialBalance
	e.realized = domain.Zero()
	e.equityCurve = nil
	e.trades = nil
	return nil
}

// State returns the Engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Result snapshots the run's equity curve and trades so far, in the same
// domain.BacktestResult shape a completed backtest produces — callers (the
// HTTP surface) can render paper-trading progress with the same widgets as
// a finished backtest. Metrics are not computed and stay zero.
func (e *Engine) Result() domain.BacktestResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbols := make([]domain.Symbol, 0, len(e.instance.Symbols))
	symbols = append(symbols, e.instance.Symbols...)

	var rangeStart, rangeEnd time.Time
	if len(e.equityCurve) > 0 {
		rangeStart = e.equityCurve[0].TS
		rangeEnd = e.equityCurve[len(e.equityCurve)-1].TS
	}

	return domain.BacktestResult{
		StrategyRef:    e.instance.StrategyType,
		Symbols:        symbols,
		RangeStart:     rangeStart,
		RangeEnd:       rangeEnd,
		InitialCapital: e.cfg.InitialBalance,
		SlippageBps:    domain.Zero(),
		EquityCurve:    append([]domain.EquityPoint(nil), e.equityCurve...),
		Trades:         append([]domain.BacktestTrade(nil), e.trades...),
		Success:        true,
	}
}

func candleOf(md domain.MarketData) (domain.Candle, bool) {
	if md.Kind == domain.MarketDataCandleClose {
		return md.Candle, true
	}
	return domain.Candle{}, false
}

// timelineTick pairs a symbol with one of its replayed candles, ordered
// chronologically by driveReplay before delivery.
type timelineTick struct {
	symbol domain.Symbol
	candle domain.Candle
}

func sortTimeline(timeline []timelineTick) {
	for i := 1; i < len(timeline); i++ {
		for j := i; j > 0 && timeline[j].candle.OpenTime.Before(timeline[j-1].candle.OpenTime); j-- {
			timeline[j], timeline[j-1] = timeline[j-1], timeline[j]
		}
	}
}
