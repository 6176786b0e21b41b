// Package risk implements the pre-trade risk gate from spec §4.6: six
// ordered checks a Signal must clear before the execution engine is
// allowed to act on it, plus stop-loss/take-profit sibling-cancel
// supervision. Grounded on the teacher's internal/modules/trading
// safety_service.go numbered-layer ValidateTrade structure, generalized
// from a (symbol, side, quantity) call shape to domain.Signal and widened
// from a single broker to per-credential state.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
)

// MarketStatusFn resolves a symbol's current tradeability, usually backed
// by adapter.Venue.MarketStatus.
type MarketStatusFn func(ctx context.Context, symbol domain.Symbol) (adapter.MarketStatus, error)

// Config holds the gate's thresholds, sourced from spec §6's risk.* blob.
type Config struct {
	MaxPositionPct        float64       // fraction of equity one symbol may occupy
	MaxDailyLossPct       float64       // daily drawdown that trips the kill switch
	ATRPeriod             int           // lookback for the volatility filter
	MaxATRRatio           float64       // ATR/price above this blocks new entries
	RejectionWindow       time.Duration // window the rejection circuit breaker counts over
	MaxRejectionsInWindow int
	CircuitCooldown       time.Duration
}

// DefaultConfig mirrors the teacher's safety_service.go defaults, adapted
// to the trading-engine's risk.* blob.
func DefaultConfig() Config {
	return Config{
		MaxPositionPct:        0.20,
		MaxDailyLossPct:       0.03,
		ATRPeriod:             14,
		MaxATRRatio:           0.08,
		RejectionWindow:       10 * time.Minute,
		MaxRejectionsInWindow: 5,
		CircuitCooldown:       15 * time.Minute,
	}
}

// AccountState is the per-credential context the gate evaluates a Signal
// against. Callers assemble this from the execution engine's position
// ledger and equity tracker.
type AccountState struct {
	CredentialID   string
	EquityStart    domain.Money // equity at the start of the trading day (UTC)
	EquityNow      domain.Money
	Positions      map[domain.Symbol]*domain.Position
	RecentCandles  []domain.Candle // most-recent-last, used by the ATR filter
	MarketStatusFn MarketStatusFn
}

// Decision is the gate's verdict on one Signal.
type Decision struct {
	Allowed bool
	Layer   string // which of the six checks blocked it, if any
	Reason  string
}

// Gate is the risk evaluator. One Gate instance is shared across all
// credentials; per-credential state is tracked internally under its own
// lock (single-writer-many-readers per spec §5).
type Gate struct {
	cfg    Config
	events *events.Bus
	log    zerolog.Logger

	mu          sync.Mutex
	killSwitch  map[string]bool
	rejections  map[string][]time.Time
	circuitOpen map[string]time.Time
}

// New constructs a Gate.
func New(cfg Config, eventBus *events.Bus, log zerolog.Logger) *Gate {
	return &Gate{
		cfg:         cfg,
		events:      eventBus,
		log:         log.With().Str("component", "risk").Logger(),
		killSwitch:  make(map[string]bool),
		rejections:  make(map[string][]time.Time),
		circuitOpen: make(map[string]time.Time),
	}
}

// Evaluate runs the six ordered checks from spec §4.6 against sig in the
// context of acct, short-circuiting on the first that blocks.
func (g *Gate) Evaluate(ctx context.Context, sig domain.Signal, acct AccountState) Decision {
	checks := []func(context.Context, domain.Signal, AccountState) (bool, string){
		g.checkKillSwitch,
		g.checkMarketState,
		g.checkPositionCap,
		g.checkDailyLoss,
		g.checkVolatility,
		g.checkRejectionCircuit,
	}
	names := []string{"kill_switch", "market_state", "position_cap", "daily_loss", "volatility", "rejection_circuit"}

	for i, check := range checks {
		if blocked, reason := check(ctx, sig, acct); blocked {
			g.emitBlocked(sig, acct, names[i], reason)
			return Decision{Allowed: false, Layer: names[i], Reason: reason}
		}
	}
	return Decision{Allowed: true}
}

func (g *Gate) emitBlocked(sig domain.Signal, acct AccountState, layer, reason string) {
	g.log.Warn().Str("symbol", sig.Symbol.String()).Str("layer", layer).Str("reason", reason).Msg("risk gate blocked signal")
	if g.events != nil {
		g.events.Publish(&events.RiskBlockedData{
			StrategyID: sig.StrategyID,
			Symbol:     sig.Symbol.String(),
			Layer:      layer,
			Reason:     reason,
		})
	}
}

// 1. Kill-switch: once tripped for a credential, every signal is blocked
// until an operator resets it (Open Question (b): no auto-restart).
func (g *Gate) checkKillSwitch(_ context.Context, _ domain.Signal, acct AccountState) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killSwitch[acct.CredentialID] {
		return true, "kill switch is tripped for this credential"
	}
	return false, ""
}

// 2. Market state: no new entries while the venue reports the symbol's
// market closed or halted.
func (g *Gate) checkMarketState(ctx context.Context, sig domain.Signal, acct AccountState) (bool, string) {
	if acct.MarketStatusFn == nil {
		return false, ""
	}
	status, err := acct.MarketStatusFn(ctx, sig.Symbol)
	if err != nil {
		return true, fmt.Sprintf("market status unavailable: %v", err)
	}
	if status.State != adapter.MarketOpen {
		return true, fmt.Sprintf("market is %s", status.State)
	}
	return false, ""
}

// 3. Position cap: a Buy/Sell signal that would push a symbol's exposure
// past MaxPositionPct of equity is blocked.
func (g *Gate) checkPositionCap(_ context.Context, sig domain.Signal, acct AccountState) (bool, string) {
	if sig.Kind == domain.SignalClose || sig.SuggestedQty == nil || sig.SuggestedPrice == nil {
		return false, ""
	}
	if acct.EquityNow.IsZero() {
		return false, ""
	}

	notional := sig.SuggestedQty.Mul(*sig.SuggestedPrice)
	if pos, ok := acct.Positions[sig.Symbol]; ok {
		existing := pos.QtySigned.Mul(pos.AvgEntryPrice).Abs()
		notional = notional.Add(existing)
	}

	capFrac := acct.EquityNow.Mul(decimalFromFloat(g.cfg.MaxPositionPct))
	if notional.GreaterThan(capFrac) {
		return true, fmt.Sprintf("position notional %s exceeds %.0f%% of equity", notional.String(), g.cfg.MaxPositionPct*100)
	}
	return false, ""
}

// 4. Daily-loss circuit breaker: equity drawdown past MaxDailyLossPct
// trips the kill switch for the remainder of the session.
func (g *Gate) checkDailyLoss(_ context.Context, _ domain.Signal, acct AccountState) (bool, string) {
	if acct.EquityStart.IsZero() {
		return false, ""
	}
	drawdown := acct.EquityStart.Sub(acct.EquityNow).Div(acct.EquityStart)
	pct, _ := drawdown.Float64()
	if pct > g.cfg.MaxDailyLossPct {
		g.TripKillSwitch(acct.CredentialID, pct)
		return true, fmt.Sprintf("daily loss %.2f%% breached cap %.2f%%", pct*100, g.cfg.MaxDailyLossPct*100)
	}
	return false, ""
}

// 5. ATR volatility filter: blocks new entries when recent volatility,
// expressed as ATR/price, exceeds MaxATRRatio.
func (g *Gate) checkVolatility(_ context.Context, sig domain.Signal, acct AccountState) (bool, string) {
	if sig.Kind == domain.SignalClose || len(acct.RecentCandles) < g.cfg.ATRPeriod+1 {
		return false, ""
	}

	highs, lows, closes := candleSeries(acct.RecentCandles)
	atr := talib.Atr(highs, lows, closes, g.cfg.ATRPeriod)
	lastATR := atr[len(atr)-1]
	lastClose := closes[len(closes)-1]
	if lastClose <= 0 {
		return false, ""
	}
	ratio := lastATR / lastClose
	if ratio > g.cfg.MaxATRRatio {
		return true, fmt.Sprintf("ATR/price ratio %.4f exceeds cap %.4f", ratio, g.cfg.MaxATRRatio)
	}
	return false, ""
}

// 6. Rejection-window circuit breaker: too many venue rejections in a
// rolling window opens the circuit for CircuitCooldown.
func (g *Gate) checkRejectionCircuit(_ context.Context, _ domain.Signal, acct AccountState) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until, ok := g.circuitOpen[acct.CredentialID]; ok {
		if time.Now().Before(until) {
			return true, fmt.Sprintf("circuit open until %s", until.Format(time.RFC3339))
		}
		delete(g.circuitOpen, acct.CredentialID)
	}
	return false, ""
}

// RecordRejection is called by the execution engine whenever a venue
// rejects an order, feeding the rejection-window circuit breaker.
func (g *Gate) RecordRejection(credentialID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-g.cfg.RejectionWindow)
	kept := g.rejections[credentialID][:0]
	for _, ts := range g.rejections[credentialID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	g.rejections[credentialID] = kept

	if len(kept) >= g.cfg.MaxRejectionsInWindow {
		until := now.Add(g.cfg.CircuitCooldown)
		g.circuitOpen[credentialID] = until
		g.log.Warn().Str("credential", credentialID).Int("rejections", len(kept)).Msg("rejection circuit opened")
		if g.events != nil {
			g.events.Publish(&events.CircuitOpenData{
				CredentialID:  credentialID,
				RejectedCount: len(kept),
				CooldownMs:    g.cfg.CircuitCooldown.Milliseconds(),
			})
		}
	}
}

// TripKillSwitch flips the kill switch for credentialID. Per Open
// Question (b), there is no automatic recovery; an operator must call
// ResetKillSwitch explicitly.
func (g *Gate) TripKillSwitch(credentialID string, dailyPnLPct float64) {
	g.mu.Lock()
	g.killSwitch[credentialID] = true
	g.mu.Unlock()

	g.log.Error().Str("credential", credentialID).Float64("daily_pnl_pct", dailyPnLPct).Msg("kill switch tripped")
	if g.events != nil {
		g.events.Publish(&events.KillSwitchTrippedData{CredentialID: credentialID, DailyPnLPct: dailyPnLPct})
	}
}

// ResetKillSwitch clears the kill switch for credentialID. Operator-only.
func (g *Gate) ResetKillSwitch(credentialID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.killSwitch, credentialID)
}

func candleSeries(candles []domain.Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
	}
	return
}

func decimalFromFloat(f float64) domain.Money {
	v, _ := domain.ParseMoney(fmt.Sprintf("%.8f", f))
	return v
}
