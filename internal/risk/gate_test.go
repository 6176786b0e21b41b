package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
)

func sym() domain.Symbol { return domain.NewSymbol("BTC", "USD", domain.MarketCrypto) }

func money(t *testing.T, s string) domain.Money {
	t.Helper()
	v, err := domain.ParseMoney(s)
	require.NoError(t, err)
	return v
}

func baseSignal(t *testing.T) domain.Signal {
	price := money(t, "100")
	qty := money(t, "1")
	return domain.Signal{Symbol: sym(), Kind: domain.SignalBuy, Strength: 0.8, SuggestedPrice: &price, SuggestedQty: &qty, TS: time.Now(), StrategyID: "s1"}
}

func baseAccount(t *testing.T) AccountState {
	return AccountState{
		CredentialID: "cred1",
		EquityStart:  money(t, "10000"),
		EquityNow:    money(t, "10000"),
		Positions:    map[domain.Symbol]*domain.Position{},
		MarketStatusFn: func(ctx context.Context, s domain.Symbol) (adapter.MarketStatus, error) {
			return adapter.MarketStatus{State: adapter.MarketOpen}, nil
		},
	}
}

func TestEvaluateAllowsCleanSignal(t *testing.T) {
	g := New(DefaultConfig(), nil, zerolog.Nop())
	d := g.Evaluate(context.Background(), baseSignal(t), baseAccount(t))
	require.True(t, d.Allowed)
}

func TestKillSwitchBlocksEverything(t *testing.T) {
	g := New(DefaultConfig(), nil, zerolog.Nop())
	g.TripKillSwitch("cred1", 0.05)
	d := g.Evaluate(context.Background(), baseSignal(t), baseAccount(t))
	require.False(t, d.Allowed)
	require.Equal(t, "kill_switch", d.Layer)
}

func TestMarketClosedBlocks(t *testing.T) {
	g := New(DefaultConfig(), nil, zerolog.Nop())
	acct := baseAccount(t)
	acct.MarketStatusFn = func(ctx context.Context, s domain.Symbol) (adapter.MarketStatus, error) {
		return adapter.MarketStatus{State: adapter.MarketClosed}, nil
	}
	d := g.Evaluate(context.Background(), baseSignal(t), acct)
	require.False(t, d.Allowed)
	require.Equal(t, "market_state", d.Layer)
}

func TestPositionCapBlocksOversizedEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionPct = 0.005 // cap is 50, entry notional is 100
	g := New(cfg, nil, zerolog.Nop())
	d := g.Evaluate(context.Background(), baseSignal(t), baseAccount(t))
	require.False(t, d.Allowed)
	require.Equal(t, "position_cap", d.Layer)
}

func TestDailyLossTripsKillSwitch(t *testing.T) {
	g := New(DefaultConfig(), nil, zerolog.Nop())
	acct := baseAccount(t)
	acct.EquityNow = money(t, "9600") // 4% down, cap is 3%
	d := g.Evaluate(context.Background(), baseSignal(t), acct)
	require.False(t, d.Allowed)
	require.Equal(t, "daily_loss", d.Layer)

	// Kill switch should now also block a subsequent, otherwise-clean signal.
	d2 := g.Evaluate(context.Background(), baseSignal(t), baseAccount(t))
	require.False(t, d2.Allowed)
	require.Equal(t, "kill_switch", d2.Layer)
}

func TestRejectionCircuitOpensAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRejectionsInWindow = 2
	g := New(cfg, nil, zerolog.Nop())

	g.RecordRejection("cred1")
	g.RecordRejection("cred1")

	d := g.Evaluate(context.Background(), baseSignal(t), baseAccount(t))
	require.False(t, d.Allowed)
	require.Equal(t, "rejection_circuit", d.Layer)
}

func TestStopSupervisorCancelsSiblingOnFill(t *testing.T) {
	sup := NewStopSupervisor()
	var canceled string
	sup.RegisterPair("stop-1", "tp-1", func(orderID string) error {
		canceled = orderID
		return nil
	})

	require.NoError(t, sup.OnFill("stop-1"))
	require.Equal(t, "tp-1", canceled)

	// Second fill notification for the already-resolved pair is a no-op.
	canceled = ""
	require.NoError(t, sup.OnFill("tp-1"))
	require.Empty(t, canceled)
}
