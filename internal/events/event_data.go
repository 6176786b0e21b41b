package events

// StrategyReadyData is emitted when a StrategyInstance completes
// Starting -> Running per spec §4.4.
type StrategyReadyData struct {
	InstanceID string `json:"instance_id"`
}

func (d *StrategyReadyData) EventType() EventType { return StrategyReady }

// StrategyErrorData is emitted when a strategy instance is absorbed into
// the Error state after a panic or fatal exception.
type StrategyErrorData struct {
	InstanceID string `json:"instance_id"`
	Reason     string `json:"reason"`
}

func (d *StrategyErrorData) EventType() EventType { return StrategyError }

// StrategyStoppedData is emitted once a StrategyInstance's Stopping state
// finishes draining its subscriptions and Shutdown returns.
type StrategyStoppedData struct {
	InstanceID string `json:"instance_id"`
}

func (d *StrategyStoppedData) EventType() EventType { return StrategyStopped }

// OrderRejectedData is emitted when a Rejected or InvalidRequest order
// terminates, per spec §7's propagation policy.
type OrderRejectedData struct {
	OrderID    string `json:"order_id"`
	StrategyID string `json:"strategy_id"`
	Reason     string `json:"reason"`
}

func (d *OrderRejectedData) EventType() EventType { return OrderRejected }

// OrderSubmittedData is emitted once an order clears the risk gate and is
// accepted by the venue (state PendingNew -> New).
type OrderSubmittedData struct {
	OrderID      string `json:"order_id"`
	ClientID     string `json:"client_id"`
	StrategyID   string `json:"strategy_id"`
	CredentialID string `json:"credential_id"`
	Symbol       string `json:"symbol"`
}

func (d *OrderSubmittedData) EventType() EventType { return OrderSubmitted }

// OrderFilledData is emitted whenever a fill is applied to an order,
// whether it partially or fully fills it.
type OrderFilledData struct {
	OrderID    string `json:"order_id"`
	StrategyID string `json:"strategy_id"`
	Seq        uint64 `json:"seq"`
	Qty        string `json:"qty"`
	Price      string `json:"price"`
}

func (d *OrderFilledData) EventType() EventType { return OrderFilled }

// RiskBlockedData is emitted when the risk gate drops a signal.
type RiskBlockedData struct {
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
	Layer      string `json:"layer"`
	Reason     string `json:"reason"`
}

func (d *RiskBlockedData) EventType() EventType { return RiskBlocked }

// CircuitOpenData is emitted when the rejection-window circuit breaker trips.
type CircuitOpenData struct {
	CredentialID  string `json:"credential_id"`
	RejectedCount int    `json:"rejected_count"`
	CooldownMs    int64  `json:"cooldown_ms"`
}

func (d *CircuitOpenData) EventType() EventType { return CircuitOpen }

// KillSwitchTrippedData is emitted when the daily-loss circuit breaker
// flips the risk gate to kill state for the remainder of the session.
type KillSwitchTrippedData struct {
	CredentialID string  `json:"credential_id"`
	DailyPnLPct  float64 `json:"daily_pnl_pct"`
}

func (d *KillSwitchTrippedData) EventType() EventType { return KillSwitchTripped }

// ResyncedData is emitted on this events bus (not on the market-data
// subscription channels) when an adapter reconnects after a gap.
type ResyncedData struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
}

func (d *ResyncedData) EventType() EventType { return Resynced }

// OverflowData is emitted when a subscriber's bounded queue drops messages.
type OverflowData struct {
	Venue   string `json:"venue"`
	Symbol  string `json:"symbol"`
	Dropped uint64 `json:"dropped"`
}

func (d *OverflowData) EventType() EventType { return Overflow }

// BacktestCompletedData is emitted when a back-test run finishes.
type BacktestCompletedData struct {
	ResultID string `json:"result_id"`
	Success  bool   `json:"success"`
}

func (d *BacktestCompletedData) EventType() EventType { return BacktestCompleted }
