// Package events is the process-wide publish/subscribe bus for system-level
// lifecycle notifications (strategy lifecycle, order rejections, risk
// blocks, reconnect gaps). It is distinct from internal/bus, which is the
// high-throughput market-data fan-out — this bus carries low-frequency
// structured events that observers (the error tracker, the HTTP surface,
// the scheduler) subscribe to.
package events

// EventType identifies the kind of event carried by an Event.
type EventType string

const (
	StrategyReady     EventType = "strategy_ready"
	StrategyStopped   EventType = "strategy_stopped"
	StrategyError     EventType = "strategy_error"
	OrderSubmitted    EventType = "order_submitted"
	OrderFilled       EventType = "order_filled"
	OrderRejected     EventType = "order_rejected"
	RiskBlocked       EventType = "risk_blocked"
	CircuitOpen       EventType = "circuit_open"
	CircuitClosed     EventType = "circuit_closed"
	KillSwitchTripped EventType = "kill_switch_tripped"
	Resynced          EventType = "resynced"
	Overflow          EventType = "overflow"
	BacktestCompleted EventType = "backtest_completed"
)

// EventData is implemented by every concrete event payload.
type EventData interface {
	EventType() EventType
}
