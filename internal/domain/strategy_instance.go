package domain

import "time"

// StrategyStatus is a node in the strategy lifecycle state machine:
// Stopped -> Starting -> Running -> Stopping -> Stopped, with Error
// absorbed from Running on a fatal exception.
type StrategyStatus string

const (
	StrategyStopped  StrategyStatus = "Stopped"
	StrategyStarting StrategyStatus = "Starting"
	StrategyRunning  StrategyStatus = "Running"
	StrategyStopping StrategyStatus = "Stopping"
	StrategyError    StrategyStatus = "Error"
)

// StrategyInstance is one running (or stopped) configuration of a strategy
// tag against a set of symbols under a credential.
type StrategyInstance struct {
	ID           string
	StrategyType string // registry tag, e.g. "rsi-mean-reversion"
	DisplayName  string
	ConfigBlob   map[string]interface{}
	Symbols      []Symbol
	Timeframe    Timeframe
	CredentialID string
	Status       StrategyStatus
	StartedAt    *time.Time
	Metrics      map[string]float64
}
